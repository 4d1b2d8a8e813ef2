package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// expandEnv expands environment variables in YAML content using Go
// template syntax: {{.WAYPOINT_JWT_SECRET}}. Template syntax instead of
// $VAR keeps literal dollar signs in content paths and secrets intact.
// Missing variables expand to empty string; validation catches required
// fields left empty.
func expandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		// YAML without template syntax passes through untouched.
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if idx := strings.IndexByte(kv, '='); idx > 0 {
			env[kv[:idx]] = kv[idx+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
