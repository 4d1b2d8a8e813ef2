// Package content reads immutable game-content templates out of the
// knowledge-base file tree and merges them with runtime instances.
// Templates are markdown files with YAML frontmatter and named sections;
// the store never writes to the tree.
package content

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/waypointxr/waypoint/pkg/store"
)

// Entity types with template directories under <experience>/templates/.
const (
	EntityItems  = "items"
	EntityNPCs   = "npcs"
	EntityQuests = "quests"
)

// ErrTemplateNotFound is returned when no template file exists for the
// requested (experience, entity_type, template_id) triple.
var ErrTemplateNotFound = errors.New("template not found")

// ParseError reports a malformed template file. It is an operational
// error: callers surface it but never write it into state documents.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse template %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Template is one parsed content template. Fields come from the YAML
// frontmatter; Sections maps "## Heading" names to their body text.
type Template struct {
	Experience string
	EntityType string
	ID         string
	Fields     map[string]any
	Sections   map[string]string
}

// Store reads templates from the knowledge-base file tree.
type Store struct {
	docs *store.DocumentStore
}

// NewStore creates a template store over the shared content root.
func NewStore(docs *store.DocumentStore) *Store {
	return &Store{docs: docs}
}

// ReadTemplate loads and parses one template file.
func (s *Store) ReadTemplate(experience, entityType, templateID string) (*Template, error) {
	rel := store.TemplatePath(experience, entityType, templateID)
	raw, err := s.docs.ReadRaw(rel)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%s/%s/%s: %w", experience, entityType, templateID, ErrTemplateNotFound)
		}
		return nil, err
	}

	fields, sections, err := parseMarkdown(string(raw))
	if err != nil {
		return nil, &ParseError{Path: rel, Err: err}
	}

	return &Template{
		Experience: experience,
		EntityType: entityType,
		ID:         templateID,
		Fields:     fields,
		Sections:   sections,
	}, nil
}

// parseMarkdown splits a template file into YAML frontmatter fields and
// named "## Heading" sections. Frontmatter is optional; a file without it
// yields empty fields.
func parseMarkdown(text string) (map[string]any, map[string]string, error) {
	fields := map[string]any{}
	body := text

	if strings.HasPrefix(text, "---\n") || strings.HasPrefix(text, "---\r\n") {
		rest := text[strings.Index(text, "\n")+1:]
		end := strings.Index(rest, "\n---")
		if end < 0 {
			return nil, nil, fmt.Errorf("unterminated frontmatter")
		}
		front := rest[:end]
		if err := yaml.Unmarshal([]byte(front), &fields); err != nil {
			return nil, nil, fmt.Errorf("frontmatter: %w", err)
		}
		if fields == nil {
			fields = map[string]any{}
		}
		body = rest[end+len("\n---"):]
		if i := strings.Index(body, "\n"); i >= 0 {
			body = body[i+1:]
		} else {
			body = ""
		}
	}

	sections := map[string]string{}
	var name string
	var buf []string
	flush := func() {
		if name != "" {
			sections[name] = strings.TrimSpace(strings.Join(buf, "\n"))
		}
		buf = buf[:0]
	}
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			name = strings.TrimSpace(strings.TrimPrefix(line, "## "))
			continue
		}
		buf = append(buf, line)
	}
	flush()

	// A Description section doubles as the description field when the
	// frontmatter does not set one.
	if _, ok := fields["description"]; !ok {
		if desc, ok := sections["Description"]; ok && desc != "" {
			fields["description"] = desc
		}
	}

	return fields, sections, nil
}
