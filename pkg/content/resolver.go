package content

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"dario.cat/mergo"
)

// Resolver merges content templates with runtime instances. Parsed
// templates are cached in memory keyed by (experience, entity_type,
// template_id); the cache is flushed by admin command.
type Resolver struct {
	store *Store

	mu    sync.RWMutex
	cache map[string]*Template
}

// NewResolver creates a resolver over the given template store.
func NewResolver(store *Store) *Resolver {
	return &Resolver{
		store: store,
		cache: make(map[string]*Template),
	}
}

func cacheKey(experience, entityType, templateID string) string {
	return experience + "/" + entityType + "/" + templateID
}

// Flush clears the template cache. The next Merge re-reads from disk.
func (r *Resolver) Flush() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.cache)
	r.cache = make(map[string]*Template)
	return n
}

// template returns the cached template, filling the cache on miss.
func (r *Resolver) template(experience, entityType, templateID string) (*Template, error) {
	key := cacheKey(experience, entityType, templateID)

	r.mu.RLock()
	tmpl, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	tmpl, err := r.store.ReadTemplate(experience, entityType, templateID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = tmpl
	r.mu.Unlock()
	return tmpl, nil
}

// Merge produces the client-facing view of an instance: template defaults
// overlaid with instance fields (instance wins). The result always carries
// instance_id, template_id and a state sub-map, and is never persisted.
//
// A missing template is not an error: the normalized instance is returned
// unchanged (logged at debug). A malformed template is returned as a
// *ParseError alongside the normalized instance so callers can still
// degrade gracefully.
func (r *Resolver) Merge(experience, entityType string, instance map[string]any) (map[string]any, error) {
	inst := Normalize(instance)

	templateID, _ := inst["template_id"].(string)
	if templateID == "" {
		return inst, nil
	}

	tmpl, err := r.template(experience, entityType, templateID)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			slog.Debug("Template not found, returning instance unchanged",
				"experience", experience, "entity_type", entityType, "template_id", templateID)
			return inst, nil
		}
		return inst, err
	}

	// mergo fills only the keys the instance does not set, recursively:
	// the template contributes defaults, the instance wins.
	if err := mergo.Merge(&inst, deepCopy(tmpl.Fields)); err != nil {
		return inst, fmt.Errorf("merge template %s: %w", templateID, err)
	}

	ensureShape(inst)
	return inst, nil
}

// Normalize deep-copies an instance and rewrites legacy id/type keys to
// instance_id/template_id. template_id defaults to instance_id when absent
// (current content frequently uses the same value for both).
func Normalize(instance map[string]any) map[string]any {
	inst := deepCopy(instance)

	if _, ok := inst["instance_id"]; !ok {
		if id, ok := inst["id"].(string); ok {
			inst["instance_id"] = id
		}
	}
	if _, ok := inst["template_id"]; !ok {
		if typ, ok := inst["type"].(string); ok {
			inst["template_id"] = typ
		} else if id, ok := inst["instance_id"].(string); ok {
			inst["template_id"] = id
		}
	}
	delete(inst, "id")
	delete(inst, "type")

	ensureShape(inst)
	return inst
}

// ensureShape guarantees the invariant fields of a merged instance.
func ensureShape(inst map[string]any) {
	if _, ok := inst["state"].(map[string]any); !ok {
		inst["state"] = map[string]any{}
	}
}

// deepCopy clones nested map/slice structures so merged instances never
// alias persisted state.
func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// DeepCopy exposes the structural clone for other packages that hand out
// copies of document fragments.
func DeepCopy(m map[string]any) map[string]any { return deepCopy(m) }

// DeepCopyValue clones an arbitrary JSON-shaped value.
func DeepCopyValue(v any) any { return deepCopyValue(v) }
