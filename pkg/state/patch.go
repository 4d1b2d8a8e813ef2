package state

import (
	"fmt"
	"sort"
	"strings"
)

// The merge-operator language. A patch mirrors the structure of the target
// document: nested maps navigate, a leaf value deep-writes, and the four
// $-operators transform lists in place. The operator set is closed;
// anything else starting with "$" is rejected up front, before any write.
const (
	opAppend = "$append"
	opRemove = "$remove"
	opUpdate = "$update"
	opSet    = "$set"
)

// PatchError reports a rejected patch. Code is one of the wire error
// codes: "malformed_update" for structural problems, "invalid_path" for
// navigation into something that isn't there.
type PatchError struct {
	Code    string
	Path    string
	Message string
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("%s at %q: %s", e.Code, e.Path, e.Message)
}

func malformed(path []string, format string, args ...any) *PatchError {
	return &PatchError{Code: "malformed_update", Path: joinPath(path), Message: fmt.Sprintf(format, args...)}
}

func invalidPath(path []string, format string, args ...any) *PatchError {
	return &PatchError{Code: "invalid_path", Path: joinPath(path), Message: fmt.Sprintf(format, args...)}
}

func childPath(path []string, k string) []string {
	return append(append(make([]string, 0, len(path)+1), path...), k)
}

func joinPath(path []string) string {
	if len(path) == 0 {
		return "."
	}
	return strings.Join(path, ".")
}

// Node is one node of a parsed patch tree.
type Node interface{ isNode() }

// Object navigates into a sub-map of the document.
type Object map[string]Node

// Leaf deep-writes a value at its position.
type Leaf struct{ Value any }

// SetOp replaces the target value entirely ($set, the escape hatch).
type SetOp struct{ Value any }

// AppendOp appends a value to the target list ($append).
type AppendOp struct{ Value any }

// RemoveOp drops the first list element whose instance_id matches ($remove).
type RemoveOp struct{ InstanceID string }

// UpdateOp deep-merges fields into list elements matched by instance_id
// ($update). Each entry carries instance_id plus the fields to merge.
type UpdateOp struct{ Entries []map[string]any }

func (Object) isNode()   {}
func (Leaf) isNode()     {}
func (SetOp) isNode()    {}
func (AppendOp) isNode() {}
func (RemoveOp) isNode() {}
func (UpdateOp) isNode() {}

// ParsePatch converts a raw JSON-shaped update into a typed patch tree,
// rejecting unknown operators and malformed operator payloads. Parsing is
// a pure validation step: a patch that parses is structurally applicable.
func ParsePatch(updates map[string]any) (Object, error) {
	return parseObject(updates, nil)
}

func parseObject(m map[string]any, path []string) (Object, error) {
	obj := make(Object, len(m))
	for k, v := range m {
		if strings.HasPrefix(k, "$") {
			return nil, malformed(path, "operator %q cannot appear beside navigation keys", k)
		}
		node, err := parseNode(v, childPath(path, k))
		if err != nil {
			return nil, err
		}
		obj[k] = node
	}
	return obj, nil
}

func parseNode(v any, path []string) (Node, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Leaf{Value: v}, nil
	}

	if op, payload, ok := singleOperator(m); ok {
		return parseOperator(op, payload, path)
	}

	// A map mixing a $-key with anything else is ambiguous; reject it.
	for k := range m {
		if strings.HasPrefix(k, "$") {
			if len(m) > 1 {
				return nil, malformed(path, "operator %q mixed with other keys", k)
			}
			return nil, malformed(path, "unknown operator %q", k)
		}
	}

	return parseObject(m, path)
}

// singleOperator reports whether m is exactly one known operator.
func singleOperator(m map[string]any) (op string, payload any, ok bool) {
	if len(m) != 1 {
		return "", nil, false
	}
	for k, v := range m {
		switch k {
		case opAppend, opRemove, opUpdate, opSet:
			return k, v, true
		}
	}
	return "", nil, false
}

func parseOperator(op string, payload any, path []string) (Node, error) {
	switch op {
	case opSet:
		return SetOp{Value: payload}, nil

	case opAppend:
		return AppendOp{Value: payload}, nil

	case opRemove:
		criteria, ok := payload.(map[string]any)
		if !ok {
			return nil, malformed(path, "$remove takes a criteria object")
		}
		id, _ := criteria["instance_id"].(string)
		if id == "" {
			return nil, malformed(path, "$remove criteria requires instance_id")
		}
		return RemoveOp{InstanceID: id}, nil

	case opUpdate:
		var raw []any
		switch t := payload.(type) {
		case []any:
			raw = t
		case map[string]any:
			raw = []any{t}
		default:
			return nil, malformed(path, "$update takes an object or list of objects")
		}
		entries := make([]map[string]any, 0, len(raw))
		for _, e := range raw {
			entry, ok := e.(map[string]any)
			if !ok {
				return nil, malformed(path, "$update entries must be objects")
			}
			if id, _ := entry["instance_id"].(string); id == "" {
				return nil, malformed(path, "$update entry requires instance_id")
			}
			entries = append(entries, entry)
		}
		return UpdateOp{Entries: entries}, nil
	}
	return nil, malformed(path, "unknown operator %q", op)
}

// Apply mutates doc in place according to the patch. Callers hand in a
// private copy of the document; on error the copy is discarded, so partial
// application never leaks.
func Apply(doc map[string]any, patch Object) error {
	return applyObject(doc, patch, nil)
}

func applyObject(doc map[string]any, patch Object, path []string) error {
	for _, k := range sortedKeys(patch) {
		if err := applyNode(doc, k, patch[k], childPath(path, k)); err != nil {
			return err
		}
	}
	return nil
}

func applyNode(doc map[string]any, key string, node Node, path []string) error {
	switch n := node.(type) {
	case Leaf:
		doc[key] = copyValue(n.Value)

	case SetOp:
		doc[key] = copyValue(n.Value)

	case Object:
		target, exists := doc[key]
		if !exists || target == nil {
			sub := map[string]any{}
			doc[key] = sub
			return applyObject(sub, n, path)
		}
		sub, ok := target.(map[string]any)
		if !ok {
			return invalidPath(path, "cannot navigate into %T", target)
		}
		return applyObject(sub, n, path)

	case AppendOp:
		list, err := listAt(doc, key, path, true)
		if err != nil {
			return err
		}
		doc[key] = append(list, copyValue(n.Value))

	case RemoveOp:
		list, err := listAt(doc, key, path, false)
		if err != nil {
			return err
		}
		idx := indexOfInstance(list, n.InstanceID)
		if idx < 0 {
			return fmt.Errorf("%s at %q: %w", n.InstanceID, joinPath(path), ErrInstanceNotFound)
		}
		doc[key] = append(list[:idx:idx], list[idx+1:]...)

	case UpdateOp:
		list, err := listAt(doc, key, path, false)
		if err != nil {
			return err
		}
		for _, entry := range n.Entries {
			id := entry["instance_id"].(string)
			idx := indexOfInstance(list, id)
			if idx < 0 {
				return fmt.Errorf("%s at %q: %w", id, joinPath(path), ErrInstanceNotFound)
			}
			elem := list[idx].(map[string]any)
			for k, v := range entry {
				if k == "instance_id" {
					continue
				}
				deepMergeKey(elem, k, v)
			}
		}
	}
	return nil
}

// listAt fetches doc[key] as a list, optionally creating an empty one.
func listAt(doc map[string]any, key string, path []string, create bool) ([]any, error) {
	target, exists := doc[key]
	if !exists || target == nil {
		if create {
			return []any{}, nil
		}
		return nil, invalidPath(path, "no list at target")
	}
	list, ok := target.([]any)
	if !ok {
		return nil, invalidPath(path, "target is %T, not a list", target)
	}
	return list, nil
}

// indexOfInstance finds the first object element carrying instance_id.
// Elements without one are matched on the legacy "id" key, so documents
// predating the instance_id rename stay patchable.
func indexOfInstance(list []any, instanceID string) int {
	for i, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["instance_id"].(string)
		if id == instanceID {
			return i
		}
		if id == "" {
			if legacy, _ := m["id"].(string); legacy == instanceID {
				return i
			}
		}
	}
	return -1
}

// deepMergeKey merges v into dst[k]: maps merge recursively, everything
// else overwrites.
func deepMergeKey(dst map[string]any, k string, v any) {
	if sub, ok := v.(map[string]any); ok {
		if cur, ok := dst[k].(map[string]any); ok {
			for sk, sv := range sub {
				deepMergeKey(cur, sk, sv)
			}
			return
		}
	}
	dst[k] = copyValue(v)
}

func sortedKeys(obj Object) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
