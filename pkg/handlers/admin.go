package handlers

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/waypointxr/waypoint/pkg/content"
	"github.com/waypointxr/waypoint/pkg/dispatch"
	"github.com/waypointxr/waypoint/pkg/notify"
	"github.com/waypointxr/waypoint/pkg/state"
)

// Admin is the sub-router for "@"-prefixed commands. Admin commands are
// whitespace-tokenized command lines, never forwarded to the
// interpreter, and require the caller's admin claim.
type Admin struct {
	state    *state.Manager
	resolver *content.Resolver
	notifier notify.Notifier
}

// NewAdmin wires the admin router.
func NewAdmin(st *state.Manager, resolver *content.Resolver, notifier notify.Notifier) *Admin {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Admin{state: st, resolver: resolver, notifier: notifier}
}

// Handle tokenizes and routes one admin command line.
func (a *Admin) Handle(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	if !req.Admin {
		return dispatch.Fail("not_authorized", "admin commands require an admin token"), nil
	}

	fields := strings.Fields(req.Action)
	if len(fields) == 0 {
		return dispatch.Fail("missing_action", "empty admin command"), nil
	}

	switch fields[0] {
	case "@reset":
		return a.reset(ctx, req, fields[1:])
	case "@examine":
		return a.examine(ctx, req, fields[1:])
	case "@edit":
		return a.edit(ctx, req, fields[1:])
	case "@where":
		return a.where(ctx, req)
	case "@flush":
		return a.flush(), nil
	case "@help":
		return a.help(), nil
	}
	return dispatch.Fail("unknown_admin_command",
		fmt.Sprintf("unknown admin command %q; try @help", fields[0])), nil
}

// reset implements "@reset <experience> CONFIRM". The literal word
// "experience" targets the caller's own experience.
func (a *Admin) reset(ctx context.Context, req *dispatch.Request, args []string) (*dispatch.Result, error) {
	if len(args) < 1 {
		return dispatch.Fail("missing_argument", "usage: @reset <experience> CONFIRM"), nil
	}
	experience := args[0]
	if experience == "experience" {
		experience = req.Experience
	}
	if len(args) < 2 || args[1] != "CONFIRM" {
		return dispatch.Fail("confirmation_required",
			fmt.Sprintf("this wipes all player progress in %s; repeat with CONFIRM to proceed", experience)), nil
	}

	res, err := a.state.ResetExperience(ctx, experience)
	if err != nil {
		return nil, err
	}
	a.resolver.Flush()
	a.notifier.ExperienceReset(ctx, experience, req.UserID, res.BackupFile, res.ViewsCleared)

	return &dispatch.Result{
		Success: true,
		MessageToPlayer: fmt.Sprintf("Experience %s reset. Backup: %s. Player views cleared: %d.",
			experience, res.BackupFile, res.ViewsCleared),
		Metadata: map[string]any{
			"backup_file":   res.BackupFile,
			"views_cleared": res.ViewsCleared,
		},
	}, nil
}

// examine implements "@examine <type> <id>": the raw entity plus its
// editable leaf properties with their types.
func (a *Admin) examine(ctx context.Context, req *dispatch.Request, args []string) (*dispatch.Result, error) {
	if len(args) < 2 {
		return dispatch.Fail("missing_argument", "usage: @examine <type> <id>"), nil
	}
	world, err := a.state.GetWorldState(ctx, req.Experience)
	if err != nil {
		return nil, err
	}

	entity, worldPath, res := a.locate(world, args[0], args[1])
	if res != nil {
		return res, nil
	}

	editable := map[string]any{}
	collectLeafTypes(entity, "", editable)

	return &dispatch.Result{
		Success:         true,
		MessageToPlayer: fmt.Sprintf("%s %s at %s", args[0], args[1], worldPath),
		Metadata: map[string]any{
			"entity":     entity,
			"editable":   editable,
			"world_path": worldPath,
		},
	}, nil
}

// edit implements "@edit <type> <id> <property-path> <value>". The
// value is coerced from its string form and must match the type of the
// existing leaf; a mismatch rejects the edit with the document
// untouched.
func (a *Admin) edit(ctx context.Context, req *dispatch.Request, args []string) (*dispatch.Result, error) {
	if len(args) < 4 {
		return dispatch.Fail("missing_argument", "usage: @edit <type> <id> <property-path> <value>"), nil
	}
	entityType, id, propertyPath := args[0], args[1], args[2]
	value := coerceValue(strings.Join(args[3:], " "))

	world, err := a.state.GetWorldState(ctx, req.Experience)
	if err != nil {
		return nil, err
	}
	entity, worldPath, res := a.locate(world, entityType, id)
	if res != nil {
		return res, nil
	}

	before, ok := leafAt(entity, propertyPath)
	if !ok {
		return dispatch.Fail("property_not_found",
			fmt.Sprintf("%s has no property %q", id, propertyPath)), nil
	}
	if typeName(before) != typeName(value) {
		return dispatch.Fail("type_mismatch",
			fmt.Sprintf("%s is %s, got %s", propertyPath, typeName(before), typeName(value))), nil
	}

	patch, failed := a.editPatch(world, entityType, id, propertyPath, value)
	if failed != nil {
		return failed, nil
	}
	if _, err := a.state.UpdateWorldState(ctx, req.Experience, patch, req.UserID); err != nil {
		return nil, err
	}

	fullPath := worldPath + "." + propertyPath
	return &dispatch.Result{
		Success: true,
		MessageToPlayer: fmt.Sprintf("%s: %v -> %v", fullPath,
			formatValue(before), formatValue(value)),
		StateChanges: patch,
		Metadata: map[string]any{
			"world_path": fullPath,
			"before":     before,
			"after":      value,
		},
	}, nil
}

// editPatch builds the world patch for one property edit: a nested
// $update for list entities, a plain deep write for quests.
func (a *Admin) editPatch(world map[string]any, entityType, id, propertyPath string, value any) (map[string]any, *dispatch.Result) {
	switch listKeyForType(entityType) {
	case "items", "npcs":
		found := findAnywhere(world, listKeyForType(entityType), id)
		if found == nil {
			return nil, dispatch.Fail("entity_not_found", fmt.Sprintf("no %s %q in the world", entityType, id))
		}
		entry := map[string]any{"instance_id": id}
		nestValue(entry, propertyPath, value)
		return listPatch(found.patchPath, found.listKey, map[string]any{"$update": entry}), nil

	default: // quests
		patch := map[string]any{}
		nestValue(patch, "quests."+id+"."+propertyPath, value)
		return patch, nil
	}
}

// where reports the caller's position with the unfiltered area listing,
// hidden items included.
func (a *Admin) where(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	view, err := a.state.GetPlayerView(ctx, req.Experience, req.UserID)
	if err != nil {
		return nil, err
	}
	locationID := playerLocation(view)
	if locationID == "" {
		return dispatch.Fail("no_location", "you are not at any location yet"), nil
	}

	world, err := a.state.GetWorldState(ctx, req.Experience)
	if err != nil {
		return nil, err
	}

	areas := locationAreas(world, locationID)
	areaID := playerArea(view)
	scope := locationMap(world, locationID)
	if area, ok := areas[areaID].(map[string]any); ok {
		scope = area
	}
	if scope == nil {
		return dispatch.Fail("no_location",
			fmt.Sprintf("location %q no longer exists", locationID)), nil
	}

	neighbors := make([]string, 0, len(areas))
	for id := range areas {
		if id != areaID {
			neighbors = append(neighbors, id)
		}
	}
	sort.Strings(neighbors)

	items, _ := scope["items"].([]any)
	npcs, _ := scope["npcs"].([]any)

	return &dispatch.Result{
		Success: true,
		MessageToPlayer: fmt.Sprintf("Location %s, area %s. %d item(s), %d npc(s). Neighboring areas: %s.",
			locationID, orDash(areaID), len(items), len(npcs), strings.Join(neighbors, ", ")),
		Metadata: map[string]any{
			"current_location":  locationID,
			"current_area":      areaID,
			"items":             items,
			"npcs":              npcs,
			"neighboring_areas": neighbors,
		},
	}, nil
}

func (a *Admin) flush() *dispatch.Result {
	n := a.resolver.Flush()
	res := dispatch.OK(fmt.Sprintf("Template cache flushed (%d entries).", n))
	res.Metadata = map[string]any{"flushed": n}
	return res
}

func (a *Admin) help() *dispatch.Result {
	return dispatch.OK(strings.Join([]string{
		"@reset <experience> CONFIRM - backup, restore from template, clear player views",
		"@examine <type> <id> - dump an entity and its editable properties",
		"@edit <type> <id> <property-path> <value> - edit one entity property",
		"@where - your position with the full (hidden included) area listing",
		"@flush - clear the template cache",
		"@help - this list",
	}, "\n"))
}

// locate resolves an entity reference, returning a failure Result when
// the type is unknown or the entity absent.
func (a *Admin) locate(world map[string]any, entityType, id string) (map[string]any, string, *dispatch.Result) {
	switch listKeyForType(entityType) {
	case "items", "npcs":
		found := findAnywhere(world, listKeyForType(entityType), id)
		if found == nil {
			return nil, "", dispatch.Fail("entity_not_found",
				fmt.Sprintf("no %s %q in the world", entityType, id))
		}
		path := strings.Join(found.patchPath, ".") + "." + found.listKey + "." + id
		return found.instance, path, nil

	case "quests":
		quests, _ := world["quests"].(map[string]any)
		quest, ok := quests[id].(map[string]any)
		if !ok {
			return nil, "", dispatch.Fail("entity_not_found",
				fmt.Sprintf("no quest %q in the world", id))
		}
		return quest, "quests." + id, nil
	}
	return nil, "", dispatch.Fail("unknown_entity_type",
		fmt.Sprintf("unknown entity type %q; use item, npc or quest", entityType))
}

func listKeyForType(entityType string) string {
	switch entityType {
	case "item", "items":
		return "items"
	case "npc", "npcs":
		return "npcs"
	case "quest", "quests":
		return "quests"
	}
	return ""
}

// coerceValue turns a command-line token into its JSON-typed value.
// Quoted strings stay strings even when they look like other types.
func coerceValue(s string) any {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// typeName classifies a JSON value for mismatch messages.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	}
	return "unknown"
}

// leafAt resolves a dotted property path to its current value.
func leafAt(entity map[string]any, propertyPath string) (any, bool) {
	parts := strings.Split(propertyPath, ".")
	current := any(entity)
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = m[part]; !ok {
			return nil, false
		}
	}
	return current, true
}

// nestValue writes value into dst at a dotted path, creating maps.
func nestValue(dst map[string]any, propertyPath string, value any) {
	parts := strings.Split(propertyPath, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := dst[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			dst[part] = next
		}
		dst = next
	}
	dst[parts[len(parts)-1]] = value
}

// collectLeafTypes flattens an entity's leaves into dotted-path ->
// type-name pairs.
func collectLeafTypes(entity map[string]any, prefix string, out map[string]any) {
	for _, k := range sortedKeys(entity) {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, ok := entity[k].(map[string]any); ok {
			collectLeafTypes(sub, path, out)
			continue
		}
		out[path] = typeName(entity[k])
	}
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprintf("%v", v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
