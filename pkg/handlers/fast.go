// Package handlers implements the fast command path: deterministic
// in-process handlers that complete on state-manager I/O alone, plus
// the admin sub-router. Slow conversational commands live behind the
// interpreter adapter, not here.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/waypointxr/waypoint/pkg/content"
	"github.com/waypointxr/waypoint/pkg/dispatch"
	"github.com/waypointxr/waypoint/pkg/state"
)

// Fast bundles the collaborators every fast handler shares.
type Fast struct {
	state    *state.Manager
	resolver *content.Resolver
}

// NewFast wires the fast handlers.
func NewFast(st *state.Manager, resolver *content.Resolver) *Fast {
	return &Fast{state: st, resolver: resolver}
}

// RegisterAll binds every fast handler onto a dispatcher.
func (f *Fast) RegisterAll(d *dispatch.Dispatcher) {
	d.Register("collect_item", dispatch.HandlerFunc(f.CollectItem))
	d.Register("drop_item", dispatch.HandlerFunc(f.DropItem))
	d.Register("go", dispatch.HandlerFunc(f.Go))
	d.Register("inventory", dispatch.HandlerFunc(f.Inventory))
	d.Register("look", dispatch.HandlerFunc(f.Look))
}

// instanceIDArg accepts instance_id with item_id as the legacy spelling.
func instanceIDArg(req *dispatch.Request) string {
	if id := req.StringArg("instance_id"); id != "" {
		return id
	}
	return req.StringArg("item_id")
}

// CollectItem moves a collectible instance from the player's current
// location into their inventory as one composed commit. Losing the
// race for the last copy surfaces as item_not_found.
func (f *Fast) CollectItem(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	instanceID := instanceIDArg(req)
	if instanceID == "" {
		return dispatch.Fail("missing_instance_id", "collect_item requires instance_id"), nil
	}

	view, err := f.state.GetPlayerView(ctx, req.Experience, req.UserID)
	if err != nil {
		return nil, err
	}
	locationID := playerLocation(view)
	if locationID == "" {
		return dispatch.Fail("no_location", "you are not at any location yet; send your position first"), nil
	}

	world, err := f.state.GetWorldState(ctx, req.Experience)
	if err != nil {
		return nil, err
	}
	found := findInLocation(world, locationID, "items", instanceID)
	if found == nil {
		return dispatch.Fail("item_not_found",
			fmt.Sprintf("no item %q at %s", instanceID, locationID)), nil
	}

	merged, err := f.resolver.Merge(req.Experience, content.EntityItems, found.instance)
	if err != nil {
		merged = found.instance
	}
	if collectible, _ := merged["collectible"].(bool); !collectible {
		return dispatch.Fail("not_collectible",
			fmt.Sprintf("%s cannot be picked up", displayName(merged))), nil
	}

	worldPatch := listPatch(found.patchPath, "items",
		map[string]any{"$remove": map[string]any{"instance_id": instanceID}})
	viewPatch := map[string]any{
		"player": map[string]any{"inventory": map[string]any{"$append": found.instance}},
	}

	version, err := f.state.ApplyCommand(ctx, req.Experience, req.UserID, worldPatch, viewPatch)
	if err != nil {
		if errors.Is(err, state.ErrInstanceNotFound) {
			return dispatch.Fail("item_not_found",
				fmt.Sprintf("%q is no longer there", instanceID)), nil
		}
		return nil, err
	}

	return &dispatch.Result{
		Success:         true,
		MessageToPlayer: fmt.Sprintf("You pick up %s.", displayName(merged)),
		StateChanges:    map[string]any{"world": worldPatch, "view": viewPatch},
		Metadata: map[string]any{
			"instance_id":      instanceID,
			"snapshot_version": version,
		},
	}, nil
}

// DropItem is the inverse of CollectItem: out of the inventory, back
// into the current area's items list (or the location's own list when
// the player is between areas).
func (f *Fast) DropItem(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	instanceID := instanceIDArg(req)
	if instanceID == "" {
		return dispatch.Fail("missing_instance_id", "drop_item requires instance_id"), nil
	}

	view, err := f.state.GetPlayerView(ctx, req.Experience, req.UserID)
	if err != nil {
		return nil, err
	}
	locationID := playerLocation(view)
	if locationID == "" {
		return dispatch.Fail("no_location", "you are not at any location yet; send your position first"), nil
	}

	instance := inventoryInstance(view, instanceID)
	if instance == nil {
		return dispatch.Fail("not_in_inventory",
			fmt.Sprintf("%q is not in your inventory", instanceID)), nil
	}

	patchPath := []string{"locations", locationID}
	if areaID := playerArea(view); areaID != "" {
		patchPath = append(patchPath, "areas", areaID)
	}
	worldPatch := listPatch(patchPath, "items", map[string]any{"$append": instance})
	viewPatch := map[string]any{
		"player": map[string]any{"inventory": map[string]any{"$remove": map[string]any{"instance_id": instanceID}}},
	}

	version, err := f.state.ApplyCommand(ctx, req.Experience, req.UserID, worldPatch, viewPatch)
	if err != nil {
		if errors.Is(err, state.ErrInstanceNotFound) {
			return dispatch.Fail("not_in_inventory",
				fmt.Sprintf("%q is not in your inventory", instanceID)), nil
		}
		return nil, err
	}

	return &dispatch.Result{
		Success:         true,
		MessageToPlayer: fmt.Sprintf("You drop %s.", displayName(instance)),
		StateChanges:    map[string]any{"world": worldPatch, "view": viewPatch},
		Metadata: map[string]any{
			"instance_id":      instanceID,
			"snapshot_version": version,
		},
	}, nil
}

// Go moves the player to another area of their current location, by
// area id or by a direction resolved through the current area's
// connections map.
func (f *Fast) Go(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	destination := req.StringArg("destination")
	direction := req.StringArg("direction")
	if destination == "" && direction == "" {
		return dispatch.Fail("missing_destination", "go requires a destination or direction"), nil
	}

	view, err := f.state.GetPlayerView(ctx, req.Experience, req.UserID)
	if err != nil {
		return nil, err
	}
	locationID := playerLocation(view)
	if locationID == "" {
		return dispatch.Fail("no_location", "you are not at any location yet; send your position first"), nil
	}

	world, err := f.state.GetWorldState(ctx, req.Experience)
	if err != nil {
		return nil, err
	}
	areas := locationAreas(world, locationID)

	if destination == "" {
		destination = resolveDirection(areas, playerArea(view), direction)
		if destination == "" {
			return failWithDestinations("destination_not_found",
				fmt.Sprintf("you cannot go %s from here", direction), areas), nil
		}
	}
	if _, ok := areas[destination]; !ok {
		return failWithDestinations("destination_not_found",
			fmt.Sprintf("no area %q here", destination), areas), nil
	}

	if _, err := f.state.UpdatePlayerView(ctx, req.Experience, req.UserID, map[string]any{
		"player": map[string]any{"current_area": destination},
	}); err != nil {
		return nil, err
	}

	name := destination
	if area, ok := areas[destination].(map[string]any); ok {
		name = displayName(area)
	}
	return &dispatch.Result{
		Success:         true,
		MessageToPlayer: fmt.Sprintf("You head to %s.", name),
		Metadata:        map[string]any{"current_area": destination},
	}, nil
}

// Inventory lists the player's items, template-merged.
func (f *Fast) Inventory(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	view, err := f.state.GetPlayerView(ctx, req.Experience, req.UserID)
	if err != nil {
		return nil, err
	}

	raw, _ := viewPlayerMap(view)["inventory"].([]any)
	items := make([]map[string]any, 0, len(raw))
	names := make([]string, 0, len(raw))
	for _, entry := range raw {
		inst, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		merged, err := f.resolver.Merge(req.Experience, content.EntityItems, inst)
		if err != nil {
			merged = inst
		}
		items = append(items, merged)
		names = append(names, displayName(merged))
	}

	msg := "Your inventory is empty."
	if len(names) > 0 {
		msg = "You are carrying: " + strings.Join(names, ", ") + "."
	}
	return &dispatch.Result{
		Success:         true,
		MessageToPlayer: msg,
		Metadata:        map[string]any{"inventory": items},
	}, nil
}

// Look describes the player's current area: its visible items and NPCs
// after template merge.
func (f *Fast) Look(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	view, err := f.state.GetPlayerView(ctx, req.Experience, req.UserID)
	if err != nil {
		return nil, err
	}
	locationID := playerLocation(view)
	if locationID == "" {
		return dispatch.Fail("no_location", "you are not at any location yet; send your position first"), nil
	}

	world, err := f.state.GetWorldState(ctx, req.Experience)
	if err != nil {
		return nil, err
	}

	scope, scopeName := locationMap(world, locationID), locationID
	if areaID := playerArea(view); areaID != "" {
		if area, ok := locationAreas(world, locationID)[areaID].(map[string]any); ok {
			scope, scopeName = area, displayName(area)
		}
	}
	if scope == nil {
		return dispatch.Fail("no_location",
			fmt.Sprintf("location %q no longer exists", locationID)), nil
	}

	items := f.mergeVisible(req.Experience, content.EntityItems, scope["items"])
	npcs := f.mergeVisible(req.Experience, content.EntityNPCs, scope["npcs"])

	var sb strings.Builder
	fmt.Fprintf(&sb, "You look around %s.", scopeName)
	if desc, _ := scope["description"].(string); desc != "" {
		sb.WriteString(" " + desc)
	}
	if len(items) > 0 {
		sb.WriteString(" You see: " + strings.Join(nameList(items), ", ") + ".")
	}
	if len(npcs) > 0 {
		sb.WriteString(" Here with you: " + strings.Join(nameList(npcs), ", ") + ".")
	}

	return &dispatch.Result{
		Success:         true,
		MessageToPlayer: sb.String(),
		Metadata:        map[string]any{"items": items, "npcs": npcs},
	}, nil
}

func (f *Fast) mergeVisible(experience, entityType string, raw any) []map[string]any {
	list, _ := raw.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, entry := range list {
		inst, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		merged, err := f.resolver.Merge(experience, entityType, inst)
		if err != nil {
			merged = inst
		}
		if !visibleInstance(merged) {
			continue
		}
		out = append(out, merged)
	}
	return out
}

func failWithDestinations(code, message string, areas map[string]any) *dispatch.Result {
	res := dispatch.Fail(code, message)
	ids := make([]string, 0, len(areas))
	for id := range areas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	res.Metadata = map[string]any{"available_destinations": ids}
	return res
}

// resolveDirection follows the current area's connections map.
func resolveDirection(areas map[string]any, currentArea, direction string) string {
	area, ok := areas[currentArea].(map[string]any)
	if !ok {
		return ""
	}
	connections, ok := area["connections"].(map[string]any)
	if !ok {
		return ""
	}
	dest, _ := connections[strings.ToLower(direction)].(string)
	return dest
}

func nameList(entries []map[string]any) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, displayName(e))
	}
	return names
}
