package state

import (
	"log/slog"

	"github.com/waypointxr/waypoint/pkg/content"
	"github.com/waypointxr/waypoint/pkg/events"
)

// Change derivation: after a patch is applied, the list operators it
// contained are translated into the ordered change list of a delta.
// Leaf writes and $set don't produce changes; the delta for such a
// write carries an empty list, and the client picks the new values up
// on its next AOI.

// entityTypeForKey maps a list key in the world document to its template
// directory. Lists under other keys produce no template merge.
func entityTypeForKey(key string) (string, bool) {
	switch key {
	case "items":
		return content.EntityItems, true
	case "npcs":
		return content.EntityNPCs, true
	}
	return "", false
}

// worldChanges walks a world patch and emits changes for item/NPC list
// operators, resolving full item payloads against the post-apply document.
func (m *Manager) worldChanges(experience string, patch Object, doc map[string]any) []events.Change {
	var changes []events.Change
	m.walkWorld(experience, patch, doc, nil, &changes)
	return changes
}

func (m *Manager) walkWorld(experience string, patch Object, doc map[string]any, path []string, out *[]events.Change) {
	for _, key := range sortedKeys(patch) {
		node := patch[key]
		switch n := node.(type) {
		case Object:
			sub, _ := doc[key].(map[string]any)
			m.walkWorld(experience, n, sub, childPath(path, key), out)

		case RemoveOp:
			if _, ok := entityTypeForKey(key); !ok {
				continue
			}
			*out = append(*out, events.Change{
				Operation:  events.OpRemove,
				AreaID:     areaIDFromPath(path),
				InstanceID: n.InstanceID,
			})

		case AppendOp:
			entityType, ok := entityTypeForKey(key)
			if !ok {
				continue
			}
			inst, ok := n.Value.(map[string]any)
			if !ok {
				continue
			}
			*out = append(*out, events.Change{
				Operation: events.OpAdd,
				AreaID:    areaIDFromPath(path),
				Item:      m.mergedItem(experience, entityType, inst),
			})

		case UpdateOp:
			entityType, ok := entityTypeForKey(key)
			if !ok {
				continue
			}
			list, _ := doc[key].([]any)
			for _, entry := range n.Entries {
				id := entry["instance_id"].(string)
				change := events.Change{
					Operation:  events.OpUpdate,
					AreaID:     areaIDFromPath(path),
					InstanceID: id,
				}
				if idx := indexOfInstance(list, id); idx >= 0 {
					change.Item = m.mergedItem(experience, entityType, list[idx].(map[string]any))
				}
				*out = append(*out, change)
			}
		}
	}
}

// areaIDFromPath extracts the area id from a world patch path of the form
// locations.<loc>.areas.<area>. Top-level location lists (legacy layout)
// have no area.
func areaIDFromPath(path []string) *string {
	if len(path) >= 4 && path[0] == "locations" && path[2] == "areas" {
		area := path[3]
		return &area
	}
	return nil
}

// viewChanges walks a player-view patch and emits inventory changes.
func (m *Manager) viewChanges(experience string, patch Object) []events.Change {
	var changes []events.Change

	player, ok := patch["player"].(Object)
	if !ok {
		return nil
	}
	switch n := player["inventory"].(type) {
	case AppendOp:
		if inst, ok := n.Value.(map[string]any); ok {
			changes = append(changes, events.Change{
				Operation: events.OpAdd,
				AreaID:    nil,
				Path:      events.InventoryPath,
				Item:      m.mergedItem(experience, content.EntityItems, inst),
			})
		}
	case RemoveOp:
		changes = append(changes, events.Change{
			Operation:  events.OpRemove,
			AreaID:     nil,
			Path:       events.InventoryPath,
			InstanceID: n.InstanceID,
		})
	}
	return changes
}

// mergedItem runs an instance through the template resolver for the full
// client-facing payload. Resolver failures degrade to the bare instance.
func (m *Manager) mergedItem(experience, entityType string, inst map[string]any) map[string]any {
	merged, err := m.resolver.Merge(experience, entityType, inst)
	if err != nil {
		slog.Warn("Template merge failed for delta payload, using bare instance",
			"experience", experience, "entity_type", entityType, "error", err)
	}
	return merged
}
