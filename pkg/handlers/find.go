package handlers

import "sort"

// Lookup helpers shared by the fast handlers and the admin router. All
// of them operate on documents already read through the state manager;
// none of them mutate anything.

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// viewPlayerMap returns the player sub-map of a view, empty when absent.
func viewPlayerMap(view map[string]any) map[string]any {
	player, _ := view["player"].(map[string]any)
	if player == nil {
		return map[string]any{}
	}
	return player
}

func playerLocation(view map[string]any) string {
	s, _ := viewPlayerMap(view)["current_location"].(string)
	return s
}

func playerArea(view map[string]any) string {
	s, _ := viewPlayerMap(view)["current_area"].(string)
	return s
}

// inventoryInstance finds an inventory entry by instance_id.
func inventoryInstance(view map[string]any, instanceID string) map[string]any {
	list, _ := viewPlayerMap(view)["inventory"].([]any)
	for _, entry := range list {
		if inst, ok := entry.(map[string]any); ok {
			if id, _ := inst["instance_id"].(string); id == instanceID {
				return inst
			}
		}
	}
	return nil
}

// foundInstance is one hit of a world-document entity search: the
// instance itself plus the navigation path of the list holding it,
// ready to become a patch.
type foundInstance struct {
	instance  map[string]any
	patchPath []string // e.g. ["locations", "willow_grove", "areas", "spawn_zone_1"]
	listKey   string   // "items" or "npcs"
	areaID    string   // empty for a location's top-level list
}

// findInLocation searches one location's list of the given key, top
// level first and then every area in stable order.
func findInLocation(world map[string]any, locationID, listKey, instanceID string) *foundInstance {
	location := locationMap(world, locationID)
	if location == nil {
		return nil
	}

	base := []string{"locations", locationID}
	if inst := instanceInList(location[listKey], instanceID); inst != nil {
		return &foundInstance{instance: inst, patchPath: base, listKey: listKey}
	}

	areas, _ := location["areas"].(map[string]any)
	for _, areaID := range sortedKeys(areas) {
		area, ok := areas[areaID].(map[string]any)
		if !ok {
			continue
		}
		if inst := instanceInList(area[listKey], instanceID); inst != nil {
			return &foundInstance{
				instance:  inst,
				patchPath: append(base, "areas", areaID),
				listKey:   listKey,
				areaID:    areaID,
			}
		}
	}
	return nil
}

// findAnywhere searches every location for an entity. Used by admin
// commands, which are not scoped to the caller's position.
func findAnywhere(world map[string]any, listKey, instanceID string) *foundInstance {
	locations, _ := world["locations"].(map[string]any)
	for _, locationID := range sortedKeys(locations) {
		if found := findInLocation(world, locationID, listKey, instanceID); found != nil {
			return found
		}
	}
	return nil
}

func instanceInList(raw any, instanceID string) map[string]any {
	list, _ := raw.([]any)
	for _, entry := range list {
		if inst, ok := entry.(map[string]any); ok {
			switch id, _ := inst["instance_id"].(string); {
			case id == instanceID:
				return inst
			case id == "":
				// Legacy instances may still carry "id".
				if legacy, _ := inst["id"].(string); legacy == instanceID {
					return inst
				}
			}
		}
	}
	return nil
}

func locationMap(world map[string]any, locationID string) map[string]any {
	locations, _ := world["locations"].(map[string]any)
	location, _ := locations[locationID].(map[string]any)
	return location
}

func locationAreas(world map[string]any, locationID string) map[string]any {
	location := locationMap(world, locationID)
	if location == nil {
		return map[string]any{}
	}
	areas, _ := location["areas"].(map[string]any)
	if areas == nil {
		return map[string]any{}
	}
	return areas
}

// listPatch builds a nested world patch that applies op to the list
// named listKey at the end of path.
func listPatch(path []string, listKey string, op map[string]any) map[string]any {
	patch := map[string]any{listKey: op}
	for i := len(path) - 1; i >= 0; i-- {
		patch = map[string]any{path[i]: patch}
	}
	return patch
}

// displayName prefers the human name, then semantic_name, then the ids.
func displayName(entity map[string]any) string {
	for _, key := range []string{"name", "semantic_name", "instance_id", "id"} {
		if s, _ := entity[key].(string); s != "" {
			return s
		}
	}
	return "something"
}

func visibleInstance(inst map[string]any) bool {
	if v, ok := inst["visible"].(bool); ok {
		return v
	}
	if st, ok := inst["state"].(map[string]any); ok {
		if v, ok := st["visible"].(bool); ok {
			return v
		}
	}
	return true
}
