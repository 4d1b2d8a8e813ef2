// Package aoi computes the Area of Interest: the slice of world state a
// player can see from their current GPS position. The builder matches
// the position against zone anchors, projects the matching location's
// areas through the template resolver, and stamps the player view's
// snapshot_version so clients can order later deltas against it.
package aoi

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/waypointxr/waypoint/pkg/content"
	"github.com/waypointxr/waypoint/pkg/state"
)

// DefaultZoneRadiusMeters is how close a player must be to a zone's GPS
// anchor to be considered inside it.
const DefaultZoneRadiusMeters = 500

const earthRadiusMeters = 6371000

// Zone is the matched top-level location.
type Zone struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	GPS         map[string]any   `json:"gps,omitempty"`
	Items       []map[string]any `json:"items,omitempty"`
	NPCs        []map[string]any `json:"npcs,omitempty"`
}

// Area is one sub-region of the zone.
type Area struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Items       []map[string]any `json:"items"`
	NPCs        []map[string]any `json:"npcs"`
}

// Player echoes the view fields a client needs alongside the world
// projection.
type Player struct {
	CurrentLocation any              `json:"current_location"`
	CurrentArea     any              `json:"current_area"`
	Inventory       []map[string]any `json:"inventory"`
}

// AOI is the message sent in reply to update_location.
type AOI struct {
	Type            string          `json:"type"`
	Timestamp       int64           `json:"timestamp"`
	SnapshotVersion int64           `json:"snapshot_version"`
	Zone            *Zone           `json:"zone"`
	Areas           map[string]Area `json:"areas"`
	Player          Player          `json:"player"`
}

// Builder assembles AOIs from the state manager and template resolver.
type Builder struct {
	state    *state.Manager
	resolver *content.Resolver
	radius   float64
	now      func() time.Time
}

// NewBuilder wires a Builder. radiusMeters <= 0 selects the default.
func NewBuilder(st *state.Manager, resolver *content.Resolver, radiusMeters float64) *Builder {
	if radiusMeters <= 0 {
		radiusMeters = DefaultZoneRadiusMeters
	}
	return &Builder{state: st, resolver: resolver, radius: radiusMeters, now: time.Now}
}

// Build computes the AOI for a player at (lat, lng). Being outside
// every zone is not an error: the AOI comes back with a nil zone, empty
// areas, and the player's fields intact.
//
// Entering a zone records it as the player's current_location, so the
// returned snapshot_version is read after that write and later deltas
// chain onto it.
func (b *Builder) Build(ctx context.Context, experience, userID string, lat, lng float64) (*AOI, error) {
	world, err := b.state.GetWorldState(ctx, experience)
	if err != nil {
		return nil, err
	}
	view, err := b.state.GetPlayerView(ctx, experience, userID)
	if err != nil {
		return nil, err
	}

	locations, _ := world["locations"].(map[string]any)
	zoneID, location := b.nearestZone(locations, lat, lng)

	if zoneID != "" && stringOr(viewPlayer(view)["current_location"]) != zoneID {
		if _, err := b.state.UpdatePlayerView(ctx, experience, userID, map[string]any{
			"player": map[string]any{"current_location": zoneID, "current_area": nil},
		}); err != nil {
			return nil, fmt.Errorf("record location for %s: %w", userID, err)
		}
		if view, err = b.state.GetPlayerView(ctx, experience, userID); err != nil {
			return nil, err
		}
	}

	player := viewPlayer(view)
	out := &AOI{
		Type:            "area_of_interest",
		Timestamp:       b.now().UnixMilli(),
		SnapshotVersion: state.ViewVersion(view),
		Areas:           map[string]Area{},
		Player: Player{
			CurrentLocation: player["current_location"],
			CurrentArea:     player["current_area"],
			Inventory:       b.resolveList(experience, content.EntityItems, player["inventory"], false),
		},
	}

	if zoneID == "" {
		return out, nil
	}

	out.Zone = &Zone{
		ID:          zoneID,
		Name:        stringOr(location["name"]),
		Description: stringOr(location["description"]),
		GPS:         mapOr(location["gps"]),
		Items:       b.resolveList(experience, content.EntityItems, location["items"], true),
		NPCs:        b.resolveList(experience, content.EntityNPCs, location["npcs"], true),
	}

	areas, _ := location["areas"].(map[string]any)
	for _, areaID := range sortedKeys(areas) {
		area, ok := areas[areaID].(map[string]any)
		if !ok {
			continue
		}
		out.Areas[areaID] = Area{
			ID:          areaID,
			Name:        stringOr(area["name"]),
			Description: stringOr(area["description"]),
			Items:       b.resolveList(experience, content.EntityItems, area["items"], true),
			NPCs:        b.resolveList(experience, content.EntityNPCs, area["npcs"], true),
		}
	}
	return out, nil
}

// nearestZone picks the location whose GPS anchor is closest to the
// player and within the zone radius. Locations without an anchor never
// match.
func (b *Builder) nearestZone(locations map[string]any, lat, lng float64) (string, map[string]any) {
	bestID := ""
	var best map[string]any
	bestDist := math.Inf(1)

	for _, id := range sortedKeys(locations) {
		loc, ok := locations[id].(map[string]any)
		if !ok {
			continue
		}
		gps, ok := loc["gps"].(map[string]any)
		if !ok {
			continue
		}
		aLat, okLat := floatOr(gps["lat"])
		aLng, okLng := floatOr(gps["lng"])
		if !okLat || !okLng {
			continue
		}
		if d := haversineMeters(lat, lng, aLat, aLng); d < bestDist {
			bestID, best, bestDist = id, loc, d
		}
	}

	if bestDist > b.radius {
		return "", nil
	}
	return bestID, best
}

// resolveList merges each instance in a raw list through the template
// resolver. When filterHidden is set, instances marked visible:false
// (top level or under state) are dropped from the projection.
func (b *Builder) resolveList(experience, entityType string, raw any, filterHidden bool) []map[string]any {
	list, _ := raw.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, entry := range list {
		inst, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		merged, err := b.resolver.Merge(experience, entityType, inst)
		if err != nil {
			slog.Warn("Template merge failed in AOI, using bare instance",
				"experience", experience, "entity_type", entityType, "error", err)
			merged = inst
		}
		if filterHidden && !isVisible(merged) {
			continue
		}
		out = append(out, merged)
	}
	return out
}

// isVisible honors the visible flag wherever it lives; absence means
// visible.
func isVisible(inst map[string]any) bool {
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

// haversineMeters is the great-circle distance between two GPS points.
func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}

func viewPlayer(view map[string]any) map[string]any {
	player, _ := view["player"].(map[string]any)
	if player == nil {
		player = map[string]any{}
	}
	return player
}

func stringOr(v any) string {
	s, _ := v.(string)
	return s
}

func mapOr(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func floatOr(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
