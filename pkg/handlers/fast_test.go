package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypointxr/waypoint/pkg/content"
	"github.com/waypointxr/waypoint/pkg/dispatch"
	"github.com/waypointxr/waypoint/pkg/events"
	"github.com/waypointxr/waypoint/pkg/state"
	"github.com/waypointxr/waypoint/pkg/store"
)

const testExperience = "wylding-woods"

func handlersWorld() map[string]any {
	return map[string]any{
		"locations": map[string]any{
			"willow_grove": map[string]any{
				"name": "Willow Grove",
				"gps":  map[string]any{"lat": 37.906512, "lng": -122.544217},
				"areas": map[string]any{
					"spawn_zone_1": map[string]any{
						"name":        "Spawn Zone",
						"connections": map[string]any{"north": "counter"},
						"items": []any{
							map[string]any{"instance_id": "bottle_mystery", "template_id": "bottle_mystery", "collectible": true},
							map[string]any{"instance_id": "boulder", "template_id": "boulder", "collectible": false},
							map[string]any{"instance_id": "hidden_key", "template_id": "hidden_key", "collectible": true, "visible": false},
						},
						"npcs": []any{},
					},
					"counter": map[string]any{"name": "Counter", "items": []any{}, "npcs": []any{}},
				},
			},
		},
		"npcs":     map[string]any{},
		"quests":   map[string]any{"lantern": map[string]any{"stage": float64(1), "active": true}},
		"metadata": map[string]any{"_version": float64(1)},
	}
}

type fixture struct {
	fast   *Fast
	admin  *Admin
	mgr    *state.Manager
	docs   *store.DocumentStore
	bus    *events.MemoryBus
	deltas *[]events.Delta
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs, err := store.NewDocumentStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, docs.Write(store.WorldPath(testExperience), handlersWorld()))
	require.NoError(t, docs.Write(store.WorldTemplatePath(testExperience), handlersWorld()))

	resolver := content.NewResolver(content.NewStore(docs))
	bus := events.NewMemoryBus()
	mgr := state.NewManager(docs, resolver, events.NewPublisher(bus))

	return &fixture{
		fast:   NewFast(mgr, resolver),
		admin:  NewAdmin(mgr, resolver, nil),
		mgr:    mgr,
		docs:   docs,
		bus:    bus,
		deltas: &[]events.Delta{},
	}
}

// placePlayer puts a user at the grove's spawn zone.
func (f *fixture) placePlayer(t *testing.T, userID string) {
	t.Helper()
	_, err := f.mgr.UpdatePlayerView(context.Background(), testExperience, userID, map[string]any{
		"player": map[string]any{"current_location": "willow_grove", "current_area": "spawn_zone_1"},
	})
	require.NoError(t, err)
}

func (f *fixture) captureDeltas(t *testing.T, userID string) {
	t.Helper()
	_, err := f.bus.Subscribe(events.UserSubject(userID), func(data []byte) {
		var d events.Delta
		require.NoError(t, json.Unmarshal(data, &d))
		*f.deltas = append(*f.deltas, d)
	})
	require.NoError(t, err)
}

func request(userID, action string, args map[string]any) *dispatch.Request {
	if args == nil {
		args = map[string]any{}
	}
	args["action"] = action
	return &dispatch.Request{
		Experience: testExperience,
		UserID:     userID,
		Action:     action,
		Args:       args,
	}
}

func TestCollectItem(t *testing.T) {
	f := newFixture(t)
	f.placePlayer(t, "alice")
	f.captureDeltas(t, "alice")
	ctx := context.Background()

	res, err := f.fast.CollectItem(ctx, request("alice", "collect_item", map[string]any{"instance_id": "bottle_mystery"}))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Contains(t, res.MessageToPlayer, "pick up")

	view, err := f.mgr.GetPlayerView(ctx, testExperience, "alice")
	require.NoError(t, err)
	require.NotNil(t, inventoryInstance(view, "bottle_mystery"))

	world, err := f.mgr.GetWorldState(ctx, testExperience)
	require.NoError(t, err)
	assert.Nil(t, findInLocation(world, "willow_grove", "items", "bottle_mystery"))

	deltas := *f.deltas
	require.Len(t, deltas, 1)
	require.Len(t, deltas[0].Changes, 2)
	assert.Equal(t, events.OpRemove, deltas[0].Changes[0].Operation)
	assert.Equal(t, events.OpAdd, deltas[0].Changes[1].Operation)
	assert.Equal(t, events.InventoryPath, deltas[0].Changes[1].Path)
}

func TestCollectItem_LegacyItemID(t *testing.T) {
	f := newFixture(t)
	f.placePlayer(t, "alice")

	res, err := f.fast.CollectItem(context.Background(), request("alice", "collect_item", map[string]any{"item_id": "bottle_mystery"}))
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestCollectItem_LegacyShapedWorldItem(t *testing.T) {
	// A pre-rename world document carries id/type instead of
	// instance_id/template_id. The item must be collectable, not just
	// visible.
	f := newFixture(t)
	ctx := context.Background()

	world := handlersWorld()
	area := world["locations"].(map[string]any)["willow_grove"].(map[string]any)["areas"].(map[string]any)["spawn_zone_1"].(map[string]any)
	area["items"] = []any{
		map[string]any{"id": "old_coin", "type": "old_coin", "collectible": true},
	}
	require.NoError(t, f.docs.Write(store.WorldPath(testExperience), world))

	f.placePlayer(t, "alice")

	res, err := f.fast.CollectItem(ctx, request("alice", "collect_item", map[string]any{"instance_id": "old_coin"}))
	require.NoError(t, err)
	require.True(t, res.Success)

	after, err := f.mgr.GetWorldState(ctx, testExperience)
	require.NoError(t, err)
	assert.Nil(t, findInLocation(after, "willow_grove", "items", "old_coin"))

	view, err := f.mgr.GetPlayerView(ctx, testExperience, "alice")
	require.NoError(t, err)
	inv := view["player"].(map[string]any)["inventory"].([]any)
	require.Len(t, inv, 1)
}

func TestCollectItem_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.fast.CollectItem(ctx, request("alice", "collect_item", nil))
	require.NoError(t, err)
	assert.Equal(t, "missing_instance_id", res.Error.Code)

	// No location recorded yet.
	res, err = f.fast.CollectItem(ctx, request("alice", "collect_item", map[string]any{"instance_id": "bottle_mystery"}))
	require.NoError(t, err)
	assert.Equal(t, "no_location", res.Error.Code)

	f.placePlayer(t, "alice")

	res, err = f.fast.CollectItem(ctx, request("alice", "collect_item", map[string]any{"instance_id": "ghost_item"}))
	require.NoError(t, err)
	assert.Equal(t, "item_not_found", res.Error.Code)

	res, err = f.fast.CollectItem(ctx, request("alice", "collect_item", map[string]any{"instance_id": "boulder"}))
	require.NoError(t, err)
	assert.Equal(t, "not_collectible", res.Error.Code)
}

func TestCollectItem_SecondCollectorLoses(t *testing.T) {
	f := newFixture(t)
	f.placePlayer(t, "alice")
	f.placePlayer(t, "bob")
	ctx := context.Background()

	res, err := f.fast.CollectItem(ctx, request("alice", "collect_item", map[string]any{"instance_id": "bottle_mystery"}))
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = f.fast.CollectItem(ctx, request("bob", "collect_item", map[string]any{"instance_id": "bottle_mystery"}))
	require.NoError(t, err)
	require.False(t, res.Success)
	assert.Equal(t, "item_not_found", res.Error.Code)
}

func TestDropItem_RoundTripRestoresArea(t *testing.T) {
	f := newFixture(t)
	f.placePlayer(t, "alice")
	ctx := context.Background()

	_, err := f.fast.CollectItem(ctx, request("alice", "collect_item", map[string]any{"instance_id": "bottle_mystery"}))
	require.NoError(t, err)

	res, err := f.fast.DropItem(ctx, request("alice", "drop_item", map[string]any{"instance_id": "bottle_mystery"}))
	require.NoError(t, err)
	require.True(t, res.Success)

	world, err := f.mgr.GetWorldState(ctx, testExperience)
	require.NoError(t, err)
	found := findInLocation(world, "willow_grove", "items", "bottle_mystery")
	require.NotNil(t, found)
	assert.Equal(t, "spawn_zone_1", found.areaID)

	view, err := f.mgr.GetPlayerView(ctx, testExperience, "alice")
	require.NoError(t, err)
	assert.Nil(t, inventoryInstance(view, "bottle_mystery"))
}

func TestDropItem_Errors(t *testing.T) {
	f := newFixture(t)
	f.placePlayer(t, "alice")
	ctx := context.Background()

	res, err := f.fast.DropItem(ctx, request("alice", "drop_item", nil))
	require.NoError(t, err)
	assert.Equal(t, "missing_instance_id", res.Error.Code)

	res, err = f.fast.DropItem(ctx, request("alice", "drop_item", map[string]any{"instance_id": "bottle_mystery"}))
	require.NoError(t, err)
	assert.Equal(t, "not_in_inventory", res.Error.Code)
}

func TestGo_ByDestination(t *testing.T) {
	f := newFixture(t)
	f.placePlayer(t, "alice")
	ctx := context.Background()

	res, err := f.fast.Go(ctx, request("alice", "go", map[string]any{"destination": "counter"}))
	require.NoError(t, err)
	require.True(t, res.Success)

	view, err := f.mgr.GetPlayerView(ctx, testExperience, "alice")
	require.NoError(t, err)
	assert.Equal(t, "counter", playerArea(view))
}

func TestGo_ByDirection(t *testing.T) {
	f := newFixture(t)
	f.placePlayer(t, "alice")

	res, err := f.fast.Go(context.Background(), request("alice", "go", map[string]any{"direction": "north"}))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "counter", res.Metadata["current_area"])
}

func TestGo_UnknownDestinationListsOptions(t *testing.T) {
	f := newFixture(t)
	f.placePlayer(t, "alice")

	res, err := f.fast.Go(context.Background(), request("alice", "go", map[string]any{"destination": "moon"}))
	require.NoError(t, err)
	require.False(t, res.Success)
	assert.Equal(t, "destination_not_found", res.Error.Code)
	assert.ElementsMatch(t, []string{"counter", "spawn_zone_1"}, res.Metadata["available_destinations"])
}

func TestGo_MissingDestination(t *testing.T) {
	f := newFixture(t)
	f.placePlayer(t, "alice")

	res, err := f.fast.Go(context.Background(), request("alice", "go", nil))
	require.NoError(t, err)
	assert.Equal(t, "missing_destination", res.Error.Code)
}

func TestInventory(t *testing.T) {
	f := newFixture(t)
	f.placePlayer(t, "alice")
	ctx := context.Background()

	res, err := f.fast.Inventory(ctx, request("alice", "inventory", nil))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Contains(t, res.MessageToPlayer, "empty")

	_, err = f.fast.CollectItem(ctx, request("alice", "collect_item", map[string]any{"instance_id": "bottle_mystery"}))
	require.NoError(t, err)

	res, err = f.fast.Inventory(ctx, request("alice", "inventory", nil))
	require.NoError(t, err)
	items := res.Metadata["inventory"].([]map[string]any)
	require.Len(t, items, 1)
	assert.Equal(t, "bottle_mystery", items[0]["instance_id"])
}

func TestLook_HidesInvisibleItems(t *testing.T) {
	f := newFixture(t)
	f.placePlayer(t, "alice")

	res, err := f.fast.Look(context.Background(), request("alice", "look", nil))
	require.NoError(t, err)
	require.True(t, res.Success)

	items := res.Metadata["items"].([]map[string]any)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item["instance_id"].(string))
	}
	assert.Contains(t, ids, "bottle_mystery")
	assert.NotContains(t, ids, "hidden_key")
}
