package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus()

	var got [][]byte
	_, err := bus.Subscribe("world.updates.user.alice", func(data []byte) {
		got = append(got, data)
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish("world.updates.user.alice", []byte("one")))
	require.NoError(t, bus.Publish("world.updates.user.bob", []byte("other")))

	require.Len(t, got, 1)
	assert.Equal(t, "one", string(got[0]))
}

func TestMemoryBus_FIFOPerSubject(t *testing.T) {
	bus := NewMemoryBus()

	var got []string
	_, err := bus.Subscribe("s", func(data []byte) {
		got = append(got, string(data))
	})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, bus.Publish("s", []byte(fmt.Sprintf("%d", i))))
	}

	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, fmt.Sprintf("%d", i), v)
	}
}

func TestMemoryBus_ConcurrentPublishersDeliverOneOrder(t *testing.T) {
	// Delivery for a subject is serialized, so every subscriber observes
	// the same message sequence even with racing publishers.
	bus := NewMemoryBus()

	var mu sync.Mutex
	var first, second []string
	_, err := bus.Subscribe("s", func(data []byte) {
		mu.Lock()
		first = append(first, string(data))
		mu.Unlock()
	})
	require.NoError(t, err)
	_, err = bus.Subscribe("s", func(data []byte) {
		mu.Lock()
		second = append(second, string(data))
		mu.Unlock()
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, bus.Publish("s", []byte(fmt.Sprintf("%d-%d", p, i))))
			}
		}(p)
	}
	wg.Wait()

	require.Len(t, first, 100)
	assert.Equal(t, first, second)
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus()

	calls := 0
	sub, err := bus.Subscribe("s", func([]byte) { calls++ })
	require.NoError(t, err)

	require.NoError(t, bus.Publish("s", []byte("x")))
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, bus.Publish("s", []byte("y")))

	assert.Equal(t, 1, calls)
}

func TestMemoryBus_TwoSubscriptionsBothReceive(t *testing.T) {
	// A player with two sockets holds two subscriptions and receives each
	// delta twice; dedup is the client's job via snapshot_version.
	bus := NewMemoryBus()

	a, b := 0, 0
	_, err := bus.Subscribe("s", func([]byte) { a++ })
	require.NoError(t, err)
	_, err = bus.Subscribe("s", func([]byte) { b++ })
	require.NoError(t, err)

	require.NoError(t, bus.Publish("s", []byte("x")))
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestMemoryBus_PublishNoSubscribers(t *testing.T) {
	bus := NewMemoryBus()
	assert.NoError(t, bus.Publish("empty", []byte("x")))
}

func TestMemoryBus_Closed(t *testing.T) {
	bus := NewMemoryBus()
	require.NoError(t, bus.Close())

	assert.Error(t, bus.Publish("s", []byte("x")))
	_, err := bus.Subscribe("s", func([]byte) {})
	assert.Error(t, err)
}

func TestPublisher_DeltaShape(t *testing.T) {
	bus := NewMemoryBus()
	pub := NewPublisher(bus)

	var raw []byte
	_, err := bus.Subscribe(UserSubject("alice"), func(data []byte) { raw = data })
	require.NoError(t, err)

	area := "spawn_zone_1"
	pub.PublishWorldUpdate("wylding-woods", "alice", 100, 200, []Change{
		{Operation: OpRemove, AreaID: &area, InstanceID: "bottle_mystery"},
		{Operation: OpAdd, AreaID: nil, Path: InventoryPath, Item: map[string]any{"instance_id": "bottle_mystery"}},
	})

	require.NotNil(t, raw)
	var delta map[string]any
	require.NoError(t, json.Unmarshal(raw, &delta))

	assert.Equal(t, TypeWorldUpdate, delta["type"])
	assert.Equal(t, DeltaVersion, delta["version"])
	assert.Equal(t, "wylding-woods", delta["experience"])
	assert.Equal(t, "alice", delta["user_id"])
	assert.Equal(t, float64(100), delta["base_version"])
	assert.Equal(t, float64(200), delta["snapshot_version"])

	changes := delta["changes"].([]any)
	require.Len(t, changes, 2)

	first := changes[0].(map[string]any)
	assert.Equal(t, "remove", first["operation"])
	assert.Equal(t, "spawn_zone_1", first["area_id"])
	assert.Equal(t, "bottle_mystery", first["instance_id"])

	second := changes[1].(map[string]any)
	assert.Equal(t, "add", second["operation"])
	assert.Nil(t, second["area_id"])
	assert.Equal(t, "player.inventory", second["path"])
}

func TestPublisher_EmptyChangeListStillCarriesVersions(t *testing.T) {
	// A write without client-applicable changes still advances the view
	// version; the delta goes out with changes:[] so the chain holds.
	bus := NewMemoryBus()
	pub := NewPublisher(bus)

	var raw []byte
	_, err := bus.Subscribe(UserSubject("alice"), func(data []byte) { raw = data })
	require.NoError(t, err)

	pub.PublishWorldUpdate("e", "alice", 1, 2, nil)

	require.NotNil(t, raw)
	var delta map[string]any
	require.NoError(t, json.Unmarshal(raw, &delta))
	assert.Equal(t, float64(1), delta["base_version"])
	assert.Equal(t, float64(2), delta["snapshot_version"])
	changes, ok := delta["changes"].([]any)
	require.True(t, ok, "changes must be a list, not null")
	assert.Empty(t, changes)
}

func TestPublisher_SkipsEmptyUserID(t *testing.T) {
	bus := NewMemoryBus()
	pub := NewPublisher(bus)

	calls := 0
	_, err := bus.Subscribe(UserSubject(""), func([]byte) { calls++ })
	require.NoError(t, err)

	pub.PublishWorldUpdate("e", "", 1, 2, []Change{{Operation: OpRemove}})
	assert.Equal(t, 0, calls)
}

func TestUserSubject(t *testing.T) {
	assert.Equal(t, "world.updates.user.alice", UserSubject("alice"))
}
