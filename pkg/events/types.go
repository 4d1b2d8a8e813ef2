// Package events carries state-change deltas from the state manager to
// connected clients over a pub/sub bus. Each player has a private subject;
// deltas are published FIFO per subject with at-most-once delivery, and a
// client that misses one detects the gap through the base_version chain.
package events

// Delta message format version. Clients reject versions they don't know.
const DeltaVersion = "0.4"

// Message type discriminator for deltas on the wire.
const TypeWorldUpdate = "world_update"

// Change operations.
const (
	OpAdd    = "add"
	OpRemove = "remove"
	OpUpdate = "update"
)

// InventoryPath marks a change that targets the player's inventory rather
// than a world area.
const InventoryPath = "player.inventory"

// UserSubject returns the per-user delta subject.
// Format: "world.updates.user.{user_id}"
func UserSubject(userID string) string {
	return "world.updates.user." + userID
}

// Change is one entry in a delta's ordered change list.
//
// Shapes:
//
//	{operation:"remove", area_id, instance_id}
//	{operation:"add", area_id, item}
//	{operation:"add", area_id:null, path:"player.inventory", item}
//	{operation:"update", area_id, instance_id, item}
type Change struct {
	Operation  string         `json:"operation"`
	AreaID     *string        `json:"area_id"`
	Path       string         `json:"path,omitempty"`
	InstanceID string         `json:"instance_id,omitempty"`
	Item       map[string]any `json:"item,omitempty"`
}

// Delta is the v0.4 world_update message published on a user's subject.
// BaseVersion is the player view's snapshot_version before the change;
// SnapshotVersion the one after. Consecutive deltas on a subject chain:
// base_version(i+1) == snapshot_version(i).
type Delta struct {
	Type            string   `json:"type"`
	Version         string   `json:"version"`
	Experience      string   `json:"experience"`
	UserID          string   `json:"user_id"`
	BaseVersion     int64    `json:"base_version"`
	SnapshotVersion int64    `json:"snapshot_version"`
	Changes         []Change `json:"changes"`
	Timestamp       int64    `json:"timestamp"`
}
