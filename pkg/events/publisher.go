package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Publisher formats state changes into v0.4 deltas and publishes them on
// per-user subjects. Publication is best-effort: a bus failure is logged
// and swallowed, the state write it describes has already committed, and
// the client discovers the gap through a base_version mismatch.
type Publisher struct {
	bus Bus
}

// NewPublisher creates a Publisher over the given bus.
func NewPublisher(bus Bus) *Publisher {
	return &Publisher{bus: bus}
}

// PublishWorldUpdate builds and publishes one delta for userID. An empty
// change list is still sent when the version advanced: the delta carries
// the version pair, keeping the base_version chain unbroken for writes
// that have no client-applicable changes.
func (p *Publisher) PublishWorldUpdate(experience, userID string, baseVersion, snapshotVersion int64, changes []Change) {
	if userID == "" {
		return
	}
	if changes == nil {
		changes = []Change{}
	}

	delta := Delta{
		Type:            TypeWorldUpdate,
		Version:         DeltaVersion,
		Experience:      experience,
		UserID:          userID,
		BaseVersion:     baseVersion,
		SnapshotVersion: snapshotVersion,
		Changes:         changes,
		Timestamp:       time.Now().UnixMilli(),
	}

	if err := p.publish(UserSubject(userID), delta); err != nil {
		slog.Warn("Failed to publish world update, client will resync on next AOI",
			"experience", experience,
			"user_id", userID,
			"base_version", baseVersion,
			"snapshot_version", snapshotVersion,
			"error", err)
	}
}

func (p *Publisher) publish(subject string, delta Delta) error {
	data, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("marshal delta: %w", err)
	}
	return p.bus.Publish(subject, data)
}
