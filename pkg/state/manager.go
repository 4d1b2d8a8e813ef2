// Package state is the single owner of the persisted world and player-view
// documents. Every read and write goes through the Manager: it validates
// and applies merge-operator patches, stamps monotonic versions, persists
// atomically, and publishes deltas for the affected player. No other
// component writes state.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/waypointxr/waypoint/pkg/content"
	"github.com/waypointxr/waypoint/pkg/events"
	"github.com/waypointxr/waypoint/pkg/store"
)

// backupKeep is how many rotated world backups survive a reset.
const backupKeep = 5

// Manager coordinates all state document access for one core instance.
type Manager struct {
	docs      *store.DocumentStore
	resolver  *content.Resolver
	publisher *events.Publisher

	// Per-document mutexes, keyed by relative path. The flock in the store
	// guards against other processes; these serialize writers in-process
	// and define the world-before-view lock order for composed commits.
	locks sync.Map

	now func() time.Time
}

// NewManager wires a Manager over its collaborators.
func NewManager(docs *store.DocumentStore, resolver *content.Resolver, publisher *events.Publisher) *Manager {
	return &Manager{
		docs:      docs,
		resolver:  resolver,
		publisher: publisher,
		now:       time.Now,
	}
}

func (m *Manager) lock(rel string) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(rel, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// nextVersion stamps wall-clock millis clamped strictly above base.
func (m *Manager) nextVersion(base int64) int64 {
	v := m.now().UnixMilli()
	if v <= base {
		v = base + 1
	}
	return v
}

// GetWorldState returns the world document for an experience.
func (m *Manager) GetWorldState(_ context.Context, experience string) (map[string]any, error) {
	doc, err := m.docs.Read(store.WorldPath(experience))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("world %s: %w", experience, ErrNotFound)
		}
		return nil, err
	}
	return doc, nil
}

// GetPlayerView returns the player view for (experience, user), creating
// it from the experience's view template on first access.
func (m *Manager) GetPlayerView(_ context.Context, experience, userID string) (map[string]any, error) {
	rel := store.ViewPath(userID, experience)

	view, err := m.docs.Read(rel)
	if err == nil {
		return view, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// Auto-bootstrap under the view lock so two first touches don't race.
	mu := m.lock(rel)
	mu.Lock()
	defer mu.Unlock()

	if view, err := m.docs.Read(rel); err == nil {
		return view, nil
	}

	view = m.bootstrapView(experience)
	view[KeySnapshotVersion] = m.nextVersion(0)
	if err := m.docs.Write(rel, view); err != nil {
		return nil, fmt.Errorf("bootstrap view %s/%s: %w", experience, userID, err)
	}
	slog.Info("Bootstrapped player view",
		"experience", experience, "user_id", userID)
	return view, nil
}

// bootstrapView loads the experience's initial-view template, falling
// back to a minimal empty view when the experience ships none.
func (m *Manager) bootstrapView(experience string) map[string]any {
	tmpl, err := m.docs.Read(store.ViewTemplatePath(experience))
	if err == nil {
		return tmpl
	}
	if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("Failed to read view template, using empty view",
			"experience", experience, "error", err)
	}
	return map[string]any{
		"player": map[string]any{
			"current_location": nil,
			"current_area":     nil,
			"inventory":        []any{},
		},
	}
}

// UpdateWorldState applies a patch to the world document. When userID is
// non-empty a delta is published on that user's subject; its version pair
// is the user's current snapshot_version on both sides, so it slots into
// the delta chain without disturbing it (the view itself did not change).
func (m *Manager) UpdateWorldState(ctx context.Context, experience string, updates map[string]any, userID string) (int64, error) {
	patch, err := ParsePatch(updates)
	if err != nil {
		return 0, err
	}

	rel := store.WorldPath(experience)
	mu := m.lock(rel)
	mu.Lock()
	defer mu.Unlock()

	doc, err := m.GetWorldState(ctx, experience)
	if err != nil {
		return 0, err
	}

	next := copyMap(doc)
	if err := Apply(next, patch); err != nil {
		return 0, err
	}

	version := m.stampWorld(next)
	if err := m.docs.Write(rel, next); err != nil {
		return 0, fmt.Errorf("write world %s: %w", experience, err)
	}

	// The view did not change here, so a delta with nothing applicable
	// would be pure noise; only world changes are worth sending.
	if changes := m.worldChanges(experience, patch, next); userID != "" && len(changes) > 0 {
		if view, err := m.GetPlayerView(ctx, experience, userID); err == nil {
			v := ViewVersion(view)
			m.publisher.PublishWorldUpdate(experience, userID, v, v, changes)
		} else {
			slog.Warn("Skipping delta for world update, view unavailable",
				"experience", experience, "user_id", userID, "error", err)
		}
	}
	return version, nil
}

// UpdatePlayerView applies a patch to a player view and always publishes
// a delta for that player. Leaf-only patches produce a delta with an
// empty change list; it carries the new snapshot_version so the client's
// base_version chain survives writes it cannot apply incrementally.
func (m *Manager) UpdatePlayerView(ctx context.Context, experience, userID string, updates map[string]any) (int64, error) {
	patch, err := ParsePatch(updates)
	if err != nil {
		return 0, err
	}

	rel := store.ViewPath(userID, experience)
	mu := m.lock(rel)
	mu.Lock()
	defer mu.Unlock()

	view, err := m.getOrBootstrapLocked(ctx, experience, userID, rel)
	if err != nil {
		return 0, err
	}

	base := ViewVersion(view)
	next := copyMap(view)
	if err := Apply(next, patch); err != nil {
		return 0, err
	}

	version := m.nextVersion(base)
	next[KeySnapshotVersion] = version
	if err := m.docs.Write(rel, next); err != nil {
		return 0, fmt.Errorf("write view %s/%s: %w", experience, userID, err)
	}

	m.publisher.PublishWorldUpdate(experience, userID, base, version, m.viewChanges(experience, patch))
	return version, nil
}

// ApplyCommand commits a world patch and a player-view patch as one
// logical operation: both parse before either applies, both apply in
// memory before either persists, and the locks are taken world before
// view. The single published delta carries the view's version pair and
// the world changes followed by the view changes.
//
// Handlers that move instances between the world and a player's inventory
// (collect, drop) must use this instead of two independent updates.
func (m *Manager) ApplyCommand(ctx context.Context, experience, userID string, worldUpdates, viewUpdates map[string]any) (int64, error) {
	worldPatch, err := ParsePatch(worldUpdates)
	if err != nil {
		return 0, err
	}
	viewPatch, err := ParsePatch(viewUpdates)
	if err != nil {
		return 0, err
	}

	worldRel := store.WorldPath(experience)
	viewRel := store.ViewPath(userID, experience)

	worldMu := m.lock(worldRel)
	worldMu.Lock()
	defer worldMu.Unlock()
	viewMu := m.lock(viewRel)
	viewMu.Lock()
	defer viewMu.Unlock()

	world, err := m.GetWorldState(ctx, experience)
	if err != nil {
		return 0, err
	}
	view, err := m.getOrBootstrapLocked(ctx, experience, userID, viewRel)
	if err != nil {
		return 0, err
	}

	nextWorld := copyMap(world)
	if err := Apply(nextWorld, worldPatch); err != nil {
		return 0, err
	}
	nextView := copyMap(view)
	if err := Apply(nextView, viewPatch); err != nil {
		return 0, err
	}

	base := ViewVersion(view)
	m.stampWorld(nextWorld)
	version := m.nextVersion(base)
	nextView[KeySnapshotVersion] = version

	// World before view: a reader that sees the new view version can rely
	// on the world write having landed.
	if err := m.docs.Write(worldRel, nextWorld); err != nil {
		return 0, fmt.Errorf("write world %s: %w", experience, err)
	}
	if err := m.docs.Write(viewRel, nextView); err != nil {
		return 0, fmt.Errorf("write view %s/%s: %w", experience, userID, err)
	}

	changes := m.worldChanges(experience, worldPatch, nextWorld)
	changes = append(changes, m.viewChanges(experience, viewPatch)...)
	m.publisher.PublishWorldUpdate(experience, userID, base, version, changes)

	return version, nil
}

// getOrBootstrapLocked reads the view, bootstrapping it if missing.
// Callers hold the view lock.
func (m *Manager) getOrBootstrapLocked(_ context.Context, experience, userID, rel string) (map[string]any, error) {
	view, err := m.docs.Read(rel)
	if err == nil {
		return view, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	view = m.bootstrapView(experience)
	view[KeySnapshotVersion] = m.nextVersion(0)
	if err := m.docs.Write(rel, view); err != nil {
		return nil, fmt.Errorf("bootstrap view %s/%s: %w", experience, userID, err)
	}
	return view, nil
}

// stampWorld advances metadata._version and last_modified on a world
// document, returning the new version.
func (m *Manager) stampWorld(doc map[string]any) int64 {
	meta, ok := doc[KeyMetadata].(map[string]any)
	if !ok {
		meta = map[string]any{}
		doc[KeyMetadata] = meta
	}
	version := m.nextVersion(asInt64(meta[KeyVersion]))
	meta[KeyVersion] = version
	meta[KeyLastModified] = m.now().UTC().Format(time.RFC3339)
	return version
}

// ResetResult reports what an experience reset did.
type ResetResult struct {
	BackupFile   string
	ViewsCleared int
}

// ResetExperience backs up the live world document, restores it from the
// pristine template, and deletes every player view for the experience.
// The backup happens before any destructive step; at most backupKeep
// backups are retained. Clients learn about the reset on their next AOI
// request; no delta is published.
func (m *Manager) ResetExperience(ctx context.Context, experience string) (*ResetResult, error) {
	worldRel := store.WorldPath(experience)
	mu := m.lock(worldRel)
	mu.Lock()
	defer mu.Unlock()

	backup, err := m.docs.Backup(worldRel, backupKeep)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("world %s: %w", experience, ErrNotFound)
		}
		return nil, fmt.Errorf("backup world %s: %w", experience, err)
	}

	tmpl, err := m.docs.Read(store.WorldTemplatePath(experience))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("world template %s: %w", experience, ErrNotFound)
		}
		return nil, err
	}

	fresh := copyMap(tmpl)
	m.stampWorld(fresh)
	if err := m.docs.Write(worldRel, fresh); err != nil {
		return nil, fmt.Errorf("restore world %s: %w", experience, err)
	}

	cleared, err := m.deletePlayerViews(ctx, experience)
	if err != nil {
		return nil, err
	}

	slog.Info("Experience reset",
		"experience", experience, "backup", backup, "views_cleared", cleared)
	return &ResetResult{BackupFile: backup, ViewsCleared: cleared}, nil
}

// deletePlayerViews removes every player's view directory for an
// experience and returns how many players were affected.
func (m *Manager) deletePlayerViews(_ context.Context, experience string) (int, error) {
	users, err := m.docs.ListDirs(store.PlayersRoot())
	if err != nil {
		return 0, fmt.Errorf("list players: %w", err)
	}
	cleared := 0
	for _, userID := range users {
		dir := store.PlayerDir(userID, experience)
		if !m.docs.Exists(store.ViewPath(userID, experience)) {
			continue
		}
		if err := m.docs.DeleteTree(dir); err != nil {
			return cleared, fmt.Errorf("delete views for %s: %w", userID, err)
		}
		cleared++
	}
	return cleared, nil
}
