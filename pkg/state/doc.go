package state

// Version fields. The world document tracks its version under
// metadata._version; player views carry a top-level snapshot_version.
// Both are wall-clock milliseconds clamped to strictly-greater-than the
// previous value, so rapid successive writes and clock skew cannot stall
// or reverse the sequence.
const (
	KeyMetadata        = "metadata"
	KeyVersion         = "_version"
	KeyLastModified    = "last_modified"
	KeySnapshotVersion = "snapshot_version"
)

// asInt64 coerces the numeric shapes a version field can take after a
// JSON round-trip.
func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	}
	return 0
}

// WorldVersion reads metadata._version from a world document.
func WorldVersion(doc map[string]any) int64 {
	meta, _ := doc[KeyMetadata].(map[string]any)
	return asInt64(meta[KeyVersion])
}

// ViewVersion reads snapshot_version from a player view.
func ViewVersion(view map[string]any) int64 {
	return asInt64(view[KeySnapshotVersion])
}
