package store

import "path"

// Persisted layout below the content root:
//
//	<experience>/state/world.json            — live world document
//	<experience>/state/world.template.json   — pristine initial state (read-only)
//	<experience>/state/view.template.json    — initial player view (optional)
//	<experience>/state/world.<UTC-ts>.json   — rotated backups
//	<experience>/templates/<type>/<id>.md    — immutable content templates
//	players/<user_id>/<experience>/view.json — per-player view documents

// WorldPath returns the live world document path for an experience.
func WorldPath(experience string) string {
	return path.Join(experience, "state", "world.json")
}

// WorldTemplatePath returns the pristine world template path.
func WorldTemplatePath(experience string) string {
	return path.Join(experience, "state", "world.template.json")
}

// ViewTemplatePath returns the initial player-view template path.
func ViewTemplatePath(experience string) string {
	return path.Join(experience, "state", "view.template.json")
}

// StateDir returns the state directory for an experience.
func StateDir(experience string) string {
	return path.Join(experience, "state")
}

// ViewPath returns the player view document path for (user, experience).
func ViewPath(userID, experience string) string {
	return path.Join("players", userID, experience, "view.json")
}

// PlayerDir returns the directory holding one player's documents for an
// experience.
func PlayerDir(userID, experience string) string {
	return path.Join("players", userID, experience)
}

// PlayersRoot returns the directory holding all player documents.
func PlayersRoot() string { return "players" }

// TemplatePath returns an immutable content template path.
// entityType is one of "items", "npcs", "quests".
func TemplatePath(experience, entityType, templateID string) string {
	return path.Join(experience, "templates", entityType, templateID+".md")
}
