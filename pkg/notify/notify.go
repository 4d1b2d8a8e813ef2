// Package notify announces destructive admin operations to operators.
// Notifications are best-effort: a failed post is logged and never
// blocks the operation it reports.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// Notifier receives operational announcements.
type Notifier interface {
	// ExperienceReset reports that actor reset an experience, with the
	// backup file written beforehand and how many player views were
	// cleared.
	ExperienceReset(ctx context.Context, experience, actor, backupFile string, viewsCleared int)
}

// Noop swallows every notification. Used when no channel is configured.
type Noop struct{}

func (Noop) ExperienceReset(context.Context, string, string, string, int) {}

// Slack posts notifications to a Slack channel.
type Slack struct {
	client  *slack.Client
	channel string
}

// NewSlack builds a Slack notifier from a bot token and channel id.
func NewSlack(token, channel string) *Slack {
	return &Slack{client: slack.New(token), channel: channel}
}

func (s *Slack) ExperienceReset(ctx context.Context, experience, actor, backupFile string, viewsCleared int) {
	text := fmt.Sprintf(":rotating_light: experience *%s* was reset by %s\nbackup: `%s`\nplayer views cleared: %d",
		experience, actor, backupFile, viewsCleared)
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		slog.Warn("Failed to post reset notification to Slack",
			"experience", experience, "channel", s.channel, "error", err)
	}
}
