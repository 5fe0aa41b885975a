package capability

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/hankooktire/control-plane/internal/domain"
)

// Notifier announces recovery outcomes to a human channel, grounded on
// send_recovery_notification's Slack attachment payload (color/title/
// fields/footer/ts).
type Notifier interface {
	NotifyRecovery(ctx context.Context, rec domain.RecoveryRecord) error
}

// SlackNotifier posts to a Slack incoming webhook via slack-go/slack,
// replacing the source's raw aiohttp POST with the same attachment shape.
type SlackNotifier struct {
	webhookURL string
	footer     string
}

// NewSlackNotifier builds a Notifier posting to webhookURL. An empty
// webhookURL makes NotifyRecovery a no-op, mirroring
// send_recovery_notification's own "if not SLACK_WEBHOOK: return" guard.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL, footer: "control-plane self-healing"}
}

func (n *SlackNotifier) NotifyRecovery(ctx context.Context, rec domain.RecoveryRecord) error {
	if n.webhookURL == "" {
		return nil
	}

	title := "✅ automatic recovery succeeded"
	color := "good"
	if !rec.Success {
		title = "❌ automatic recovery failed"
		color = "danger"
	}

	msg := &slack.WebhookMessage{
		Attachments: []slack.Attachment{{
			Color: color,
			Title: title,
			Fields: []slack.AttachmentField{
				{Title: "Action", Value: string(rec.Action), Short: true},
				{Title: "Target", Value: rec.Target, Short: true},
				{Title: "Duration", Value: rec.Duration.String(), Short: true},
				{Title: "Message", Value: rec.Message, Short: false},
			},
			Footer: n.footer,
			Ts:     json.Number(fmt.Sprintf("%d", rec.StartedAt.Add(rec.Duration).Unix())),
		}},
	}

	if err := slack.PostWebhookContext(ctx, n.webhookURL, msg); err != nil {
		return fmt.Errorf("notify recovery: %w", err)
	}
	return nil
}
