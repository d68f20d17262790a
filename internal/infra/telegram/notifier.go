package telegram

import (
	"context"
	"fmt"

	"outreach_engine/internal/domain/events"
	domainTelegram "outreach_engine/internal/domain/telegram"
)

// Notifier forwards campaign completions to the admin chat.
type Notifier struct {
	client  domainTelegram.Client
	adminID int64
}

func NewNotifier(client domainTelegram.Client, adminID int64) *Notifier {
	return &Notifier{client: client, adminID: adminID}
}

func (n *Notifier) Publish(_ context.Context, e events.Event) error {
	if e.Type != events.CampaignCompleted {
		return nil
	}
	text := fmt.Sprintf("Campaign %d (%s) has no pending leads left and is now completed.", e.CampaignID, e.Detail)
	if err := n.client.SendMessage(n.adminID, text, nil); err != nil {
		return fmt.Errorf("failed to notify admin: %w", err)
	}
	return nil
}
