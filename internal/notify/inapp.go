package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/careflock/careflock-go/internal/datastore"
)

// InAppProvider persists notifications to the datastore where the web UI
// surfaces them. Always serves only the in-app channel.
type InAppProvider struct {
	store   datastore.Interface
	enabled bool
}

// NewInAppProvider creates the in-app provider.
func NewInAppProvider(store datastore.Interface, enabled bool) *InAppProvider {
	return &InAppProvider{store: store, enabled: enabled}
}

func (p *InAppProvider) GetName() string { return "in-app" }

func (p *InAppProvider) IsEnabled() bool { return p.enabled }

func (p *InAppProvider) SupportsChannel(channel string) bool {
	return channel == ChannelInApp
}

// Send writes one notification row per recipient. A failed row aborts the
// remaining recipients; the dispatcher logs and carries on with other alerts.
func (p *InAppProvider) Send(_ context.Context, msg *Message, recipients []datastore.User) error {
	for i := range recipients {
		n := datastore.Notification{
			ID:        uuid.NewString(),
			BranchID:  msg.BranchID,
			UserID:    recipients[i].ID,
			Title:     msg.Title,
			Body:      msg.Body,
			Severity:  msg.Severity,
			Status:    "unread",
			CreatedAt: msg.CreatedAt,
		}
		if err := p.store.InsertNotification(&n); err != nil {
			return fmt.Errorf("storing in-app notification for user %d: %w", recipients[i].ID, err)
		}
	}
	return nil
}
