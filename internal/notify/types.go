// Package notify resolves recipients and fans alerts out through the
// configured notification channels. Actual delivery is delegated to
// providers; the dispatcher is channel-agnostic.
package notify

import (
	"context"
	"time"

	"github.com/careflock/careflock-go/internal/datastore"
)

// Channel names referenced by alert settings.
const (
	ChannelInApp = "in-app"
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelChat  = "chat"
)

// Message is one outbound notification, immediate or digest.
type Message struct {
	ID       string
	BranchID uint
	Title    string
	Body     string
	Severity string
	Channels []string
	Metadata map[string]any

	CreatedAt time.Time
}

// Provider delivers messages over one or more channels.
type Provider interface {
	GetName() string
	IsEnabled() bool
	SupportsChannel(channel string) bool
	Send(ctx context.Context, msg *Message, recipients []datastore.User) error
}

// supportsAny reports whether the provider serves any of the listed channels.
func supportsAny(p Provider, channels []string) bool {
	for _, ch := range channels {
		if p.SupportsChannel(ch) {
			return true
		}
	}
	return false
}
