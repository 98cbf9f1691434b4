package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/careflock/careflock-go/internal/datastore"
)

// ShoutrrrProvider sends via nicholas-fedor/shoutrrr. One sender covers
// multiple service URLs (smtp, twilio, slack and friends), which is how
// email/SMS/chat channels reach their transports.
type ShoutrrrProvider struct {
	name     string
	enabled  bool
	urls     []string
	channels map[string]bool
	sender   *router.ServiceRouter
	timeout  time.Duration
}

// NewShoutrrrProvider creates a shoutrrr-backed provider serving the given
// channels.
func NewShoutrrrProvider(name string, enabled bool, urls, channels []string, timeout time.Duration) *ShoutrrrProvider {
	sp := &ShoutrrrProvider{
		name:     strings.TrimSpace(name),
		enabled:  enabled,
		urls:     slices.Clone(urls),
		channels: map[string]bool{},
		timeout:  timeout,
	}
	if sp.name == "" {
		sp.name = "shoutrrr"
	}
	if len(channels) == 0 {
		sp.channels[ChannelEmail] = true
		sp.channels[ChannelSMS] = true
		sp.channels[ChannelChat] = true
	} else {
		for _, ch := range channels {
			sp.channels[ch] = true
		}
	}
	return sp
}

func (s *ShoutrrrProvider) GetName() string { return s.name }

func (s *ShoutrrrProvider) IsEnabled() bool { return s.enabled }

func (s *ShoutrrrProvider) SupportsChannel(channel string) bool { return s.channels[channel] }

// ValidateConfig builds the sender, validating the configured URLs.
func (s *ShoutrrrProvider) ValidateConfig() error {
	if !s.enabled {
		return nil
	}
	if len(s.urls) == 0 {
		return fmt.Errorf("at least one URL is required")
	}
	sender, err := shoutrrr.CreateSender(s.urls...)
	if err != nil {
		return fmt.Errorf("invalid shoutrrr configuration: %w", err)
	}
	s.sender = sender
	if s.timeout > 0 {
		s.sender.Timeout = s.timeout
	}
	s.sender.SetLogger(log.New(io.Discard, "", 0))
	return nil
}

// Send pushes the message through every configured URL. Recipient addressing
// lives in the URLs themselves (smtp ToAddresses, twilio numbers); recipients
// are surfaced as params for templates that use them.
func (s *ShoutrrrProvider) Send(_ context.Context, msg *Message, recipients []datastore.User) error {
	if s.sender == nil {
		return fmt.Errorf("shoutrrr sender not initialized")
	}

	params := stypes.Params{}
	if msg.Title != "" {
		params.SetTitle(msg.Title)
	}
	if len(recipients) > 0 {
		names := make([]string, 0, len(recipients))
		for i := range recipients {
			names = append(names, recipients[i].Name)
		}
		params["recipients"] = strings.Join(names, ", ")
	}

	errs := s.sender.Send(msg.Body, &params)
	for _, err := range errs {
		if err != nil {
			return fmt.Errorf("shoutrrr send failed: %w", err)
		}
	}
	return nil
}
