package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/careflock/careflock-go/internal/alerting"
	"github.com/careflock/careflock-go/internal/conf"
	"github.com/careflock/careflock-go/internal/datastore"
	"github.com/careflock/careflock-go/internal/observability"
)

// SettingsFunc resolves the alert setting governing a type's recipients and
// channels. Wired to the alert engine's cached settings lookup.
type SettingsFunc func(branchID uint, alertType alerting.Type) (*datastore.AlertSetting, error)

// Summary counts the outcome of a dispatch pass.
type Summary struct {
	Dispatched int // provider sends that succeeded
	Skipped    int // alerts skipped (no recipients, rate limit, no provider)
	Failures   int // provider sends that failed
}

// Dispatcher fans alerts out to recipients. Notification delivery is
// best-effort: failures are logged and never escalate to fail the run that
// created the alerts.
type Dispatcher struct {
	store       datastore.Interface
	providers   []Provider
	limiter     *RateLimiter
	settingsFor SettingsFunc

	defaultRoles   []string
	digestRoles    []string
	digestChannels []string

	metrics *observability.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// NewDispatcher creates a dispatcher over the given providers.
func NewDispatcher(store datastore.Interface, settings *conf.Settings, settingsFor SettingsFunc, log *slog.Logger, providers ...Provider) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store:          store,
		providers:      providers,
		limiter:        NewRateLimiter(settings.Notify.RateLimitPerMinute, settings.Notify.RateLimitBurst),
		settingsFor:    settingsFor,
		defaultRoles:   settings.Notify.DefaultRoles,
		digestRoles:    settings.Alerts.DigestRoles,
		digestChannels: settings.Alerts.DigestChannels,
		log:            log.With("service", "notify"),
		now:            time.Now,
	}
}

// SetClock overrides the dispatcher's clock. Intended for tests.
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// SetMetrics attaches the per-provider send counters. Nil metrics disables
// counting, which is the test default.
func (d *Dispatcher) SetMetrics(m *observability.Metrics) { d.metrics = m }

func (d *Dispatcher) countSend(provider, result string) {
	if d.metrics != nil {
		d.metrics.NotificationsSent.WithLabelValues(provider, result).Inc()
	}
}

// DispatchImmediate sends one notification per immediate-attention alert to
// the type's recipient set. Non-immediate alerts are left for the digest.
func (d *Dispatcher) DispatchImmediate(ctx context.Context, branchID uint, alerts []datastore.Alert) Summary {
	summary := Summary{}
	for i := range alerts {
		alert := &alerts[i]
		if !alert.Immediate {
			summary.Skipped++
			continue
		}
		d.dispatchOne(ctx, branchID, alert, &summary)
	}
	return summary
}

func (d *Dispatcher) dispatchOne(ctx context.Context, branchID uint, alert *datastore.Alert, summary *Summary) {
	roles := d.defaultRoles
	channels := []string{ChannelInApp, ChannelEmail}
	if d.settingsFor != nil {
		setting, err := d.settingsFor(branchID, alerting.Type(alert.Type))
		if err != nil {
			d.log.Warn("failed to resolve alert setting, using default recipients",
				"branch_id", branchID, "alert_type", alert.Type, "error", err)
		} else {
			if r := datastore.SplitList(setting.RecipientRoles); len(r) > 0 {
				roles = r
			}
			if c := datastore.SplitList(setting.Channels); len(c) > 0 {
				channels = c
			}
		}
	}

	recipients, err := d.store.UsersWithRoles(branchID, roles)
	if err != nil {
		d.log.Error("recipient resolution failed",
			"branch_id", branchID, "alert_id", alert.ID, "error", err)
		summary.Failures++
		return
	}
	if len(recipients) == 0 {
		d.log.Warn("no recipients for alert, skipping",
			"branch_id", branchID, "alert_type", alert.Type, "roles", roles)
		summary.Skipped++
		return
	}

	msg := &Message{
		ID:       uuid.NewString(),
		BranchID: branchID,
		Title:    alert.Title,
		Body:     alert.Message,
		Severity: alert.Severity,
		Channels: channels,
		Metadata: map[string]any{
			"alert_id":   alert.ID,
			"alert_type": alert.Type,
		},
		CreatedAt: d.now(),
	}
	d.fanOut(ctx, msg, recipients, summary)
}

// fanOut pushes one message through every enabled provider serving its
// channels. Per-provider failures are isolated.
func (d *Dispatcher) fanOut(ctx context.Context, msg *Message, recipients []datastore.User, summary *Summary) {
	sent := false
	for _, p := range d.providers {
		if !p.IsEnabled() || !supportsAny(p, msg.Channels) {
			continue
		}
		if !d.limiter.Allow() {
			d.log.Warn("notification rate limit reached, dropping send",
				"provider", p.GetName(), "branch_id", msg.BranchID)
			d.countSend(p.GetName(), "dropped")
			summary.Skipped++
			continue
		}
		if err := p.Send(ctx, msg, recipients); err != nil {
			d.log.Error("notification send failed",
				"provider", p.GetName(), "branch_id", msg.BranchID, "error", err)
			d.countSend(p.GetName(), "error")
			summary.Failures++
			continue
		}
		d.countSend(p.GetName(), "success")
		summary.Dispatched++
		sent = true
	}
	if !sent && summary.Failures == 0 {
		d.log.Debug("no provider matched message channels",
			"branch_id", msg.BranchID, "channels", msg.Channels)
	}
}

// SendDigest batches the branch's alerts from the lookback window into a
// single notification per recipient set, ordered severity-desc then
// recency-desc. Zero alerts or zero recipients is a logged no-op.
func (d *Dispatcher) SendDigest(ctx context.Context, branchID uint, hoursBack int) (int, error) {
	if hoursBack <= 0 {
		hoursBack = 24
	}
	since := d.now().Add(-time.Duration(hoursBack) * time.Hour)

	alerts, err := d.store.AlertsSince(branchID, since)
	if err != nil {
		return 0, fmt.Errorf("querying alerts for digest: %w", err)
	}
	if len(alerts) == 0 {
		d.log.Info("no alerts in digest window, skipping",
			"branch_id", branchID, "hours_back", hoursBack)
		return 0, nil
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		ri := alerting.Severity(alerts[i].Severity).Rank()
		rj := alerting.Severity(alerts[j].Severity).Rank()
		if ri != rj {
			return ri > rj
		}
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})

	recipients, err := d.store.UsersWithRoles(branchID, d.digestRoles)
	if err != nil {
		return 0, fmt.Errorf("resolving digest recipients: %w", err)
	}
	if len(recipients) == 0 {
		d.log.Warn("no digest recipients, skipping",
			"branch_id", branchID, "roles", d.digestRoles)
		return 0, nil
	}

	msg := &Message{
		ID:        uuid.NewString(),
		BranchID:  branchID,
		Title:     fmt.Sprintf("Alert digest: %d alerts in the last %dh", len(alerts), hoursBack),
		Body:      formatDigestBody(alerts),
		Severity:  alerts[0].Severity, // worst first after sorting
		Channels:  d.digestChannels,
		Metadata:  map[string]any{"alert_count": len(alerts)},
		CreatedAt: d.now(),
	}

	summary := Summary{}
	d.fanOut(ctx, msg, recipients, &summary)
	return summary.Dispatched, nil
}

func formatDigestBody(alerts []datastore.Alert) string {
	var b strings.Builder
	for i := range alerts {
		a := &alerts[i]
		fmt.Fprintf(&b, "[%s] %s - %s (%s)\n",
			strings.ToUpper(a.Severity), a.Title, a.Message, a.CreatedAt.Format("Jan 2 15:04"))
	}
	return b.String()
}
