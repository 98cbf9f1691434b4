package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/careflock/careflock-go/internal/conf"
	"github.com/careflock/careflock-go/internal/datastore"
	"github.com/careflock/careflock-go/internal/errors"
)

// Engine walks the registered checks for a branch and turns passing
// candidates into alert records, one trigger per (branch, type) per cooldown
// window. The cooldown is deliberately type-scoped, not subject-scoped: once
// one churn candidate fires for a branch, further churn candidates are
// suppressed until the window elapses, which rate-limits alert storms.
type Engine struct {
	store    datastore.Interface
	settings *conf.Settings
	checks   map[Type]CheckFunc
	order    []Type
	cache    *gocache.Cache
	log      *slog.Logger
	now      func() time.Time
}

// NewEngine creates an alert engine with an empty check registry.
func NewEngine(store datastore.Interface, settings *conf.Settings, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	ttl := time.Duration(settings.Alerts.SettingsCacheSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Engine{
		store:    store,
		settings: settings,
		checks:   make(map[Type]CheckFunc),
		cache:    gocache.New(ttl, 2*ttl),
		log:      log.With("service", "alerting"),
		now:      time.Now,
	}
}

// SetClock overrides the engine's clock. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Register adds a check for an alert type. Registration order is evaluation
// order; registering a type twice replaces its check.
func (e *Engine) Register(t Type, fn CheckFunc) {
	if _, exists := e.checks[t]; !exists {
		e.order = append(e.order, t)
	}
	e.checks[t] = fn
}

// RegisteredTypes returns the types with a registered check, in order.
func (e *Engine) RegisteredTypes() []Type {
	out := make([]Type, len(e.order))
	copy(out, e.order)
	return out
}

// ProcessAll evaluates every registered alert type for the branch in one pass
// and returns the newly created alerts. A failure in one type's evaluation is
// logged and does not block the others.
func (e *Engine) ProcessAll(ctx context.Context, branchID uint) ([]datastore.Alert, error) {
	if !e.settings.Alerts.Enabled {
		e.log.Info("alert engine disabled, skipping", "branch_id", branchID)
		return nil, nil
	}

	var created []datastore.Alert
	for _, t := range e.order {
		alerts, err := e.Check(ctx, branchID, t)
		if err != nil {
			e.log.Error("alert check failed",
				"branch_id", branchID,
				"alert_type", string(t),
				"error", err)
			continue
		}
		created = append(created, alerts...)
	}
	return created, nil
}

// Check evaluates a single alert type for the branch. At most one alert is
// created per call: the cooldown window opens on the first trigger and
// suppresses the remaining candidates.
func (e *Engine) Check(ctx context.Context, branchID uint, t Type) ([]datastore.Alert, error) {
	fn, ok := e.checks[t]
	if !ok {
		return nil, errors.Newf("no check registered for alert type %q", t).
			Component("alerting").
			Category(errors.CategoryConfiguration).
			Build()
	}

	setting, err := e.Setting(branchID, t)
	if err != nil {
		return nil, err
	}
	if !setting.Enabled {
		e.log.Debug("alert type disabled for branch", "branch_id", branchID, "alert_type", string(t))
		return nil, nil
	}

	now := e.now()
	if !cooldownElapsed(setting, now) {
		e.log.Debug("alert type in cooldown",
			"branch_id", branchID,
			"alert_type", string(t),
			"last_triggered_at", setting.LastTriggeredAt)
		return nil, nil
	}

	candidates, err := fn(ctx, branchID)
	if err != nil {
		return nil, errors.New(err).
			Component("alerting").
			Category(errors.CategoryAlerting).
			Context("branch_id", branchID).
			Context("alert_type", string(t)).
			Build()
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Highest score first so the worst candidate claims the trigger.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	threshold := e.threshold(setting, t)
	for i := range candidates {
		c := &candidates[i]
		if c.Thresholded && !(c.Score > threshold) {
			continue
		}
		return e.trigger(branchID, t, setting, c, now)
	}
	return nil, nil
}

// trigger advances last_triggered_at with a compare-and-set and, on winning
// the race, creates the alert record.
func (e *Engine) trigger(branchID uint, t Type, setting *datastore.AlertSetting, c *Candidate, now time.Time) ([]datastore.Alert, error) {
	won, err := e.store.MarkAlertTriggered(setting.ID, setting.LastTriggeredAt, now)
	if err != nil {
		return nil, err
	}
	if !won {
		// A concurrent evaluation triggered first; its cooldown now applies.
		e.invalidateSetting(branchID, t)
		e.log.Info("lost trigger race, suppressing candidate",
			"branch_id", branchID, "alert_type", string(t))
		return nil, nil
	}
	triggered := now
	setting.LastTriggeredAt = &triggered
	e.cacheSetting(branchID, t, setting)

	severity := SeverityFor(t, *c)
	alert := datastore.Alert{
		ID:         uuid.NewString(),
		BranchID:   branchID,
		Type:       string(t),
		Severity:   string(severity),
		EntityKind: string(c.EntityKind),
		EntityID:   c.EntityID,
		Title:      c.Title,
		Message:    c.Message,
		Payload:    encodePayload(c.Payload),
		Immediate:  RequiresImmediateAttention(severity),
		CreatedAt:  now,
	}
	if err := e.store.InsertAlert(&alert); err != nil {
		return nil, err
	}

	e.log.Info("alert created",
		"branch_id", branchID,
		"alert_type", string(t),
		"severity", string(severity),
		"entity_kind", alert.EntityKind,
		"entity_id", alert.EntityID)
	return []datastore.Alert{alert}, nil
}

// Setting returns the branch's setting row for a type, reading through a
// short-TTL cache and creating the row with defaults on first access.
func (e *Engine) Setting(branchID uint, t Type) (*datastore.AlertSetting, error) {
	key := settingKey(branchID, t)
	if cached, ok := e.cache.Get(key); ok {
		return cached.(*datastore.AlertSetting), nil
	}
	setting, err := e.store.GetOrCreateAlertSetting(branchID, string(t), e.defaultsFor(t))
	if err != nil {
		return nil, errors.New(err).
			Component("alerting").
			Category(errors.CategoryDatabase).
			Context("branch_id", branchID).
			Context("alert_type", string(t)).
			Build()
	}
	e.cacheSetting(branchID, t, setting)
	return setting, nil
}

func (e *Engine) cacheSetting(branchID uint, t Type, setting *datastore.AlertSetting) {
	e.cache.SetDefault(settingKey(branchID, t), setting)
}

func (e *Engine) invalidateSetting(branchID uint, t Type) {
	e.cache.Delete(settingKey(branchID, t))
}

func settingKey(branchID uint, t Type) string {
	return fmt.Sprintf("%d|%s", branchID, t)
}

// defaultsFor builds the first-access defaults of a type from configuration.
func (e *Engine) defaultsFor(t Type) datastore.AlertSettingDefaults {
	defaults := datastore.AlertSettingDefaults{
		Enabled:        true,
		CooldownHours:  e.settings.Alerts.DefaultCooldownHours,
		Channels:       []string{"in-app", "email"},
		RecipientRoles: e.settings.Notify.DefaultRoles,
	}
	switch t {
	case TypeChurnRisk:
		threshold := e.settings.Insights.Churn.Threshold
		defaults.Threshold = &threshold
	case TypeAttendanceAnomaly:
		threshold := e.settings.Insights.Attendance.AnomalyThreshold
		defaults.Threshold = &threshold
	case TypeClusterHealth:
		threshold := 50.0 // risk score, i.e. 100 - health score
		defaults.Threshold = &threshold
	case TypeHouseholdDisengagement:
		threshold := 55.0
		defaults.Threshold = &threshold
	case TypeCriticalItem:
		defaults.CooldownHours = 1 // crisis items must not sit behind a day-long window
	}
	return defaults
}

// threshold resolves the effective threshold: the tenant's configured value,
// or the type default when unset.
func (e *Engine) threshold(setting *datastore.AlertSetting, t Type) float64 {
	if setting.Threshold != nil {
		return *setting.Threshold
	}
	if d := e.defaultsFor(t); d.Threshold != nil {
		return *d.Threshold
	}
	return 0
}

// cooldownElapsed reports whether the type may trigger again. The window is
// measured from last_triggered_at, never from individual alert timestamps.
func cooldownElapsed(setting *datastore.AlertSetting, now time.Time) bool {
	if setting.LastTriggeredAt == nil {
		return true
	}
	cooldown := time.Duration(setting.CooldownHours) * time.Hour
	return now.Sub(*setting.LastTriggeredAt) >= cooldown
}

func encodePayload(payload map[string]any) string {
	if len(payload) == 0 {
		return "{}"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(data)
}
