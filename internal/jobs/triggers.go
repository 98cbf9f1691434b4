package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/careflock/careflock-go/internal/alerting"
	"github.com/careflock/careflock-go/internal/batch"
	"github.com/careflock/careflock-go/internal/datastore"
	"github.com/careflock/careflock-go/internal/errors"
	"github.com/careflock/careflock-go/internal/scoring"
)

// RunChurnScoring recomputes churn scores for every member of the branch.
func (s *Service) RunChurnScoring(ctx context.Context, branchID uint, chunkSize int) (Result, error) {
	return s.run(ctx, "churn-scoring", s.settings.Insights.Churn.Enabled, func(ctx context.Context) (Result, error) {
		pass := batch.Pass{
			Kind:  datastore.KindMember,
			Score: scoring.ChurnScorer(s.now),
			Scale: scoring.ChurnRiskScale,
			PreviousState: func(e datastore.Scoreable) string {
				return e.(*datastore.Member).ChurnRiskLevel
			},
			Project: func(r scoring.Result, now time.Time) map[string]any {
				return map[string]any{
					"churn_score":         r.Score,
					"churn_risk_level":    r.State,
					"churn_calculated_at": now,
				}
			},
		}
		summary, err := s.runner.Run(ctx, branchID, pass, chunkSize)
		s.observeSummary(datastore.KindMember, summary)
		return Result{Summary: summary}, err
	})
}

// RunLifecycleDetection reclassifies member lifecycle stages and, when
// notifyOnTransition is set, evaluates and dispatches lifecycle-change alerts.
func (s *Service) RunLifecycleDetection(ctx context.Context, branchID uint, chunkSize int, notifyOnTransition bool) (Result, error) {
	return s.run(ctx, "lifecycle-detection", s.settings.Insights.Lifecycle.Enabled, func(ctx context.Context) (Result, error) {
		pass := batch.Pass{
			Kind:  datastore.KindMember,
			Score: scoring.LifecycleScorer(s.now),
			Scale: scoring.LifecycleScale,
			Project: func(r scoring.Result, now time.Time) map[string]any {
				fields := map[string]any{
					"lifecycle_stage":         r.State,
					"lifecycle_calculated_at": now,
				}
				// Only a worsening marks the member as freshly transitioned;
				// an unchanged lapsed member must not re-candidate every run.
				if r.IsConcerning {
					fields["lifecycle_transitioned_at"] = now
				}
				return fields
			},
		}
		summary, err := s.runner.Run(ctx, branchID, pass, chunkSize)
		s.observeSummary(datastore.KindMember, summary)
		result := Result{Summary: summary}
		if err != nil {
			return result, err
		}
		if notifyOnTransition {
			s.checkAndDispatch(ctx, branchID, alerting.TypeLifecycleChange, &result)
		}
		return result, nil
	})
}

// RunClusterHealth rescores cluster health and, when notifyOnStruggling is
// set, evaluates and dispatches cluster-health alerts.
func (s *Service) RunClusterHealth(ctx context.Context, branchID uint, chunkSize int, notifyOnStruggling bool) (Result, error) {
	return s.run(ctx, "cluster-health", s.settings.Insights.Clusters.Enabled, func(ctx context.Context) (Result, error) {
		pass := batch.Pass{
			Kind:  datastore.KindCluster,
			Score: scoring.ClusterHealthScorer(s.now),
			Scale: scoring.ClusterHealthScale,
			Project: func(r scoring.Result, now time.Time) map[string]any {
				return map[string]any{
					"health_score":         r.Score,
					"health_level":         r.State,
					"health_calculated_at": now,
				}
			},
		}
		summary, err := s.runner.Run(ctx, branchID, pass, chunkSize)
		s.observeSummary(datastore.KindCluster, summary)
		result := Result{Summary: summary}
		if err != nil {
			return result, err
		}
		if notifyOnStruggling {
			s.checkAndDispatch(ctx, branchID, alerting.TypeClusterHealth, &result)
		}
		return result, nil
	})
}

// RunHouseholdEngagement rescores household engagement.
func (s *Service) RunHouseholdEngagement(ctx context.Context, branchID uint, chunkSize int) (Result, error) {
	return s.run(ctx, "household-engagement", s.settings.Insights.Households.Enabled, func(ctx context.Context) (Result, error) {
		pass := batch.Pass{
			Kind:  datastore.KindHousehold,
			Score: scoring.HouseholdEngagementScorer(s.now),
			Scale: scoring.HouseholdEngagementScale,
			Project: func(r scoring.Result, now time.Time) map[string]any {
				return map[string]any{
					"engagement_score":         r.Score,
					"engagement_level":         r.State,
					"engagement_calculated_at": now,
				}
			},
		}
		summary, err := s.runner.Run(ctx, branchID, pass, chunkSize)
		s.observeSummary(datastore.KindHousehold, summary)
		return Result{Summary: summary}, err
	})
}

// RunVisitorConversion rescores visitor conversion likelihood and funnel stage.
func (s *Service) RunVisitorConversion(ctx context.Context, branchID uint, chunkSize int) (Result, error) {
	return s.run(ctx, "visitor-conversion", s.settings.Insights.Visitors.Enabled, func(ctx context.Context) (Result, error) {
		pass := batch.Pass{
			Kind:  datastore.KindVisitor,
			Score: scoring.VisitorConversionScorer(s.now, s.settings.Insights.Visitors.FollowupDays),
			Scale: scoring.VisitorFunnelScale,
			Project: func(r scoring.Result, now time.Time) map[string]any {
				return map[string]any{
					"conversion_score":         r.Score,
					"funnel_stage":             r.State,
					"conversion_calculated_at": now,
				}
			},
		}
		summary, err := s.runner.Run(ctx, branchID, pass, chunkSize)
		s.observeSummary(datastore.KindVisitor, summary)
		return Result{Summary: summary}, err
	})
}

// RunAttendanceAnomaly evaluates the attendance-anomaly rule for the branch
// and dispatches any resulting alert immediately.
func (s *Service) RunAttendanceAnomaly(ctx context.Context, branchID uint) (Result, error) {
	return s.run(ctx, "attendance-anomaly", s.settings.Insights.Attendance.Enabled, func(ctx context.Context) (Result, error) {
		result := Result{}
		s.checkAndDispatch(ctx, branchID, alerting.TypeAttendanceAnomaly, &result)
		return result, nil
	})
}

// RunAttendanceForecast projects weekly attendance weeksAhead weeks forward
// and stores the forecast series.
func (s *Service) RunAttendanceForecast(ctx context.Context, branchID uint, weeksAhead int) (Result, error) {
	return s.run(ctx, "attendance-forecast", s.settings.Insights.Forecasts.Enabled, func(ctx context.Context) (Result, error) {
		stats, err := s.store.WeeklyAttendance(branchID, s.settings.Insights.Attendance.LookbackWeeks)
		if err != nil {
			return Result{}, infraError(err, branchID, "attendance-forecast")
		}
		history := make([]float64, len(stats))
		for i := range stats {
			history[i] = float64(stats[i].Total)
		}
		return s.storeForecast(branchID, "attendance", history, weeksAhead)
	})
}

// RunFinancialForecast projects monthly giving periodsAhead months forward.
// forecastType selects the fund; empty or "giving" covers all funds.
func (s *Service) RunFinancialForecast(ctx context.Context, branchID uint, forecastType string, periodsAhead int) (Result, error) {
	return s.run(ctx, "financial-forecast", s.settings.Insights.Forecasts.Enabled, func(ctx context.Context) (Result, error) {
		fund := forecastType
		if fund == "" || fund == "giving" {
			fund = ""
			forecastType = "giving"
		}
		totals, err := s.store.MonthlyGiving(branchID, fund, 12)
		if err != nil {
			return Result{}, infraError(err, branchID, "financial-forecast")
		}
		history := make([]float64, len(totals))
		for i := range totals {
			history[i] = totals[i].Total
		}
		return s.storeForecast(branchID, forecastType, history, periodsAhead)
	})
}

// ProcessAlerts evaluates alert rules for the branch: every registered type
// when alertType is empty, else the single named type. With sendNotifications
// set, newly created alerts go through the immediate dispatch path.
func (s *Service) ProcessAlerts(ctx context.Context, branchID uint, alertType string, sendNotifications bool) (Result, error) {
	if alertType != "" && !alerting.ValidType(alerting.Type(alertType)) {
		return Result{Capability: "process-alerts"}, errors.Newf("unknown alert type %q", alertType).
			Component("jobs").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return s.run(ctx, "process-alerts", s.settings.Alerts.Enabled, func(ctx context.Context) (Result, error) {
		var alerts []datastore.Alert
		var err error
		if alertType == "" {
			alerts, err = s.engine.ProcessAll(ctx, branchID)
		} else {
			alerts, err = s.engine.Check(ctx, branchID, alerting.Type(alertType))
		}
		if err != nil {
			return Result{}, err
		}
		s.countAlerts(alerts)

		result := Result{AlertsCreated: len(alerts)}
		if sendNotifications && len(alerts) > 0 {
			summary := s.dispatcher.DispatchImmediate(ctx, branchID, alerts)
			result.NotificationsSent = summary.Dispatched
		}
		return result, nil
	})
}

// SendAlertDigest batches the branch's recent alerts into one digest
// notification per recipient set.
func (s *Service) SendAlertDigest(ctx context.Context, branchID uint, hoursBack int) (Result, error) {
	return s.run(ctx, "alert-digest", s.settings.Alerts.Enabled && s.settings.Notify.Enabled, func(ctx context.Context) (Result, error) {
		sent, err := s.dispatcher.SendDigest(ctx, branchID, hoursBack)
		if err != nil {
			return Result{}, infraError(err, branchID, "alert-digest")
		}
		return Result{NotificationsSent: sent}, nil
	})
}

// checkAndDispatch evaluates one alert type and pushes the outcome through
// the immediate path. Check failures are logged, never escalated: alert
// evaluation attached to a scoring job must not fail the scoring run.
func (s *Service) checkAndDispatch(ctx context.Context, branchID uint, t alerting.Type, result *Result) {
	alerts, err := s.engine.Check(ctx, branchID, t)
	if err != nil {
		s.log.Error("alert check failed", "branch_id", branchID, "alert_type", string(t), "error", err)
		return
	}
	s.countAlerts(alerts)
	result.AlertsCreated += len(alerts)
	if len(alerts) > 0 && s.settings.Notify.Enabled {
		summary := s.dispatcher.DispatchImmediate(ctx, branchID, alerts)
		result.NotificationsSent += summary.Dispatched
	}
}

func (s *Service) storeForecast(branchID uint, kind string, history []float64, periodsAhead int) (Result, error) {
	points, slope, err := scoring.LinearForecast(history, periodsAhead)
	if err != nil {
		// Thin history is a configuration-level condition, not a failure.
		s.log.Warn("not enough history to forecast", "branch_id", branchID, "kind", kind, "error", err)
		return Result{}, nil
	}

	payload, err := json.Marshal(map[string]any{"points": points, "slope": slope})
	if err != nil {
		return Result{}, err
	}
	forecast := datastore.Forecast{
		BranchID:    branchID,
		Kind:        kind,
		Horizon:     len(points),
		Payload:     string(payload),
		GeneratedAt: s.now(),
	}
	if err := s.store.InsertForecast(&forecast); err != nil {
		return Result{}, infraError(err, branchID, "forecast")
	}
	return Result{Summary: batch.Summary{Processed: len(history)}}, nil
}

func infraError(err error, branchID uint, operation string) error {
	return errors.New(err).
		Component("jobs").
		Category(errors.CategoryDatabase).
		Context("branch_id", branchID).
		Context("operation", operation).
		Build()
}
