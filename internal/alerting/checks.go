package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/careflock/careflock-go/internal/conf"
	"github.com/careflock/careflock-go/internal/datastore"
	"github.com/careflock/careflock-go/internal/scoring"
)

const (
	churnCandidateLimit   = 25
	lifecycleLookback     = 24 * time.Hour
	forecastWarnDropRatio = 0.10
	forecastHorizonWeeks  = 4
)

// RegisterDefaultChecks wires the built-in detection rules into the engine.
// Each rule queries the store itself; the engine owns gating and creation.
func RegisterDefaultChecks(e *Engine, store datastore.Interface, settings *conf.Settings) {
	// Checks read the clock through the engine so SetClock stays effective
	// after registration.
	clock := func() time.Time { return e.now() }
	e.Register(TypeCriticalItem, criticalItemCheck(store))
	e.Register(TypeChurnRisk, churnRiskCheck(store))
	e.Register(TypeAttendanceAnomaly, attendanceAnomalyCheck(store, settings))
	e.Register(TypeLifecycleChange, lifecycleChangeCheck(store, clock))
	e.Register(TypeClusterHealth, clusterHealthCheck(store))
	e.Register(TypeHouseholdDisengagement, householdDisengagementCheck(store))
	e.Register(TypeVisitorFollowup, visitorFollowupCheck(store, settings, clock))
	e.Register(TypeForecastWarning, forecastWarningCheck(store, settings))
}

func criticalItemCheck(store datastore.Interface) CheckFunc {
	return func(_ context.Context, branchID uint) ([]Candidate, error) {
		requests, err := store.OpenCareRequests(branchID, "crisis")
		if err != nil {
			return nil, err
		}
		candidates := make([]Candidate, 0, len(requests))
		for i := range requests {
			r := &requests[i]
			candidates = append(candidates, Candidate{
				EntityKind: datastore.KindMember,
				EntityID:   r.MemberID,
				Title:      "Crisis care request open",
				Message:    fmt.Sprintf("Open crisis-level care request (%s): %s", r.Category, r.Summary),
				Severity:   SeverityCritical,
				Payload: map[string]any{
					"care_request_id": r.ID,
					"category":        r.Category,
					"opened_at":       r.CreatedAt,
				},
			})
		}
		return candidates, nil
	}
}

func churnRiskCheck(store datastore.Interface) CheckFunc {
	return func(_ context.Context, branchID uint) ([]Candidate, error) {
		members, err := store.TopMembersByChurn(branchID, churnCandidateLimit)
		if err != nil {
			return nil, err
		}
		candidates := make([]Candidate, 0, len(members))
		for i := range members {
			m := &members[i]
			candidates = append(candidates, Candidate{
				EntityKind:  datastore.KindMember,
				EntityID:    m.ID,
				Title:       fmt.Sprintf("%s is at risk of churning", m.Name),
				Message:     fmt.Sprintf("Churn score %.0f (%s risk)", m.ChurnScore, m.ChurnRiskLevel),
				Score:       m.ChurnScore,
				Thresholded: true,
				Payload: map[string]any{
					"churn_score": m.ChurnScore,
					"risk_level":  m.ChurnRiskLevel,
				},
			})
		}
		return candidates, nil
	}
}

func attendanceAnomalyCheck(store datastore.Interface, settings *conf.Settings) CheckFunc {
	return func(_ context.Context, branchID uint) ([]Candidate, error) {
		stats, err := store.WeeklyAttendance(branchID, settings.Insights.Attendance.LookbackWeeks)
		if err != nil {
			return nil, err
		}
		values := make([]float64, len(stats))
		for i := range stats {
			values[i] = float64(stats[i].Total)
		}
		anomaly, err := scoring.DetectAnomaly(values)
		if err != nil {
			// Not enough history yet; nothing to detect.
			return nil, nil
		}
		if !anomaly.IsAnomaly {
			return nil, nil
		}
		return []Candidate{{
			Title: "Attendance dropped sharply",
			Message: fmt.Sprintf("Latest week %d vs trailing mean %.0f (%.0f%% drop)",
				int(anomaly.Latest), anomaly.Mean, anomaly.PercentDrop),
			Score:       anomaly.PercentDrop,
			Thresholded: true,
			Payload: map[string]any{
				"latest":       anomaly.Latest,
				"mean":         anomaly.Mean,
				"z_score":      anomaly.ZScore,
				"percent_drop": anomaly.PercentDrop,
			},
		}}, nil
	}
}

// lifecycleChangeCheck candidates members whose stage worsened into
// declining/lapsed within the lookback. Members sitting in those stages
// without a fresh transition are excluded.
func lifecycleChangeCheck(store datastore.Interface, now func() time.Time) CheckFunc {
	stages := []string{scoring.StageDeclining, scoring.StageLapsed}
	return func(_ context.Context, branchID uint) ([]Candidate, error) {
		since := now().Add(-lifecycleLookback)
		members, err := store.MembersInStages(branchID, stages, since)
		if err != nil {
			return nil, err
		}
		candidates := make([]Candidate, 0, len(members))
		for i := range members {
			m := &members[i]
			candidates = append(candidates, Candidate{
				EntityKind: datastore.KindMember,
				EntityID:   m.ID,
				Title:      fmt.Sprintf("%s moved to %s", m.Name, m.LifecycleStage),
				Message:    fmt.Sprintf("Lifecycle stage is now %q", m.LifecycleStage),
				Payload: map[string]any{
					"lifecycle_stage": m.LifecycleStage,
				},
			})
		}
		return candidates, nil
	}
}

func clusterHealthCheck(store datastore.Interface) CheckFunc {
	levels := []string{scoring.HealthStruggling, scoring.HealthCritical}
	return func(_ context.Context, branchID uint) ([]Candidate, error) {
		clusters, err := store.ClustersInLevels(branchID, levels)
		if err != nil {
			return nil, err
		}
		candidates := make([]Candidate, 0, len(clusters))
		for i := range clusters {
			c := &clusters[i]
			severity := Severity("")
			if c.HealthLevel == scoring.HealthCritical {
				severity = SeverityCritical
			}
			candidates = append(candidates, Candidate{
				EntityKind:  datastore.KindCluster,
				EntityID:    c.ID,
				Title:       fmt.Sprintf("Cluster %s is %s", c.Name, c.HealthLevel),
				Message:     fmt.Sprintf("Health score %.0f, %d members", c.HealthScore, c.MemberCount),
				Score:       100 - c.HealthScore, // risk orientation
				Thresholded: true,
				Severity:    severity,
				Payload: map[string]any{
					"health_score": c.HealthScore,
					"health_level": c.HealthLevel,
					"member_count": c.MemberCount,
				},
			})
		}
		return candidates, nil
	}
}

func householdDisengagementCheck(store datastore.Interface) CheckFunc {
	levels := []string{scoring.EngagementCooling, scoring.EngagementDisengaged}
	return func(_ context.Context, branchID uint) ([]Candidate, error) {
		households, err := store.HouseholdsInLevels(branchID, levels)
		if err != nil {
			return nil, err
		}
		candidates := make([]Candidate, 0, len(households))
		for i := range households {
			h := &households[i]
			candidates = append(candidates, Candidate{
				EntityKind:  datastore.KindHousehold,
				EntityID:    h.ID,
				Title:       fmt.Sprintf("Household %s is %s", h.Name, h.EngagementLevel),
				Message:     fmt.Sprintf("Engagement score %.0f", h.EngagementScore),
				Score:       100 - h.EngagementScore, // risk orientation
				Thresholded: true,
				Payload: map[string]any{
					"engagement_score": h.EngagementScore,
					"engagement_level": h.EngagementLevel,
				},
			})
		}
		return candidates, nil
	}
}

func visitorFollowupCheck(store datastore.Interface, settings *conf.Settings, now func() time.Time) CheckFunc {
	return func(_ context.Context, branchID uint) ([]Candidate, error) {
		followupDays := settings.Insights.Visitors.FollowupDays
		if followupDays <= 0 {
			followupDays = 7
		}
		staleBefore := now().AddDate(0, 0, -followupDays)
		visitors, err := store.VisitorsAwaitingFollowup(branchID, staleBefore)
		if err != nil {
			return nil, err
		}
		candidates := make([]Candidate, 0, len(visitors))
		for i := range visitors {
			v := &visitors[i]
			candidates = append(candidates, Candidate{
				EntityKind: datastore.KindVisitor,
				EntityID:   v.ID,
				Title:      fmt.Sprintf("Visitor %s awaiting follow-up", v.Name),
				Message:    fmt.Sprintf("Last visit %d days ago, no follow-up recorded", int(now().Sub(derefTime(v.LastVisitAt)).Hours()/24)),
				Payload: map[string]any{
					"visit_count":   v.VisitCount,
					"last_visit_at": v.LastVisitAt,
				},
			})
		}
		return candidates, nil
	}
}

func forecastWarningCheck(store datastore.Interface, settings *conf.Settings) CheckFunc {
	return func(_ context.Context, branchID uint) ([]Candidate, error) {
		stats, err := store.WeeklyAttendance(branchID, settings.Insights.Attendance.LookbackWeeks)
		if err != nil {
			return nil, err
		}
		values := make([]float64, len(stats))
		var sum float64
		for i := range stats {
			values[i] = float64(stats[i].Total)
			sum += values[i]
		}
		points, slope, err := scoring.LinearForecast(values, forecastHorizonWeeks)
		if err != nil || slope >= 0 {
			return nil, nil
		}
		mean := sum / float64(len(values))
		projected := points[len(points)-1].Value
		if mean <= 0 || (mean-projected)/mean < forecastWarnDropRatio {
			return nil, nil
		}
		return []Candidate{{
			Title: "Attendance trending down",
			Message: fmt.Sprintf("Projected weekly attendance %.0f in %d weeks vs current mean %.0f",
				projected, forecastHorizonWeeks, mean),
			Payload: map[string]any{
				"slope":     slope,
				"projected": projected,
				"mean":      mean,
				"horizon":   forecastHorizonWeeks,
			},
		}}, nil
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
