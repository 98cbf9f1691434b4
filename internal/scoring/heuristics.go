package scoring

import (
	"context"
	"math"
	"time"

	"github.com/careflock/careflock-go/internal/datastore"
	"github.com/careflock/careflock-go/internal/errors"
)

// The reference scorers below are deliberately simple heuristics. They exist
// so the engine is runnable end to end; deployments replace them with their
// own Func implementations.

const (
	churnAttendanceWindowDays = 120
	churnGivingWindowDays     = 180
	lapsedAfterDays           = 90
	decliningAfterDays        = 45
	newMemberDays             = 90
	coreTenureYears           = 2
)

func wrongKindError(want string, entity datastore.Scoreable) error {
	return errors.Newf("scorer expects %s, got %T", want, entity).
		Component("scoring").
		Category(errors.CategoryValidation).
		Build()
}

func daysSince(now time.Time, t *time.Time, fallback float64) float64 {
	if t == nil {
		return fallback
	}
	return now.Sub(*t).Hours() / 24
}

// ChurnScorer returns a Func computing a 0-100 churn risk score for members.
// Higher means more likely to churn.
func ChurnScorer(now func() time.Time) Func {
	return func(_ context.Context, entity datastore.Scoreable) (Result, error) {
		member, ok := entity.(*datastore.Member)
		if !ok {
			return Result{}, wrongKindError("member", entity)
		}
		t := now()

		attendanceDays := daysSince(t, member.LastAttendanceAt, churnAttendanceWindowDays)
		attendanceRecency := math.Min(attendanceDays, churnAttendanceWindowDays) / churnAttendanceWindowDays * 50

		attendanceRate := math.Max(0, math.Min(1, member.AttendanceRate30d))
		rateFactor := (1 - attendanceRate) * 30

		givingDays := daysSince(t, member.LastGivingAt, churnGivingWindowDays)
		givingRecency := math.Min(givingDays, churnGivingWindowDays) / churnGivingWindowDays * 20

		score := attendanceRecency + rateFactor + givingRecency

		var level string
		switch {
		case score >= 85:
			level = RiskCritical
		case score >= 70:
			level = RiskHigh
		case score >= 40:
			level = RiskModerate
		default:
			level = RiskLow
		}

		return Result{
			Score: score,
			State: level,
			Factors: map[string]float64{
				"attendance_recency": attendanceRecency,
				"attendance_rate":    rateFactor,
				"giving_recency":     givingRecency,
			},
			NeedsAttention: score >= 70,
		}, nil
	}
}

// LifecycleScorer returns a Func classifying members into lifecycle stages.
func LifecycleScorer(now func() time.Time) Func {
	return func(_ context.Context, entity datastore.Scoreable) (Result, error) {
		member, ok := entity.(*datastore.Member)
		if !ok {
			return Result{}, wrongKindError("member", entity)
		}
		t := now()

		attendanceDays := daysSince(t, member.LastAttendanceAt, math.Inf(1))
		tenureDays := daysSince(t, member.JoinedAt, 0)
		rate := math.Max(0, math.Min(1, member.AttendanceRate30d))

		var stage string
		switch {
		case attendanceDays > lapsedAfterDays:
			stage = StageLapsed
		case rate < 0.2 || attendanceDays > decliningAfterDays:
			stage = StageDeclining
		case tenureDays < newMemberDays:
			stage = StageNew
		case rate >= 0.75 && tenureDays > coreTenureYears*365:
			stage = StageCore
		case rate >= 0.5:
			stage = StageEngaged
		default:
			stage = StageActive
		}

		return Result{
			Score: rate * 100,
			State: stage,
			Factors: map[string]float64{
				"attendance_rate":       rate,
				"days_since_attendance": math.Min(attendanceDays, 365),
				"tenure_days":           tenureDays,
			},
			NeedsAttention: stage == StageDeclining || stage == StageLapsed,
		}, nil
	}
}

// ClusterHealthScorer returns a Func computing a 0-100 health score for
// clusters. Higher means healthier.
func ClusterHealthScorer(now func() time.Time) Func {
	return func(_ context.Context, entity datastore.Scoreable) (Result, error) {
		cluster, ok := entity.(*datastore.Cluster)
		if !ok {
			return Result{}, wrongKindError("cluster", entity)
		}
		t := now()

		rate := math.Max(0, math.Min(1, cluster.AvgAttendanceRate))
		attendance := rate * 60

		meetingDays := daysSince(t, cluster.LastMeetingAt, 60)
		recency := math.Max(0, 1-math.Min(meetingDays, 60)/60) * 25

		size := math.Min(float64(cluster.MemberCount), 12) / 12 * 15

		score := attendance + recency + size

		var level string
		switch {
		case score >= 75:
			level = HealthHealthy
		case score >= 50:
			level = HealthStable
		case score >= 30:
			level = HealthStruggling
		default:
			level = HealthCritical
		}

		return Result{
			Score: score,
			State: level,
			Factors: map[string]float64{
				"attendance":      attendance,
				"meeting_recency": recency,
				"size":            size,
			},
			NeedsAttention: level == HealthStruggling || level == HealthCritical,
		}, nil
	}
}

// HouseholdEngagementScorer returns a Func computing a 0-100 engagement score
// for households. Higher means more engaged.
func HouseholdEngagementScorer(now func() time.Time) Func {
	return func(_ context.Context, entity datastore.Scoreable) (Result, error) {
		household, ok := entity.(*datastore.Household)
		if !ok {
			return Result{}, wrongKindError("household", entity)
		}
		t := now()

		activityDays := daysSince(t, household.LastActivityAt, 90)
		recency := math.Max(0, 1-math.Min(activityDays, 90)/90) * 70

		size := math.Min(float64(household.MemberCount), 6) / 6 * 30

		score := recency + size

		var level string
		switch {
		case score >= 70:
			level = EngagementEngaged
		case score >= 45:
			level = EngagementActive
		case score >= 25:
			level = EngagementCooling
		default:
			level = EngagementDisengaged
		}

		return Result{
			Score: score,
			State: level,
			Factors: map[string]float64{
				"activity_recency": recency,
				"household_size":   size,
			},
			NeedsAttention: level == EngagementCooling || level == EngagementDisengaged,
		}, nil
	}
}

// VisitorConversionScorer returns a Func computing a 0-100 conversion
// likelihood for visitors and placing them on the funnel.
func VisitorConversionScorer(now func() time.Time, followupDays int) Func {
	if followupDays <= 0 {
		followupDays = 7
	}
	return func(_ context.Context, entity datastore.Scoreable) (Result, error) {
		visitor, ok := entity.(*datastore.Visitor)
		if !ok {
			return Result{}, wrongKindError("visitor", entity)
		}
		t := now()

		visits := math.Min(float64(visitor.VisitCount), 6) / 6 * 50
		lastVisitDays := daysSince(t, visitor.LastVisitAt, 60)
		recency := math.Max(0, 1-math.Min(lastVisitDays, 60)/60) * 40
		followedUp := 0.0
		if visitor.FollowedUpAt != nil {
			followedUp = 10
		}
		score := visits + recency + followedUp

		var stage string
		switch {
		case visitor.FunnelStage == FunnelConverted:
			stage = FunnelConverted
		case lastVisitDays > 45:
			stage = FunnelLost
		case visitor.VisitCount > 1:
			stage = FunnelReturning
		case visitor.FollowedUpAt == nil && lastVisitDays > float64(followupDays):
			stage = FunnelFollowup
		default:
			stage = FunnelFirstTime
		}

		return Result{
			Score: score,
			State: stage,
			Factors: map[string]float64{
				"visit_count":   visits,
				"visit_recency": recency,
				"followed_up":   followedUp,
			},
			NeedsAttention: stage == FunnelFollowup || stage == FunnelLost,
		}, nil
	}
}
