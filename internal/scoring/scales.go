package scoring

// OrdinalScale orders an entity kind's categorical states from best to worst.
// The transition detector uses it to decide whether a state change worsened;
// the direction table lives with the domain, not in the detector.
type OrdinalScale struct {
	ranks map[string]int
}

// NewOrdinalScale builds a scale from states listed best to worst.
func NewOrdinalScale(bestToWorst ...string) OrdinalScale {
	ranks := make(map[string]int, len(bestToWorst))
	for i, state := range bestToWorst {
		ranks[state] = i
	}
	return OrdinalScale{ranks: ranks}
}

// Rank returns the position of a state on the scale, higher meaning worse.
func (s OrdinalScale) Rank(state string) (int, bool) {
	r, ok := s.ranks[state]
	return r, ok
}

// Worsened reports whether moving from one state to the other descends the
// scale. Unknown states never count as worsening.
func (s OrdinalScale) Worsened(from, to string) bool {
	fromRank, fromOK := s.ranks[from]
	toRank, toOK := s.ranks[to]
	return fromOK && toOK && toRank > fromRank
}

// Member lifecycle stages.
const (
	StageCore      = "core"
	StageEngaged   = "engaged"
	StageActive    = "active"
	StageNew       = "new"
	StageDeclining = "declining"
	StageLapsed    = "lapsed"
)

// Churn risk levels.
const (
	RiskLow      = "low"
	RiskModerate = "moderate"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Cluster health levels.
const (
	HealthHealthy    = "healthy"
	HealthStable     = "stable"
	HealthStruggling = "struggling"
	HealthCritical   = "critical"
)

// Household engagement levels.
const (
	EngagementEngaged    = "engaged"
	EngagementActive     = "active"
	EngagementCooling    = "cooling"
	EngagementDisengaged = "disengaged"
)

// Visitor funnel stages.
const (
	FunnelConverted = "converted"
	FunnelReturning = "returning"
	FunnelFollowup  = "followup"
	FunnelFirstTime = "first-time"
	FunnelLost      = "lost"
)

var (
	// LifecycleScale orders member lifecycle stages.
	LifecycleScale = NewOrdinalScale(StageCore, StageEngaged, StageActive, StageNew, StageDeclining, StageLapsed)
	// ChurnRiskScale orders member churn risk levels.
	ChurnRiskScale = NewOrdinalScale(RiskLow, RiskModerate, RiskHigh, RiskCritical)
	// ClusterHealthScale orders cluster health levels.
	ClusterHealthScale = NewOrdinalScale(HealthHealthy, HealthStable, HealthStruggling, HealthCritical)
	// HouseholdEngagementScale orders household engagement levels.
	HouseholdEngagementScale = NewOrdinalScale(EngagementEngaged, EngagementActive, EngagementCooling, EngagementDisengaged)
	// VisitorFunnelScale orders visitor funnel stages.
	VisitorFunnelScale = NewOrdinalScale(FunnelConverted, FunnelReturning, FunnelFollowup, FunnelFirstTime, FunnelLost)
)
