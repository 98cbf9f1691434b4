package datastore

import (
	"time"
)

// EntityKind identifies a scoreable entity table.
type EntityKind string

const (
	KindMember    EntityKind = "member"
	KindHousehold EntityKind = "household"
	KindCluster   EntityKind = "cluster"
	KindVisitor   EntityKind = "visitor"
)

// Scoreable is the narrow view of an entity the scoring pass needs: identity,
// branch scoping and the current categorical state for transition detection.
type Scoreable interface {
	GetID() uint
	GetBranchID() uint
	CurrentState() string
}

// Member is a person tracked by a branch. Score columns are written only by
// the batch runner after a scoring pass.
type Member struct {
	ID       uint   `gorm:"primaryKey"`
	BranchID uint   `gorm:"index:idx_members_branch"`
	Name     string `gorm:"size:255"`
	Email    string `gorm:"size:255"`

	// Signals read by scoring functions.
	JoinedAt          *time.Time
	LastAttendanceAt  *time.Time
	LastGivingAt      *time.Time
	AttendanceRate30d float64

	// Score columns owned by the engine.
	ChurnScore            float64
	ChurnRiskLevel        string `gorm:"size:32"`
	ChurnCalculatedAt     *time.Time
	LifecycleStage        string `gorm:"size:32;default:new"`
	LifecycleCalculatedAt *time.Time
	// Set only when a recalculation worsened the stage, so alert checks can
	// tell a fresh decline from a member who has been lapsed for months.
	LifecycleTransitionedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (m *Member) GetID() uint       { return m.ID }
func (m *Member) GetBranchID() uint { return m.BranchID }

// CurrentState returns the lifecycle stage; churn transitions compare risk levels
// through the risk scale instead.
func (m *Member) CurrentState() string { return m.LifecycleStage }

// Household groups members living together.
type Household struct {
	ID       uint   `gorm:"primaryKey"`
	BranchID uint   `gorm:"index:idx_households_branch"`
	Name     string `gorm:"size:255"`

	MemberCount    int
	LastActivityAt *time.Time

	EngagementScore        float64
	EngagementLevel        string `gorm:"size:32;default:active"`
	EngagementCalculatedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (h *Household) GetID() uint          { return h.ID }
func (h *Household) GetBranchID() uint    { return h.BranchID }
func (h *Household) CurrentState() string { return h.EngagementLevel }

// Cluster is a small group / cell within a branch.
type Cluster struct {
	ID       uint   `gorm:"primaryKey"`
	BranchID uint   `gorm:"index:idx_clusters_branch"`
	Name     string `gorm:"size:255"`

	MemberCount       int
	AvgAttendanceRate float64
	LastMeetingAt     *time.Time

	HealthScore        float64
	HealthLevel        string `gorm:"size:32;default:stable"`
	HealthCalculatedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c *Cluster) GetID() uint          { return c.ID }
func (c *Cluster) GetBranchID() uint    { return c.BranchID }
func (c *Cluster) CurrentState() string { return c.HealthLevel }

// Visitor is a first-time or returning guest not yet converted to membership.
type Visitor struct {
	ID       uint   `gorm:"primaryKey"`
	BranchID uint   `gorm:"index:idx_visitors_branch"`
	Name     string `gorm:"size:255"`

	VisitCount   int
	FirstVisitAt *time.Time
	LastVisitAt  *time.Time
	FollowedUpAt *time.Time

	ConversionScore        float64
	FunnelStage            string `gorm:"size:32;default:first-time"`
	ConversionCalculatedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (v *Visitor) GetID() uint          { return v.ID }
func (v *Visitor) GetBranchID() uint    { return v.BranchID }
func (v *Visitor) CurrentState() string { return v.FunnelStage }

// User is a staff account with a role granting branch access. Read-only here,
// used for notification recipient resolution.
type User struct {
	ID       uint   `gorm:"primaryKey"`
	BranchID uint   `gorm:"index:idx_users_branch"`
	Name     string `gorm:"size:255"`
	Email    string `gorm:"size:255"`
	Phone    string `gorm:"size:64"`
	Role     string `gorm:"size:32;index"`

	CreatedAt time.Time
}

// CareRequest is a pastoral care / prayer request. Crisis-urgency open requests
// feed the critical-item alert check.
type CareRequest struct {
	ID       uint   `gorm:"primaryKey"`
	BranchID uint   `gorm:"index:idx_care_requests_branch"`
	MemberID uint
	Category string `gorm:"size:64"`
	Urgency  string `gorm:"size:32;index"` // normal, elevated, crisis
	Status   string `gorm:"size:32"`       // open, resolved
	Summary  string `gorm:"size:1024"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AttendanceRecord is one service's headcount.
type AttendanceRecord struct {
	ID          uint      `gorm:"primaryKey"`
	BranchID    uint      `gorm:"index:idx_attendance_branch_date,priority:1"`
	ServiceDate time.Time `gorm:"index:idx_attendance_branch_date,priority:2"`
	Count       int
}

// Contribution is one giving transaction.
type Contribution struct {
	ID       uint      `gorm:"primaryKey"`
	BranchID uint      `gorm:"index:idx_contributions_branch_date,priority:1"`
	GivenAt  time.Time `gorm:"index:idx_contributions_branch_date,priority:2"`
	Fund     string    `gorm:"size:64"`
	Amount   float64
}

// Alert is a persistent record of a fired detection. Immutable after creation
// except for the acknowledge flag.
type Alert struct {
	ID         string `gorm:"primaryKey;size:36"`
	BranchID   uint   `gorm:"index:idx_alerts_branch_created,priority:1"`
	Type       string `gorm:"size:64;index"`
	Severity   string `gorm:"size:16"`
	EntityKind string `gorm:"size:16"`
	EntityID   uint
	Title      string `gorm:"size:255"`
	Message    string `gorm:"size:2048"`
	Payload    string `gorm:"type:text"` // JSON-encoded structured context
	Immediate  bool

	Acknowledged bool
	CreatedAt    time.Time `gorm:"index:idx_alerts_branch_created,priority:2"`
}

// AlertSetting is the per branch + alert type configuration. The cooldown
// window is measured from LastTriggeredAt, so near-simultaneous candidates of
// one type collapse to a single trigger per window.
type AlertSetting struct {
	ID             uint     `gorm:"primaryKey"`
	BranchID       uint     `gorm:"uniqueIndex:idx_alert_settings_branch_type,priority:1"`
	Type           string   `gorm:"size:64;uniqueIndex:idx_alert_settings_branch_type,priority:2"`
	Enabled        bool
	Threshold      *float64 // nil for non threshold-based types
	CooldownHours  int
	Channels       string `gorm:"size:255"` // comma-separated channel names
	RecipientRoles string `gorm:"size:255"` // comma-separated role names
	LastTriggeredAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Notification is an in-app notification row written by the in-app provider.
type Notification struct {
	ID       string `gorm:"primaryKey;size:36"`
	BranchID uint   `gorm:"index"`
	UserID   uint   `gorm:"index"`
	Title    string `gorm:"size:255"`
	Body     string `gorm:"size:4096"`
	Severity string `gorm:"size:16"`
	Status   string `gorm:"size:16;default:unread"`

	CreatedAt time.Time
}

// Forecast is a stored projection series produced by the forecast jobs.
type Forecast struct {
	ID          uint   `gorm:"primaryKey"`
	BranchID    uint   `gorm:"index"`
	Kind        string `gorm:"size:32"` // attendance, giving, expenses
	Horizon     int    // number of periods projected
	Payload     string `gorm:"type:text"` // JSON-encoded projected points
	GeneratedAt time.Time
}

// WeeklyStat is an aggregated attendance week.
type WeeklyStat struct {
	WeekStart time.Time
	Total     int
}

// MonthlyTotal is an aggregated giving month.
type MonthlyTotal struct {
	Month time.Time
	Total float64
}
