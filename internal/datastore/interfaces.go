// interfaces.go: defines the interface for database operations
package datastore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/careflock/careflock-go/internal/conf"
	"github.com/careflock/careflock-go/internal/errors"
)

// Interface abstracts the underlying database implementation and defines the
// operations the engine needs. The batch runner and alert engine depend only
// on this narrow contract, never on gorm models directly.
type Interface interface {
	Open() error
	Close() error

	// Entity iteration and score persistence.
	ChunkEntities(ctx context.Context, branchID uint, kind EntityKind, chunkSize int, fn func(batch []Scoreable) error) error
	UpdateScoreFields(kind EntityKind, id uint, fields map[string]any) error
	CountEntities(branchID uint, kind EntityKind) (int64, error)
	BranchIDs() ([]uint, error)

	// Alert settings.
	GetOrCreateAlertSetting(branchID uint, alertType string, defaults AlertSettingDefaults) (*AlertSetting, error)
	UpdateAlertSetting(setting *AlertSetting) error
	MarkAlertTriggered(settingID uint, previous *time.Time, now time.Time) (bool, error)

	// Alerts.
	InsertAlert(alert *Alert) error
	AlertsSince(branchID uint, since time.Time) ([]Alert, error)

	// Notification support.
	UsersWithRoles(branchID uint, roles []string) ([]User, error)
	InsertNotification(n *Notification) error

	// Detection queries used by alert checks.
	TopMembersByChurn(branchID uint, limit int) ([]Member, error)
	MembersInStages(branchID uint, stages []string, since time.Time) ([]Member, error)
	ClustersInLevels(branchID uint, levels []string) ([]Cluster, error)
	HouseholdsInLevels(branchID uint, levels []string) ([]Household, error)
	VisitorsAwaitingFollowup(branchID uint, staleBefore time.Time) ([]Visitor, error)
	OpenCareRequests(branchID uint, urgency string) ([]CareRequest, error)

	// Aggregates for anomaly detection and forecasting.
	WeeklyAttendance(branchID uint, weeksBack int) ([]WeeklyStat, error)
	MonthlyGiving(branchID uint, fund string, monthsBack int) ([]MonthlyTotal, error)
	InsertForecast(f *Forecast) error
}

// AlertSettingDefaults is applied when a setting row is created on first access.
type AlertSettingDefaults struct {
	Enabled        bool
	Threshold      *float64
	CooldownHours  int
	Channels       []string
	RecipientRoles []string
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB
}

// New creates a DataStore instance based on the provided settings.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// SplitList splits a comma-separated settings column into its values.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// JoinList serializes values into the comma-separated settings column form.
func JoinList(values []string) string {
	return strings.Join(values, ",")
}

// performAutoMigration runs gorm auto-migration for all engine tables.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&Member{},
		&Household{},
		&Cluster{},
		&Visitor{},
		&User{},
		&CareRequest{},
		&AttendanceRecord{},
		&Contribution{},
		&Alert{},
		&AlertSetting{},
		&Notification{},
		&Forecast{},
	); err != nil {
		return errors.Newf("failed to auto-migrate %s database: %w", dbType, err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("connection", connectionInfo).
			Build()
	}
	return nil
}

func (ds *DataStore) entityModel(kind EntityKind) (any, error) {
	switch kind {
	case KindMember:
		return &Member{}, nil
	case KindHousehold:
		return &Household{}, nil
	case KindCluster:
		return &Cluster{}, nil
	case KindVisitor:
		return &Visitor{}, nil
	default:
		return nil, errors.Newf("unknown entity kind %q", kind).
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}
}

// ChunkEntities iterates the branch's entities of the given kind in stable
// id order, invoking fn for each page of at most chunkSize records. An error
// from the query or from fn aborts the iteration and is returned.
func (ds *DataStore) ChunkEntities(ctx context.Context, branchID uint, kind EntityKind, chunkSize int, fn func(batch []Scoreable) error) error {
	if chunkSize <= 0 {
		chunkSize = 50
	}

	var lastID uint
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := ds.fetchChunk(ctx, branchID, kind, lastID, chunkSize)
		if err != nil {
			return errors.New(err).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("branch_id", branchID).
				Context("entity_kind", string(kind)).
				Build()
		}
		if len(batch) == 0 {
			return nil
		}

		if err := fn(batch); err != nil {
			return err
		}

		lastID = batch[len(batch)-1].GetID()
		if len(batch) < chunkSize {
			return nil
		}
	}
}

func (ds *DataStore) fetchChunk(ctx context.Context, branchID uint, kind EntityKind, afterID uint, limit int) ([]Scoreable, error) {
	q := ds.DB.WithContext(ctx).
		Where("branch_id = ? AND id > ?", branchID, afterID).
		Order("id ASC").
		Limit(limit)

	switch kind {
	case KindMember:
		var rows []Member
		if err := q.Find(&rows).Error; err != nil {
			return nil, err
		}
		return asScoreables(rows), nil
	case KindHousehold:
		var rows []Household
		if err := q.Find(&rows).Error; err != nil {
			return nil, err
		}
		return asScoreables(rows), nil
	case KindCluster:
		var rows []Cluster
		if err := q.Find(&rows).Error; err != nil {
			return nil, err
		}
		return asScoreables(rows), nil
	case KindVisitor:
		var rows []Visitor
		if err := q.Find(&rows).Error; err != nil {
			return nil, err
		}
		return asScoreables(rows), nil
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}

// asScoreables lifts a typed row slice into the Scoreable view, taking the
// address of each element so mutations stay visible to the caller.
func asScoreables[T any, PT interface {
	*T
	Scoreable
}](rows []T) []Scoreable {
	out := make([]Scoreable, len(rows))
	for i := range rows {
		out[i] = PT(&rows[i])
	}
	return out
}

// UpdateScoreFields writes the given score columns for one entity. The field
// map keys are column names; callers own keeping them consistent with the model.
func (ds *DataStore) UpdateScoreFields(kind EntityKind, id uint, fields map[string]any) error {
	model, err := ds.entityModel(kind)
	if err != nil {
		return err
	}
	result := ds.DB.Model(model).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return errors.New(result.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("entity_kind", string(kind)).
			Context("entity_id", id).
			Build()
	}
	if result.RowsAffected == 0 {
		return errors.Newf("entity %s/%d not found", kind, id).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Build()
	}
	return nil
}

// CountEntities returns the number of entities of a kind in a branch.
func (ds *DataStore) CountEntities(branchID uint, kind EntityKind) (int64, error) {
	model, err := ds.entityModel(kind)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := ds.DB.Model(model).Where("branch_id = ?", branchID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting %s entities: %w", kind, err)
	}
	return count, nil
}

// BranchIDs returns the distinct branch ids present in the member table.
func (ds *DataStore) BranchIDs() ([]uint, error) {
	var ids []uint
	if err := ds.DB.Model(&Member{}).Distinct("branch_id").Order("branch_id").Pluck("branch_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing branch ids: %w", err)
	}
	return ids, nil
}

// GetOrCreateAlertSetting fetches the setting row for (branch, type), creating
// it with the given defaults on first access.
func (ds *DataStore) GetOrCreateAlertSetting(branchID uint, alertType string, defaults AlertSettingDefaults) (*AlertSetting, error) {
	var setting AlertSetting
	err := ds.DB.Where("branch_id = ? AND type = ?", branchID, alertType).First(&setting).Error
	if err == nil {
		return &setting, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("fetching alert setting %d/%s: %w", branchID, alertType, err)
	}

	setting = AlertSetting{
		BranchID:       branchID,
		Type:           alertType,
		Enabled:        defaults.Enabled,
		Threshold:      defaults.Threshold,
		CooldownHours:  defaults.CooldownHours,
		Channels:       JoinList(defaults.Channels),
		RecipientRoles: JoinList(defaults.RecipientRoles),
	}
	if err := ds.DB.Create(&setting).Error; err != nil {
		// A concurrent creator may have won the unique index race; re-read.
		var existing AlertSetting
		if readErr := ds.DB.Where("branch_id = ? AND type = ?", branchID, alertType).First(&existing).Error; readErr == nil {
			return &existing, nil
		}
		return nil, fmt.Errorf("creating alert setting %d/%s: %w", branchID, alertType, err)
	}
	return &setting, nil
}

// UpdateAlertSetting persists tenant-admin edits to a setting row.
func (ds *DataStore) UpdateAlertSetting(setting *AlertSetting) error {
	if err := ds.DB.Save(setting).Error; err != nil {
		return fmt.Errorf("updating alert setting %d: %w", setting.ID, err)
	}
	return nil
}

// MarkAlertTriggered advances last_triggered_at with an optimistic
// compare-and-set against the previously observed value. Returns false when a
// concurrent trigger won the race, in which case no alert must be created.
func (ds *DataStore) MarkAlertTriggered(settingID uint, previous *time.Time, now time.Time) (bool, error) {
	q := ds.DB.Model(&AlertSetting{}).Where("id = ?", settingID)
	if previous == nil {
		q = q.Where("last_triggered_at IS NULL")
	} else {
		q = q.Where("last_triggered_at = ?", *previous)
	}
	result := q.Update("last_triggered_at", now)
	if result.Error != nil {
		return false, fmt.Errorf("marking alert setting %d triggered: %w", settingID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// InsertAlert stores a newly created alert.
func (ds *DataStore) InsertAlert(alert *Alert) error {
	if err := ds.DB.Create(alert).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("alert_type", alert.Type).
			Context("branch_id", alert.BranchID).
			Build()
	}
	return nil
}

// AlertsSince returns alerts created at or after the given instant, newest first.
func (ds *DataStore) AlertsSince(branchID uint, since time.Time) ([]Alert, error) {
	var alerts []Alert
	err := ds.DB.Where("branch_id = ? AND created_at >= ?", branchID, since).
		Order("created_at DESC").
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("querying alerts since %s: %w", since.Format(time.RFC3339), err)
	}
	return alerts, nil
}

// UsersWithRoles returns the branch users holding any of the given roles.
func (ds *DataStore) UsersWithRoles(branchID uint, roles []string) ([]User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	var users []User
	err := ds.DB.Where("branch_id = ? AND role IN ?", branchID, roles).
		Order("id ASC").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("querying users with roles %v: %w", roles, err)
	}
	return users, nil
}

// InsertNotification stores an in-app notification row.
func (ds *DataStore) InsertNotification(n *Notification) error {
	if err := ds.DB.Create(n).Error; err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}
