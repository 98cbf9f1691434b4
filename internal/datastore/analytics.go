// analytics.go: detection and aggregate queries used by alert checks and forecasts
package datastore

import (
	"fmt"
	"sort"
	"time"
)

// TopMembersByChurn returns the branch's members ordered by churn score
// descending. The alert engine applies the configured threshold on top.
func (ds *DataStore) TopMembersByChurn(branchID uint, limit int) ([]Member, error) {
	if limit <= 0 {
		limit = 25
	}
	var members []Member
	err := ds.DB.Where("branch_id = ? AND churn_calculated_at IS NOT NULL", branchID).
		Order("churn_score DESC").
		Limit(limit).
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("querying members by churn: %w", err)
	}
	return members, nil
}

// MembersInStages returns members currently in any of the given lifecycle
// stages whose stage worsened into that set at or after the given instant.
// Recalculations that confirm an unchanged stage do not qualify.
func (ds *DataStore) MembersInStages(branchID uint, stages []string, since time.Time) ([]Member, error) {
	var members []Member
	err := ds.DB.Where("branch_id = ? AND lifecycle_stage IN ? AND lifecycle_transitioned_at >= ?",
		branchID, stages, since).
		Order("id ASC").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("querying members in stages %v: %w", stages, err)
	}
	return members, nil
}

// ClustersInLevels returns clusters whose health level is in the given set.
func (ds *DataStore) ClustersInLevels(branchID uint, levels []string) ([]Cluster, error) {
	var clusters []Cluster
	err := ds.DB.Where("branch_id = ? AND health_level IN ?", branchID, levels).
		Order("health_score ASC").
		Find(&clusters).Error
	if err != nil {
		return nil, fmt.Errorf("querying clusters in levels %v: %w", levels, err)
	}
	return clusters, nil
}

// HouseholdsInLevels returns households whose engagement level is in the given set.
func (ds *DataStore) HouseholdsInLevels(branchID uint, levels []string) ([]Household, error) {
	var households []Household
	err := ds.DB.Where("branch_id = ? AND engagement_level IN ?", branchID, levels).
		Order("engagement_score ASC").
		Find(&households).Error
	if err != nil {
		return nil, fmt.Errorf("querying households in levels %v: %w", levels, err)
	}
	return households, nil
}

// VisitorsAwaitingFollowup returns visitors never followed up whose last visit
// is older than the staleness cutoff and who have not converted.
func (ds *DataStore) VisitorsAwaitingFollowup(branchID uint, staleBefore time.Time) ([]Visitor, error) {
	var visitors []Visitor
	err := ds.DB.Where(
		"branch_id = ? AND followed_up_at IS NULL AND last_visit_at < ? AND funnel_stage <> ?",
		branchID, staleBefore, "converted").
		Order("last_visit_at ASC").
		Find(&visitors).Error
	if err != nil {
		return nil, fmt.Errorf("querying visitors awaiting followup: %w", err)
	}
	return visitors, nil
}

// OpenCareRequests returns open care requests at the given urgency.
func (ds *DataStore) OpenCareRequests(branchID uint, urgency string) ([]CareRequest, error) {
	var requests []CareRequest
	err := ds.DB.Where("branch_id = ? AND status = ? AND urgency = ?", branchID, "open", urgency).
		Order("created_at DESC").
		Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("querying open care requests: %w", err)
	}
	return requests, nil
}

// WeeklyAttendance aggregates attendance headcounts into calendar weeks
// (Monday start) over the trailing weeksBack weeks, oldest week first.
// Aggregation happens in Go to stay portable across SQLite and MySQL.
func (ds *DataStore) WeeklyAttendance(branchID uint, weeksBack int) ([]WeeklyStat, error) {
	if weeksBack <= 0 {
		weeksBack = 12
	}
	cutoff := time.Now().AddDate(0, 0, -7*weeksBack)

	var records []AttendanceRecord
	err := ds.DB.Where("branch_id = ? AND service_date >= ?", branchID, cutoff).
		Order("service_date ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("querying attendance records: %w", err)
	}

	byWeek := make(map[time.Time]int)
	for i := range records {
		week := weekStart(records[i].ServiceDate)
		byWeek[week] += records[i].Count
	}

	stats := make([]WeeklyStat, 0, len(byWeek))
	for week, total := range byWeek {
		stats = append(stats, WeeklyStat{WeekStart: week, Total: total})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].WeekStart.Before(stats[j].WeekStart) })
	return stats, nil
}

// MonthlyGiving aggregates contributions into calendar months over the
// trailing monthsBack months, oldest month first. An empty fund matches all.
func (ds *DataStore) MonthlyGiving(branchID uint, fund string, monthsBack int) ([]MonthlyTotal, error) {
	if monthsBack <= 0 {
		monthsBack = 12
	}
	cutoff := time.Now().AddDate(0, -monthsBack, 0)

	q := ds.DB.Where("branch_id = ? AND given_at >= ?", branchID, cutoff)
	if fund != "" {
		q = q.Where("fund = ?", fund)
	}
	var rows []Contribution
	if err := q.Order("given_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying contributions: %w", err)
	}

	byMonth := make(map[time.Time]float64)
	for i := range rows {
		month := time.Date(rows[i].GivenAt.Year(), rows[i].GivenAt.Month(), 1, 0, 0, 0, 0, time.UTC)
		byMonth[month] += rows[i].Amount
	}

	totals := make([]MonthlyTotal, 0, len(byMonth))
	for month, total := range byMonth {
		totals = append(totals, MonthlyTotal{Month: month, Total: total})
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Month.Before(totals[j].Month) })
	return totals, nil
}

// InsertForecast stores a generated forecast series.
func (ds *DataStore) InsertForecast(f *Forecast) error {
	if err := ds.DB.Create(f).Error; err != nil {
		return fmt.Errorf("inserting forecast: %w", err)
	}
	return nil
}

// weekStart normalizes a timestamp to the Monday of its week, UTC midnight.
func weekStart(t time.Time) time.Time {
	t = t.UTC()
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday belongs to the week starting the previous Monday
	}
	day := t.AddDate(0, 0, -(weekday - 1))
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
}
