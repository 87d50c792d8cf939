package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/j-veylop/openrouter-monitor/internal/history"
	"github.com/j-veylop/openrouter-monitor/internal/logger"
	"github.com/j-veylop/openrouter-monitor/internal/models"
)

// timeFormat is fixed-width so string comparison matches chronological
// order and sqlite's datetime functions understand the values.
const timeFormat = "2006-01-02 15:04:05.000000000"

// Store implements history.Store on top of sqlite. It mirrors the JSON
// backend's semantics: keys are hashed before storage and records past the
// retention window are pruned on write.
type Store struct {
	db            *DB
	retentionDays int
	now           func() time.Time
}

var _ history.Store = (*Store)(nil)

// NewStore opens (or creates) the database at path.
func NewStore(path string, retentionDays int) (*Store, error) {
	if retentionDays <= 0 {
		retentionDays = history.DefaultRetention
	}

	database, err := New(path)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:            database,
		retentionDays: retentionDays,
		now:           time.Now,
	}, nil
}

// Record inserts a history record and prunes anything past retention.
func (s *Store) Record(apiKey string, snap *models.StatusSnapshot) error {
	rec := models.NewHistoryRecord(uuid.NewString(), history.HashAPIKey(apiKey), snap)

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	query := `
	INSERT INTO history_records (
		id, timestamp, api_key_hash, credits_used, credits_limit,
		rate_used, rate_limit, daily_used, daily_limit,
		tier, health_status, health_percentage, raw_snapshot
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(context.Background(), query,
		rec.ID,
		rec.Timestamp.UTC().Format(timeFormat),
		rec.APIKeyHash,
		rec.CreditsUsed,
		rec.CreditsLimit,
		rec.RateUsed,
		rec.RateLimit,
		rec.DailyUsed,
		nullableInt(rec.DailyLimit),
		string(rec.Tier),
		string(rec.HealthStatus),
		rec.HealthPercentage,
		string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to insert history record: %w", err)
	}

	s.prune()
	return nil
}

// RecordAlert inserts a threshold-crossing event.
func (s *Store) RecordAlert(apiKey string, alertType models.AlertType, message string, threshold, actual int) error {
	query := `
	INSERT INTO alert_records (
		id, timestamp, api_key_hash, alert_type, message, threshold_value, actual_value
	) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(context.Background(), query,
		uuid.NewString(),
		s.now().UTC().Format(timeFormat),
		history.HashAPIKey(apiKey),
		string(alertType),
		message,
		threshold,
		actual,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert record: %w", err)
	}
	return nil
}

// Query returns filtered history records, newest first.
func (s *Store) Query(opts history.QueryOptions) ([]models.HistoryRecord, error) {
	if opts.SinceDays <= 0 {
		opts.SinceDays = history.DefaultQueryDays
	}
	if opts.Limit <= 0 {
		opts.Limit = history.DefaultQueryLimit
	}

	query := `
	SELECT id, timestamp, api_key_hash, credits_used, credits_limit,
		rate_used, rate_limit, daily_used, daily_limit,
		tier, health_status, health_percentage, raw_snapshot
	FROM history_records
	WHERE timestamp >= ?`
	args := []any{s.since(opts.SinceDays)}

	if opts.APIKey != "" {
		query += " AND api_key_hash = ?"
		args = append(args, history.HashAPIKey(opts.APIKey))
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []models.HistoryRecord
	for rows.Next() {
		rec, err := scanHistoryRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// QueryAlerts returns filtered alert events, newest first.
func (s *Store) QueryAlerts(opts history.AlertQueryOptions) ([]models.AlertRecord, error) {
	if opts.SinceDays <= 0 {
		opts.SinceDays = history.DefaultQueryDays
	}
	if opts.Limit <= 0 {
		opts.Limit = history.DefaultAlertLimit
	}

	query := `
	SELECT id, timestamp, api_key_hash, alert_type, message, threshold_value, actual_value
	FROM alert_records
	WHERE timestamp >= ?`
	args := []any{s.since(opts.SinceDays)}

	if opts.APIKey != "" {
		query += " AND api_key_hash = ?"
		args = append(args, history.HashAPIKey(opts.APIKey))
	}
	if opts.Type != "" {
		query += " AND alert_type = ?"
		args = append(args, string(opts.Type))
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []models.AlertRecord
	for rows.Next() {
		var (
			alert models.AlertRecord
			ts    string
			typ   string
		)
		if err := rows.Scan(&alert.ID, &ts, &alert.APIKeyHash, &typ, &alert.Message, &alert.Threshold, &alert.Actual); err != nil {
			return nil, fmt.Errorf("failed to scan alert record: %w", err)
		}
		alert.Timestamp = parseTimestamp(ts)
		alert.Type = models.AlertType(typ)
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// Statistics aggregates history and alert records over a window using SQL.
func (s *Store) Statistics(opts history.StatsOptions) (*models.HistoryStatistics, error) {
	if opts.SinceDays <= 0 {
		opts.SinceDays = history.DefaultQueryDays
	}
	since := s.since(opts.SinceDays)

	keyFilter := ""
	args := []any{since}
	if opts.APIKey != "" {
		keyFilter = " AND api_key_hash = ?"
		args = append(args, history.HashAPIKey(opts.APIKey))
	}

	stats := &models.HistoryStatistics{
		AlertsByType: make(map[models.AlertType]int),
	}

	aggQuery := `
	SELECT COUNT(*),
		COALESCE(AVG(credits_used), 0),
		COALESCE(MAX(credits_used), 0),
		COALESCE(AVG(health_percentage), 0)
	FROM history_records
	WHERE timestamp >= ?` + keyFilter

	row := s.db.QueryRowContext(context.Background(), aggQuery, args...)
	if err := row.Scan(&stats.Records, &stats.AvgCreditsUsed, &stats.MaxCreditsUsed, &stats.AvgHealthPercentage); err != nil {
		return nil, fmt.Errorf("failed to aggregate history: %w", err)
	}

	alertQuery := `
	SELECT alert_type, COUNT(*)
	FROM alert_records
	WHERE timestamp >= ?` + keyFilter + `
	GROUP BY alert_type`

	alertRows, err := s.db.QueryContext(context.Background(), alertQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate alerts: %w", err)
	}
	defer func() { _ = alertRows.Close() }()
	for alertRows.Next() {
		var (
			typ   string
			count int
		)
		if err := alertRows.Scan(&typ, &count); err != nil {
			return nil, fmt.Errorf("failed to scan alert aggregate: %w", err)
		}
		stats.AlertsByType[models.AlertType(typ)] = count
	}
	if err := alertRows.Err(); err != nil {
		return nil, err
	}

	trendQuery := `
	SELECT substr(timestamp, 1, 10), AVG(credits_used), COUNT(*)
	FROM history_records
	WHERE timestamp >= ?` + keyFilter + `
	GROUP BY substr(timestamp, 1, 10)
	ORDER BY substr(timestamp, 1, 10) DESC`

	trendRows, err := s.db.QueryContext(context.Background(), trendQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily trend: %w", err)
	}
	defer func() { _ = trendRows.Close() }()
	for trendRows.Next() {
		var point models.DailyTrendPoint
		if err := trendRows.Scan(&point.Date, &point.AvgCredits, &point.Records); err != nil {
			return nil, fmt.Errorf("failed to scan trend point: %w", err)
		}
		stats.DailyTrend = append(stats.DailyTrend, point)
	}
	return stats, trendRows.Err()
}

// Clear deletes matching records across both tables and reports the count.
func (s *Store) Clear(opts history.ClearOptions) (int, error) {
	var conds []string
	var args []any

	if opts.OlderThanDays > 0 {
		conds = append(conds, "timestamp < ?")
		args = append(args, s.since(opts.OlderThanDays))
	}
	if opts.APIKey != "" {
		conds = append(conds, "api_key_hash = ?")
		args = append(args, history.HashAPIKey(opts.APIKey))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	deleted := 0
	for _, table := range []string{"history_records", "alert_records"} {
		res, err := s.db.ExecContext(context.Background(), "DELETE FROM "+table+where, args...)
		if err != nil {
			return deleted, fmt.Errorf("failed to clear %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += int(n)
		}
	}
	return deleted, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// prune drops history records past the retention window. Failures are
// logged rather than returned so a prune problem never blocks recording.
func (s *Store) prune() {
	cutoff := s.since(s.retentionDays)
	_, err := s.db.ExecContext(context.Background(),
		"DELETE FROM history_records WHERE timestamp < ?", cutoff)
	if err != nil {
		logger.Warn("failed to prune history records", "error", err)
	}
}

func (s *Store) since(days int) string {
	return s.now().UTC().AddDate(0, 0, -days).Format(timeFormat)
}

func scanHistoryRecord(rows *sql.Rows) (models.HistoryRecord, error) {
	var (
		rec        models.HistoryRecord
		ts         string
		dailyLimit sql.NullInt64
		tier       string
		health     string
		raw        sql.NullString
	)
	err := rows.Scan(
		&rec.ID, &ts, &rec.APIKeyHash, &rec.CreditsUsed, &rec.CreditsLimit,
		&rec.RateUsed, &rec.RateLimit, &rec.DailyUsed, &dailyLimit,
		&tier, &health, &rec.HealthPercentage, &raw,
	)
	if err != nil {
		return rec, fmt.Errorf("failed to scan history record: %w", err)
	}

	rec.Timestamp = parseTimestamp(ts)
	rec.Tier = models.TierName(tier)
	rec.HealthStatus = models.HealthLevel(health)
	if dailyLimit.Valid {
		limit := int(dailyLimit.Int64)
		rec.DailyLimit = &limit
	}
	if raw.Valid && raw.String != "" {
		var snap models.StatusSnapshot
		if err := json.Unmarshal([]byte(raw.String), &snap); err == nil {
			rec.Raw = &snap
		}
	}
	return rec, nil
}

func parseTimestamp(value string) time.Time {
	ts, err := time.ParseInLocation(timeFormat, value, time.UTC)
	if err != nil {
		logger.Warn("unparseable timestamp in database", "value", value)
		return time.Time{}
	}
	return ts
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
