package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/j-veylop/openrouter-monitor/internal/logger"
	"github.com/j-veylop/openrouter-monitor/internal/models"
)

const (
	historyFileName = "history.json"
	alertsFileName  = "alerts.json"
)

// JSONStore persists history and alert records as JSON arrays in two files.
// This is the default backend and matches the on-disk layout consumed by
// external tooling.
type JSONStore struct {
	mu            sync.Mutex
	historyPath   string
	alertsPath    string
	retentionDays int
	now           func() time.Time
}

// NewJSONStore creates a store in dir, creating the directory if needed.
// retentionDays bounds how long records survive automatic pruning; zero or
// negative selects the default.
func NewJSONStore(dir string, retentionDays int) (*JSONStore, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetention
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	return &JSONStore{
		historyPath:   filepath.Join(dir, historyFileName),
		alertsPath:    filepath.Join(dir, alertsFileName),
		retentionDays: retentionDays,
		now:           time.Now,
	}, nil
}

// Record appends a history record and prunes anything past retention.
func (s *JSONStore) Record(apiKey string, snap *models.StatusSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []models.HistoryRecord
	if err := s.loadFile(s.historyPath, &records); err != nil {
		return err
	}

	records = append(records, models.NewHistoryRecord(uuid.NewString(), HashAPIKey(apiKey), snap))

	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	kept := records[:0]
	for _, rec := range records {
		if !rec.Timestamp.Before(cutoff) {
			kept = append(kept, rec)
		}
	}

	return s.saveFile(s.historyPath, kept)
}

// RecordAlert appends a threshold-crossing event.
func (s *JSONStore) RecordAlert(apiKey string, alertType models.AlertType, message string, threshold, actual int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var alerts []models.AlertRecord
	if err := s.loadFile(s.alertsPath, &alerts); err != nil {
		return err
	}

	alerts = append(alerts, models.AlertRecord{
		ID:         uuid.NewString(),
		Timestamp:  s.now(),
		APIKeyHash: HashAPIKey(apiKey),
		Type:       alertType,
		Message:    message,
		Threshold:  threshold,
		Actual:     actual,
	})

	return s.saveFile(s.alertsPath, alerts)
}

// Query returns filtered history records, newest first.
func (s *JSONStore) Query(opts QueryOptions) ([]models.HistoryRecord, error) {
	if opts.SinceDays <= 0 {
		opts.SinceDays = DefaultQueryDays
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultQueryLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var records []models.HistoryRecord
	if err := s.loadFile(s.historyPath, &records); err != nil {
		return nil, err
	}

	since := s.now().AddDate(0, 0, -opts.SinceDays)
	keyHash := ""
	if opts.APIKey != "" {
		keyHash = HashAPIKey(opts.APIKey)
	}

	filtered := make([]models.HistoryRecord, 0, len(records))
	for _, rec := range records {
		if rec.Timestamp.Before(since) {
			continue
		}
		if keyHash != "" && rec.APIKeyHash != keyHash {
			continue
		}
		filtered = append(filtered, rec)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})

	if len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	return filtered, nil
}

// QueryAlerts returns filtered alert events, newest first.
func (s *JSONStore) QueryAlerts(opts AlertQueryOptions) ([]models.AlertRecord, error) {
	if opts.SinceDays <= 0 {
		opts.SinceDays = DefaultQueryDays
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultAlertLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var alerts []models.AlertRecord
	if err := s.loadFile(s.alertsPath, &alerts); err != nil {
		return nil, err
	}

	since := s.now().AddDate(0, 0, -opts.SinceDays)
	keyHash := ""
	if opts.APIKey != "" {
		keyHash = HashAPIKey(opts.APIKey)
	}

	filtered := make([]models.AlertRecord, 0, len(alerts))
	for _, alert := range alerts {
		if alert.Timestamp.Before(since) {
			continue
		}
		if keyHash != "" && alert.APIKeyHash != keyHash {
			continue
		}
		if opts.Type != "" && alert.Type != opts.Type {
			continue
		}
		filtered = append(filtered, alert)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})

	if len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	return filtered, nil
}

// Statistics aggregates history and alert records over a window.
func (s *JSONStore) Statistics(opts StatsOptions) (*models.HistoryStatistics, error) {
	records, err := s.Query(QueryOptions{SinceDays: opts.SinceDays, APIKey: opts.APIKey, Limit: int(^uint(0) >> 1)})
	if err != nil {
		return nil, err
	}
	alerts, err := s.QueryAlerts(AlertQueryOptions{SinceDays: opts.SinceDays, APIKey: opts.APIKey, Limit: int(^uint(0) >> 1)})
	if err != nil {
		return nil, err
	}

	stats := &models.HistoryStatistics{
		Records:      len(records),
		AlertsByType: make(map[models.AlertType]int),
	}

	type dayAgg struct {
		credits float64
		count   int
	}
	days := make(map[string]*dayAgg)

	var creditsSum, healthSum float64
	for _, rec := range records {
		creditsSum += rec.CreditsUsed
		healthSum += float64(rec.HealthPercentage)
		if rec.CreditsUsed > stats.MaxCreditsUsed {
			stats.MaxCreditsUsed = rec.CreditsUsed
		}

		date := rec.Timestamp.Format("2006-01-02")
		agg, ok := days[date]
		if !ok {
			agg = &dayAgg{}
			days[date] = agg
		}
		agg.credits += rec.CreditsUsed
		agg.count++
	}

	if len(records) > 0 {
		stats.AvgCreditsUsed = creditsSum / float64(len(records))
		stats.AvgHealthPercentage = healthSum / float64(len(records))
	}

	for _, alert := range alerts {
		stats.AlertsByType[alert.Type]++
	}

	for date, agg := range days {
		stats.DailyTrend = append(stats.DailyTrend, models.DailyTrendPoint{
			Date:       date,
			AvgCredits: agg.credits / float64(agg.count),
			Records:    agg.count,
		})
	}
	sort.Slice(stats.DailyTrend, func(i, j int) bool {
		return stats.DailyTrend[i].Date > stats.DailyTrend[j].Date
	})

	return stats, nil
}

// Clear deletes matching records across both files and reports the count.
func (s *JSONStore) Clear(opts ClearOptions) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyHash := ""
	if opts.APIKey != "" {
		keyHash = HashAPIKey(opts.APIKey)
	}
	var cutoff time.Time
	if opts.OlderThanDays > 0 {
		cutoff = s.now().AddDate(0, 0, -opts.OlderThanDays)
	}

	matches := func(ts time.Time, hash string) bool {
		if keyHash != "" && hash != keyHash {
			return false
		}
		if !cutoff.IsZero() && !ts.Before(cutoff) {
			return false
		}
		return true
	}

	deleted := 0

	var records []models.HistoryRecord
	if err := s.loadFile(s.historyPath, &records); err != nil {
		return 0, err
	}
	keptRecords := records[:0]
	for _, rec := range records {
		if matches(rec.Timestamp, rec.APIKeyHash) {
			deleted++
			continue
		}
		keptRecords = append(keptRecords, rec)
	}
	if err := s.saveFile(s.historyPath, keptRecords); err != nil {
		return 0, err
	}

	var alerts []models.AlertRecord
	if err := s.loadFile(s.alertsPath, &alerts); err != nil {
		return deleted, err
	}
	keptAlerts := alerts[:0]
	for _, alert := range alerts {
		if matches(alert.Timestamp, alert.APIKeyHash) {
			deleted++
			continue
		}
		keptAlerts = append(keptAlerts, alert)
	}
	if err := s.saveFile(s.alertsPath, keptAlerts); err != nil {
		return deleted, err
	}

	return deleted, nil
}

// Close is a no-op for the file-backed store.
func (s *JSONStore) Close() error {
	return nil
}

// loadFile reads a JSON array file into out. A missing file yields an
// empty slice; a corrupt file is logged and treated as empty so one bad
// write cannot permanently wedge recording.
func (s *JSONStore) loadFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		logger.Warn("history file is corrupt, starting fresh", "path", path, "error", err)
	}
	return nil
}

// saveFile writes a JSON array file atomically.
func (s *JSONStore) saveFile(path string, records any) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}

	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpFile, path); err != nil {
		if removeErr := os.Remove(tmpFile); removeErr != nil {
			logger.Error("failed to remove temp file", "error", removeErr)
		}
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
