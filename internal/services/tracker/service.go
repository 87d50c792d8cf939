// Package tracker maintains the local request counter. OpenRouter does not
// report how many requests a key made today, so this counter is the only
// authoritative source of that number.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/j-veylop/openrouter-monitor/internal/logger"
	"github.com/j-veylop/openrouter-monitor/internal/models"
)

const (
	// DefaultFileName is the counter file created in the working directory
	// when no explicit path is configured.
	DefaultFileName = ".openrouter-requests.json"

	// retentionDays bounds how far back daily partitions are kept.
	retentionDays = 30

	dateFormat = "2006-01-02"
)

// keyCounts holds one key's counts for one day.
type keyCounts struct {
	Total  int            `json:"total"`
	Models map[string]int `json:"models"`
}

// fileData is the on-disk shape of the counter file.
type fileData struct {
	DailyRequests map[string]map[string]*keyCounts `json:"dailyRequests"`
	TotalRequests int                              `json:"totalRequests"`
	LastReset     string                           `json:"lastReset"`
}

// Service tracks per-day, per-key, per-model request counts with immediate
// persistence. Request volume is human-driven, so every mutation is a full
// read-modify-write of a single small JSON file.
type Service struct {
	mu   sync.Mutex
	path string
	data fileData
	now  func() time.Time
}

// New creates a tracker backed by the given file path. A missing file
// starts an empty counter; an unreadable one is logged and replaced on the
// next write.
func New(path string) (*Service, error) {
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		path = filepath.Join(cwd, DefaultFileName)
	}

	s := &Service{
		path: path,
		now:  time.Now,
	}
	s.load()
	return s, nil
}

func (s *Service) load() {
	s.data = fileData{
		DailyRequests: make(map[string]map[string]*keyCounts),
		LastReset:     s.now().Format(dateFormat),
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to load request tracking data", "path", s.path, "error", err)
		}
		return
	}

	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		logger.Warn("request tracking data is corrupt, starting fresh", "path", s.path, "error", err)
		return
	}
	if data.DailyRequests == nil {
		data.DailyRequests = make(map[string]map[string]*keyCounts)
	}
	s.data = data
}

// RecordRequest increments today's partition for the key and model. Each
// call counts one request event; there is no de-duplication. The save is
// synchronous and its failure is returned to the caller.
func (s *Service) RecordRequest(apiKeyID, model string) error {
	if apiKeyID == "" {
		apiKeyID = "default"
	}
	if model == "" {
		model = "unknown"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	today := s.now().Format(dateFormat)
	if s.data.LastReset != today {
		s.rollover(today)
	}

	day, ok := s.data.DailyRequests[today]
	if !ok {
		day = make(map[string]*keyCounts)
		s.data.DailyRequests[today] = day
	}

	counts, ok := day[apiKeyID]
	if !ok {
		counts = &keyCounts{Models: make(map[string]int)}
		day[apiKeyID] = counts
	}

	counts.Total++
	counts.Models[model]++
	s.data.TotalRequests++

	return s.save()
}

// rollover moves the tracker to a new calendar day and prunes partitions
// older than the retention window. Caller must hold the lock.
func (s *Service) rollover(today string) {
	s.data.LastReset = today

	cutoff := s.now().AddDate(0, 0, -retentionDays).Format(dateFormat)
	for date := range s.data.DailyRequests {
		if date < cutoff {
			delete(s.data.DailyRequests, date)
		}
	}
}

// TodayCount returns the number of requests recorded today for the key.
func (s *Service) TodayCount(apiKeyID string) int {
	if apiKeyID == "" {
		apiKeyID = "default"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	day, ok := s.data.DailyRequests[s.now().Format(dateFormat)]
	if !ok {
		return 0
	}
	counts, ok := day[apiKeyID]
	if !ok {
		return 0
	}
	return counts.Total
}

// QuotaInfo derives the local daily-quota view for a key against the given
// limit. A zero or negative limit yields 0% and healthy.
func (s *Service) QuotaInfo(dailyLimit int, apiKeyID string) models.TrackedQuota {
	used := s.TodayCount(apiKeyID)

	remaining := dailyLimit - used
	if remaining < 0 {
		remaining = 0
	}

	percentage := 0
	if dailyLimit > 0 {
		percentage = int(float64(used)/float64(dailyLimit)*100 + 0.5)
	}

	status := models.HealthHealthy
	switch {
	case percentage > 95:
		status = models.HealthCritical
	case percentage > 80:
		status = models.HealthWarning
	}

	return models.TrackedQuota{
		Used:       used,
		Limit:      dailyLimit,
		Remaining:  remaining,
		Percentage: percentage,
		Status:     status,
	}
}

// HistoryStats sums requests across all keys for the last days calendar
// days, ending today inclusive.
func (s *Service) HistoryStats(days int) models.RequestStats {
	if days <= 0 {
		days = 7
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := models.RequestStats{
		TotalDays:      days,
		DailyBreakdown: make(map[string]int, days),
	}

	today := s.now()
	for i := 0; i < days; i++ {
		date := today.AddDate(0, 0, -i).Format(dateFormat)

		dayTotal := 0
		for _, counts := range s.data.DailyRequests[date] {
			dayTotal += counts.Total
		}
		stats.DailyBreakdown[date] = dayTotal
		stats.TotalRequests += dayTotal
	}

	stats.AveragePerDay = int(float64(stats.TotalRequests)/float64(days) + 0.5)
	return stats
}

// TodayDetailedStats breaks down today's requests by key and by model.
func (s *Service) TodayDetailedStats() models.DayStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := s.now().Format(dateFormat)
	stats := models.DayStats{
		Date:    today,
		ByKey:   make(map[string]int),
		ByModel: make(map[string]int),
	}

	for keyID, counts := range s.data.DailyRequests[today] {
		stats.TotalRequests += counts.Total
		stats.ByKey[keyID] = counts.Total
		for model, n := range counts.Models {
			stats.ByModel[model] += n
		}
	}

	return stats
}

// ClearAll resets the counter file to an empty state.
func (s *Service) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = fileData{
		DailyRequests: make(map[string]map[string]*keyCounts),
		LastReset:     s.now().Format(dateFormat),
	}
	return s.save()
}

// save writes the counter file atomically. Caller must hold the lock.
func (s *Service) save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal request data: %w", err)
	}

	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write request data: %w", err)
	}
	if err := os.Rename(tmpFile, s.path); err != nil {
		if removeErr := os.Remove(tmpFile); removeErr != nil {
			logger.Error("failed to remove temp file", "error", removeErr)
		}
		return fmt.Errorf("failed to replace request data: %w", err)
	}
	return nil
}
