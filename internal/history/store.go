// Package history persists periodic status snapshots and threshold-crossing
// alert events, with retention pruning and filtered queries.
package history

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/j-veylop/openrouter-monitor/internal/models"
)

// Default query windows and limits.
const (
	DefaultQueryDays  = 7
	DefaultQueryLimit = 1000
	DefaultAlertLimit = 100
	DefaultRetention  = 30
	keyHashLength     = 16
)

// QueryOptions filters history queries. A zero SinceDays means the default
// window; an empty APIKey matches all keys.
type QueryOptions struct {
	SinceDays int
	APIKey    string
	Limit     int
}

// AlertQueryOptions filters alert queries.
type AlertQueryOptions struct {
	SinceDays int
	APIKey    string
	Type      models.AlertType
	Limit     int
}

// ClearOptions selects records to delete. A zero OlderThanDays deletes all
// records matching APIKey, or everything when APIKey is empty too.
type ClearOptions struct {
	OlderThanDays int
	APIKey        string
}

// StatsOptions selects the window for aggregate statistics.
type StatsOptions struct {
	SinceDays int
	APIKey    string
}

// Store is the history/alert persistence contract. Both the JSON-file and
// sqlite backends implement it. Methods return errors for direct callers;
// the monitoring loop is responsible for swallowing them so recording never
// blocks the primary status path.
type Store interface {
	// Record appends a history record derived from snap. The raw apiKey is
	// hashed before storage and never persisted.
	Record(apiKey string, snap *models.StatusSnapshot) error

	// RecordAlert appends a threshold-crossing event.
	RecordAlert(apiKey string, alertType models.AlertType, message string, threshold, actual int) error

	// Query returns records filtered by age and optional key, newest first,
	// truncated to the limit.
	Query(opts QueryOptions) ([]models.HistoryRecord, error)

	// QueryAlerts returns alert events, newest first.
	QueryAlerts(opts AlertQueryOptions) ([]models.AlertRecord, error)

	// Statistics aggregates history and alerts over a window.
	Statistics(opts StatsOptions) (*models.HistoryStatistics, error)

	// Clear deletes matching history and alert records and reports how many
	// were removed.
	Clear(opts ClearOptions) (int, error)

	Close() error
}

// HashAPIKey returns the deterministic one-way digest persisted in place of
// an API key: sha256, hex encoded, truncated to 16 characters. Enough for
// per-key filtering without recoverability.
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])[:keyHashLength]
}
