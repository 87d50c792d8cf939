// Package services wires the individual services together behind the
// operations the command layer calls.
package services

import (
	"context"
	"fmt"

	"github.com/j-veylop/openrouter-monitor/internal/config"
	"github.com/j-veylop/openrouter-monitor/internal/db"
	"github.com/j-veylop/openrouter-monitor/internal/history"
	"github.com/j-veylop/openrouter-monitor/internal/models"
	"github.com/j-veylop/openrouter-monitor/internal/openrouter"
	"github.com/j-veylop/openrouter-monitor/internal/services/keys"
	"github.com/j-veylop/openrouter-monitor/internal/services/monitor"
	"github.com/j-veylop/openrouter-monitor/internal/services/quota"
	"github.com/j-veylop/openrouter-monitor/internal/services/tracker"
)

// StatusOptions selects the key for a status query. APIKey wins over
// KeyName; with neither set the environment key from the config is used.
type StatusOptions struct {
	APIKey       string
	KeyName      string
	ForceRefresh bool
}

// MonitorOptions configures a monitoring session. OnWarning is optional;
// without it warnings arrive through OnAlert.
type MonitorOptions struct {
	StatusOptions
	OnCheck   func(*models.StatusSnapshot)
	OnWarning func(message string, threshold, actual int)
	OnAlert   func(alertType models.AlertType, message string, threshold, actual int)
}

// LimitsReport is a snapshot plus its derived risk analysis.
type LimitsReport struct {
	Snapshot *models.StatusSnapshot `json:"snapshot"`
	Analysis models.LimitAnalysis   `json:"analysis"`
}

// Manager owns the upstream client, the local stores, and the key store.
// Everything is constructed up front so a misconfigured backend fails at
// startup instead of in the middle of a polling session.
type Manager struct {
	cfg     *config.Config
	client  *openrouter.Client
	tracker *tracker.Service
	store   history.Store
	keys    *keys.Service
}

// NewManager creates a manager from the loaded configuration.
func NewManager(cfg *config.Config) (*Manager, error) {
	m := &Manager{
		cfg:    cfg,
		client: openrouter.NewClient(cfg.BaseURL),
	}

	var err error
	m.tracker, err = tracker.New(cfg.RequestsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize request tracker: %w", err)
	}

	m.store, err = newHistoryStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history store: %w", err)
	}

	m.keys, err = keys.New(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key store: %w", err)
	}

	return m, nil
}

// newHistoryStore selects the configured history backend.
func newHistoryStore(cfg *config.Config) (history.Store, error) {
	switch cfg.HistoryBackend {
	case "sqlite":
		return db.NewStore(cfg.HistoryDBPath(), cfg.HistoryRetentionDays)
	default:
		return history.NewJSONStore(cfg.Dir, cfg.HistoryRetentionDays)
	}
}

// resolveKey picks the API key for an operation: explicit key, then a named
// store entry, then the environment key.
func (m *Manager) resolveKey(opts StatusOptions) (apiKey, keyName string, err error) {
	if opts.APIKey != "" {
		return opts.APIKey, "", nil
	}
	if opts.KeyName != "" {
		key, err := m.keys.Get(opts.KeyName)
		if err != nil {
			return "", "", err
		}
		return key, opts.KeyName, nil
	}
	if m.cfg.APIKey != "" {
		return m.cfg.APIKey, "", nil
	}
	return "", "", config.ErrMissingAPIKey
}

// GetStatus fetches upstream status for the resolved key and returns the
// estimated snapshot with the local daily overlay attached.
func (m *Manager) GetStatus(ctx context.Context, opts StatusOptions) (*models.StatusSnapshot, error) {
	apiKey, keyName, err := m.resolveKey(opts)
	if err != nil {
		return nil, err
	}

	up, err := m.client.FetchStatus(ctx, apiKey, opts.ForceRefresh)
	if err != nil {
		return nil, err
	}

	snap := quota.Estimate(apiKey, up)
	if snap.DailyLimit.Limit != nil {
		tracked := m.tracker.QuotaInfo(*snap.DailyLimit.Limit, keyName)
		quota.ApplyLocalOverlay(snap, tracked)
	}

	if keyName != "" {
		m.keys.TouchLastUsed(keyName)
	}
	return snap, nil
}

// GetLimits is GetStatus plus the limit risk analysis.
func (m *Manager) GetLimits(ctx context.Context, opts StatusOptions) (*LimitsReport, error) {
	snap, err := m.GetStatus(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &LimitsReport{
		Snapshot: snap,
		Analysis: quota.Analyze(snap),
	}, nil
}

// TestAPIKey validates a key with a forced upstream round trip and returns
// the resulting snapshot.
func (m *Manager) TestAPIKey(ctx context.Context, apiKey string) (*models.StatusSnapshot, error) {
	if apiKey == "" {
		return nil, config.ErrMissingAPIKey
	}
	return m.GetStatus(ctx, StatusOptions{APIKey: apiKey, ForceRefresh: true})
}

// StartMonitoring launches a polling controller for the resolved key. The
// caller owns the controller and stops it via Stop or context cancellation.
func (m *Manager) StartMonitoring(ctx context.Context, opts MonitorOptions) (*monitor.Controller, error) {
	apiKey, keyName, err := m.resolveKey(opts.StatusOptions)
	if err != nil {
		return nil, err
	}

	check := func(ctx context.Context) (*models.StatusSnapshot, error) {
		up, err := m.client.FetchStatus(ctx, apiKey, false)
		if err != nil {
			return nil, err
		}
		snap := quota.Estimate(apiKey, up)
		if snap.DailyLimit.Limit != nil {
			tracked := m.tracker.QuotaInfo(*snap.DailyLimit.Limit, keyName)
			quota.ApplyLocalOverlay(snap, tracked)
		}
		return snap, nil
	}

	controller := monitor.New(check, m.store, monitor.Options{
		Interval:       m.cfg.Interval,
		WarnThreshold:  m.cfg.WarnThreshold,
		AlertThreshold: m.cfg.AlertThreshold,
		APIKey:         apiKey,
		OnCheck:        opts.OnCheck,
		OnWarning:      opts.OnWarning,
		OnAlert:        opts.OnAlert,
	})

	if err := controller.Start(ctx); err != nil {
		return nil, err
	}
	return controller, nil
}

// GetHistory returns persisted status snapshots.
func (m *Manager) GetHistory(opts history.QueryOptions) ([]models.HistoryRecord, error) {
	return m.store.Query(opts)
}

// GetAlertHistory returns persisted threshold alerts.
func (m *Manager) GetAlertHistory(opts history.AlertQueryOptions) ([]models.AlertRecord, error) {
	return m.store.QueryAlerts(opts)
}

// GetStatistics aggregates history over a window.
func (m *Manager) GetStatistics(opts history.StatsOptions) (*models.HistoryStatistics, error) {
	return m.store.Statistics(opts)
}

// ClearHistory deletes matching history and alert records.
func (m *Manager) ClearHistory(opts history.ClearOptions) (int, error) {
	return m.store.Clear(opts)
}

// RecordRequest counts one request against the local daily tracker.
func (m *Manager) RecordRequest(apiKeyID, model string) error {
	return m.tracker.RecordRequest(apiKeyID, model)
}

// GetRequestStats summarizes locally tracked requests over the last days.
func (m *Manager) GetRequestStats(days int) models.RequestStats {
	return m.tracker.HistoryStats(days)
}

// GetTodayStats returns today's per-key and per-model breakdown.
func (m *Manager) GetTodayStats() models.DayStats {
	return m.tracker.TodayDetailedStats()
}

// ClearRequests resets the local request counter.
func (m *Manager) ClearRequests() error {
	return m.tracker.ClearAll()
}

// Keys returns the key store for key management commands.
func (m *Manager) Keys() *keys.Service {
	return m.keys
}

// Close releases the key store and history backend.
func (m *Manager) Close() error {
	var errs []error

	if err := m.keys.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.store.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
