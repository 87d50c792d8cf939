// Package monitor runs the periodic status polling loop, recording history
// and raising threshold alerts.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/j-veylop/openrouter-monitor/internal/history"
	"github.com/j-veylop/openrouter-monitor/internal/logger"
	"github.com/j-veylop/openrouter-monitor/internal/models"
)

var (
	// ErrAlreadyRunning reports that Start was called on a controller that
	// is not idle. A controller runs at most once.
	ErrAlreadyRunning = errors.New("monitor is already running")

	// ErrTooManyFailures reports that the loop gave up after consecutive
	// failed status checks.
	ErrTooManyFailures = errors.New("too many consecutive check failures")
)

const (
	// DefaultInterval is the polling period when none is configured.
	DefaultInterval = 60 * time.Second

	// DefaultWarnThreshold and DefaultAlertThreshold are usage percentages.
	DefaultWarnThreshold  = 80
	DefaultAlertThreshold = 95

	maxConsecutiveFailures = 5
	maxBackoff             = 5 * time.Minute
)

// State is the controller lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

// CheckFunc produces one status snapshot. The loop treats any error as a
// transient failure and retries with backoff.
type CheckFunc func(ctx context.Context) (*models.StatusSnapshot, error)

// Options configures a Controller. Zero values select defaults.
type Options struct {
	Interval       time.Duration
	WarnThreshold  int
	AlertThreshold int

	// APIKey is passed to the history store for hashing. It is never logged.
	APIKey string

	// OnCheck is invoked after every successful check.
	OnCheck func(*models.StatusSnapshot)

	// OnWarning is invoked on every cycle in the warning band. When nil,
	// warnings are delivered through OnAlert instead.
	OnWarning func(message string, threshold, actual int)

	// OnAlert is invoked on every cycle at or above the alert threshold.
	OnAlert func(alertType models.AlertType, message string, threshold, actual int)
}

// Controller drives the polling loop. History and alert recording are best
// effort: a store failure is logged and never interrupts polling.
type Controller struct {
	check CheckFunc
	store history.Store
	opts  Options

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	err    error

	done chan struct{}
}

// New creates an idle controller. store may be nil to disable recording.
func New(check CheckFunc, store history.Store, opts Options) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.WarnThreshold <= 0 {
		opts.WarnThreshold = DefaultWarnThreshold
	}
	if opts.AlertThreshold <= 0 {
		opts.AlertThreshold = DefaultAlertThreshold
	}

	return &Controller{
		check: check,
		store: store,
		opts:  opts,
		done:  make(chan struct{}),
	}
}

// Start launches the polling loop. The first check runs immediately.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return ErrAlreadyRunning
	}
	c.state = StateRunning

	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
	return nil
}

// Stop cancels the loop and waits for it to exit. Safe to call more than
// once and before Start.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = StateStopped
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	<-c.done
}

// Done is closed when the loop has exited, whether by Stop, context
// cancellation, or the failure ceiling.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Err reports why the loop exited. It is nil for a clean stop and
// ErrTooManyFailures when the failure ceiling was hit.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// CurrentState returns the lifecycle state.
func (c *Controller) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	failures := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.finish(nil)
			return
		case <-timer.C:
		}

		snap, err := c.check(ctx)

		// A check that completed after Stop is discarded.
		if ctx.Err() != nil {
			c.finish(nil)
			return
		}

		if err != nil {
			failures++
			logger.Warn("status check failed",
				"attempt", failures,
				"max", maxConsecutiveFailures,
				"error", err)
			if failures >= maxConsecutiveFailures {
				c.finish(ErrTooManyFailures)
				return
			}
			timer.Reset(c.backoff())
			continue
		}

		failures = 0
		c.evaluate(snap)
		timer.Reset(c.opts.Interval)
	}
}

// backoff is the retry delay after a failed check. Errors are usually
// upstream outages, so waiting longer than the normal interval avoids
// hammering a struggling API.
func (c *Controller) backoff() time.Duration {
	d := c.opts.Interval * 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// evaluate records the snapshot, raises threshold alerts, and invokes the
// check callback. Every cycle at or above a threshold alerts; there is no
// per-band latching, so sustained high usage alerts on each check.
func (c *Controller) evaluate(snap *models.StatusSnapshot) {
	if c.store != nil {
		if err := c.store.Record(c.opts.APIKey, snap); err != nil {
			logger.Warn("failed to record history", "error", err)
		}
	}

	pct := usagePercent(snap)
	level, threshold := c.classify(pct)

	if level != "" {
		message := fmt.Sprintf("usage at %d%% (threshold %d%%)", pct, threshold)
		logger.Info("usage threshold exceeded", "level", string(level), "usage", pct)

		if c.store != nil {
			if err := c.store.RecordAlert(c.opts.APIKey, level, message, threshold, pct); err != nil {
				logger.Warn("failed to record alert", "error", err)
			}
		}
		c.notify(level, message, threshold, pct)
	}

	if c.opts.OnCheck != nil {
		c.opts.OnCheck(snap)
	}
}

// notify routes a threshold event to the configured callbacks. Warnings
// prefer the dedicated OnWarning callback when one was provided.
func (c *Controller) notify(level models.AlertType, message string, threshold, actual int) {
	if level == models.AlertWarning && c.opts.OnWarning != nil {
		c.opts.OnWarning(message, threshold, actual)
		return
	}
	if c.opts.OnAlert != nil {
		c.opts.OnAlert(level, message, threshold, actual)
	}
}

// classify maps a usage percentage to an alert band. The alert threshold
// takes precedence so a single cycle never raises both.
func (c *Controller) classify(pct int) (models.AlertType, int) {
	switch {
	case pct >= c.opts.AlertThreshold:
		return models.AlertCritical, c.opts.AlertThreshold
	case pct >= c.opts.WarnThreshold:
		return models.AlertWarning, c.opts.WarnThreshold
	default:
		return "", 0
	}
}

func (c *Controller) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateStopped
	if c.err == nil {
		c.err = err
	}
}

// usagePercent is the percentage a polling cycle alerts on: the locally
// tracked daily quota when available, otherwise the derived health figure.
func usagePercent(snap *models.StatusSnapshot) int {
	if snap.DailyLimit.LocalTracked != nil {
		return snap.DailyLimit.LocalTracked.Percentage
	}
	return snap.Health.Percentage
}
