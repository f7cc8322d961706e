// Package monitor drives check cycles: it walks the tracked products,
// fetches and extracts each one, diffs against stored state and emits
// notifications for real changes.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"restockbot/internal/detect"
	"restockbot/internal/extract"
	"restockbot/internal/metrics"
	"restockbot/internal/models"
	"restockbot/internal/notify"
	"restockbot/internal/store"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrCycleInProgress is returned when a cycle is requested while the
// previous one has not completed. Cycles never overlap.
var ErrCycleInProgress = errors.New("check cycle already in progress")

// Fetcher retrieves raw page content for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Extractor turns raw content into an observation.
type Extractor interface {
	Extract(content []byte, hints extract.Hints) (models.Observation, error)
}

// Config tunes cycle execution.
type Config struct {
	// Workers bounds concurrent per-product checks within a cycle.
	Workers int
	// CycleTimeout caps one full cycle. Products already updated when the
	// limit hits keep their updates; the rest record a failure.
	CycleTimeout time.Duration
	// NotifyFirstCheck sends the baseline-establishing notification for a
	// product's first successful check. Off by default.
	NotifyFirstCheck bool
}

// Outcome is the per-product result within a cycle.
type Outcome struct {
	Product     models.Product
	Observation models.Observation
	Err         error
	Changed     bool
	Reason      detect.Reason
}

// CycleResult aggregates one orchestrator run.
type CycleResult struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Outcomes  []Outcome
	Checked   int
	Changed   int
	Failed    int
}

// Monitor owns cycle execution. The store is injected, never global, so
// cycles can run against fixture stores in tests.
type Monitor struct {
	store     *store.Store
	fetcher   Fetcher
	extractor Extractor
	notifier  notify.Notifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cfg       Config

	running sync.Mutex
}

func New(st *store.Store, fetcher Fetcher, extractor Extractor, notifier notify.Notifier, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Monitor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Monitor{
		store:     st,
		fetcher:   fetcher,
		extractor: extractor,
		notifier:  notifier,
		logger:    logger,
		metrics:   m,
		cfg:       cfg,
	}
}

// Start runs cycles at the given interval until ctx is cancelled. The first
// cycle runs immediately.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	m.logger.Info("monitor started", "interval", interval.String())

	m.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return
		case <-ticker.C:
			m.runLogged(ctx)
		}
	}
}

func (m *Monitor) runLogged(ctx context.Context) {
	result, err := m.RunCycle(ctx)
	switch {
	case errors.Is(err, ErrCycleInProgress):
		m.logger.Warn("skipping cycle, previous one still running")
	case err != nil:
		m.logger.Error("check cycle failed", "error", err)
	default:
		m.logger.Info("check cycle complete",
			"cycle_id", result.ID,
			"checked", result.Checked,
			"changed", result.Changed,
			"failed", result.Failed,
			"duration", result.Duration.String(),
		)
	}
}

// RunCycle performs one full pass over the tracked products. Per-product
// fetch or extract failures are recorded on the product and do not abort the
// cycle; only store-level failures are fatal.
func (m *Monitor) RunCycle(ctx context.Context) (CycleResult, error) {
	if !m.running.TryLock() {
		return CycleResult{}, ErrCycleInProgress
	}
	defer m.running.Unlock()

	result := CycleResult{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	products, err := m.store.List()
	if err != nil {
		return CycleResult{}, err
	}
	m.metrics.ProductsTracked.Set(float64(len(products)))

	if m.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.CycleTimeout)
		defer cancel()
	}

	// Outcomes land at the product's list index, so the result keeps
	// insertion order regardless of which worker finished first. Each
	// product appears once, so no product is ever checked concurrently
	// with itself.
	result.Outcomes = make([]Outcome, len(products))
	g := &errgroup.Group{}
	g.SetLimit(m.cfg.Workers)
	for i, product := range products {
		i, product := i, product
		g.Go(func() error {
			result.Outcomes[i] = m.checkOne(ctx, product)
			return nil
		})
	}
	g.Wait()

	for _, outcome := range result.Outcomes {
		result.Checked++
		if outcome.Err != nil {
			result.Failed++
			continue
		}
		if outcome.Changed {
			result.Changed++
		}
	}

	result.Duration = time.Since(result.StartedAt)
	m.metrics.CyclesTotal.Inc()
	m.metrics.CycleDuration.Observe(result.Duration.Seconds())

	summary := notify.Summary{
		CycleID:   result.ID,
		Checked:   result.Checked,
		Changed:   result.Changed,
		Failed:    result.Failed,
		Duration:  result.Duration,
		Timestamp: time.Now().UTC(),
	}
	if err := m.notifier.NotifySummary(ctx, summary); err != nil {
		m.logger.Error("cycle summary delivery failed", "cycle_id", result.ID, "error", err)
	}

	return result, nil
}

// checkOne runs fetch, extract, detect and the store write for one product.
// Failures are folded into the product's last_error and the outcome.
func (m *Monitor) checkOne(ctx context.Context, product models.Product) Outcome {
	outcome := Outcome{Product: product}
	m.metrics.ChecksTotal.Inc()

	log := m.logger.With("product_id", product.ID, "url", product.URL)

	content, err := m.fetcher.Fetch(ctx, product.URL)
	if err != nil {
		log.Warn("fetch failed", "error", err)
		m.recordFailure(product.ID, err)
		outcome.Err = err
		return outcome
	}

	obs, err := m.extractor.Extract(content, extract.Hints{URL: product.URL, Name: product.Name})
	if err != nil {
		log.Warn("extraction failed", "error", err)
		m.recordFailure(product.ID, err)
		outcome.Err = err
		return outcome
	}
	outcome.Observation = obs

	detection := detect.Detect(product, obs)
	outcome.Changed = detection.Changed
	outcome.Reason = detection.Reason

	if err := m.store.Update(product.ID, obs); err != nil {
		// Likely removed mid-cycle; nothing to notify about.
		log.Warn("state update failed", "error", err)
		outcome.Err = err
		return outcome
	}

	if !detection.Changed {
		return outcome
	}
	m.metrics.ChangesTotal.Inc()

	if detection.Reason == detect.ReasonFirstCheck && !m.cfg.NotifyFirstCheck {
		log.Info("baseline established", "availability", string(obs.Availability))
		return outcome
	}

	event := notify.Event{
		ProductID:       product.ID,
		Name:            product.Name,
		URL:             product.URL,
		Reason:          detection.Reason,
		OldAvailability: product.Availability,
		NewAvailability: obs.Availability,
		OldPrice:        product.Price,
		NewPrice:        obs.Price,
		Timestamp:       time.Now().UTC(),
	}
	if err := m.notifier.Notify(ctx, event); err != nil {
		// Delivery is best-effort: log and move on.
		log.Error("notification delivery failed", "error", err)
		return outcome
	}
	m.metrics.NotificationsTotal.Inc()
	return outcome
}

func (m *Monitor) recordFailure(id int64, cause error) {
	m.metrics.FailuresTotal.Inc()
	if err := m.store.RecordError(id, cause.Error()); err != nil {
		m.logger.Error("recording check failure failed", "product_id", id, "error", err)
	}
}

// CheckProduct fetches and stores the current state of a single product,
// bypassing change notification. Used to establish the baseline right after
// an add and for on-demand single-product checks.
func (m *Monitor) CheckProduct(ctx context.Context, product models.Product) (models.Observation, error) {
	content, err := m.fetcher.Fetch(ctx, product.URL)
	if err != nil {
		m.recordFailure(product.ID, err)
		return models.Observation{}, err
	}
	obs, err := m.extractor.Extract(content, extract.Hints{URL: product.URL, Name: product.Name})
	if err != nil {
		m.recordFailure(product.ID, err)
		return models.Observation{}, err
	}
	if err := m.store.Update(product.ID, obs); err != nil {
		return models.Observation{}, err
	}
	return obs, nil
}
