package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"restockbot/internal/detect"
	"restockbot/internal/extract"
	"restockbot/internal/fetch"
	"restockbot/internal/metrics"
	"restockbot/internal/models"
	"restockbot/internal/notify"
	"restockbot/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

type stubFetcher struct {
	mu     sync.Mutex
	errs   map[string]error
	delay  time.Duration
	delays map[string]time.Duration
	calls  int
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	err := f.errs[url]
	delay := f.delay
	if d, ok := f.delays[url]; ok {
		delay = d
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &fetch.Error{Kind: fetch.KindTimeout, URL: url, Err: ctx.Err()}
		}
	}
	if err != nil {
		return nil, err
	}
	return []byte("<html>stub</html>"), nil
}

type stubExtractor struct {
	obs  map[string]models.Observation
	errs map[string]error
}

func (e *stubExtractor) Extract(_ []byte, hints extract.Hints) (models.Observation, error) {
	if err := e.errs[hints.URL]; err != nil {
		return models.Observation{}, err
	}
	obs, ok := e.obs[hints.URL]
	if !ok {
		return models.Observation{}, &extract.Error{Reason: extract.ReasonNoStrategy, URL: hints.URL}
	}
	obs.ObservedAt = time.Now().UTC()
	return obs, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	events    []notify.Event
	summaries []notify.Summary
	err       error
}

func (n *recordingNotifier) Notify(_ context.Context, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) NotifySummary(_ context.Context, summary notify.Summary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, summary)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "products.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestMonitor(st *store.Store, f Fetcher, e Extractor, n notify.Notifier, cfg Config) *Monitor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, f, e, n, logger, metrics.New(prometheus.NewRegistry()), cfg)
}

func price(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

// seedProduct adds a product and optionally stores a prior observation so it
// is no longer in the first-check state.
func seedProduct(t *testing.T, st *store.Store, url string, availability models.Availability, priceStr string) models.Product {
	t.Helper()
	p, err := st.Add(url, "")
	if err != nil {
		t.Fatalf("add %s: %v", url, err)
	}
	if availability != models.AvailabilityUnknown {
		obs := models.Observation{Availability: availability, ObservedAt: time.Now().UTC()}
		if priceStr != "" {
			obs.Price = price(priceStr)
		}
		if err := st.Update(p.ID, obs); err != nil {
			t.Fatalf("seed update: %v", err)
		}
	}
	p, err = st.Get(p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return p
}

func TestRunCycleDetectsRestock(t *testing.T) {
	st := newTestStore(t)
	url := "https://shop.example/matcha"
	seedProduct(t, st, url, models.AvailabilityOutOfStock, "19.99")

	notifier := &recordingNotifier{}
	mon := newTestMonitor(st,
		&stubFetcher{},
		&stubExtractor{obs: map[string]models.Observation{
			url: {Availability: models.AvailabilityInStock, Price: price("19.99")},
		}},
		notifier,
		Config{Workers: 2},
	)

	result, err := mon.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if result.Checked != 1 || result.Changed != 1 || result.Failed != 0 {
		t.Errorf("unexpected counts: %+v", result)
	}

	if len(notifier.events) != 1 {
		t.Fatalf("want 1 notification, got %d", len(notifier.events))
	}
	event := notifier.events[0]
	if event.Reason != detect.ReasonAvailabilityChanged {
		t.Errorf("want availability_changed, got %q", event.Reason)
	}
	if event.OldAvailability != models.AvailabilityOutOfStock || event.NewAvailability != models.AvailabilityInStock {
		t.Errorf("unexpected transition: %q -> %q", event.OldAvailability, event.NewAvailability)
	}

	got, err := st.List()
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Availability != models.AvailabilityInStock {
		t.Errorf("store not updated, availability %q", got[0].Availability)
	}
	if !got[0].Price.Decimal.Equal(decimal.RequireFromString("19.99")) {
		t.Errorf("price changed unexpectedly: %s", got[0].Price.Decimal)
	}

	if len(notifier.summaries) != 1 {
		t.Fatalf("want 1 summary, got %d", len(notifier.summaries))
	}
	if s := notifier.summaries[0]; s.Checked != 1 || s.Changed != 1 || s.CycleID == "" {
		t.Errorf("unexpected summary: %+v", s)
	}
}

func TestRunCycleSingleNotificationWhenBothChange(t *testing.T) {
	st := newTestStore(t)
	url := "https://shop.example/matcha"
	seedProduct(t, st, url, models.AvailabilityOutOfStock, "19.99")

	notifier := &recordingNotifier{}
	mon := newTestMonitor(st,
		&stubFetcher{},
		&stubExtractor{obs: map[string]models.Observation{
			url: {Availability: models.AvailabilityInStock, Price: price("24.99")},
		}},
		notifier,
		Config{},
	)

	if _, err := mon.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	if len(notifier.events) != 1 {
		t.Fatalf("want exactly 1 notification, got %d", len(notifier.events))
	}
	event := notifier.events[0]
	if event.Reason != detect.ReasonAvailabilityChanged {
		t.Errorf("availability must take priority, got %q", event.Reason)
	}
	// The single message still carries the new price.
	if !event.NewPrice.Valid || !event.NewPrice.Decimal.Equal(decimal.RequireFromString("24.99")) {
		t.Errorf("event missing new price: %+v", event.NewPrice)
	}
}

func TestRunCycleIsolatesFailures(t *testing.T) {
	st := newTestStore(t)
	badURL := "https://down.example/product"
	goodURL := "https://shop.example/matcha"
	seedProduct(t, st, badURL, models.AvailabilityInStock, "10.00")
	seedProduct(t, st, goodURL, models.AvailabilityOutOfStock, "")

	notifier := &recordingNotifier{}
	mon := newTestMonitor(st,
		&stubFetcher{errs: map[string]error{
			badURL: &fetch.Error{Kind: fetch.KindTimeout, URL: badURL, Err: context.DeadlineExceeded},
		}},
		&stubExtractor{obs: map[string]models.Observation{
			goodURL: {Availability: models.AvailabilityInStock},
		}},
		notifier,
		Config{Workers: 1},
	)

	result, err := mon.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("failure of one product must not abort the cycle: %v", err)
	}
	if result.Checked != 2 || result.Failed != 1 || result.Changed != 1 {
		t.Errorf("unexpected counts: checked=%d changed=%d failed=%d", result.Checked, result.Changed, result.Failed)
	}

	// Outcomes keep the product list order.
	if result.Outcomes[0].Product.URL != badURL || result.Outcomes[1].Product.URL != goodURL {
		t.Error("outcomes not in insertion order")
	}
	if result.Outcomes[0].Err == nil {
		t.Error("failed product outcome has no error")
	}

	products, err := st.List()
	if err != nil {
		t.Fatal(err)
	}
	failed := products[0]
	if failed.Availability != models.AvailabilityInStock {
		t.Errorf("failed check must not touch availability, got %q", failed.Availability)
	}
	if !failed.Price.Valid || !failed.Price.Decimal.Equal(decimal.RequireFromString("10")) {
		t.Errorf("failed check must not touch price, got %+v", failed.Price)
	}
	if failed.LastError == "" {
		t.Error("failed check must record last_error")
	}

	// Only the recovered product notifies.
	if len(notifier.events) != 1 || notifier.events[0].URL != goodURL {
		t.Fatalf("unexpected notifications: %+v", notifier.events)
	}
}

func TestRunCycleRecordsExtractionError(t *testing.T) {
	st := newTestStore(t)
	url := "https://shop.example/matcha"
	seedProduct(t, st, url, models.AvailabilityInStock, "19.99")

	notifier := &recordingNotifier{}
	mon := newTestMonitor(st,
		&stubFetcher{},
		&stubExtractor{errs: map[string]error{
			url: &extract.Error{Reason: extract.ReasonAmbiguous, URL: url},
		}},
		notifier,
		Config{},
	)

	result, err := mon.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("want 1 failure, got %d", result.Failed)
	}
	if len(notifier.events) != 0 {
		t.Errorf("ambiguous extraction must not notify, got %+v", notifier.events)
	}

	got, err := st.List()
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Availability != models.AvailabilityInStock {
		t.Errorf("state must be unchanged, got %q", got[0].Availability)
	}
	if got[0].LastError == "" {
		t.Error("extraction failure must record last_error")
	}
}

func TestRunCycleFirstCheckSuppression(t *testing.T) {
	tests := []struct {
		name             string
		notifyFirstCheck bool
		wantEvents       int
	}{
		{name: "suppressed by default", wantEvents: 0},
		{name: "notified when configured", notifyFirstCheck: true, wantEvents: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newTestStore(t)
			url := "https://shop.example/new"
			if _, err := st.Add(url, ""); err != nil {
				t.Fatal(err)
			}

			notifier := &recordingNotifier{}
			mon := newTestMonitor(st,
				&stubFetcher{},
				&stubExtractor{obs: map[string]models.Observation{
					url: {Availability: models.AvailabilityInStock, Price: price("9.99")},
				}},
				notifier,
				Config{NotifyFirstCheck: tt.notifyFirstCheck},
			)

			result, err := mon.RunCycle(context.Background())
			if err != nil {
				t.Fatalf("run cycle: %v", err)
			}
			if result.Changed != 1 {
				t.Errorf("first check counts as a change, got %d", result.Changed)
			}
			if len(notifier.events) != tt.wantEvents {
				t.Fatalf("want %d events, got %d", tt.wantEvents, len(notifier.events))
			}

			// The baseline is established either way.
			got, err := st.List()
			if err != nil {
				t.Fatal(err)
			}
			if got[0].Availability != models.AvailabilityInStock {
				t.Errorf("baseline not stored, availability %q", got[0].Availability)
			}
		})
	}
}

func TestRunCycleTimeoutPreservesCompletedUpdates(t *testing.T) {
	st := newTestStore(t)
	fastURL := "https://shop.example/fast"
	slowURL := "https://slow.example/product"
	seedProduct(t, st, fastURL, models.AvailabilityOutOfStock, "")
	slow := seedProduct(t, st, slowURL, models.AvailabilityInStock, "10.00")

	notifier := &recordingNotifier{}
	mon := newTestMonitor(st,
		&stubFetcher{delays: map[string]time.Duration{slowURL: 400 * time.Millisecond}},
		&stubExtractor{obs: map[string]models.Observation{
			fastURL: {Availability: models.AvailabilityInStock},
			slowURL: {Availability: models.AvailabilityOutOfStock},
		}},
		notifier,
		Config{Workers: 2, CycleTimeout: 150 * time.Millisecond},
	)

	result, err := mon.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("timeout must not fail the cycle itself: %v", err)
	}
	if result.Checked != 2 || result.Changed != 1 || result.Failed != 1 {
		t.Errorf("unexpected counts: checked=%d changed=%d failed=%d", result.Checked, result.Changed, result.Failed)
	}

	products, err := st.List()
	if err != nil {
		t.Fatal(err)
	}

	// The fast product finished before the deadline; its update stands.
	fast := products[0]
	if fast.Availability != models.AvailabilityInStock {
		t.Errorf("completed update lost on timeout, availability %q", fast.Availability)
	}
	if fast.LastError != "" {
		t.Errorf("completed product must not carry an error, got %q", fast.LastError)
	}

	// The slow product was cut off mid-fetch; state stays, the failure is recorded.
	timedOut := products[1]
	if timedOut.Availability != slow.Availability {
		t.Errorf("timed-out product state changed: %q -> %q", slow.Availability, timedOut.Availability)
	}
	if !timedOut.Price.Valid || !timedOut.Price.Decimal.Equal(decimal.RequireFromString("10")) {
		t.Errorf("timed-out product price changed: %+v", timedOut.Price)
	}
	if timedOut.LastError == "" {
		t.Error("timed-out product must record last_error")
	}

	if len(notifier.events) != 1 || notifier.events[0].URL != fastURL {
		t.Fatalf("only the completed product notifies, got %+v", notifier.events)
	}
}

func TestRunCycleNonOverlap(t *testing.T) {
	st := newTestStore(t)
	url := "https://shop.example/slow"
	seedProduct(t, st, url, models.AvailabilityInStock, "")

	fetcher := &stubFetcher{delay: 300 * time.Millisecond}
	mon := newTestMonitor(st,
		fetcher,
		&stubExtractor{obs: map[string]models.Observation{
			url: {Availability: models.AvailabilityInStock},
		}},
		&recordingNotifier{},
		Config{},
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := mon.RunCycle(context.Background()); err != nil {
			t.Errorf("first cycle: %v", err)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := mon.RunCycle(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Errorf("want ErrCycleInProgress, got %v", err)
	}
	<-done

	// After completion a new cycle runs fine.
	if _, err := mon.RunCycle(context.Background()); err != nil {
		t.Errorf("cycle after completion: %v", err)
	}
}

func TestRunCycleNotifierFailureDoesNotAbort(t *testing.T) {
	st := newTestStore(t)
	url := "https://shop.example/matcha"
	seedProduct(t, st, url, models.AvailabilityOutOfStock, "")

	notifier := &recordingNotifier{err: errors.New("chat unreachable")}
	mon := newTestMonitor(st,
		&stubFetcher{},
		&stubExtractor{obs: map[string]models.Observation{
			url: {Availability: models.AvailabilityInStock},
		}},
		notifier,
		Config{},
	)

	result, err := mon.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("delivery failure must not fail the cycle: %v", err)
	}
	if result.Failed != 0 {
		t.Errorf("delivery failure is not a check failure, got %d", result.Failed)
	}

	got, err := st.List()
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Availability != models.AvailabilityInStock {
		t.Error("store update must land even when delivery fails")
	}
}

func TestCheckProductEstablishesBaselineWithoutNotifying(t *testing.T) {
	st := newTestStore(t)
	url := "https://shop.example/new"
	p, err := st.Add(url, "")
	if err != nil {
		t.Fatal(err)
	}

	notifier := &recordingNotifier{}
	mon := newTestMonitor(st,
		&stubFetcher{},
		&stubExtractor{obs: map[string]models.Observation{
			url: {Availability: models.AvailabilityInStock, Price: price("9.99")},
		}},
		notifier,
		Config{},
	)

	obs, err := mon.CheckProduct(context.Background(), p)
	if err != nil {
		t.Fatalf("check product: %v", err)
	}
	if obs.Availability != models.AvailabilityInStock {
		t.Errorf("want in_stock, got %q", obs.Availability)
	}
	if len(notifier.events) != 0 {
		t.Errorf("baseline check must not notify, got %+v", notifier.events)
	}

	got, err := st.Get(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Availability != models.AvailabilityInStock {
		t.Errorf("baseline not stored, got %q", got.Availability)
	}
}
