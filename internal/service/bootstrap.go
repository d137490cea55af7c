package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/FooledKiwi/busstop-api/internal/metrics"
	"github.com/FooledKiwi/busstop-api/internal/storage"
	"go.uber.org/zap"
)

// Prompt is the yes/no question shown to the user when the stop dataset is
// empty at startup.
const Prompt = "No stop data is available. Fetch it now?"

// StopFetcher retrieves the initial stop dataset from a remote source.
type StopFetcher interface {
	FetchInitialStops(ctx context.Context) ([]storage.StopRecord, error)
}

// Confirmer answers the bootstrap prompt on behalf of the user.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmerFunc adapts a plain function to Confirmer.
type ConfirmerFunc func(ctx context.Context, prompt string) (bool, error)

// Confirm calls f.
func (f ConfirmerFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

var (
	// ErrBootstrapNotNeeded is returned when the stop dataset was not empty at
	// startup or a bootstrap already completed.
	ErrBootstrapNotNeeded = errors.New("bootstrap not needed")

	// ErrBootstrapInProgress is returned while a fetch is already running.
	ErrBootstrapInProgress = errors.New("bootstrap already in progress")

	// ErrBootstrapNotChecked is returned when Confirm or Decline is called
	// before Check.
	ErrBootstrapNotChecked = errors.New("bootstrap check has not run")

	// ErrEmptyDataset is wrapped in a FetchError when the provider answers
	// with no stops.
	ErrEmptyDataset = errors.New("provider returned no stops")
)

// FetchError reports that the remote bootstrap fetch failed. The local stop
// dataset is unchanged.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("bootstrap: fetch initial stops: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// BootstrapState is the lifecycle of the one-time bootstrap.
type BootstrapState string

const (
	StateUnchecked BootstrapState = "unchecked"
	StateNotNeeded BootstrapState = "not_needed"
	StatePending   BootstrapState = "pending"
	StateDeclined  BootstrapState = "declined"
	StateFetching  BootstrapState = "fetching"
	StateCompleted BootstrapState = "completed"
	StateFailed    BootstrapState = "failed"
)

// BootstrapStatus is a point-in-time view of the bootstrap for presentation.
type BootstrapStatus struct {
	Needed    bool
	State     BootstrapState
	Prompt    string // empty once the prompt can no longer be answered
	LastError string
	Inserted  int
}

// Bootstrapper decides once per process whether the stop dataset must be
// fetched, and runs the fetch when the user agrees.
//
// The fetch runs without holding any store lock, so favorites stay readable
// and writable while it is in flight. Nothing is retried automatically: after
// a failure or a decline the user has to confirm again.
type Bootstrapper struct {
	stops   storage.StopsRepository
	fetcher StopFetcher
	logger  *zap.Logger
	metrics *metrics.Collector

	mu       sync.Mutex
	state    BootstrapState
	needed   bool
	lastErr  error
	inserted int
}

// NewBootstrapper creates a Bootstrapper. m may be nil.
func NewBootstrapper(stops storage.StopsRepository, fetcher StopFetcher, logger *zap.Logger, m *metrics.Collector) *Bootstrapper {
	return &Bootstrapper{
		stops:   stops,
		fetcher: fetcher,
		logger:  logger.Named("bootstrap"),
		metrics: m,
		state:   StateUnchecked,
	}
}

// Check reports whether the stop dataset is empty. Only the first successful
// call touches the store; later calls return the same answer even if stops
// are deleted in the meantime.
func (b *Bootstrapper) Check(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateUnchecked {
		return b.needed, nil
	}

	n, err := b.stops.CountStops(ctx)
	if err != nil {
		return false, fmt.Errorf("bootstrap: Check: %w", err)
	}

	b.needed = n == 0
	if b.needed {
		b.state = StatePending
		b.logger.Info("stop dataset is empty, bootstrap prompt pending")
	} else {
		b.state = StateNotNeeded
		b.logger.Info("stop dataset present", zap.Int("stops", n))
	}
	return b.needed, nil
}

// NeedsBootstrap returns the answer computed by Check, or false if Check has
// not run yet. It turns false once a bootstrap completes.
func (b *Bootstrapper) NeedsBootstrap() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.needed
}

// Status returns the current bootstrap status.
func (b *Bootstrapper) Status() BootstrapStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := BootstrapStatus{
		Needed:   b.needed,
		State:    b.state,
		Inserted: b.inserted,
	}
	if b.state == StatePending || b.state == StateFailed || b.state == StateDeclined {
		st.Prompt = Prompt
	}
	if b.lastErr != nil {
		st.LastError = b.lastErr.Error()
	}
	return st
}

// Decline records a "no" answer. The service carries on with an empty stop
// dataset and nothing is scheduled.
func (b *Bootstrapper) Decline() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.answerableLocked(); err != nil {
		return err
	}

	b.state = StateDeclined
	b.metrics.ObserveBootstrap("declined")
	b.logger.Info("bootstrap declined, continuing without stop data")
	return nil
}

// Confirm records a "yes" answer: it fetches the initial dataset and writes it
// through InsertStops. It returns the number of stops inserted.
//
// Errors: *FetchError when the provider fails, *storage.PersistenceError
// (wrapped) when the insert fails, ErrBootstrapNotNeeded,
// ErrBootstrapInProgress or ErrBootstrapNotChecked for invalid states.
func (b *Bootstrapper) Confirm(ctx context.Context) (int, error) {
	b.mu.Lock()
	if err := b.answerableLocked(); err != nil {
		b.mu.Unlock()
		return 0, err
	}
	b.state = StateFetching
	b.lastErr = nil
	b.mu.Unlock()

	b.logger.Info("bootstrap confirmed, fetching stop dataset")

	records, err := b.fetcher.FetchInitialStops(ctx)
	if err == nil && len(records) == 0 {
		err = ErrEmptyDataset
	}
	if err != nil {
		ferr := &FetchError{Err: err}
		b.finish(StateFailed, ferr, 0)
		b.metrics.ObserveBootstrap("fetch_failed")
		b.logger.Warn("bootstrap fetch failed", zap.Error(err))
		return 0, ferr
	}

	n, err := b.stops.InsertStops(ctx, records)
	if err != nil {
		werr := fmt.Errorf("bootstrap: Confirm: %w", err)
		b.finish(StateFailed, werr, 0)
		b.metrics.ObserveBootstrap("insert_failed")
		b.logger.Error("bootstrap insert failed", zap.Int("records", len(records)), zap.Error(err))
		return 0, werr
	}

	b.finish(StateCompleted, nil, n)
	b.metrics.ObserveBootstrap("completed")
	b.metrics.AddStopsInserted(n)
	b.logger.Info("bootstrap completed", zap.Int("stops", n))
	return n, nil
}

// Resolve asks c the bootstrap prompt if a bootstrap is pending and acts on
// the answer. It is a no-op when no bootstrap is needed.
func (b *Bootstrapper) Resolve(ctx context.Context, c Confirmer) error {
	if b.Status().State != StatePending {
		return nil
	}

	ok, err := c.Confirm(ctx, Prompt)
	if err != nil {
		return fmt.Errorf("bootstrap: Resolve: %w", err)
	}
	if !ok {
		return b.Decline()
	}
	_, err = b.Confirm(ctx)
	return err
}

// answerableLocked reports whether the prompt can currently be answered.
// b.mu must be held.
func (b *Bootstrapper) answerableLocked() error {
	switch b.state {
	case StateUnchecked:
		return ErrBootstrapNotChecked
	case StateNotNeeded, StateCompleted:
		return ErrBootstrapNotNeeded
	case StateFetching:
		return ErrBootstrapInProgress
	}
	return nil
}

func (b *Bootstrapper) finish(state BootstrapState, err error, inserted int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
	b.lastErr = err
	b.inserted = inserted
	if state == StateCompleted {
		// The dataset is no longer empty.
		b.needed = false
	}
}
