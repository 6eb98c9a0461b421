package drive

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Publisher publishes a manifest for the wallet's owner. Satisfied by
// ManifestService.
type Publisher interface {
	Publish(ctx context.Context, wallet Wallet) (string, error)
}

// ErrPublishInFlight is returned by ForceUpdate when a publish for the
// same owner is already running; the forced work is queued instead.
var ErrPublishInFlight = errors.New("manifest publish already in progress")

// SchedulerConfig is the batching policy for manifest updates.
type SchedulerConfig struct {
	// BatchDelay is the quiet period after the last scheduled update
	// before a manifest is published.
	BatchDelay time.Duration

	// ImmediateThreshold is the pending-update count that triggers an
	// immediate publish without waiting out the quiet period.
	ImmediateThreshold int

	// MaxBatchSize is an advisory cap. Oversized batches still publish as
	// one manifest; they are only logged.
	MaxBatchSize int
}

// DefaultSchedulerConfig returns the production batching policy.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BatchDelay:         10 * time.Second,
		ImmediateThreshold: 20,
		MaxBatchSize:       50,
	}
}

// Scheduler batches manifest updates per owner. Each owner moves through
// Idle -> Pending (accumulating a count behind a timer) -> Publishing.
// Publishes for one owner never overlap; a failed publish keeps its
// accumulated count so the next trigger retries it.
type Scheduler struct {
	publisher Publisher
	logger    Logger
	cfg       SchedulerConfig

	mu     sync.Mutex
	owners map[string]*ownerState
	wg     sync.WaitGroup
}

type ownerState struct {
	count      int
	timer      *time.Timer
	publishing bool
	wallet     Wallet // most recent authority for this owner
}

// NewScheduler creates a Scheduler. logger may be nil.
func NewScheduler(publisher Publisher, cfg SchedulerConfig, logger Logger) *Scheduler {
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = DefaultSchedulerConfig().BatchDelay
	}
	if cfg.ImmediateThreshold <= 0 {
		cfg.ImmediateThreshold = DefaultSchedulerConfig().ImmediateThreshold
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultSchedulerConfig().MaxBatchSize
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Scheduler{
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		owners:    map[string]*ownerState{},
	}
}

// ScheduleUpdate records one pending update for the wallet's owner and
// refreshes the quiet-period timer. Reaching the immediate threshold
// publishes right away. Never blocks: publishing happens on a background
// goroutine. Calls made while a publish is in flight accumulate and are
// flushed once it completes.
func (s *Scheduler) ScheduleUpdate(wallet Wallet) {
	owner := wallet.Address()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.owners[owner]
	if st == nil {
		st = &ownerState{}
		s.owners[owner] = st
	}
	st.wallet = wallet
	st.count++

	if st.publishing {
		// Reentrancy guard: accumulate behind the in-flight publish.
		s.logger.Debug("update queued behind in-flight publish",
			"owner", owner, "pending", st.count)
		return
	}

	if st.count >= s.cfg.ImmediateThreshold {
		s.startPublishLocked(owner, st)
		return
	}

	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(s.cfg.BatchDelay, func() { s.onTimer(owner) })
}

// ForceUpdate cancels any pending timer and publishes synchronously,
// bypassing batching. Returns ErrPublishInFlight if a publish for the
// owner is already running; the pending count survives for that publish's
// follow-up flush.
func (s *Scheduler) ForceUpdate(ctx context.Context, wallet Wallet) (string, error) {
	owner := wallet.Address()

	s.mu.Lock()
	st := s.owners[owner]
	if st == nil {
		st = &ownerState{}
		s.owners[owner] = st
	}
	st.wallet = wallet
	if st.publishing {
		s.mu.Unlock()
		return "", ErrPublishInFlight
	}
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	batch := st.count
	st.count = 0
	st.publishing = true
	s.mu.Unlock()

	id, err := s.publisher.Publish(ctx, wallet)
	s.finishPublish(owner, batch, err)
	return id, err
}

// PendingCount returns the owner's accumulated update count. Zero means
// Idle (or Publishing with nothing queued behind it).
func (s *Scheduler) PendingCount(ownerAddress string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.owners[ownerAddress]; st != nil {
		return st.count
	}
	return 0
}

// Wait blocks until all in-flight background publishes complete. Timers
// that have not fired are not waited for.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) onTimer(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.owners[owner]
	if st == nil || st.publishing || st.count == 0 {
		return
	}
	s.startPublishLocked(owner, st)
}

// startPublishLocked transitions the owner to Publishing and runs the
// publish on a background goroutine. Caller holds s.mu.
func (s *Scheduler) startPublishLocked(owner string, st *ownerState) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	batch := st.count
	st.count = 0
	st.publishing = true
	wallet := st.wallet

	if batch > s.cfg.MaxBatchSize {
		s.logger.Warn("batch exceeds advisory cap, publishing as one manifest",
			"owner", owner, "batch", batch, "cap", s.cfg.MaxBatchSize)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, err := s.publisher.Publish(context.Background(), wallet)
		s.finishPublish(owner, batch, err)
	}()
}

// finishPublish clears the Publishing flag. A failed publish restores its
// batch count so no pending work is lost; updates that arrived during the
// flight are re-armed for a follow-up flush.
func (s *Scheduler) finishPublish(owner string, batch int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.owners[owner]
	if st == nil {
		return
	}
	st.publishing = false

	failed := false
	if err != nil {
		if !errors.Is(err, ErrNothingToPublish) {
			failed = true
			st.count += batch
			s.logger.Warn("manifest publish failed, keeping pending work",
				"owner", owner, "pending", st.count, "error", err)
		}
	}

	if st.count == 0 {
		delete(s.owners, owner)
		return
	}

	// After a failure, retry only at timer cadence. Skipping the
	// immediate-threshold branch here keeps a down store from being
	// republished to in a tight loop.
	if st.count >= s.cfg.ImmediateThreshold && !failed {
		s.startPublishLocked(owner, st)
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(s.cfg.BatchDelay, func() { s.onTimer(owner) })
}
