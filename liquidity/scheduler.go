package liquidity

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"
)

// defaultMaxConcurrentPolls bounds the number of ledger queries a single
// round of polling runs at once.
const defaultMaxConcurrentPolls = 8

// SchedulerConfig holds the dependencies of a Scheduler.
type SchedulerConfig struct {
	// Monitor performs the polls.
	Monitor *AccountMonitor

	// Accounts are polled, and split once funded, on every tick.
	Accounts []string

	// Ticker paces the polling rounds.
	Ticker ticker.Ticker

	// MaxConcurrentPolls bounds the queries of one round.
	MaxConcurrentPolls int
}

// Scheduler drives an AccountMonitor. On every tick it polls the configured
// accounts and checks the watched deposit addresses. An address stops being
// watched once funds were found at it.
type Scheduler struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg SchedulerConfig

	mu       sync.Mutex
	deposits map[string]struct{}

	// rounds counts the completed polling rounds.
	rounds atomic.Uint64

	cancel context.CancelFunc
	quit   chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.MaxConcurrentPolls <= 0 {
		cfg.MaxConcurrentPolls = defaultMaxConcurrentPolls
	}

	return &Scheduler{
		cfg:      cfg,
		deposits: make(map[string]struct{}),
		quit:     make(chan struct{}),
	}
}

// Start launches the polling goroutine.
func (s *Scheduler) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	log.Infof("Scheduler starting, polling accounts %v",
		s.cfg.Accounts)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.cfg.Ticker.Resume()

	s.wg.Add(1)
	go s.pollLoop(ctx)

	return nil
}

// Stop halts polling and waits for an ongoing round to return.
func (s *Scheduler) Stop() error {
	if !s.started.Load() || !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Scheduler shutting down...")
	defer log.Debug("Scheduler shutdown complete")

	close(s.quit)
	s.cancel()
	s.wg.Wait()

	s.cfg.Ticker.Stop()

	return nil
}

// WatchDeposit adds address to the set of deposit addresses checked on every
// tick.
func (s *Scheduler) WatchDeposit(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deposits[address] = struct{}{}
}

// UnwatchDeposit removes address from the watched deposit addresses.
func (s *Scheduler) UnwatchDeposit(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.deposits, address)
}

// WatchedDeposits returns the watched deposit addresses.
func (s *Scheduler) WatchedDeposits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	addrs := make([]string, 0, len(s.deposits))
	for addr := range s.deposits {
		addrs = append(addrs, addr)
	}

	return addrs
}

// Rounds returns the number of completed polling rounds.
func (s *Scheduler) Rounds() uint64 {
	return s.rounds.Load()
}

// pollLoop runs a polling round on every tick.
//
// NOTE: This MUST be run as a goroutine.
func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.cfg.Ticker.Ticks():
			if err := s.PollOnce(ctx); err != nil {
				log.Warnf("Polling round incomplete: %v", err)
			}

		case <-s.quit:
			return
		}
	}
}

// PollOnce polls every account and watched deposit address once, running the
// queries concurrently. It returns the first failure after all queries have
// finished.
func (s *Scheduler) PollOnce(ctx context.Context) error {
	defer s.rounds.Add(1)

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrentPolls)

	for _, account := range s.cfg.Accounts {
		account := account
		g.Go(func() error {
			_, _, err := s.cfg.Monitor.Poll(ctx, account)
			if err != nil {
				log.Errorf("Poll of %v failed: %v", account,
					err)
			}

			return err
		})
	}

	for _, address := range s.WatchedDeposits() {
		address := address
		g.Go(func() error {
			amt, err := s.cfg.Monitor.CheckDeposit(ctx, address)
			if err != nil {
				log.Errorf("Deposit check of %v failed: %v",
					address, err)

				return err
			}

			if amt > 0 {
				s.UnwatchDeposit(address)
			}

			return nil
		})
	}

	return g.Wait()
}
