package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TaskResult is the outcome of processing one account: its daily check-in
// plus the account overview fetch.
type TaskResult struct {
	Account string
	SignIn  Outcome
	Index   *GenshinIndex
	Err     error
	Fatal   bool
}

// Scheduler fans a fleet of accounts out over a bounded worker pool. Accounts
// are independent; each gets its own TLS client and API client, so queries
// for different accounts run concurrently without shared mutable state.
type Scheduler struct {
	workerCount  int
	workChan     chan *Account
	resultsChan  chan TaskResult
	wg           sync.WaitGroup
	signer       Signer
	solver       GeetestSolver
	proxyManager *ProxyManager
	logger       Logger
	staggerDelay time.Duration
	cancel       context.CancelFunc
	fatalOnce    sync.Once
	stopped      atomic.Bool
}

// NewScheduler builds a scheduler. solver may be nil (challenges are then
// surfaced, not solved); proxyManager may be nil (direct connections).
func NewScheduler(workerCount int, signer Signer, solver GeetestSolver, proxyManager *ProxyManager, staggerDelay time.Duration, logger Logger) *Scheduler {
	return &Scheduler{
		workerCount:  workerCount,
		workChan:     make(chan *Account, workerCount*2),
		resultsChan:  make(chan TaskResult, workerCount*2),
		signer:       signer,
		solver:       solver,
		proxyManager: proxyManager,
		logger:       logger,
		staggerDelay: staggerDelay,
	}
}

func generateWorkerID() string {
	return uuid.New().String()[:8]
}

// Start launches the workers, staggered so a large fleet does not open all
// its TLS sessions in the same instant.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.runWorker(ctx, &prefixLogger{prefix: generateWorkerID(), base: s.logger})

		if s.staggerDelay > 0 && i < s.workerCount-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.staggerDelay):
			}
		}
	}
}

func (s *Scheduler) handleFatalError(err error) {
	s.fatalOnce.Do(func() {
		s.stopped.Store(true)
		s.logger.Log("FATAL ERROR: %v - stopping all workers", err)

		if s.cancel != nil {
			s.cancel()
		}

		select {
		case s.resultsChan <- TaskResult{Fatal: true, Err: err}:
		default:
		}
	})
}

func (s *Scheduler) isFatal(err error) bool {
	return IsFatalError(err) || ContainsFatalErrorString(err)
}

func (s *Scheduler) runWorker(ctx context.Context, logger Logger) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case acct, ok := <-s.workChan:
			if !ok {
				return
			}
			if s.stopped.Load() {
				return
			}

			result := s.processAccount(ctx, acct, logger)

			if result.Fatal {
				s.handleFatalError(result.Err)
				return
			}

			select {
			case s.resultsChan <- result:
			case <-ctx.Done():
				return
			}
		}
	}
}

// processAccount runs the per-account pipeline: discover the bound role,
// perform the daily check-in, then fetch the account overview.
func (s *Scheduler) processAccount(ctx context.Context, acct *Account, logger Logger) TaskResult {
	result := TaskResult{Account: acct.Name()}

	proxy := ""
	if s.proxyManager != nil {
		var idx int
		proxy, idx = s.proxyManager.Random()
		logger.Log("%s: using proxy %s", acct.Name(), s.proxyManager.DisplayAt(idx))
	}

	client, err := NewClient(nil, proxy)
	if err != nil {
		result.Err = err
		return result
	}

	api := NewAPIClient(client, s.signer, acct, logger)
	if s.solver != nil {
		api.SetOracle(NewGeetestOracle(api, s.solver, logger))
	}

	role, out, err := api.GenshinRole(ctx)
	if err != nil {
		result.Err = err
		return result
	}
	if role == nil {
		result.SignIn = out
		result.Fatal = s.isFatal(out.Err)
		result.Err = out.Err
		return result
	}

	result.SignIn, err = api.DailySign(ctx, role)
	if err != nil {
		result.Err = err
		return result
	}
	if s.isFatal(result.SignIn.Err) {
		result.Fatal = true
		result.Err = result.SignIn.Err
		return result
	}

	if result.SignIn.OK() {
		index, _, err := api.GenshinIndex(ctx, role)
		if err == nil {
			result.Index = index
		}
	}
	return result
}

// Submit queues an account for processing.
func (s *Scheduler) Submit(acct *Account) {
	s.workChan <- acct
}

// Results returns the channel task outcomes arrive on.
func (s *Scheduler) Results() <-chan TaskResult {
	return s.resultsChan
}

// Close shuts down the scheduler and waits for workers to finish.
func (s *Scheduler) Close() {
	close(s.workChan)
	s.wg.Wait()
	close(s.resultsChan)
}
