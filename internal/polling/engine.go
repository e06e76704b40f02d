package polling

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-feedback/internal/clock/system"
	"github.com/JakeFAU/profile-feedback/internal/feedback"
	"github.com/JakeFAU/profile-feedback/internal/metrics"
	"github.com/JakeFAU/profile-feedback/internal/results"
	"github.com/JakeFAU/profile-feedback/internal/watch"
)

// Fetcher performs one read attempt.
type Fetcher interface {
	Fetch(ctx context.Context, id string) results.Outcome
}

// Engine runs at most one polling session at a time. Attempts are strictly
// sequential: the next one is scheduled only after the previous fetch returns.
// Snapshots are published under the engine lock, so subscribers observe
// states in the order they were taken.
type Engine struct {
	fetcher  Fetcher
	clock    feedback.Clock
	schedule Schedule
	logger   *zap.Logger

	mu     sync.Mutex
	state  feedback.PollingState
	token  uint64
	active bool
	cancel context.CancelFunc
	timer  feedback.Timer

	watchers watch.Broadcaster[feedback.PollingState]
}

// NewEngine wires an Engine. clock defaults to the wall clock.
func NewEngine(fetcher Fetcher, clock feedback.Clock, schedule Schedule, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		fetcher:  fetcher,
		clock:    clock,
		schedule: schedule,
		logger:   logger.Named("polling"),
		state:    feedback.InitialPollingState(),
	}
}

// Start cancels any running session, resets the state and polls id. The
// returned function cancels this session only; calling it again, or after a
// newer Start, does nothing.
func (e *Engine) Start(ctx context.Context, id string) (cancel func()) {
	e.mu.Lock()
	e.stopLocked()
	e.state = feedback.InitialPollingState()
	if id == "" {
		e.watchers.Publish(e.state)
		e.mu.Unlock()
		return func() {}
	}
	e.token++
	token := e.token
	sctx, cancelCtx := context.WithCancel(ctx)
	e.cancel = cancelCtx
	e.active = true
	e.watchers.Publish(e.state)
	e.mu.Unlock()

	e.logger.Debug("polling started", zap.String("correlation_id", id), zap.Int("max_attempts", e.schedule.MaxAttempts()))
	go e.attempt(sctx, token, id, 0)
	return func() { e.cancelSession(token) }
}

// Stop cancels the running session without touching the observable state.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

// Reset stops polling and returns to the initial state.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.stopLocked()
	e.state = feedback.InitialPollingState()
	e.watchers.Publish(e.state)
	e.mu.Unlock()
}

// Active reports whether a session is still polling.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// State returns the current snapshot.
func (e *Engine) State() feedback.PollingState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe delivers snapshots after every change.
func (e *Engine) Subscribe() (<-chan feedback.PollingState, func()) {
	return e.watchers.Subscribe()
}

// Close stops polling and ends all subscriptions.
func (e *Engine) Close() {
	e.Stop()
	e.watchers.Close()
}

func (e *Engine) cancelSession(token uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if token == e.token {
		e.stopLocked()
	}
}

func (e *Engine) stopLocked() {
	if e.active {
		metrics.ObservePollingOutcome(metrics.PollingCanceled)
	}
	e.finishLocked()
	e.token++
}

func (e *Engine) finishLocked() {
	e.active = false
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *Engine) live(token uint64) bool {
	return e.active && token == e.token
}

func (e *Engine) attempt(ctx context.Context, token uint64, id string, index int) {
	e.mu.Lock()
	if !e.live(token) {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	e.state.RetryCount = index
	e.watchers.Publish(e.state)
	e.mu.Unlock()

	out := e.fetcher.Fetch(ctx, id)

	e.mu.Lock()
	if !e.live(token) || ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	log := e.logger.With(zap.String("correlation_id", id), zap.Int("attempt", index))
	if out.RawStatus != 0 {
		e.state.EndpointStatus = out.RawStatus
	}
	final := index+1 >= e.schedule.MaxAttempts()

	switch {
	case out.DataReceived && out.Profile != nil:
		metrics.ObservePollAttempt(metrics.PollReceived)
		e.state.Profile = out.Profile
		e.state.DataReceived = true
		e.state.Loading = false
		e.state.Error = false
		e.finishLocked()
		metrics.ObservePollingOutcome(metrics.PollingReceived)
		log.Info("feedback received")

	case final && out.Hard:
		metrics.ObservePollAttempt(metrics.PollError)
		e.state.Loading = false
		e.state.Error = true
		e.finishLocked()
		metrics.ObservePollingOutcome(metrics.PollingError)
		log.Error("polling failed on final attempt", zap.Error(out.Err))

	case final:
		e.observeMiss(out)
		e.state.Loading = false
		e.state.DataReceived = false
		e.finishLocked()
		metrics.ObservePollingOutcome(metrics.PollingTimeout)
		log.Info("polling budget exhausted without complete feedback")

	default:
		e.observeMiss(out)
		next := index + 1
		delay := e.schedule.Delay(next)
		e.timer = e.clock.AfterFunc(delay, func() { e.attempt(ctx, token, id, next) })
		log.Debug("feedback not ready", zap.Duration("next_in", delay), zap.Error(out.Err))
	}
	e.watchers.Publish(e.state)
	e.mu.Unlock()
}

func (e *Engine) observeMiss(out results.Outcome) {
	if out.Err != nil {
		metrics.ObservePollAttempt(metrics.PollError)
		return
	}
	metrics.ObservePollAttempt(metrics.PollNoData)
}
