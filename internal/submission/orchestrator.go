package submission

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-feedback/internal/clock/system"
	"github.com/JakeFAU/profile-feedback/internal/correlation"
	"github.com/JakeFAU/profile-feedback/internal/feedback"
	"github.com/JakeFAU/profile-feedback/internal/id/uuid"
	"github.com/JakeFAU/profile-feedback/internal/metrics"
	"github.com/JakeFAU/profile-feedback/internal/watch"
)

// Phase is the state of the submission state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseResolved   Phase = "resolved"
	PhaseSubmitting Phase = "submitting"
	PhaseRetrying   Phase = "retrying"
	PhaseFailed     Phase = "failed"
)

// State is a snapshot of the orchestrator.
type State struct {
	URL           string `json:"url,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	IsProcessing  bool   `json:"isProcessing"`
	RetryCount    int    `json:"retryCount"`
	Phase         Phase  `json:"phase"`
	Status        int    `json:"status,omitempty"`
	Message       string `json:"message,omitempty"`
	LastError     string `json:"lastError,omitempty"`
	Temporary     bool   `json:"temporary,omitempty"`
}

// Submitter performs one submission attempt.
type Submitter interface {
	Submit(ctx context.Context, url string, email *string) Result
}

// Orchestrator turns a profile URL into a correlation id: stored ids are
// reused, otherwise the URL is submitted and retried while the datastore is
// unavailable. Only the latest URL's outcome is ever applied, and snapshots
// are published under the lock that produced them.
type Orchestrator struct {
	base      context.Context
	submitter Submitter
	store     *correlation.Store
	clock     feedback.Clock
	policy    RetryPolicy
	logger    *zap.Logger

	mu     sync.Mutex
	state  State
	email  *string
	gen    uint64
	cancel context.CancelFunc
	timer  feedback.Timer

	watchers watch.Broadcaster[State]
}

// NewOrchestrator wires an Orchestrator. ctx bounds every submission it starts.
func NewOrchestrator(
	ctx context.Context,
	submitter Submitter,
	store *correlation.Store,
	clock feedback.Clock,
	policy RetryPolicy,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = correlation.NewStore(nil, nil, logger)
	}
	if clock == nil {
		clock = system.New()
	}
	return &Orchestrator{
		base:      ctx,
		submitter: submitter,
		store:     store,
		clock:     clock,
		policy:    policy,
		logger:    logger.Named("submission.orchestrator"),
		state:     State{Phase: PhaseIdle},
	}
}

// Resolve starts resolving url. Calling it again with the current URL is a
// no-op; a different URL abandons whatever was in flight.
func (o *Orchestrator) Resolve(url string, email *string) {
	o.mu.Lock()
	if url == o.state.URL && o.state.Phase != PhaseIdle {
		o.mu.Unlock()
		return
	}
	o.abortLocked()
	o.gen++
	o.email = copyString(email)

	switch {
	case url == "":
		o.state = State{Phase: PhaseIdle}
	default:
		if id, ok := o.store.CorrelationID(o.base, url); ok {
			o.store.SaveCurrentURL(o.base, url)
			o.state = State{URL: url, CorrelationID: id, Phase: PhaseResolved, Temporary: uuid.IsTemporary(id)}
			metrics.ObserveSubmission(metrics.SubmissionCached)
			o.logger.Debug("reusing stored correlation id", zap.String("url", url), zap.String("correlation_id", id))
		} else {
			o.startLocked(url)
		}
	}
	o.watchers.Publish(o.state)
	o.mu.Unlock()
}

// Retry restarts a failed submission for the current URL. It reports whether
// a new attempt was started.
func (o *Orchestrator) Retry() bool {
	o.mu.Lock()
	if o.state.Phase != PhaseFailed {
		o.mu.Unlock()
		return false
	}
	o.abortLocked()
	o.gen++
	o.startLocked(o.state.URL)
	o.watchers.Publish(o.state)
	o.mu.Unlock()
	return true
}

// State returns the current snapshot.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Subscribe delivers snapshots after every transition.
func (o *Orchestrator) Subscribe() (<-chan State, func()) {
	return o.watchers.Subscribe()
}

// Stop abandons in-flight work and pending retries.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.abortLocked()
	o.gen++
	if o.state.Phase == PhaseSubmitting || o.state.Phase == PhaseRetrying {
		o.state = State{URL: o.state.URL, Phase: PhaseIdle, RetryCount: o.state.RetryCount}
	}
	o.watchers.Publish(o.state)
	o.mu.Unlock()
}

// Close stops the orchestrator and ends all subscriptions.
func (o *Orchestrator) Close() {
	o.Stop()
	o.watchers.Close()
}

func (o *Orchestrator) startLocked(url string) {
	ctx, cancel := context.WithCancel(o.base)
	o.cancel = cancel
	o.state = State{URL: url, Phase: PhaseSubmitting, IsProcessing: true}
	gen, email := o.gen, o.email
	go o.attempt(ctx, gen, url, email, 0)
}

func (o *Orchestrator) abortLocked() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

func (o *Orchestrator) current(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return gen == o.gen
}

func (o *Orchestrator) attempt(ctx context.Context, gen uint64, url string, email *string, n int) {
	if !o.current(gen) {
		return
	}
	res := o.submitter.Submit(ctx, url, email)

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		o.logger.Debug("discarding result for superseded url", zap.String("url", url))
		return
	}
	log := o.logger.With(zap.String("url", url), zap.Int("attempt", n))
	lastErr := ""
	if res.Err != nil {
		lastErr = res.Err.Error()
	}

	switch {
	case res.CorrelationID != "":
		o.store.SaveCorrelationID(o.base, url, res.CorrelationID)
		o.store.CleanupStaleKeys(o.base, url)
		o.state = State{
			URL:           url,
			CorrelationID: res.CorrelationID,
			Phase:         PhaseResolved,
			RetryCount:    n,
			Status:        res.Status,
			Message:       res.Message,
			LastError:     lastErr,
			Temporary:     res.Temporary,
		}
		o.timer = nil
		if o.cancel != nil {
			o.cancel()
			o.cancel = nil
		}
		log.Info("correlation id resolved", zap.String("correlation_id", res.CorrelationID))

	case o.policy.ShouldRetry(res, n):
		delay := o.policy.Backoff(n)
		o.state = State{
			URL:          url,
			Phase:        PhaseRetrying,
			IsProcessing: true,
			RetryCount:   n + 1,
			Status:       res.Status,
			Message: fmt.Sprintf("Connection problem. Retrying in %s (%d/%d)...",
				delay, n+1, o.policy.MaxRetries()),
			LastError: lastErr,
		}
		o.timer = o.clock.AfterFunc(delay, func() { o.attempt(ctx, gen, url, email, n+1) })
		metrics.ObserveSubmissionRetry()
		log.Warn("datastore unavailable, retry scheduled", zap.Duration("delay", delay))

	default:
		o.state = State{
			URL:        url,
			Phase:      PhaseFailed,
			RetryCount: n,
			Status:     res.Status,
			Message:    res.Message,
			LastError:  lastErr,
		}
		o.timer = nil
		if o.cancel != nil {
			o.cancel()
			o.cancel = nil
		}
		log.Error("submission failed", zap.Int("status", res.Status), zap.String("error", lastErr))
	}
	o.watchers.Publish(o.state)
	o.mu.Unlock()
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
