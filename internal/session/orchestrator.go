// Package session composes submission and polling into the status a view
// renders for one profile URL at a time.
package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-feedback/internal/correlation"
	"github.com/JakeFAU/profile-feedback/internal/feedback"
	"github.com/JakeFAU/profile-feedback/internal/polling"
	"github.com/JakeFAU/profile-feedback/internal/results"
	"github.com/JakeFAU/profile-feedback/internal/submission"
	"github.com/JakeFAU/profile-feedback/internal/watch"
)

// Status messages.
const (
	MessageNoURL        = "No profile URL submitted."
	MessageComplete     = "Analysis complete."
	MessageFetchFailed  = "An error occurred while processing the profile data."
	MessageInsufficient = "The analysis has not produced enough data yet. Please try again in a few moments."
)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Submitter submission.Submitter
	Store     *correlation.Store
	Fetcher   *results.Fetcher
	Clock     feedback.Clock
	Retry     submission.RetryPolicy
	Schedule  polling.Schedule
	Logger    *zap.Logger
}

// Orchestrator owns one submission state machine, one polling engine and the
// in-memory channel through which results can be delivered directly.
type Orchestrator struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	submission *submission.Orchestrator
	polling    *polling.Engine

	mu        sync.Mutex
	url       string
	pollingID string
	delivered map[string]feedback.Record
	closed    bool

	watchers watch.Broadcaster[feedback.Status]
	done     chan struct{}
}

// New wires an Orchestrator. It lives until Close or until ctx ends.
func New(ctx context.Context, deps Deps) (*Orchestrator, error) {
	if deps.Submitter == nil || deps.Fetcher == nil {
		return nil, errors.New("session requires a submitter and a fetcher")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	o := &Orchestrator{
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.Named("session"),
		delivered: make(map[string]feedback.Record),
		done:      make(chan struct{}),
	}
	o.submission = submission.NewOrchestrator(ctx, deps.Submitter, deps.Store, deps.Clock, deps.Retry, logger)
	o.polling = polling.NewEngine(deps.Fetcher.WithInbox(o), deps.Clock, deps.Schedule, logger)

	subCh, _ := o.submission.Subscribe()
	pollCh, _ := o.polling.Subscribe()
	go o.loop(subCh, pollCh)
	return o, nil
}

// SetURL re-keys the pipeline to url. The same URL again is a no-op; an
// empty URL resets to the idle state.
func (o *Orchestrator) SetURL(url string, email *string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || url == o.url {
		return
	}
	o.logger.Info("profile url changed", zap.String("url", url))
	o.url = url
	o.pollingID = ""
	for k := range o.delivered {
		if k != url {
			delete(o.delivered, k)
		}
	}
	o.polling.Reset()
	o.submission.Resolve(url, email)
}

// URL returns the current profile URL.
func (o *Orchestrator) URL() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.url
}

// Retry restarts whichever stage ended without a result: a failed submission,
// or a polling session that ran out of attempts. It reports whether anything
// was restarted.
func (o *Orchestrator) Retry() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.url == "" {
		return false
	}
	if o.submission.Retry() {
		return true
	}
	sub := o.submission.State()
	if sub.Phase != submission.PhaseResolved || o.polling.Active() || o.polling.State().DataReceived {
		return false
	}
	o.pollingID = sub.CorrelationID
	o.polling.Start(o.ctx, sub.CorrelationID)
	return true
}

// Deliver hands a record for url to the pipeline without going through the
// datastore. Records for any other URL are ignored. Polling restarts at once
// so the record is picked up without waiting for the next tick.
func (o *Orchestrator) Deliver(url string, rec feedback.Record) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || url == "" || url != o.url {
		return false
	}
	o.delivered[url] = rec.Clone()
	if o.pollingID != "" && !o.polling.State().DataReceived {
		o.polling.Start(o.ctx, o.pollingID)
	}
	return true
}

// Lookup implements results.Inbox for the session's current correlation id.
func (o *Orchestrator) Lookup(id string) (feedback.Record, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if id == "" || id != o.pollingID {
		return feedback.Record{}, false
	}
	rec, ok := o.delivered[o.url]
	if !ok {
		return feedback.Record{}, false
	}
	return rec.Clone(), true
}

// Status returns the presentation contract for the current URL.
func (o *Orchestrator) Status() feedback.Status {
	o.mu.Lock()
	url := o.url
	o.mu.Unlock()
	return compose(url, o.submission.State(), o.polling.State())
}

// Subscribe delivers a fresh Status after every change.
func (o *Orchestrator) Subscribe() (<-chan feedback.Status, func()) {
	return o.watchers.Subscribe()
}

// Close cancels all pending work and ends subscriptions.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.submission.Close()
	o.polling.Close()
	o.cancel()
	<-o.done
	o.watchers.Close()
}

func (o *Orchestrator) loop(subCh <-chan submission.State, pollCh <-chan feedback.PollingState) {
	defer close(o.done)
	for subCh != nil || pollCh != nil {
		select {
		case _, ok := <-subCh:
			if !ok {
				subCh = nil
				continue
			}
			o.onSubmission()
		case _, ok := <-pollCh:
			if !ok {
				pollCh = nil
				continue
			}
		}
		o.watchers.Publish(o.Status())
	}
}

// onSubmission starts polling once the current URL has a correlation id.
func (o *Orchestrator) onSubmission() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	sub := o.submission.State()
	if sub.URL != o.url || sub.Phase != submission.PhaseResolved || sub.CorrelationID == "" {
		return
	}
	if sub.CorrelationID == o.pollingID {
		return
	}
	o.pollingID = sub.CorrelationID
	o.logger.Debug("starting polling", zap.String("url", o.url), zap.String("correlation_id", sub.CorrelationID))
	o.polling.Start(o.ctx, sub.CorrelationID)
}

func compose(url string, sub submission.State, ps feedback.PollingState) feedback.Status {
	st := feedback.Status{URL: url, RetryCount: ps.RetryCount}
	switch {
	case ps.EndpointStatus != 0:
		v := ps.EndpointStatus
		st.EndpointStatus = &v
	case sub.Status != 0:
		v := sub.Status
		st.EndpointStatus = &v
	}

	switch {
	case url == "":
		st.Message = MessageNoURL
	case sub.Phase == submission.PhaseFailed:
		st.IsError = true
		st.Message = sub.Message
	case sub.Phase != submission.PhaseResolved:
		st.IsLoading = true
		st.Message = sub.Message
	default:
		st.IsLoading = sub.IsProcessing || ps.Loading
		st.IsError = ps.Error
		st.DataReceived = ps.DataReceived
		st.Profile = ps.Profile
		switch {
		case ps.DataReceived:
			st.Message = MessageComplete
		case ps.Error:
			st.Message = MessageFetchFailed
		case !ps.Loading:
			st.Message = MessageInsufficient
		default:
			st.Message = sub.Message
		}
	}
	st.View = st.Resolve()
	return st
}
