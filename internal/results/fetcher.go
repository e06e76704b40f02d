// Package results performs single reads of a record and decides whether it is
// complete enough to display.
package results

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-feedback/internal/feedback"
	"github.com/JakeFAU/profile-feedback/internal/id/uuid"
)

// Outcome is the result of one fetch.
type Outcome struct {
	Profile      *feedback.Profile
	DataReceived bool
	RawStatus    int
	Err          error
	// Hard marks errors that retrying will not fix, such as an undecodable row.
	Hard bool
}

// Inbox supplies records delivered out of band for a correlation id.
type Inbox interface {
	Lookup(id string) (feedback.Record, bool)
}

// Fetcher satisfies polling.Fetcher.
type Fetcher struct {
	store      feedback.Datastore
	normalizer feedback.Normalizer
	inbox      Inbox
	logger     *zap.Logger
}

// NewFetcher wires a Fetcher. inbox may be nil.
func NewFetcher(store feedback.Datastore, normalizer feedback.Normalizer, inbox Inbox, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{store: store, normalizer: normalizer, inbox: inbox, logger: logger.Named("results")}
}

// WithInbox returns a copy of f reading delivered records from inbox first.
func (f *Fetcher) WithInbox(inbox Inbox) *Fetcher {
	out := *f
	out.inbox = inbox
	return &out
}

// Fetch reads the record for id once. Incomplete and missing records are
// reported as "not yet", never as errors.
func (f *Fetcher) Fetch(ctx context.Context, id string) Outcome {
	log := f.logger.With(zap.String("correlation_id", id))

	if f.inbox != nil {
		if rec, ok := f.inbox.Lookup(id); ok && f.normalizer.Ready(rec) {
			log.Debug("using delivered record")
			return f.ready(rec, 0)
		}
	}
	if uuid.IsTemporary(id) {
		// Temporary ids were never written to the datastore.
		return Outcome{}
	}

	rec, status, err := f.store.SelectByID(ctx, id)
	switch {
	case errors.Is(err, feedback.ErrNotFound):
		log.Debug("record not visible yet", zap.Int("status", status))
		return Outcome{RawStatus: status}
	case errors.Is(err, feedback.ErrMalformedRecord):
		log.Warn("record could not be decoded", zap.Error(err))
		return Outcome{RawStatus: status, Err: err, Hard: true}
	case err != nil:
		log.Warn("record read failed", zap.Int("status", status), zap.Error(err))
		return Outcome{RawStatus: status, Err: err}
	}

	if !f.normalizer.Ready(rec) {
		log.Debug("record not complete yet", zap.Int("status", status))
		return Outcome{RawStatus: status}
	}
	return f.ready(rec, status)
}

func (f *Fetcher) ready(rec feedback.Record, status int) Outcome {
	p := f.normalizer.Normalize(rec, "")
	return Outcome{Profile: &p, DataReceived: true, RawStatus: status}
}
