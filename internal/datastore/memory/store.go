// Package memory is an in-process feedback datastore used by tests and demo
// runs. Apply plays the part of the external analysis pipeline.
package memory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/profile-feedback/internal/feedback"
)

// Store keeps records in a map keyed by id.
type Store struct {
	mu      sync.RWMutex
	records map[string]feedback.Record
	ids     feedback.IDGenerator
	now     func() time.Time

	insertErr error
	selectErr error
}

// New constructs a Store. ids defaults to sequential numbers.
func New(ids feedback.IDGenerator, now func() time.Time) *Store {
	if ids == nil {
		ids = &sequence{}
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{records: make(map[string]feedback.Record), ids: ids, now: now}
}

// Insert creates an empty record for url.
func (s *Store) Insert(_ context.Context, url string, email *string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return "", s.insertErr
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate record id: %w", err)
	}
	rec := feedback.Record{ID: id, URL: url, CreatedAt: s.now()}
	if email != nil {
		e := *email
		rec.Email = &e
	}
	s.records[id] = rec
	return id, nil
}

// SelectByID returns a copy of the record.
func (s *Store) SelectByID(_ context.Context, id string) (feedback.Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selectErr != nil {
		return feedback.Record{}, 0, s.selectErr
	}
	rec, ok := s.records[id]
	if !ok {
		return feedback.Record{}, http.StatusNotFound, feedback.ErrNotFound
	}
	return rec.Clone(), http.StatusOK, nil
}

// Apply fills one section of an existing record.
func (s *Store) Apply(id string, section feedback.Section, text string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return feedback.ErrNotFound
	}
	s.records[id] = rec.WithSection(section, feedback.SectionFeedback{Text: text, Score: feedback.Score(score)})
	return nil
}

// FailInserts makes subsequent inserts return err; nil restores normal behaviour.
func (s *Store) FailInserts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertErr = err
}

// FailSelects makes subsequent reads return err; nil restores normal behaviour.
func (s *Store) FailSelects(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectErr = err
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

type sequence struct {
	mu sync.Mutex
	n  int
}

func (q *sequence) NewID() (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.n++
	return fmt.Sprintf("%d", q.n), nil
}
