// Package correlation remembers which datastore record belongs to which
// profile URL, across a durable and a session storage tier.
package correlation

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-feedback/internal/feedback"
)

// Storage keys.
const (
	RecordIDPrefix = "recordId_"
	CurrentURLKey  = "currentProfileUrl"
)

// Key returns the storage key holding the correlation id for url.
func Key(url string) string {
	return RecordIDPrefix + url
}

// Store reads and writes correlation ids. A nil tier is treated as absent.
// Tier failures are logged and otherwise ignored: a broken tier reads as empty.
type Store struct {
	durable   feedback.KV
	session   feedback.KV
	namespace string
	logger    *zap.Logger
}

// NewStore constructs a Store over the given tiers.
func NewStore(durable, session feedback.KV, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{durable: durable, session: session, logger: logger.Named("correlation")}
}

// WithNamespace returns a Store whose keys are prefixed with ns, isolating
// one client's keys from another's on shared tiers.
func (s *Store) WithNamespace(ns string) *Store {
	out := *s
	out.namespace = ns
	out.logger = s.logger.With(zap.String("namespace", ns))
	return &out
}

func (s *Store) tiers() []struct {
	name string
	kv   feedback.KV
} {
	return []struct {
		name string
		kv   feedback.KV
	}{{"durable", s.durable}, {"session", s.session}}
}

// SaveCorrelationID records id for url in both tiers and marks url as the
// current profile URL.
func (s *Store) SaveCorrelationID(ctx context.Context, url, id string) {
	if url == "" || id == "" {
		return
	}
	for _, t := range s.tiers() {
		if t.kv == nil {
			continue
		}
		if err := t.kv.Set(ctx, s.namespace+Key(url), id); err != nil {
			s.logger.Warn("save correlation id failed", zap.String("tier", t.name), zap.String("url", url), zap.Error(err))
		}
	}
	s.SaveCurrentURL(ctx, url)
}

// CorrelationID looks url up in the durable tier first, then the session tier.
func (s *Store) CorrelationID(ctx context.Context, url string) (string, bool) {
	if url == "" {
		return "", false
	}
	return s.lookup(ctx, Key(url))
}

// CurrentURL returns the most recently saved profile URL.
func (s *Store) CurrentURL(ctx context.Context) (string, bool) {
	return s.lookup(ctx, CurrentURLKey)
}

// SaveCurrentURL marks url as the current profile URL in the durable tier.
func (s *Store) SaveCurrentURL(ctx context.Context, url string) {
	if url == "" || s.durable == nil {
		return
	}
	if err := s.durable.Set(ctx, s.namespace+CurrentURLKey, url); err != nil {
		s.logger.Warn("save current url failed", zap.String("url", url), zap.Error(err))
	}
}

// CleanupStaleKeys removes every correlation entry except the one for
// currentURL from both tiers and returns how many were removed. An empty
// currentURL removes nothing.
func (s *Store) CleanupStaleKeys(ctx context.Context, currentURL string) int {
	if currentURL == "" {
		return 0
	}
	keep := s.namespace + Key(currentURL)
	prefix := s.namespace + RecordIDPrefix
	removed := 0
	for _, t := range s.tiers() {
		if t.kv == nil {
			continue
		}
		keys, err := t.kv.Keys(ctx, prefix)
		if err != nil {
			s.logger.Warn("list correlation keys failed", zap.String("tier", t.name), zap.Error(err))
			continue
		}
		for _, k := range keys {
			if k == keep || !strings.HasPrefix(k, prefix) {
				continue
			}
			if err := t.kv.Delete(ctx, k); err != nil {
				s.logger.Warn("delete stale key failed", zap.String("tier", t.name), zap.String("key", k), zap.Error(err))
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("removed stale correlation keys", zap.Int("count", removed), zap.String("url", currentURL))
	}
	return removed
}

func (s *Store) lookup(ctx context.Context, key string) (string, bool) {
	for _, t := range s.tiers() {
		if t.kv == nil {
			continue
		}
		v, ok, err := t.kv.Get(ctx, s.namespace+key)
		if err != nil {
			s.logger.Warn("read storage tier failed", zap.String("tier", t.name), zap.String("key", key), zap.Error(err))
			continue
		}
		if ok && v != "" {
			return v, true
		}
	}
	return "", false
}
