package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-feedback/internal/clock/system"
	"github.com/JakeFAU/profile-feedback/internal/feedback"
	"github.com/JakeFAU/profile-feedback/internal/metrics"
)

// DefaultIdleTTL is how long an untouched session survives a sweep.
const DefaultIdleTTL = 30 * time.Minute

// ErrRegistryClosed is returned by Open after Close.
var ErrRegistryClosed = errors.New("session registry closed")

// Factory builds the orchestrator for a client.
type Factory func(ctx context.Context, clientID string) (*Orchestrator, error)

type entry struct {
	orch     *Orchestrator
	lastSeen time.Time
}

// Registry keeps one Orchestrator per client id and evicts idle ones.
type Registry struct {
	factory Factory
	ttl     time.Duration
	clock   feedback.Clock
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewRegistry wires a Registry. A non-positive ttl uses DefaultIdleTTL.
func NewRegistry(factory Factory, ttl time.Duration, clock feedback.Clock, logger *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factory: factory,
		ttl:     ttl,
		clock:   clock,
		logger:  logger.Named("session.registry"),
		entries: make(map[string]*entry),
	}
}

// Open returns the client's orchestrator, creating it on first use.
func (r *Registry) Open(ctx context.Context, clientID string) (*Orchestrator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if e, ok := r.entries[clientID]; ok {
		e.lastSeen = r.clock.Now()
		return e.orch, nil
	}
	orch, err := r.factory(ctx, clientID)
	if err != nil {
		return nil, err
	}
	r.entries[clientID] = &entry{orch: orch, lastSeen: r.clock.Now()}
	metrics.SetActiveSessions(len(r.entries))
	r.logger.Info("session opened", zap.String("client_id", clientID))
	return orch, nil
}

// Get returns the client's orchestrator if one exists.
func (r *Registry) Get(clientID string) (*Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[clientID]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.clock.Now()
	return e.orch, true
}

// Clients lists the open client ids in order.
func (r *Registry) Clients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Remove closes and forgets the client's session.
func (r *Registry) Remove(clientID string) bool {
	r.mu.Lock()
	e, ok := r.entries[clientID]
	if ok {
		delete(r.entries, clientID)
		metrics.SetActiveSessions(len(r.entries))
	}
	r.mu.Unlock()
	if ok {
		e.orch.Close()
	}
	return ok
}

// Sweep closes sessions idle for longer than the TTL and returns how many.
func (r *Registry) Sweep() int {
	cutoff := r.clock.Now().Add(-r.ttl)
	var idle []*Orchestrator
	r.mu.Lock()
	for id, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			idle = append(idle, e.orch)
			delete(r.entries, id)
		}
	}
	metrics.SetActiveSessions(len(r.entries))
	r.mu.Unlock()

	for _, o := range idle {
		o.Close()
	}
	if len(idle) > 0 {
		r.logger.Info("evicted idle sessions", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close closes every session. Open fails afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	all := make([]*Orchestrator, 0, len(r.entries))
	for _, e := range r.entries {
		all = append(all, e.orch)
	}
	r.entries = make(map[string]*entry)
	metrics.SetActiveSessions(0)
	r.mu.Unlock()

	for _, o := range all {
		o.Close()
	}
}
