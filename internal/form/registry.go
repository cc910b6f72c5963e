package form

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultSessionTTL is how long an untouched form is kept.
const DefaultSessionTTL = 30 * time.Minute

// DefaultMaxSessions caps the number of live forms.
const DefaultMaxSessions = 1000

type registryEntry struct {
	controller *Controller
	lastSeen   time.Time
}

// Registry holds one Controller per key, created on first use and closed
// after it has been idle for longer than the TTL.
type Registry struct {
	opts  Options
	ttl   time.Duration
	limit int
	now   func() time.Time

	mu    sync.Mutex
	forms map[string]*registryEntry
}

// NewRegistry creates a registry whose controllers share opts. All
// controllers use the same preview store.
func NewRegistry(opts Options, ttl time.Duration) *Registry {
	if opts.Previews == nil {
		opts.Previews = NewPreviewStore()
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Registry{
		opts:  opts,
		ttl:   ttl,
		limit: DefaultMaxSessions,
		now:   time.Now,
		forms: make(map[string]*registryEntry),
	}
}

// Previews returns the shared preview store.
func (r *Registry) Previews() *PreviewStore {
	return r.opts.Previews
}

// SetMaxSessions changes the session cap. When a new form would exceed it,
// the least recently used form is closed. n <= 0 restores the default.
func (r *Registry) SetMaxSessions(n int) {
	if n <= 0 {
		n = DefaultMaxSessions
	}
	r.mu.Lock()
	r.limit = n
	r.mu.Unlock()
}

// Get returns the controller for key, creating it if needed, and marks it
// as active.
func (r *Registry) Get(key string) *Controller {
	r.mu.Lock()

	if e, ok := r.forms[key]; ok {
		e.lastSeen = r.now()
		r.mu.Unlock()
		return e.controller
	}

	limit := r.limit
	var evicted []*Controller
	for len(r.forms) >= limit {
		evicted = append(evicted, r.evictOldestLocked())
	}

	c := NewController(key, r.opts)
	r.forms[key] = &registryEntry{controller: c, lastSeen: r.now()}
	r.mu.Unlock()

	for _, old := range evicted {
		old.Close()
	}
	if len(evicted) > 0 {
		log.Warn().Int("count", len(evicted)).Int("limit", limit).Msg("session limit reached, evicted oldest forms")
	}
	log.Info().Str("form", key).Msg("new form session created")
	return c
}

func (r *Registry) evictOldestLocked() *Controller {
	var (
		oldestKey string
		oldest    *registryEntry
	)
	for key, e := range r.forms {
		if oldest == nil || e.lastSeen.Before(oldest.lastSeen) {
			oldestKey, oldest = key, e
		}
	}
	delete(r.forms, oldestKey)
	return oldest.controller
}

// Lookup returns the controller for key without creating one.
func (r *Registry) Lookup(key string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.forms[key]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.controller, true
}

// Len returns the number of live controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.forms)
}

// Sweep closes controllers idle for longer than the TTL and returns how
// many were closed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var expired []*Controller
	for key, e := range r.forms {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, e.controller)
			delete(r.forms, key)
		}
	}
	r.mu.Unlock()

	// Close outside the lock; Close waits for in-flight estimates
	for _, c := range expired {
		c.Close()
	}
	if len(expired) > 0 {
		log.Info().Int("count", len(expired)).Msg("expired idle form sessions")
	}
	return len(expired)
}

// Run sweeps periodically until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	interval := r.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Shutdown closes all controllers.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	controllers := make([]*Controller, 0, len(r.forms))
	for key, e := range r.forms {
		controllers = append(controllers, e.controller)
		delete(r.forms, key)
	}
	r.mu.Unlock()

	// Stop all workers (outside the lock to avoid blocking)
	for _, c := range controllers {
		c.Close()
	}
	log.Info().Int("count", len(controllers)).Msg("stopped all form sessions")
}
