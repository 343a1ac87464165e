package validation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/medforms/internal/domain/cds"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("validation session not found")

// Handle is the form-agnostic view of a Session.
type Handle interface {
	ID() string
	Kind() Kind
	Set(path string, value any) error
	Form() any
	SetContext(ctx cds.ProtocolContext) error
	Context() cds.ProtocolContext
	ValidateCompletely() bool
	State() State
	Progress() int
	FormStatus() FormStatus
	Clear()
	LastUsed() time.Time
	Close()
}

var (
	_ Handle = (*Session[struct{}])(nil)
)

// Registry holds open sessions and expires idle ones.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Handle
	ttl      time.Duration
	now      func() time.Time
	onRemove func(id string)
	logger   zerolog.Logger
}

// NewRegistry creates a registry whose sessions expire after ttl of
// inactivity. A ttl of zero disables expiry.
func NewRegistry(ttl time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]Handle),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
}

// OnRemove sets a callback run after a session is closed by Remove, Sweep
// or shutdown.
func (r *Registry) OnRemove(fn func(id string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = fn
}

func (r *Registry) closed(h Handle) {
	h.Close()
	r.mu.Lock()
	fn := r.onRemove
	r.mu.Unlock()
	if fn != nil {
		fn(h.ID())
	}
}

// Add registers h.
func (r *Registry) Add(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[h.ID()] = h
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return h, nil
}

// Remove closes and forgets the session with the given id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	h, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	r.closed(h)
	return nil
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes sessions idle for longer than the ttl and returns how many
// were removed.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)
	var expired []Handle
	r.mu.Lock()
	for id, h := range r.sessions {
		if h.LastUsed().Before(cutoff) {
			expired = append(expired, h)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()
	for _, h := range expired {
		r.closed(h)
		r.logger.Info().Str("session_id", h.ID()).Str("kind", string(h.Kind())).Msg("validation session expired")
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done, then closes every session.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]Handle)
	r.mu.Unlock()
	for _, h := range all {
		r.closed(h)
	}
}
