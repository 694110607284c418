// Package session keeps the open debugging sessions of a process. Each
// session owns its own controller, engine and version store; the registry
// only hands them out by id and closes the least recently used one when it
// is full.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/willibrandon/ChronoCPU/pkg/replay"
	"github.com/willibrandon/ChronoCPU/pkg/state"
)

// DefaultMaxSessions is used when NewRegistry is given a size below 1.
const DefaultMaxSessions = 8

// ErrNotFound is returned for ids that were never opened, were closed or
// were evicted.
var ErrNotFound = errors.New("session not found")

// Registry maps session ids to controllers. The registry is safe for
// concurrent use; a controller it returns is not.
type Registry struct {
	mu     sync.Mutex
	cache  *lru.Cache
	opts   replay.Options
	logger *slog.Logger
}

// NewRegistry returns a registry holding at most size sessions. Sessions
// are opened with opts.
func NewRegistry(size int, opts replay.Options) (*Registry, error) {
	if size < 1 {
		size = DefaultMaxSessions
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{opts: opts, logger: logger}
	cache, err := lru.NewWithEvict(size, r.evicted)
	if err != nil {
		return nil, err
	}
	r.cache = cache
	return r, nil
}

func (r *Registry) evicted(key, value interface{}) {
	ctrl := value.(*replay.Controller)
	if err := ctrl.Close(); err != nil {
		r.logger.Warn("failed to close session", "session", key, "error", err)
	}
	r.logger.Info("session closed", "session", key)
}

// Open starts a session running p.
func (r *Registry) Open(p state.Program) (uuid.UUID, *replay.Controller, error) {
	id := uuid.New()
	opts := r.opts
	opts.Logger = r.logger.With("session", id.String())

	ctrl := replay.NewController(opts)
	if _, err := ctrl.LoadProgram(p); err != nil {
		ctrl.Close()
		return uuid.Nil, nil, err
	}
	r.add(id, ctrl)
	return id, ctrl, nil
}

// Attach registers an existing controller, such as a read-only recording.
func (r *Registry) Attach(ctrl *replay.Controller) uuid.UUID {
	id := uuid.New()
	r.add(id, ctrl)
	return id
}

func (r *Registry) add(id uuid.UUID, ctrl *replay.Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if evicted := r.cache.Add(id, ctrl); evicted {
		r.logger.Info("session limit reached, least recently used session evicted")
	}
	r.logger.Info("session opened", "session", id, "sessions", r.cache.Len())
}

// Get returns the controller of id and marks it recently used.
func (r *Registry) Get(id uuid.UUID) (*replay.Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return v.(*replay.Controller), nil
}

// Close closes and forgets the session id.
func (r *Registry) Close(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.cache.Remove(id) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// IDs returns the open session ids, least recently used first.
func (r *Registry) IDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.cache.Keys()
	ids := make([]uuid.UUID, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k.(uuid.UUID))
	}
	return ids
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len()
}

// CloseAll closes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Purge()
}
