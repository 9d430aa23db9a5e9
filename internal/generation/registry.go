package generation

import (
	"sort"
	"sync"
	"time"

	"skkn-server/internal/domain"
	"skkn-server/internal/workflow"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry keeps the live sessions in memory.
type Registry struct {
	lib    *workflow.Library
	deps   Dependencies
	ttl    time.Duration
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewRegistry creates an empty registry. Sessions idle for longer than ttl
// are dropped by Sweep; a zero ttl keeps them forever.
func NewRegistry(lib *workflow.Library, deps Dependencies, ttl time.Duration) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	deps.Logger = logger
	return &Registry{
		lib:      lib,
		deps:     deps,
		ttl:      ttl,
		logger:   logger.Named("Registry"),
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Create builds a session for topic with the stages its flags enable.
func (r *Registry) Create(topic domain.TopicInfo) *Session {
	s := NewSession(topic, r.lib.Table(topic.Flags()), r.deps)
	r.mu.Lock()
	r.sessions[s.ID()] = s
	n := len(r.sessions)
	r.mu.Unlock()

	activeSessions.Set(float64(n))
	r.logger.Info("Session created",
		zap.String("sessionID", s.ID().String()),
		zap.String("topic", topic.ShortTitle(60)),
		zap.Bool("includeSolution4_5", topic.IncludeSolution45),
	)
	return s
}

// Get returns the session or domain.ErrSessionNotFound.
func (r *Registry) Get(id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// Delete cancels any running request and removes the session.
func (r *Registry) Delete(id uuid.UUID) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}

	activeSessions.Set(float64(n))
	s.Cancel()
	s.closeSubscribers()
	r.logger.Info("Session deleted", zap.String("sessionID", id.String()))
	return nil
}

// List returns the sessions, most recently active first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity().After(out[j].LastActivity())
	})
	return out
}

// Sweep removes idle sessions that are not streaming. It returns how many
// were removed.
func (r *Registry) Sweep(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	var expired []uuid.UUID
	r.mu.RLock()
	for id, s := range r.sessions {
		if !s.IsStreaming() && now.Sub(s.LastActivity()) > r.ttl {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, id := range expired {
		if err := r.Delete(id); err == nil {
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("Expired sessions removed", zap.Int("count", removed))
	}
	return removed
}

// CancelAll stops every in-flight request.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		s.Cancel()
	}
}
