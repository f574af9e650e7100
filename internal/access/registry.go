package access

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// IDGenerator produces session identifiers
type IDGenerator interface {
	Generate() (string, error)
}

// Registry the presentation layer's collection of open sessions, keyed by
// viewer and lecture
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byKey    map[string]string
	opts     Options
	ids      IDGenerator
	logger   *zap.Logger
}

// NewRegistry create an empty registry
func NewRegistry(opts Options, ids IDGenerator) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		sessions: make(map[string]*Session),
		byKey:    make(map[string]string),
		opts:     opts,
		ids:      ids,
		logger:   opts.Logger,
	}
}

func sessionKey(viewer, lectureID string) string {
	return viewer + "\x00" + lectureID
}

// Open returns the viewer's open session for lecture, creating it when the
// lecture is not expanded yet. created is false for an existing session.
func (r *Registry) Open(viewer string, lecture Lecture) (session *Session, created bool, err error) {
	key := sessionKey(viewer, lecture.ID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byKey[key]; ok {
		if existing, ok := r.sessions[id]; ok && !existing.Closed() {
			existing.Touch()
			return existing, false, nil
		}
		delete(r.byKey, key)
		delete(r.sessions, id)
	}

	id, err := r.ids.Generate()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate session id: %w", err)
	}
	session = NewSession(id, viewer, lecture, r.opts)
	r.sessions[id] = session
	r.byKey[key] = id
	metrics.Add(metricSessionsOpened, 1)
	r.logger.Debug("Session opened",
		zap.String("session.id", id),
		zap.String("lecture.id", lecture.ID),
		zap.Bool("media.available", session.View().MediaAvailable),
	)
	return session, true, nil
}

// Get returns an open session by ID and marks it active, so a viewer that
// keeps reading it is not swept
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	session.Touch()
	return session, nil
}

// Close discards a session and cancels its countdown
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if ok {
		r.removeLocked(session)
	}
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	session.Close()
	return nil
}

// Len number of open sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes sessions idle for longer than timeout, returns how many
func (r *Registry) Sweep(timeout time.Duration) int {
	now := r.opts.Clock.Now()

	r.mu.Lock()
	var stale []*Session
	for _, session := range r.sessions {
		if idle, ok := session.idleSince(now); ok && idle >= timeout {
			stale = append(stale, session)
			r.removeLocked(session)
		}
	}
	r.mu.Unlock()

	for _, session := range stale {
		session.Close()
	}
	if len(stale) > 0 {
		r.logger.Info("Swept idle sessions", zap.Int("session.count", len(stale)))
	}
	return len(stale)
}

// RunSweeper sweeps idle sessions every interval until ctx is done
func (r *Registry) RunSweeper(ctx context.Context, interval, timeout time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep(timeout)
		case <-ctx.Done():
			return nil
		}
	}
}

// Shutdown closes every open session
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		all = append(all, session)
	}
	r.sessions = make(map[string]*Session)
	r.byKey = make(map[string]string)
	r.mu.Unlock()

	for _, session := range all {
		session.Close()
	}
	r.logger.Info("Closed all sessions", zap.Int("session.count", len(all)))
}

func (r *Registry) removeLocked(session *Session) {
	delete(r.sessions, session.ID())
	key := sessionKey(session.Viewer(), session.LectureID())
	if r.byKey[key] == session.ID() {
		delete(r.byKey, key)
	}
}
