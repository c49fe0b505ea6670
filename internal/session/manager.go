// Package session hosts one gesture recognizer and one performance engine
// per connected client and publishes what they produce to the websocket hub.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/310511/V-medithon-sub003/internal/gesture"
	"github.com/310511/V-medithon-sub003/internal/performance"
	"github.com/310511/V-medithon-sub003/internal/platform/websocket"
	"github.com/310511/V-medithon-sub003/internal/timeutil"
)

// ErrNotFound is returned for unknown or reaped session ids.
var ErrNotFound = errors.New("session not found")

// ErrClosed is returned by Create after the manager was closed.
var ErrClosed = errors.New("session manager closed")

// Default lifetimes used when Options leaves them zero.
const (
	DefaultIdleTTL       = 15 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Recorder receives session-level metrics.
type Recorder interface {
	GestureRecognized(kind string)
	RecommendationsChanged()
	SessionsActive(n int)
}

type nopRecorder struct{}

func (nopRecorder) GestureRecognized(string) {}
func (nopRecorder) RecommendationsChanged()  {}
func (nopRecorder) SessionsActive(int)       {}

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	Gesture        gesture.Config
	Haptics        bool
	MemoryInterval time.Duration
	IdleTTL        time.Duration
	SweepInterval  time.Duration
	Publisher      websocket.Publisher
	Metrics        Recorder
	Scheduler      timeutil.Scheduler
	Logger         zerolog.Logger
	// Now is the wall clock used for idle accounting.
	Now func() time.Time
}

// Manager owns every live session.
type Manager struct {
	opts   Options
	logger zerolog.Logger

	// ctx scopes every engine; cancelling it closes them all.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
	sweep    timeutil.Task
	closed   bool
}

// NewManager returns a manager with no sessions. Call Start to begin
// reaping idle sessions.
func NewManager(opts Options) *Manager {
	if opts.Gesture == (gesture.Config{}) {
		opts.Gesture = gesture.DefaultConfig()
	}
	if opts.MemoryInterval <= 0 {
		opts.MemoryInterval = performance.DefaultMemoryInterval
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Scheduler == nil {
		opts.Scheduler = timeutil.RealScheduler{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "session_manager").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Start schedules the idle sweep. It is a no-op when already started.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweep != nil || m.closed {
		return
	}
	m.sweep = m.opts.Scheduler.Every(m.opts.SweepInterval, func() { m.Sweep() })
	m.logger.Info().
		Dur("idle_ttl", m.opts.IdleTTL).
		Dur("sweep_interval", m.opts.SweepInterval).
		Msg("session sweeper started")
}

// Create starts a new session.
func (m *Manager) Create() (*Session, error) {
	now := m.opts.Now()
	s := &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		caps:      performance.NewReported(performance.Report{}),
		publisher: m.opts.Publisher,
		metrics:   m.opts.Metrics,
		lastSeen:  now,
	}
	s.logger = m.opts.Logger.With().Str("session_id", s.ID).Logger()

	gestureOpts := []gesture.Option{
		gesture.WithConfig(m.opts.Gesture),
		gesture.WithScheduler(m.opts.Scheduler),
		gesture.WithLogger(s.logger),
	}
	if m.opts.Haptics {
		gestureOpts = append(gestureOpts, gesture.WithHaptics(gesture.HapticsFunc(s.onPulse)))
	}
	s.recognizer = gesture.New(gesture.Handlers{OnGesture: s.onGesture}, gestureOpts...)
	s.engine = performance.NewEngine(s.caps,
		performance.WithScheduler(m.opts.Scheduler),
		performance.WithMemoryInterval(m.opts.MemoryInterval),
		performance.WithLogger(s.logger),
	)
	s.unsub = s.engine.Subscribe(s.onRecommendations)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.close()
		return nil, ErrClosed
	}
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()
	m.opts.Metrics.SessionsActive(n)

	s.engine.Start(m.ctx)
	s.logger.Info().Msg("session created")
	return s, nil
}

// Get returns the session and marks it as used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.touch(m.opts.Now())
	return s, nil
}

// Delete closes and removes a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.opts.Metrics.SessionsActive(n)
	s.close()
	s.logger.Info().Dur("age", m.opts.Now().Sub(s.CreatedAt)).Msg("session deleted")
	return nil
}

// Sweep closes every session idle for longer than the idle TTL and returns
// the reaped ids in sorted order.
func (m *Manager) Sweep() []string {
	cutoff := m.opts.Now().Add(-m.opts.IdleTTL)

	m.mu.Lock()
	var reaped []*Session
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			reaped = append(reaped, s)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()
	m.opts.Metrics.SessionsActive(n)

	ids := make([]string, 0, len(reaped))
	for _, s := range reaped {
		s.close()
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		m.logger.Info().Strs("session_ids", ids).Msg("reaped idle sessions")
	}
	return ids
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close stops the sweeper and closes every session. Later Creates fail with
// ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sweep := m.sweep
	m.sweep = nil
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	m.opts.Metrics.SessionsActive(0)

	if sweep != nil {
		sweep.Stop()
	}
	for _, s := range sessions {
		s.close()
	}
	m.cancel()
	m.logger.Info().Int("sessions", len(sessions)).Msg("session manager closed")
}
