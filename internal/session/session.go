package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/310511/V-medithon-sub003/internal/gesture"
	"github.com/310511/V-medithon-sub003/internal/performance"
	"github.com/310511/V-medithon-sub003/internal/platform/websocket"
)

// Touch phases accepted by Feed.
const (
	PhaseStart  = "start"
	PhaseMove   = "move"
	PhaseEnd    = "end"
	PhaseCancel = "cancel"
)

// TouchInput is one touch callback recorded by a client.
type TouchInput struct {
	Phase       string               `json:"phase"`
	Points      []gesture.TouchPoint `json:"points"`
	TimestampMs int64                `json:"timestampMs"`
}

// InvalidPhaseError reports a touch input with an unknown phase.
type InvalidPhaseError struct {
	Index int
	Phase string
}

func (e *InvalidPhaseError) Error() string {
	return fmt.Sprintf("event %d: invalid phase %q", e.Index, e.Phase)
}

// ValidateInputs rejects a batch containing an unknown phase.
func ValidateInputs(inputs []TouchInput) error {
	for i, in := range inputs {
		switch in.Phase {
		case PhaseStart, PhaseMove, PhaseEnd, PhaseCancel:
		default:
			return &InvalidPhaseError{Index: i, Phase: in.Phase}
		}
	}
	return nil
}

// ApplyTo delivers the input to r. Unknown phases are ignored.
func (in TouchInput) ApplyTo(r *gesture.Recognizer) {
	ev := gesture.TouchEvent{Points: in.Points, TimestampMs: in.TimestampMs}
	switch in.Phase {
	case PhaseStart:
		r.TouchStart(ev)
	case PhaseMove:
		r.TouchMove(ev)
	case PhaseEnd:
		r.TouchEnd(ev)
	case PhaseCancel:
		r.TouchCancel()
	}
}

// Session is one client's recognizer and performance engine.
type Session struct {
	ID        string
	CreatedAt time.Time

	recognizer *gesture.Recognizer
	engine     *performance.Engine
	caps       *performance.Reported
	publisher  websocket.Publisher
	metrics    Recorder
	logger     zerolog.Logger

	// feedMu serializes Feed calls so each batch sees only its own gestures.
	feedMu sync.Mutex

	mu       sync.Mutex
	lastSeen time.Time
	batch    *[]gesture.Event
	unsub    func()
	closed   bool
}

// Feed replays inputs into the recognizer in order and returns the gestures
// they produced. Phases are validated before anything is replayed. Long
// presses are decided by the input timestamps; one still armed when Feed
// returns fires on the scheduler and is only published.
func (s *Session) Feed(inputs []TouchInput) ([]gesture.Event, error) {
	if err := ValidateInputs(inputs); err != nil {
		return nil, err
	}

	s.feedMu.Lock()
	defer s.feedMu.Unlock()

	out := []gesture.Event{}
	s.mu.Lock()
	s.batch = &out
	s.mu.Unlock()

	for _, in := range inputs {
		s.recognizer.AdvanceTo(in.TimestampMs)
		in.ApplyTo(s.recognizer)
	}

	s.mu.Lock()
	s.batch = nil
	s.mu.Unlock()
	return out, nil
}

// Report applies a capability report and resamples every capability.
func (s *Session) Report(r performance.Report) (performance.Metrics, performance.Recommendations) {
	s.caps.Apply(r)
	s.engine.Refresh()
	return s.engine.Metrics(), s.engine.Recommendations()
}

// SetOnline records a connectivity change and returns the new
// recommendations.
func (s *Session) SetOnline(online bool) performance.Recommendations {
	s.caps.SetOnline(online)
	return s.engine.Recommendations()
}

// Metrics returns the session's current metrics.
func (s *Session) Metrics() performance.Metrics {
	return s.engine.Metrics()
}

// Recommendations returns the session's current recommendations.
func (s *Session) Recommendations() performance.Recommendations {
	return s.engine.Recommendations()
}

// OptimizeImage rewrites src for the session's current recommendations.
func (s *Session) OptimizeImage(src string) string {
	return performance.OptimizeImageURL(src, s.engine.Recommendations())
}

// State reports the recognizer state.
func (s *Session) State() gesture.State {
	return s.recognizer.State()
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) onGesture(ev gesture.Event) {
	s.mu.Lock()
	if s.batch != nil {
		*s.batch = append(*s.batch, ev)
	}
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	s.metrics.GestureRecognized(string(ev.Kind))
	s.logger.Debug().Stringer("gesture", ev).Msg("gesture recognized")
	s.publish(websocket.EventGesture, ev)
}

func (s *Session) onRecommendations(r performance.Recommendations) {
	s.metrics.RecommendationsChanged()
	s.publish(websocket.EventRecommendations, r)
}

func (s *Session) onPulse(d time.Duration) {
	s.publish(websocket.EventHaptic, map[string]int64{"durationMs": d.Milliseconds()})
}

func (s *Session) publish(eventType string, payload any) {
	if s.publisher == nil {
		return
	}
	ev, err := websocket.NewSessionEvent(eventType, s.ID, payload)
	if err == nil {
		err = s.publisher.Publish(context.Background(), ev)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to publish session event")
	}
}

// close releases the long-press timer, the engine's listeners and its
// memory sampler. It is safe to call more than once.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.recognizer.Close()
	s.engine.Close()
	s.publish(websocket.EventSessionClosed, nil)
}
