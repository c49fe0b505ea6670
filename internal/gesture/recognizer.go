// Package gesture classifies raw touch streams into swipe, tap, double-tap,
// long-press, pinch and rotate events.
//
// A Recognizer tracks one gesture session at a time. A session starts at
// TouchStart and resolves at TouchEnd or TouchCancel; a new TouchStart
// replaces any unresolved session. At most one discrete event is produced per
// session, while pinch and rotate are reported on every two-finger move.
//
// Once a long press has fired, the touch-end of the same session produces no
// swipe or tap.
package gesture

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/310511/V-medithon-sub003/internal/timeutil"
)

// Default thresholds.
const (
	SwipeDistanceThresholdPx = 50
	SwipeTimeThresholdMs     = 300
	TapDistanceThresholdPx   = 10
	DoubleTapWindowMs        = 300
	LongPressDuration        = 500 * time.Millisecond
)

// Config holds the classification thresholds and feedback durations.
type Config struct {
	SwipeDistancePx   float64
	SwipeTimeMs       int64
	MinSwipeVelocity  float64 // px/ms, exclusive
	TapDistancePx     float64
	DoubleTapWindowMs int64
	LongPressDuration time.Duration

	SwipePulse     time.Duration
	LongPressPulse time.Duration
	DoubleTapPulse time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		SwipeDistancePx:   SwipeDistanceThresholdPx,
		SwipeTimeMs:       SwipeTimeThresholdMs,
		TapDistancePx:     TapDistanceThresholdPx,
		DoubleTapWindowMs: DoubleTapWindowMs,
		LongPressDuration: LongPressDuration,
		SwipePulse:        25 * time.Millisecond,
		LongPressPulse:    50 * time.Millisecond,
		DoubleTapPulse:    50 * time.Millisecond,
	}
}

// State is the recognizer's position in the session state machine.
type State int

const (
	StateIdle State = iota
	StateTouchActive
	StateLongPressArmed
)

func (s State) String() string {
	switch s {
	case StateTouchActive:
		return "touch_active"
	case StateLongPressArmed:
		return "long_press_armed"
	default:
		return "idle"
	}
}

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithConfig replaces the default thresholds.
func WithConfig(cfg Config) Option {
	return func(r *Recognizer) { r.cfg = cfg }
}

// WithHaptics sets the vibration side channel.
func WithHaptics(h Haptics) Option {
	return func(r *Recognizer) {
		if h != nil {
			r.haptics = h
		}
	}
}

// WithScheduler sets the scheduler used for the long-press timer.
func WithScheduler(s timeutil.Scheduler) Option {
	return func(r *Recognizer) {
		if s != nil {
			r.scheduler = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Recognizer) { r.logger = l }
}

// Recognizer turns touch events into gesture events. It is safe for
// concurrent use; callbacks run after the internal lock is released.
type Recognizer struct {
	mu        sync.Mutex
	cfg       Config
	handlers  Handlers
	haptics   Haptics
	scheduler timeutil.Scheduler
	logger    zerolog.Logger

	start          *TouchSample
	startPair      [2]TouchPoint
	hasPair        bool
	longPress      timeutil.Task
	longPressFired bool
	activeTouches  int
	lastTapMs      int64
	hasLastTap     bool
	// gen identifies the current session so a long-press callback from an
	// earlier session is ignored.
	gen uint64
}

// New creates a Recognizer delivering to h.
func New(h Handlers, opts ...Option) *Recognizer {
	r := &Recognizer{
		cfg:       DefaultConfig(),
		handlers:  h,
		haptics:   NoopHaptics{},
		scheduler: timeutil.RealScheduler{},
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type pending struct {
	ev    Event
	pulse time.Duration
}

// TouchStart begins a new session, replacing any unresolved one.
func (r *Recognizer) TouchStart(ev TouchEvent) {
	sample, ok := ev.Sample()
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelLongPressLocked()
	r.gen++
	r.start = &sample
	r.activeTouches = len(ev.Points)
	r.longPressFired = false
	r.hasPair = false
	if len(ev.Points) >= 2 {
		r.startPair = [2]TouchPoint{ev.Points[0], ev.Points[1]}
		r.hasPair = true
	}

	if r.handlers.wantsLongPress() {
		gen := r.gen
		r.longPress = r.scheduler.AfterFunc(r.cfg.LongPressDuration, func() {
			r.fireLongPress(gen)
		})
	}
}

// TouchMove cancels a pending long press and reports pinch and rotate while
// exactly two touches are active.
func (r *Recognizer) TouchMove(ev TouchEvent) {
	r.mu.Lock()
	r.cancelLongPressLocked()

	if r.start == nil || len(ev.Points) == 0 {
		r.mu.Unlock()
		return
	}
	r.activeTouches = len(ev.Points)

	var out []pending
	if len(ev.Points) == 2 && (r.handlers.wantsPinch() || r.handlers.wantsRotate()) {
		cur := [2]TouchPoint{ev.Points[0], ev.Points[1]}
		if !r.hasPair {
			r.startPair = cur
			r.hasPair = true
		}
		if r.handlers.wantsPinch() {
			if base := separation(r.startPair[0], r.startPair[1]); base > 0 {
				out = append(out, pending{ev: Event{
					Kind:        KindPinch,
					Scale:       separation(cur[0], cur[1]) / base,
					TimestampMs: ev.TimestampMs,
				}})
			}
		}
		if r.handlers.wantsRotate() {
			angle := vectorAngle(cur[0], cur[1]) - vectorAngle(r.startPair[0], r.startPair[1])
			out = append(out, pending{ev: Event{
				Kind:        KindRotate,
				AngleDeg:    normalizeAngle(angle),
				TimestampMs: ev.TimestampMs,
			}})
		}
	}
	r.mu.Unlock()

	r.deliver(out)
}

// TouchEnd resolves the session into a swipe, tap, double-tap or nothing.
func (r *Recognizer) TouchEnd(ev TouchEvent) {
	r.mu.Lock()
	r.cancelLongPressLocked()

	start := r.start
	longPressed := r.longPressFired
	r.clearSessionLocked()

	end, ok := ev.Sample()
	if start == nil || !ok || longPressed {
		r.mu.Unlock()
		return
	}

	dx := end.X - start.X
	dy := end.Y - start.Y
	dt := end.TimestampMs - start.TimestampMs
	distance := math.Sqrt(dx*dx + dy*dy)
	velocity := distance / float64(max(dt, 1))

	var out []pending
	switch {
	case dt < r.cfg.SwipeTimeMs && distance > r.cfg.SwipeDistancePx && velocity > r.cfg.MinSwipeVelocity:
		out = append(out, pending{
			ev: Event{
				Kind:        KindSwipe,
				Direction:   classifyDirection(dx, dy),
				Distance:    distance,
				Velocity:    velocity,
				TimestampMs: end.TimestampMs,
			},
			pulse: r.cfg.SwipePulse,
		})
	case distance < r.cfg.TapDistancePx:
		if r.hasLastTap && end.TimestampMs-r.lastTapMs < r.cfg.DoubleTapWindowMs {
			r.hasLastTap = false
			r.lastTapMs = 0
			out = append(out, pending{
				ev:    Event{Kind: KindDoubleTap, TimestampMs: end.TimestampMs},
				pulse: r.cfg.DoubleTapPulse,
			})
		} else {
			r.hasLastTap = true
			r.lastTapMs = end.TimestampMs
			out = append(out, pending{ev: Event{Kind: KindTap, TimestampMs: end.TimestampMs}})
		}
	default:
		r.logger.Debug().
			Float64("distance", distance).
			Int64("dt_ms", dt).
			Msg("ambiguous touch, no gesture")
	}
	r.mu.Unlock()

	r.deliver(out)
}

// AdvanceTo moves the recognizer's notion of time to tsMs, in the same clock
// as the touch timestamps. An armed long press whose deadline has passed
// fires now instead of waiting for the scheduler, so batched input is
// classified by its own timestamps.
func (r *Recognizer) AdvanceTo(tsMs int64) {
	r.mu.Lock()
	due := r.longPress != nil && r.start != nil &&
		tsMs-r.start.TimestampMs >= r.cfg.LongPressDuration.Milliseconds()
	gen := r.gen
	if due {
		// fireLongPress clears the handle; stopping keeps the timer from
		// firing a second time.
		r.longPress.Stop()
	}
	r.mu.Unlock()

	if due {
		r.fireLongPress(gen)
	}
}

// TouchCancel abandons the session without producing an event.
func (r *Recognizer) TouchCancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLongPressLocked()
	r.clearSessionLocked()
}

// Close releases the long-press timer. The recognizer stays usable.
func (r *Recognizer) Close() {
	r.TouchCancel()
}

// State reports the current session state.
func (r *Recognizer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.start == nil:
		return StateIdle
	case r.longPress != nil:
		return StateLongPressArmed
	default:
		return StateTouchActive
	}
}

// ActiveTouches returns the touch count of the current session.
func (r *Recognizer) ActiveTouches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeTouches
}

func (r *Recognizer) fireLongPress(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.longPress == nil || r.start == nil {
		r.mu.Unlock()
		return
	}
	r.longPress = nil
	r.longPressFired = true
	ev := Event{
		Kind:        KindLongPress,
		TimestampMs: r.start.TimestampMs + r.cfg.LongPressDuration.Milliseconds(),
	}
	pulse := r.cfg.LongPressPulse
	r.mu.Unlock()

	r.deliver([]pending{{ev: ev, pulse: pulse}})
}

func (r *Recognizer) cancelLongPressLocked() {
	if r.longPress != nil {
		r.longPress.Stop()
		r.longPress = nil
	}
}

func (r *Recognizer) clearSessionLocked() {
	r.start = nil
	r.hasPair = false
	r.activeTouches = 0
	r.longPressFired = false
}

func (r *Recognizer) deliver(out []pending) {
	for _, p := range out {
		r.handlers.dispatch(p.ev)
		if p.pulse > 0 {
			r.pulse(p.pulse)
		}
	}
}

func (r *Recognizer) pulse(d time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn().Interface("panic", rec).Msg("haptic pulse failed")
		}
	}()
	r.haptics.Pulse(d)
}
