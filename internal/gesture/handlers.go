package gesture

import "time"

// Handlers is the callback surface of a Recognizer. Any subset may be set;
// a host that wants one generic swipe callback sets OnSwipe, a host that
// routes by direction sets the OnSwipe<Dir> callbacks, and both may coexist.
//
// OnGesture receives every event and is what forwarding hosts use.
type Handlers struct {
	OnSwipe      func(Event)
	OnSwipeLeft  func()
	OnSwipeRight func()
	OnSwipeUp    func()
	OnSwipeDown  func()
	OnTap        func()
	OnDoubleTap  func()
	OnLongPress  func()
	OnPinch      func(scale float64)
	OnRotate     func(angleDeg float64)
	OnGesture    func(Event)
}

func (h *Handlers) wantsLongPress() bool {
	return h.OnLongPress != nil || h.OnGesture != nil
}

func (h *Handlers) wantsPinch() bool {
	return h.OnPinch != nil || h.OnGesture != nil
}

func (h *Handlers) wantsRotate() bool {
	return h.OnRotate != nil || h.OnGesture != nil
}

// dispatch delivers ev to every matching callback.
func (h *Handlers) dispatch(ev Event) {
	switch ev.Kind {
	case KindSwipe:
		if h.OnSwipe != nil {
			h.OnSwipe(ev)
		}
		var f func()
		switch ev.Direction {
		case DirectionLeft:
			f = h.OnSwipeLeft
		case DirectionRight:
			f = h.OnSwipeRight
		case DirectionUp:
			f = h.OnSwipeUp
		case DirectionDown:
			f = h.OnSwipeDown
		}
		if f != nil {
			f()
		}
	case KindTap:
		if h.OnTap != nil {
			h.OnTap()
		}
	case KindDoubleTap:
		if h.OnDoubleTap != nil {
			h.OnDoubleTap()
		}
	case KindLongPress:
		if h.OnLongPress != nil {
			h.OnLongPress()
		}
	case KindPinch:
		if h.OnPinch != nil {
			h.OnPinch(ev.Scale)
		}
	case KindRotate:
		if h.OnRotate != nil {
			h.OnRotate(ev.AngleDeg)
		}
	}
	if h.OnGesture != nil {
		h.OnGesture(ev)
	}
}

// Haptics produces vibration feedback. Implementations must not block.
type Haptics interface {
	Pulse(d time.Duration)
}

// NoopHaptics is used when the host has no vibration capability.
type NoopHaptics struct{}

func (NoopHaptics) Pulse(time.Duration) {}

// HapticsFunc adapts a function to Haptics.
type HapticsFunc func(d time.Duration)

func (f HapticsFunc) Pulse(d time.Duration) { f(d) }
