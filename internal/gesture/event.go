package gesture

import "fmt"

// Kind identifies the variant of a gesture Event.
type Kind string

const (
	KindSwipe     Kind = "swipe"
	KindTap       Kind = "tap"
	KindDoubleTap Kind = "double_tap"
	KindLongPress Kind = "long_press"
	KindPinch     Kind = "pinch"
	KindRotate    Kind = "rotate"
)

// Direction is the dominant axis and sign of a swipe.
type Direction string

const (
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
)

// TouchPoint is the position of one active touch in surface pixels.
type TouchPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TouchSample is the primary touch position at a point in time.
type TouchSample struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	TimestampMs int64   `json:"timestampMs"`
}

// TouchEvent is what a touch surface delivers on start, move, end and cancel.
// Points holds every touch active on the surface; the first one is the
// primary touch. On touch-end, Points holds the touch that was lifted.
type TouchEvent struct {
	Points      []TouchPoint `json:"points"`
	TimestampMs int64        `json:"timestampMs"`
}

// Sample returns the primary touch as a TouchSample. ok is false when the
// event carries no points.
func (e TouchEvent) Sample() (s TouchSample, ok bool) {
	if len(e.Points) == 0 {
		return TouchSample{}, false
	}
	p := e.Points[0]
	return TouchSample{X: p.X, Y: p.Y, TimestampMs: e.TimestampMs}, true
}

// Event is a classified gesture. Only the fields relevant to Kind are set.
type Event struct {
	Kind        Kind      `json:"kind"`
	Direction   Direction `json:"direction,omitempty"`
	Distance    float64   `json:"distance,omitempty"`
	Velocity    float64   `json:"velocity,omitempty"`
	Scale       float64   `json:"scale,omitempty"`
	AngleDeg    float64   `json:"angleDeg,omitempty"`
	TimestampMs int64     `json:"timestampMs"`
}

func (e Event) String() string {
	switch e.Kind {
	case KindSwipe:
		return fmt.Sprintf("swipe %s distance=%.1f velocity=%.3f", e.Direction, e.Distance, e.Velocity)
	case KindPinch:
		return fmt.Sprintf("pinch scale=%.3f", e.Scale)
	case KindRotate:
		return fmt.Sprintf("rotate angle=%.1f", e.AngleDeg)
	default:
		return string(e.Kind)
	}
}
