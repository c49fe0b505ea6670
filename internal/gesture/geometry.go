package gesture

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// separation is the Euclidean distance between two touch points.
func separation(a, b TouchPoint) float64 {
	return floats.Distance([]float64{a.X, a.Y}, []float64{b.X, b.Y}, 2)
}

// classifyDirection picks the dominant axis of a displacement. Horizontal
// wins ties.
func classifyDirection(dx, dy float64) Direction {
	if math.Abs(dx) >= math.Abs(dy) {
		if dx > 0 {
			return DirectionRight
		}
		return DirectionLeft
	}
	if dy > 0 {
		return DirectionDown
	}
	return DirectionUp
}

// vectorAngle returns the angle of the a->b vector in degrees.
func vectorAngle(a, b TouchPoint) float64 {
	return math.Atan2(b.Y-a.Y, b.X-a.X) * 180 / math.Pi
}

// normalizeAngle maps an angle in degrees into (-180, 180].
func normalizeAngle(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg > 180 {
		deg -= 360
	} else if deg <= -180 {
		deg += 360
	}
	return deg
}
