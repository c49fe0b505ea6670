package performance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptimizeImageURL(t *testing.T) {
	tests := []struct {
		name string
		src  string
		rec  Recommendations
		want string
	}{
		{"high untouched", "https://cdn.example/a.png", Recommendations{ImageQuality: ImageHigh}, "https://cdn.example/a.png"},
		{"low", "https://cdn.example/a.png", Recommendations{ImageQuality: ImageLow}, "https://cdn.example/a.png?q=60&w=400"},
		{"medium", "/img/a.png", Recommendations{ImageQuality: ImageMedium}, "/img/a.png?q=80&w=800"},
		{"existing query", "/img/a.png?v=2", Recommendations{ImageQuality: ImageMedium}, "/img/a.png?v=2&q=80&w=800"},
		{"memory pressure wins", "/a.png", Recommendations{ImageQuality: ImageHigh, ReduceMemoryUsage: true}, "/a.png?q=60&w=400"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OptimizeImageURL(tt.src, tt.rec))
		})
	}
}
