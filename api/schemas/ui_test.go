// File: api/schemas/ui_test.go
package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRectCenter(t *testing.T) {
	r := Rect{X: 100, Y: 200, Width: 400, Height: 80}
	assert.Equal(t, 300, r.CenterX())
	assert.Equal(t, 240, r.CenterY())
}

func TestRectContains(t *testing.T) {
	r := Rect{X: 10, Y: 10, Width: 100, Height: 50}

	tests := []struct {
		name string
		x, y int
		want bool
	}{
		{"center", 60, 35, true},
		{"top-left corner is inclusive", 10, 10, true},
		{"right edge is exclusive", 110, 35, false},
		{"bottom edge is exclusive", 60, 60, false},
		{"outside left", 9, 35, false},
		{"outside above", 60, 9, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, r.Contains(tc.x, tc.y))
		})
	}
}

func TestScreenStateBounds(t *testing.T) {
	s := &ScreenState{ScreenWidth: 1080, ScreenHeight: 2400}
	assert.Equal(t, Rect{X: 0, Y: 0, Width: 1080, Height: 2400}, s.Bounds())
	assert.True(t, s.Bounds().Contains(1079, 2399))
	assert.False(t, s.Bounds().Contains(1080, 2400))
}
