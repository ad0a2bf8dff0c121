// File: api/schemas/ui.go
package schemas

import "time"

// Rect is an axis-aligned rectangle in screen pixel coordinates, as reported by
// the device's accessibility dump ("[x1,y1][x2,y2]" bounds strings).
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CenterX returns the horizontal centre of the rectangle.
func (r Rect) CenterX() int { return r.X + r.Width/2 }

// CenterY returns the vertical centre of the rectangle.
func (r Rect) CenterY() int { return r.Y + r.Height/2 }

// Contains reports whether the point (x, y) lies inside the rectangle.
func (r Rect) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// UIElement is one node of the device's UI hierarchy that carries enough
// information to be an interaction target: visible text, an accessibility
// label, a resource identifier, and on-screen bounds.
type UIElement struct {
	Class      string `json:"class"`                 // Widget class, e.g. "android.widget.Button".
	Text       string `json:"text,omitempty"`        // Visible text content.
	Label      string `json:"label,omitempty"`       // content-desc or hint, whichever is present.
	ResourceID string `json:"resource_id,omitempty"` // Fully qualified resource-id.
	Bounds     Rect   `json:"bounds"`                // On-screen bounding box.
	Clickable  bool   `json:"clickable"`             // Whether the node reports clickable="true".
	Focused    bool   `json:"focused,omitempty"`     // Whether the node currently holds input focus.
}

// ScreenState is a point-in-time capture of the device screen: the filtered UI
// element tree, the foregrounded package, the physical screen bounds, and an
// optional raster snapshot. Captures are side-effect free and must not be
// reused across dispatch cycles (the UI may have shifted underneath them).
type ScreenState struct {
	Elements          []UIElement `json:"elements"`
	ForegroundPackage string      `json:"foreground_package,omitempty"`
	ScreenWidth       int         `json:"screen_width"`
	ScreenHeight      int         `json:"screen_height"`
	Screenshot        []byte      `json:"-"` // PNG bytes; omitted from JSON logs.
	CapturedAt        time.Time   `json:"captured_at"`
}

// Bounds returns the full-screen rectangle of the capture.
func (s *ScreenState) Bounds() Rect {
	return Rect{X: 0, Y: 0, Width: s.ScreenWidth, Height: s.ScreenHeight}
}
