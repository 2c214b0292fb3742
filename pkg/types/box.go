package types

import "fmt"

// BBox is a pixel-space box in corner+extent form.
type BBox struct {
	X, Y, W, H float64
}

// NormalizedBox is a center+extent box scaled to the unit square. It is
// derived per label line and never stored on its own.
type NormalizedBox struct {
	Class   int
	XCenter float64
	YCenter float64
	Width   float64
	Height  float64
}

// String renders the label line form: class index then four 6-decimal floats.
func (n NormalizedBox) String() string {
	return fmt.Sprintf("%d %.6f %.6f %.6f %.6f", n.Class, n.XCenter, n.YCenter, n.Width, n.Height)
}
