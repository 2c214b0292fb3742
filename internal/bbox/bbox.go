// Package bbox converts between pixel corner+extent boxes and normalized
// center+extent boxes.
package bbox

import "github.com/mesh-intelligence/labelkit/pkg/types"

// Normalize converts a pixel box on a w x h image. Values are not clamped: a
// box that leaves the image produces coordinates outside [0,1], which the
// auditor reports. Callers guarantee w and h are positive.
func Normalize(b types.BBox, w, h int, class int) types.NormalizedBox {
	fw, fh := float64(w), float64(h)
	return types.NormalizedBox{
		Class:   class,
		XCenter: (b.X + b.W/2) / fw,
		YCenter: (b.Y + b.H/2) / fh,
		Width:   b.W / fw,
		Height:  b.H / fh,
	}
}

// Denormalize is the inverse of Normalize.
func Denormalize(n types.NormalizedBox, w, h int) types.BBox {
	fw, fh := float64(w), float64(h)
	bw, bh := n.Width*fw, n.Height*fh
	return types.BBox{
		X: n.XCenter*fw - bw/2,
		Y: n.YCenter*fh - bh/2,
		W: bw,
		H: bh,
	}
}

// InUnitRange reports whether all four geometric fields lie in [0,1].
func InUnitRange(n types.NormalizedBox) bool {
	for _, v := range [...]float64{n.XCenter, n.YCenter, n.Width, n.Height} {
		if v < 0 || v > 1 {
			return false
		}
	}
	return true
}
