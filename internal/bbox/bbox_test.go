package bbox

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mesh-intelligence/labelkit/pkg/types"
)

func TestNormalizeScenario(t *testing.T) {
	n := Normalize(types.BBox{X: 10, Y: 20, W: 30, H: 40}, 100, 200, 0)
	assert.Equal(t, "0 0.250000 0.200000 0.300000 0.200000", n.String())
}

func TestNormalizeDoesNotClamp(t *testing.T) {
	n := Normalize(types.BBox{X: 90, Y: 0, W: 30, H: 10}, 100, 100, 3)
	assert.InDelta(t, 1.05, n.XCenter, 1e-9)
	assert.False(t, InUnitRange(n))
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		w := 1 + rng.Intn(4000)
		h := 1 + rng.Intn(4000)
		bw := rng.Float64() * float64(w)
		bh := rng.Float64() * float64(h)
		b := types.BBox{
			X: rng.Float64() * (float64(w) - bw),
			Y: rng.Float64() * (float64(h) - bh),
			W: bw,
			H: bh,
		}

		n := Normalize(b, w, h, 0)
		assert.True(t, InUnitRange(n), "box %+v on %dx%d", b, w, h)

		got := Denormalize(n, w, h)
		assert.InDelta(t, b.X, got.X, 1e-6)
		assert.InDelta(t, b.Y, got.Y, 1e-6)
		assert.InDelta(t, b.W, got.W, 1e-6)
		assert.InDelta(t, b.H, got.H, 1e-6)
	}
}

func TestInUnitRangeBounds(t *testing.T) {
	assert.True(t, InUnitRange(types.NormalizedBox{XCenter: 0, YCenter: 1, Width: 1, Height: 0}))
	assert.False(t, InUnitRange(types.NormalizedBox{XCenter: 0.5, YCenter: 0.5, Width: -0.1, Height: 0.1}))
}
