package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/reelforge/pkg/types"
)

func TestResolveCoverAlwaysCovers(t *testing.T) {
	cases := []struct {
		name           string
		srcW, srcH     int
		regW, regH     int
	}{
		{"landscape into portrait region", 1920, 1080, 1008, 858},
		{"portrait into portrait region", 720, 1280, 1008, 858},
		{"square into wide region", 1000, 1000, 1600, 400},
		{"tiny source upscaled", 320, 240, 1008, 858},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := Resolve(tc.srcW, tc.srcH, tc.regW, tc.regH, DefaultAnchor(), types.FitModeCover)
			scaledW := float64(tc.srcW) * plan.Scale
			scaledH := float64(tc.srcH) * plan.Scale
			assert.GreaterOrEqual(t, scaledW, float64(tc.regW)-1e-9)
			assert.GreaterOrEqual(t, scaledH, float64(tc.regH)-1e-9)
		})
	}
}

func TestResolveContainAlwaysFits(t *testing.T) {
	cases := []struct {
		srcW, srcH, regW, regH int
	}{
		{1920, 1080, 1008, 858},
		{720, 1280, 1008, 858},
		{4096, 2160, 500, 500},
	}

	for _, tc := range cases {
		plan := Resolve(tc.srcW, tc.srcH, tc.regW, tc.regH, DefaultAnchor(), types.FitModeContain)
		scaledW := float64(tc.srcW) * plan.Scale
		scaledH := float64(tc.srcH) * plan.Scale
		assert.LessOrEqual(t, scaledW, float64(tc.regW)+1e-9)
		assert.LessOrEqual(t, scaledH, float64(tc.regH)+1e-9)
	}
}

func TestResolveCoverExample(t *testing.T) {
	// 1920x1080 into 1008x858: height is the binding axis.
	plan := Resolve(1920, 1080, 1008, 858, types.ContentAnchor{AnchorX: 0.5, AnchorY: 0.5}, types.FitModeCover)

	require.InDelta(t, 858.0/1080.0, plan.Scale, 1e-9)
	assert.InDelta(t, 1525.33, 1920*plan.Scale, 0.5)
	assert.InDelta(t, 858, 1080*plan.Scale, 1e-6)

	// Height fills exactly, so no vertical shift; horizontal overflow is
	// split evenly for a centered anchor.
	assert.InDelta(t, 0, plan.OffsetY, 1e-9)
	overflowX := 1920*plan.Scale - 1008
	assert.InDelta(t, -overflowX/2, plan.OffsetX, 1e-9)
}

func TestResolveAnchorEdges(t *testing.T) {
	// Anchor 0 keeps the leading edge: no offset. Anchor 1 keeps the
	// trailing edge: offset by the full overflow.
	plan0 := Resolve(1920, 1080, 1000, 1000, types.ContentAnchor{AnchorX: 0, AnchorY: 0}, types.FitModeCover)
	assert.InDelta(t, 0, plan0.OffsetX, 1e-9)

	plan1 := Resolve(1920, 1080, 1000, 1000, types.ContentAnchor{AnchorX: 1, AnchorY: 1}, types.FitModeCover)
	overflowX := 1920*plan1.Scale - 1000
	assert.InDelta(t, -overflowX, plan1.OffsetX, 1e-9)
}

func TestResolveDegenerateDimensions(t *testing.T) {
	for _, plan := range []FitPlan{
		Resolve(0, 1080, 1008, 858, DefaultAnchor(), types.FitModeCover),
		Resolve(1920, 0, 1008, 858, DefaultAnchor(), types.FitModeCover),
		Resolve(1920, 1080, 0, 858, DefaultAnchor(), types.FitModeContain),
		Resolve(-5, -5, 1008, 858, DefaultAnchor(), types.FitModeCover),
	} {
		assert.Equal(t, FitPlan{Scale: 1}, plan)
		assert.False(t, math.IsNaN(plan.Scale))
		assert.False(t, math.IsInf(plan.Scale, 0))
	}
}

func TestClampAnchor(t *testing.T) {
	assert.Equal(t, 0.5, ClampAnchor(math.NaN()))
	assert.Equal(t, 0.5, ClampAnchor(math.Inf(1)))
	assert.Equal(t, 0.5, ClampAnchor(math.Inf(-1)))
	assert.Equal(t, 0.0, ClampAnchor(-3))
	assert.Equal(t, 1.0, ClampAnchor(5))
	assert.Equal(t, 0.25, ClampAnchor(0.25))

	// Idempotence over a spread of values, finite and not.
	for _, v := range []float64{math.NaN(), math.Inf(1), -100, -0.001, 0, 0.15, 0.5, 1, 1.001, 42} {
		once := ClampAnchor(v)
		assert.Equal(t, once, ClampAnchor(once))
	}
}

func TestValidateRegion(t *testing.T) {
	assert.NoError(t, ValidateRegion(types.Region{X: 35, Y: 709, Width: 1008, Height: 858}, 1080, 1920))
	assert.Error(t, ValidateRegion(types.Region{X: -1, Y: 0, Width: 100, Height: 100}, 1080, 1920))
	assert.Error(t, ValidateRegion(types.Region{X: 0, Y: 0, Width: 0, Height: 100}, 1080, 1920))
	assert.Error(t, ValidateRegion(types.Region{X: 100, Y: 0, Width: 1081, Height: 100}, 1080, 1920))
	assert.Error(t, ValidateRegion(types.Region{X: 0, Y: 1900, Width: 100, Height: 100}, 1080, 1920))
}

func TestEvenDown(t *testing.T) {
	assert.Equal(t, 1008, EvenDown(1009))
	assert.Equal(t, 1008, EvenDown(1008))
	assert.Equal(t, 2, EvenDown(1))
	assert.Equal(t, 2, EvenDown(0))
}

func TestEvenUp(t *testing.T) {
	assert.Equal(t, 858, EvenUp(857))
	assert.Equal(t, 858, EvenUp(858))
	assert.Equal(t, 2, EvenUp(1))
	assert.Equal(t, 2, EvenUp(0))
}
