// Package geometry resolves how a source frame maps into the template's
// target region. Everything here is pure arithmetic: no I/O, no ffmpeg.
package geometry

import (
	"fmt"
	"math"

	"github.com/reelforge/reelforge/pkg/types"
)

// FitPlan is the resolved affine mapping from source pixel space into the
// region: draw the source scaled by Scale at (Region.X+OffsetX, Region.Y+OffsetY).
type FitPlan struct {
	Scale   float64
	OffsetX float64
	OffsetY float64
}

// DefaultAnchor slightly favors the top of frame. Naive centering cuts
// foreheads when converting landscape footage to portrait.
func DefaultAnchor() types.ContentAnchor {
	return types.ContentAnchor{AnchorX: 0.5, AnchorY: 0.15}
}

// ClampAnchor forces an anchor component into [0,1]. Non-finite values
// collapse to the center (0.5). Idempotent.
func ClampAnchor(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0.5
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClampAnchorPoint clamps both components of an anchor.
func ClampAnchorPoint(a types.ContentAnchor) types.ContentAnchor {
	a.AnchorX = ClampAnchor(a.AnchorX)
	a.AnchorY = ClampAnchor(a.AnchorY)
	return a
}

// Resolve computes the scale and offsets that place a sourceW x sourceH
// frame into a regionW x regionH rectangle.
//
// In cover mode the source fully covers the region, overflowing one axis;
// the anchor decides which part of the overflow survives (0 keeps the
// leading edge, 1 the trailing edge, 0.5 centers). In contain mode the
// whole source stays visible and is centered on both axes.
//
// Degenerate dimensions (zero, negative, non-finite after division) resolve
// to an identity plan rather than propagating Inf/NaN downstream.
func Resolve(sourceW, sourceH, regionW, regionH int, anchor types.ContentAnchor, mode types.FitMode) FitPlan {
	if sourceW <= 0 || sourceH <= 0 || regionW <= 0 || regionH <= 0 {
		return FitPlan{Scale: 1}
	}

	anchor = ClampAnchorPoint(anchor)

	sw := float64(sourceW)
	sh := float64(sourceH)
	rw := float64(regionW)
	rh := float64(regionH)

	var scale float64
	if mode == types.FitModeContain {
		scale = math.Min(rw/sw, rh/sh)
	} else {
		scale = math.Max(rw/sw, rh/sh)
	}
	if math.IsNaN(scale) || math.IsInf(scale, 0) || scale <= 0 {
		return FitPlan{Scale: 1}
	}

	scaledW := sw * scale
	scaledH := sh * scale

	if mode == types.FitModeContain {
		return FitPlan{
			Scale:   scale,
			OffsetX: (rw - scaledW) / 2,
			OffsetY: (rh - scaledH) / 2,
		}
	}

	return FitPlan{
		Scale:   scale,
		OffsetX: -(scaledW - rw) * anchor.AnchorX,
		OffsetY: -(scaledH - rh) * anchor.AnchorY,
	}
}

// ValidateRegion checks a region against the output canvas bounds.
func ValidateRegion(r types.Region, canvasW, canvasH int) error {
	if r.X < 0 || r.Y < 0 || r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("invalid region %dx%d at (%d,%d): all values must be non-negative with positive size",
			r.Width, r.Height, r.X, r.Y)
	}
	if r.X+r.Width > canvasW || r.Y+r.Height > canvasH {
		return fmt.Errorf("region %dx%d at (%d,%d) exceeds canvas %dx%d",
			r.Width, r.Height, r.X, r.Y, canvasW, canvasH)
	}
	return nil
}

// EvenDown rounds a dimension down to the nearest even value, with a floor
// of 2. Several codecs reject odd frame dimensions.
func EvenDown(n int) int {
	if n%2 != 0 {
		n--
	}
	if n < 2 {
		n = 2
	}
	return n
}

// EvenUp rounds a dimension up to the nearest even value, with a floor of 2.
func EvenUp(n int) int {
	if n%2 != 0 {
		n++
	}
	if n < 2 {
		n = 2
	}
	return n
}
