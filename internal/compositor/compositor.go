// Package compositor draws composited output frames for the in-process
// encode path: background, clipped/scaled source frame, and the
// transparency-masked template on top.
package compositor

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/reelforge/reelforge/internal/geometry"
	"github.com/reelforge/reelforge/internal/template"
	"github.com/reelforge/reelforge/pkg/types"
)

const (
	// clipMargin expands the drawing clip past the region edge by a few
	// pixels so scaled-frame rounding never leaves a fringe gap.
	clipMargin = 4
	// overdraw oversizes the drawn source rectangle for the same reason.
	overdraw = 2
	// watermarkBottomFrac positions the watermark this far up from the
	// bottom of the region.
	watermarkBottomFrac = 0.15
)

var (
	backgroundColor = color.RGBA{0, 0, 0, 255}
	// regionBaseColor is a near-black fill behind the video. It prevents
	// placeholder-color fringing at the region edges: whatever peeks
	// through is dark, not key-green.
	regionBaseColor = color.RGBA{16, 16, 16, 255}
	watermarkColor  = color.RGBA{255, 255, 255, 90}
)

// Compositor composes one output frame at a time. The template mask is
// computed once at construction, not per frame.
type Compositor struct {
	canvasW int
	canvasH int
	region  types.Region
	plan    geometry.FitPlan
	mask    *image.RGBA

	watermark string

	scaler xdraw.Scaler
}

// New builds a compositor for one job.
func New(tpl *template.Template, plan geometry.FitPlan, watermark string) *Compositor {
	return &Compositor{
		canvasW:   tpl.Width,
		canvasH:   tpl.Height,
		region:    tpl.Region,
		plan:      plan,
		mask:      template.BuildMask(tpl.Image, tpl.Key),
		watermark: watermark,
		scaler:    xdraw.CatmullRom,
	}
}

// ComposeFrame renders one output frame from one source frame. Draw order is
// fixed: the masked template must land after the video or the keying effect
// inverts.
func (c *Compositor) ComposeFrame(src image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, c.canvasW, c.canvasH))
	c.ComposeInto(dst, src)
	return dst
}

// ComposeInto is ComposeFrame reusing a caller-owned buffer, which the frame
// loop does to avoid one canvas allocation per frame.
func (c *Compositor) ComposeInto(dst *image.RGBA, src image.Image) {
	bounds := dst.Bounds()

	// 1. Background.
	draw.Draw(dst, bounds, image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	// 2. Region base fill.
	regionRect := image.Rect(c.region.X, c.region.Y,
		c.region.X+c.region.Width, c.region.Y+c.region.Height)
	draw.Draw(dst, regionRect, image.NewUniform(regionBaseColor), image.Point{}, draw.Src)

	// 3. Source frame, scaled per plan, clipped to a slightly expanded
	// region and drawn slightly oversized. SubImage keeps canvas
	// coordinates while bounding the writes.
	if src != nil {
		clip := regionRect.Inset(-clipMargin).Intersect(bounds)
		target := c.targetRect(src.Bounds()).Inset(-overdraw)
		clippedDst, ok := dst.SubImage(clip).(*image.RGBA)
		if ok {
			c.scaler.Scale(clippedDst, target, src, src.Bounds(), xdraw.Src, nil)
		}
	}

	// 4. Masked template, unclipped: re-covers everything outside the region.
	draw.Draw(dst, bounds, c.mask, image.Point{}, draw.Over)

	// 5. Watermark.
	if c.watermark != "" {
		c.drawWatermark(dst)
	}
}

// targetRect is where the scaled source lands in canvas space.
func (c *Compositor) targetRect(srcBounds image.Rectangle) image.Rectangle {
	x0 := float64(c.region.X) + c.plan.OffsetX
	y0 := float64(c.region.Y) + c.plan.OffsetY
	x1 := x0 + c.plan.Scale*float64(srcBounds.Dx())
	y1 := y0 + c.plan.Scale*float64(srcBounds.Dy())
	return image.Rect(
		int(math.Floor(x0)), int(math.Floor(y0)),
		int(math.Ceil(x1)), int(math.Ceil(y1)),
	)
}

func (c *Compositor) drawWatermark(dst *image.RGBA) {
	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, c.watermark).Ceil()

	x := c.region.X + (c.region.Width-textWidth)/2
	y := c.region.Y + c.region.Height - int(float64(c.region.Height)*watermarkBottomFrac)

	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(watermarkColor),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(c.watermark)
}
