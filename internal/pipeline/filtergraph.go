package pipeline

import (
	"fmt"
	"math"
	"strings"

	"github.com/reelforge/reelforge/internal/config"
	ffwrap "github.com/reelforge/reelforge/internal/ffmpeg"
	"github.com/reelforge/reelforge/internal/geometry"
	"github.com/reelforge/reelforge/internal/hwaccel"
	"github.com/reelforge/reelforge/internal/template"
	"github.com/reelforge/reelforge/pkg/types"
)

const (
	// sharpenFilter always runs; scaled-up portrait crops go soft without it.
	sharpenFilter = "unsharp=3:3:0.8:3:3:0.4"

	denoiseFilter    = "hqdn3d=3:2:6:4"
	colorGradeFilter = "eq=gamma=1.03:saturation=1.15"

	// oscillationFilter applies a slow sub-perceptual brightness/contrast
	// wobble so no two renders of the same source hash identically.
	oscillationFilter = "eq=brightness='0.012*sin(2*PI*t/7)':contrast='1+0.015*sin(2*PI*t/13)':eval=frame"

	// regionFillColor letterboxes contain-mode output inside the region.
	// Near-black rather than pure black so the fill is distinguishable
	// from the canvas background when debugging geometry.
	regionFillColor = "0x101010"

	// watermarkBottomFrac positions the watermark this fraction of the
	// region height up from the region's bottom edge.
	watermarkBottomFrac = 0.15
)

// graphSpec is everything the filter-graph builder needs, resolved ahead of
// time so the builder itself is a pure function.
type graphSpec struct {
	CanvasW int
	CanvasH int

	Region types.Region
	Crop   types.BorderCrop
	Anchor types.ContentAnchor
	Plan   geometry.FitPlan
	Key    template.ChromaKey

	Settings config.Settings
	FPS      float64
	Encoder  hwaccel.Encoder
}

// buildFilterGraph assembles the full filter_complex string. Input 0 is the
// source video, input 1 the looped template image. The composition order is
// fixed: background, video layer, keyed template layer, watermark.
func buildFilterGraph(s graphSpec) string {
	srcW, srcH := s.Crop.Width, s.Crop.Height

	var video []string
	if s.Crop.HasBorders {
		video = append(video, fmt.Sprintf("crop=%d:%d:%d:%d",
			s.Crop.Width, s.Crop.Height, s.Crop.X, s.Crop.Y))
	}

	scaledW := geometry.EvenDown(int(math.Round(float64(srcW) * s.Plan.Scale)))
	scaledH := geometry.EvenDown(int(math.Round(float64(srcH) * s.Plan.Scale)))
	if s.Settings.FitMode != types.FitModeContain {
		// The region crop below demands the full region from the scaled
		// frame; even rounding must never land under it.
		if scaledW < s.Region.Width {
			scaledW = geometry.EvenUp(s.Region.Width)
		}
		if scaledH < s.Region.Height {
			scaledH = geometry.EvenUp(s.Region.Height)
		}
	}
	video = append(video, fmt.Sprintf("scale=%d:%d:flags=lanczos", scaledW, scaledH))

	if s.Settings.FitMode == types.FitModeContain {
		video = append(video, fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=%s",
			s.Region.Width, s.Region.Height, regionFillColor))
	} else {
		video = append(video, fmt.Sprintf("crop=%d:%d:%d:%d",
			s.Region.Width, s.Region.Height,
			anchorOffset(scaledW, s.Region.Width, s.Anchor.AnchorX),
			anchorOffset(scaledH, s.Region.Height, s.Anchor.AnchorY)))
	}

	video = append(video, sharpenFilter)
	if s.Settings.UseDenoise {
		video = append(video, denoiseFilter, colorGradeFilter)
	}
	if s.Settings.UseMirror {
		video = append(video, "hflip")
	}
	video = append(video, oscillationFilter, fmt.Sprintf("fps=%.3f", s.FPS))

	parts := []string{
		fmt.Sprintf("color=c=black:s=%dx%d:r=%.3f[bg]", s.CanvasW, s.CanvasH, s.FPS),
		fmt.Sprintf("[0:v]%s[vid]", strings.Join(video, ",")),
		// The background color source and the looped template never end on
		// their own; shortest=1 ties the composite's lifetime to the video
		// layer so the output reaches EOF even without an audio stream.
		fmt.Sprintf("[bg][vid]overlay=%d:%d:shortest=1[base]", s.Region.X, s.Region.Y),
		fmt.Sprintf("[1:v]scale=%d:%d:flags=lanczos,colorkey=%s:%.2f:0.05[tpl]",
			s.CanvasW, s.CanvasH,
			ffwrap.FormatColor(s.Key.R, s.Key.G, s.Key.B),
			float64(s.Key.Tolerance)/255),
	}

	final := []string{"overlay=0:0"}
	if s.Settings.WatermarkText != "" {
		final = append(final, watermarkFilter(s.Settings.WatermarkText, s.Region))
	}
	final = append(final, "format=yuv420p")
	if s.Encoder.FilterSuffix != "" {
		final = append(final, s.Encoder.FilterSuffix)
	}
	parts = append(parts, fmt.Sprintf("[base][tpl]%s[out]", strings.Join(final, ",")))

	return strings.Join(parts, ";")
}

// anchorOffset is the crop offset that keeps the anchored part of the scaled
// source inside the region. Anchor 0 keeps the leading edge, 1 the trailing
// edge.
func anchorOffset(scaledDim, regionDim int, anchor float64) int {
	overflow := scaledDim - regionDim
	if overflow <= 0 {
		return 0
	}
	return int(math.Floor(float64(overflow) * anchor))
}

// watermarkFilter renders low-opacity text centered horizontally in the
// region, a fixed fraction up from the region's bottom.
func watermarkFilter(text string, region types.Region) string {
	escaped := strings.ReplaceAll(text, "'", "'\\''")
	baselineY := region.Y + region.Height - int(float64(region.Height)*watermarkBottomFrac)
	return fmt.Sprintf(
		"drawtext=text='%s':"+
			"fontsize=36:"+
			"fontcolor=white@0.35:"+
			"shadowcolor=black@0.4:"+
			"shadowx=2:"+
			"shadowy=2:"+
			"x=%d+(%d-tw)/2:"+
			"y=%d-th",
		escaped, region.X, region.Width, baselineY)
}
