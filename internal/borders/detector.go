// Package borders finds the sub-rectangle of a source video containing
// actual picture content, excluding letterbox/pillarbox bars of arbitrary
// color. Detection is best-effort: every failure path resolves to the full
// frame so border removal never blocks the pipeline.
package borders

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/exp/slices"

	"github.com/reelforge/reelforge/internal/geometry"
	"github.com/reelforge/reelforge/pkg/types"
)

const (
	// quantum absorbs per-frame jitter: candidate rectangles are snapped
	// to this grid before majority voting.
	quantum = 8
	// edgeMargin is the minimum per-edge difference from the full frame
	// before borders are declared; smaller deltas are noise.
	edgeMargin = 4
	// defaultSampleSec is the analysis window at the start of the video.
	defaultSampleSec = 4.0
)

// Safe-frame expansion margins, as fractions of the original frame. Keeps
// burned-in captions at the top/bottom out of the crop.
const (
	safeMarginHeightFrac = 0.06
	safeMarginWidthFrac  = 0.02
)

var cropLineRe = regexp.MustCompile(`crop=(\d+):(\d+):(\d+):(\d+)`)

// Candidate is one content rectangle reported for a sampled frame.
type Candidate struct {
	W, H, X, Y int
}

// Detector samples the start of a video through ffmpeg's cropdetect filter
// and majority-votes the reported rectangles.
type Detector struct {
	FFmpegPath string
	Timeout    time.Duration
	SampleSec  float64

	logger *slog.Logger
}

// NewDetector creates a border detector. Timeout bounds the whole analysis.
func NewDetector(ffmpegPath string, timeout time.Duration, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		FFmpegPath: ffmpegPath,
		Timeout:    timeout,
		SampleSec:  defaultSampleSec,
		logger:     logger,
	}
}

// Detect runs cropdetect over a short sampling window and returns the
// majority content rectangle. On timeout, process failure, or zero
// candidates it returns the full frame with HasBorders=false.
func (d *Detector) Detect(ctx context.Context, videoPath string, srcW, srcH int) types.BorderCrop {
	full := FullFrame(srcW, srcH)

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, d.FFmpegPath,
		"-hide_banner",
		"-t", fmt.Sprintf("%.2f", d.SampleSec),
		"-i", videoPath,
		"-vf", "cropdetect=limit=24:round=2:reset=0",
		"-f", "null", "-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		d.logger.Warn("border detection failed, using full frame",
			"video", videoPath, "error", err)
		return full
	}

	cands := ParseCandidates(stderr.String())
	crop := SelectCrop(cands, srcW, srcH)
	if crop.HasBorders {
		d.logger.Debug("borders detected",
			"video", videoPath,
			"crop", fmt.Sprintf("%d:%d:%d:%d", crop.Width, crop.Height, crop.X, crop.Y))
	}
	return crop
}

// ParseCandidates extracts crop rectangles from cropdetect diagnostic output.
func ParseCandidates(output string) []Candidate {
	matches := cropLineRe.FindAllStringSubmatch(output, -1)
	cands := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		w, _ := strconv.Atoi(m[1])
		h, _ := strconv.Atoi(m[2])
		x, _ := strconv.Atoi(m[3])
		y, _ := strconv.Atoi(m[4])
		if w <= 0 || h <= 0 || x < 0 || y < 0 {
			continue
		}
		cands = append(cands, Candidate{W: w, H: h, X: x, Y: y})
	}
	return cands
}

// FullFrame is the no-borders result for a source.
func FullFrame(srcW, srcH int) types.BorderCrop {
	return types.BorderCrop{
		X: 0, Y: 0,
		Width:          geometry.EvenDown(srcW),
		Height:         geometry.EvenDown(srcH),
		OriginalWidth:  srcW,
		OriginalHeight: srcH,
		HasBorders:     false,
	}
}

type bucketKey struct {
	w, h, x, y int
}

func quantize(v int) int {
	return (v + quantum/2) / quantum
}

// SelectCrop quantizes candidates to a coarse grid, counts buckets, and picks
// the most frequent one, breaking ties by larger area. The selection is
// order-independent: ties between buckets and between representatives inside
// a bucket resolve by deterministic comparisons, never insertion order.
func SelectCrop(cands []Candidate, srcW, srcH int) types.BorderCrop {
	full := FullFrame(srcW, srcH)
	if len(cands) == 0 {
		return full
	}

	counts := make(map[bucketKey]int)
	reps := make(map[bucketKey]Candidate)
	for _, c := range cands {
		key := bucketKey{quantize(c.W), quantize(c.H), quantize(c.X), quantize(c.Y)}
		counts[key]++
		rep, ok := reps[key]
		if !ok || betterRepresentative(c, rep) {
			reps[key] = c
		}
	}

	keys := make([]bucketKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b bucketKey) int {
		if d := counts[b] - counts[a]; d != 0 {
			return d
		}
		// Prefer the larger area to avoid over-cropping.
		if d := b.w*b.h - a.w*a.h; d != 0 {
			return d
		}
		return compareKeys(a, b)
	})

	rep := reps[keys[0]]

	// Clamp to frame and enforce even dimensions, rounding down so the
	// crop never exceeds the original bounds.
	if rep.X+rep.W > srcW {
		rep.W = srcW - rep.X
	}
	if rep.Y+rep.H > srcH {
		rep.H = srcH - rep.Y
	}
	rep.W = geometry.EvenDown(rep.W)
	rep.H = geometry.EvenDown(rep.H)

	if !differsFromFull(rep, srcW, srcH) {
		return full
	}

	return types.BorderCrop{
		X: rep.X, Y: rep.Y,
		Width:          rep.W,
		Height:         rep.H,
		OriginalWidth:  srcW,
		OriginalHeight: srcH,
		HasBorders:     true,
	}
}

func betterRepresentative(a, b Candidate) bool {
	if d := a.W*a.H - b.W*b.H; d != 0 {
		return d > 0
	}
	if a.X != b.X {
		return a.X < b.X
	}
	return a.Y < b.Y
}

func compareKeys(a, b bucketKey) int {
	if a.w != b.w {
		return a.w - b.w
	}
	if a.h != b.h {
		return a.h - b.h
	}
	if a.x != b.x {
		return a.x - b.x
	}
	return a.y - b.y
}

// differsFromFull requires more than edgeMargin pixels of difference on at
// least one edge; anything less is cropdetect noise.
func differsFromFull(c Candidate, srcW, srcH int) bool {
	return c.X > edgeMargin ||
		c.Y > edgeMargin ||
		srcW-(c.X+c.W) > edgeMargin ||
		srcH-(c.Y+c.H) > edgeMargin
}

// ExpandSafe grows a detected crop by caption-safe margins so that text
// hugging the top or bottom of the picture is never clipped. The expanded
// rectangle is clamped to the original frame.
func ExpandSafe(crop types.BorderCrop) types.BorderCrop {
	if !crop.HasBorders {
		return crop
	}

	dx := int(math.Ceil(float64(crop.OriginalWidth) * safeMarginWidthFrac))
	dy := int(math.Ceil(float64(crop.OriginalHeight) * safeMarginHeightFrac))

	x := crop.X - dx
	y := crop.Y - dy
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	w := crop.Width + 2*dx
	h := crop.Height + 2*dy
	if x+w > crop.OriginalWidth {
		w = crop.OriginalWidth - x
	}
	if y+h > crop.OriginalHeight {
		h = crop.OriginalHeight - y
	}

	out := crop
	out.X = x
	out.Y = y
	out.Width = geometry.EvenDown(w)
	out.Height = geometry.EvenDown(h)

	if !differsFromFull(Candidate{W: out.Width, H: out.Height, X: out.X, Y: out.Y},
		crop.OriginalWidth, crop.OriginalHeight) {
		return FullFrame(crop.OriginalWidth, crop.OriginalHeight)
	}
	return out
}

// GenerateCropFilter renders a BorderCrop as an ffmpeg crop filter term.
// Output dimensions are always even.
func GenerateCropFilter(crop types.BorderCrop) string {
	return fmt.Sprintf("crop=%d:%d:%d:%d",
		geometry.EvenDown(crop.Width), geometry.EvenDown(crop.Height), crop.X, crop.Y)
}
