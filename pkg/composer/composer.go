// Package composer is the public entry point: it composites a source video
// into a template's placeholder region and encodes the result, with optional
// border removal, AI content framing, and hardware-accelerated encoding.
package composer

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/reelforge/reelforge/internal/borders"
	"github.com/reelforge/reelforge/internal/config"
	ffwrap "github.com/reelforge/reelforge/internal/ffmpeg"
	"github.com/reelforge/reelforge/internal/framing"
	"github.com/reelforge/reelforge/internal/hwaccel"
	"github.com/reelforge/reelforge/internal/pipeline"
	"github.com/reelforge/reelforge/internal/template"
	"github.com/reelforge/reelforge/pkg/types"
)

// Options defines one composite-and-encode job.
type Options struct {
	// SourcePath is the video to composite into the template.
	SourcePath string
	// TemplatePath is the template image (png, jpeg, or webp). The output
	// canvas takes the template's pixel dimensions.
	TemplatePath string
	// OutputPath is where the encoded video is written.
	OutputPath string

	// Region overrides placeholder detection when non-nil.
	Region *types.Region

	// FitMode is "cover" (default) or "contain".
	FitMode types.FitMode
	// QualityTier is "fast", "balanced" (default), or "quality".
	QualityTier types.QualityTier

	// UseGPU enables the hardware encoder candidate chain. Software
	// encoding remains the guaranteed fallback.
	UseGPU bool

	TrimStartSec float64
	TrimEndSec   float64

	// UseAIFraming samples a frame and asks the configured inference
	// service where the important content sits. Failures fall back to the
	// default anchor and never fail the job.
	UseAIFraming bool
	UseMirror    bool
	UseDenoise   bool
	// UseSafeFrame expands border detection and letterboxes the source so
	// top and bottom captions are never clipped. Implies contain fit.
	UseSafeFrame bool
	// FrameLoop selects the in-process frame compositor instead of the
	// external filter-graph encode.
	FrameLoop bool

	WatermarkText string
}

// Composer runs jobs against one process configuration.
type Composer struct {
	cfg *config.Config
	pl  *pipeline.Pipeline
}

// New creates a Composer from environment configuration.
func New() (*Composer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg), nil
}

// NewWithConfig creates a Composer from an explicit configuration.
func NewWithConfig(cfg *config.Config) *Composer {
	logger := cfg.NewLogger()
	return &Composer{cfg: cfg, pl: pipeline.New(cfg, logger)}
}

// Process runs one job to completion. onProgress may be nil. Cancelling ctx
// yields a Result with Cancelled set rather than a generic error.
func (c *Composer) Process(ctx context.Context, opts Options, onProgress types.ProgressFunc) types.Result {
	job := config.EncodeJob{
		SourcePath:   opts.SourcePath,
		TemplatePath: opts.TemplatePath,
		OutputPath:   opts.OutputPath,
		Region:       opts.Region,
		Settings: config.Settings{
			FitMode:       opts.FitMode,
			QualityTier:   opts.QualityTier,
			UseGPU:        opts.UseGPU,
			TrimStartSec:  opts.TrimStartSec,
			TrimEndSec:    opts.TrimEndSec,
			UseAIFraming:  opts.UseAIFraming,
			UseMirror:     opts.UseMirror,
			UseDenoise:    opts.UseDenoise,
			UseSafeFrame:  opts.UseSafeFrame,
			FrameLoop:     opts.FrameLoop,
			WatermarkText: opts.WatermarkText,
		},
	}
	return c.pl.Process(ctx, job, onProgress)
}

// DetectRegion loads a template image and returns its placeholder region.
func (c *Composer) DetectRegion(templatePath string) (types.Region, error) {
	tpl, err := template.Load(templatePath, template.DefaultChromaKey(), nil)
	if err != nil {
		return types.Region{}, err
	}
	return tpl.Region, nil
}

// DetectBorders runs letterbox detection against a video and returns the
// selected content rectangle. It never fails: detection problems yield the
// full frame.
func (c *Composer) DetectBorders(ctx context.Context, videoPath string) (types.BorderCrop, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return types.BorderCrop{}, errors.Wrap(err, "source video")
	}
	logger := c.cfg.NewLogger()
	meta, err := ffwrap.NewProcessor(logger).GetVideoMetadata(videoPath)
	if err != nil {
		return types.BorderCrop{}, err
	}
	det := borders.NewDetector(c.cfg.FFmpegPath, c.cfg.DetectTimeout, logger)
	return det.Detect(ctx, videoPath, meta.Width, meta.Height), nil
}

// AnalyzeFraming samples the video and returns its content anchor. Without a
// configured inference service this is always the default anchor.
func (c *Composer) AnalyzeFraming(ctx context.Context, videoPath string) (types.ContentAnchor, error) {
	logger := c.cfg.NewLogger()
	meta, err := ffwrap.NewProcessor(logger).GetVideoMetadata(videoPath)
	if err != nil {
		return types.ContentAnchor{}, err
	}
	a := framing.NewAnalyzer(c.cfg.FFmpegPath, c.cfg.FramingServiceURL, c.cfg.FramingTimeout, logger)
	return a.Analyze(ctx, videoPath, meta.Duration), nil
}

// EncoderCandidates probes hardware capability and returns the encoder chain
// a GPU-enabled job would attempt, software fallback last.
func (c *Composer) EncoderCandidates(ctx context.Context) []hwaccel.Encoder {
	prober := hwaccel.NewProber(c.cfg.FFmpegPath, c.cfg.ProbeTimeout, c.cfg.NewLogger())
	return prober.Candidates(ctx, true)
}
