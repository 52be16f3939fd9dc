// Package pipeline orchestrates one encode job end to end: template loading,
// source analysis, geometry resolution, and the encode itself with automatic
// hardware-to-software encoder fallback.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/reelforge/reelforge/internal/borders"
	"github.com/reelforge/reelforge/internal/compositor"
	"github.com/reelforge/reelforge/internal/config"
	ffwrap "github.com/reelforge/reelforge/internal/ffmpeg"
	"github.com/reelforge/reelforge/internal/framing"
	"github.com/reelforge/reelforge/internal/geometry"
	"github.com/reelforge/reelforge/internal/hwaccel"
	"github.com/reelforge/reelforge/internal/recorder"
	"github.com/reelforge/reelforge/internal/template"
	"github.com/reelforge/reelforge/pkg/types"
)

// ErrCancelled is the terminal outcome of a job whose context was cancelled.
// It is distinct from every processing error.
var ErrCancelled = errors.New("job cancelled")

// minOutputBytes is the smallest output the external encode path accepts as
// non-corrupt.
const minOutputBytes = 4096

// progressBucketPct throttles encode progress to one event per bucket so a
// chatty encoder cannot flood the callback.
const progressBucketPct = 5

// Pipeline runs encode jobs. One Pipeline is safe to reuse across jobs; all
// per-job state lives in locals.
type Pipeline struct {
	cfg    *config.Config
	logger *slog.Logger

	proc     *ffwrap.Processor
	prober   *hwaccel.Prober
	detector *borders.Detector
	analyzer *framing.Analyzer
	rec      *recorder.Recorder

	// runEncode executes one external encode attempt. Test seam.
	runEncode func(cmd *exec.Cmd, durationSec float64, onProgress func(ffwrap.ProgressUpdate)) error
}

// New wires a pipeline from process configuration.
func New(cfg *config.Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		logger:   logger,
		proc:     ffwrap.NewProcessor(logger),
		prober:   hwaccel.NewProber(cfg.FFmpegPath, cfg.ProbeTimeout, logger),
		detector: borders.NewDetector(cfg.FFmpegPath, cfg.DetectTimeout, logger),
		analyzer: framing.NewAnalyzer(cfg.FFmpegPath, cfg.FramingServiceURL, cfg.FramingTimeout, logger),
		rec:      recorder.New(cfg.FFmpegPath, logger),
		runEncode: func(cmd *exec.Cmd, durationSec float64, onProgress func(ffwrap.ProgressUpdate)) error {
			return ffwrap.RunWithProgress(cmd, durationSec, onProgress)
		},
	}
}

// Process runs one job to its terminal outcome. The stages are strictly
// sequential; each consumes the immutable output of the one before it.
// Cancellation via ctx yields a cancelled result, not a generic error.
func (p *Pipeline) Process(ctx context.Context, job config.EncodeJob, onProgress types.ProgressFunc) types.Result {
	job.Settings = config.NormalizeSettings(job.Settings)
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	log := p.logger.With("job_id", job.ID)
	emit := newEmitter(job.ID, onProgress)

	if err := job.Validate(); err != nil {
		return p.fail(emit, log, err)
	}
	// The container is always mp4 (aac audio, faststart); the extension
	// must agree or players guess wrong.
	job.OutputPath = ffwrap.EnsureExtension(job.OutputPath, ".mp4")

	emit.stage(types.StageAnalyzing, 0, "loading template")
	tpl, err := template.Load(job.TemplatePath, template.DefaultChromaKey(), job.Region)
	if err != nil {
		return p.fail(emit, log, err)
	}

	meta, err := p.proc.GetVideoMetadata(job.SourcePath)
	if err != nil {
		return p.fail(emit, log, err)
	}
	windowStart := job.Settings.TrimStartSec
	windowLen := meta.Duration - windowStart - job.Settings.TrimEndSec
	if windowLen <= 0 {
		return p.fail(emit, log, errors.Errorf(
			"trims remove the whole video (duration %.2fs)", meta.Duration))
	}

	tempDir, err := os.MkdirTemp(p.cfg.TempDir, "reelforge-*")
	if err != nil {
		return p.fail(emit, log, errors.Wrap(err, "creating scratch dir"))
	}
	defer os.RemoveAll(tempDir)

	emit.stage(types.StageAnalyzing, 2, "detecting borders")
	crop := p.detector.Detect(ctx, job.SourcePath, meta.Width, meta.Height)
	if job.Settings.UseSafeFrame {
		crop = borders.ExpandSafe(crop)
	}

	anchor := geometry.DefaultAnchor()
	if job.Settings.UseAIFraming {
		emit.stage(types.StageAnalyzing, 4, "analyzing content framing")
		anchor = p.analyzer.Analyze(ctx, job.SourcePath, meta.Duration)
	}

	plan := geometry.Resolve(crop.Width, crop.Height,
		tpl.Region.Width, tpl.Region.Height, anchor, job.Settings.FitMode)
	fps := ffwrap.ClampFrameRate(meta.FrameRate, job.Settings.QualityTier)
	candidates := p.prober.Candidates(ctx, job.Settings.UseGPU)

	if ctx.Err() != nil {
		return p.cancelled(emit, log)
	}

	emit.stage(types.StageProcessing, 5, "encoding")
	var attempt attemptFunc
	if job.Settings.FrameLoop {
		comp := compositor.New(tpl, plan, job.Settings.WatermarkText)
		attempt = p.frameLoopAttempt(job, meta, tpl, crop, comp, fps, windowStart, windowLen, emit)
	} else {
		spec := graphSpec{
			CanvasW:  tpl.Width,
			CanvasH:  tpl.Height,
			Region:   tpl.Region,
			Crop:     crop,
			Anchor:   anchor,
			Plan:     plan,
			Key:      tpl.Key,
			Settings: job.Settings,
			FPS:      fps,
		}
		attempt = p.filterGraphAttempt(job, meta, spec, windowStart, windowLen, emit)
	}

	used, err := p.runWithFallback(ctx, candidates, job.OutputPath, attempt)
	if err != nil {
		if ctx.Err() != nil {
			return p.cancelled(emit, log)
		}
		return p.fail(emit, log, err)
	}

	log.Info("job finished", "encoder", used.Name, "output", job.OutputPath)
	emit.stage(types.StageDone, 100, fmt.Sprintf("encoded with %s", used.Name))
	return types.Result{Success: true, OutputPath: job.OutputPath}
}

// attemptFunc runs one full encode with one encoder candidate.
type attemptFunc func(ctx context.Context, enc hwaccel.Encoder) error

// frameLoopAttempt builds the in-process compositing attempt.
func (p *Pipeline) frameLoopAttempt(job config.EncodeJob, meta *ffwrap.VideoMetadata,
	tpl *template.Template, crop types.BorderCrop, comp *compositor.Compositor,
	fps, windowStart, windowLen float64, emit *emitter) attemptFunc {

	preFilter := frameLoopPreFilter(crop)

	return func(ctx context.Context, enc hwaccel.Encoder) error {
		return p.rec.Record(ctx, recorder.Job{
			SourcePath:        job.SourcePath,
			OutputPath:        job.OutputPath,
			SourceW:           crop.Width,
			SourceH:           crop.Height,
			CanvasW:           tpl.Width,
			CanvasH:           tpl.Height,
			PreFilter:         preFilter,
			FPS:               fps,
			DurationSec:       windowLen,
			TrimStart:         windowStart,
			HasAudio:          meta.HasAudio,
			EncoderName:       enc.Name,
			EncoderArgs:       encoderArgs(enc, job.Settings.QualityTier),
			EncoderGlobalArgs: enc.GlobalArgs,
			EncoderFilter:     enc.FilterSuffix,
			Compositor:        comp,
		}, func(done, total int) {
			emit.encode(100*float64(done)/float64(total), 0, "")
		})
	}
}

// frameLoopPreFilter returns the decode-side filter that guarantees frames
// arrive at exactly crop.Width x crop.Height. The frame reader sizes its
// buffer from those evened dimensions, so a source with odd dimensions needs
// the crop even when no borders were detected.
func frameLoopPreFilter(crop types.BorderCrop) string {
	if !crop.HasBorders &&
		crop.Width == crop.OriginalWidth && crop.Height == crop.OriginalHeight {
		return ""
	}
	return borders.GenerateCropFilter(crop)
}

// filterGraphAttempt builds the external-process attempt. Each candidate gets
// a fresh command because the filter graph and flags differ per encoder.
func (p *Pipeline) filterGraphAttempt(job config.EncodeJob, meta *ffwrap.VideoMetadata,
	spec graphSpec, windowStart, windowLen float64, emit *emitter) attemptFunc {

	return func(ctx context.Context, enc hwaccel.Encoder) error {
		spec.Encoder = enc
		cmd := p.encodeCmd(ctx, job, spec, enc, meta.HasAudio, windowStart, windowLen)
		err := p.runEncode(cmd, windowLen, func(u ffwrap.ProgressUpdate) {
			emit.encode(u.Percent, u.FPS, u.Speed)
		})
		if err != nil {
			return err
		}
		return verifyOutput(job.OutputPath)
	}
}

// encodeCmd assembles the full ffmpeg invocation for one candidate. Input 0
// is the trimmed source, input 1 the looped template image; -progress output
// goes to stdout for the runner to parse.
func (p *Pipeline) encodeCmd(ctx context.Context, job config.EncodeJob, spec graphSpec,
	enc hwaccel.Encoder, hasAudio bool, windowStart, windowLen float64) *exec.Cmd {

	args := []string{"-hide_banner", "-nostats", "-loglevel", "error", "-progress", "pipe:1"}
	args = append(args, enc.GlobalArgs...)
	args = append(args,
		"-ss", fmt.Sprintf("%.3f", windowStart),
		"-t", fmt.Sprintf("%.3f", windowLen),
		"-i", job.SourcePath,
		"-loop", "1",
		"-i", job.TemplatePath,
		"-filter_complex", buildFilterGraph(spec),
		"-map", "[out]",
	)
	if hasAudio {
		args = append(args, "-map", "0:a:0", "-c:a", "aac", "-b:a", "128k")
	} else {
		args = append(args, "-an")
	}
	args = append(args, "-c:v", enc.Name)
	args = append(args, encoderArgs(enc, job.Settings.QualityTier)...)
	args = append(args, "-movflags", "+faststart", "-shortest", "-y", job.OutputPath)

	return exec.CommandContext(ctx, p.cfg.FFmpegPath, args...)
}

// runWithFallback executes candidates in order. Only failures classified as
// encoder initialization trigger the next candidate; content and filter
// errors surface immediately because every later candidate would hit them
// too. Partial output is discarded before a retry and on every failed exit,
// so the caller never sees a half-written file.
func (p *Pipeline) runWithFallback(ctx context.Context, candidates []hwaccel.Encoder,
	outputPath string, attempt attemptFunc) (hwaccel.Encoder, error) {

	if len(candidates) == 0 {
		return hwaccel.Encoder{}, errors.New("no encoder candidates")
	}

	var lastErr error
	for i, enc := range candidates {
		if err := ctx.Err(); err != nil {
			_ = os.Remove(outputPath)
			return hwaccel.Encoder{}, err
		}

		err := attempt(ctx, enc)
		if err == nil {
			return enc, nil
		}
		if ctx.Err() != nil {
			_ = os.Remove(outputPath)
			return hwaccel.Encoder{}, ctx.Err()
		}
		lastErr = err

		var xerr *ffwrap.ExitError
		if i < len(candidates)-1 && errors.As(err, &xerr) && hwaccel.IsEncoderInitFailure(xerr.Tail) {
			p.logger.Warn("encoder failed to initialize, trying next candidate",
				"encoder", enc.Name, "next", candidates[i+1].Name)
			_ = os.Remove(outputPath)
			continue
		}
		_ = os.Remove(outputPath)
		return enc, err
	}
	return hwaccel.Encoder{}, lastErr
}

// verifyOutput rejects zero or implausibly small output files.
func verifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, "verifying output")
	}
	if info.Size() < minOutputBytes {
		return errors.Errorf("output file is corrupt or empty (%d bytes)", info.Size())
	}
	return nil
}

func (p *Pipeline) fail(emit *emitter, log *slog.Logger, err error) types.Result {
	log.Error("job failed", "error", err)
	emit.stage(types.StageError, 0, err.Error())
	return types.Result{Error: err.Error()}
}

func (p *Pipeline) cancelled(emit *emitter, log *slog.Logger) types.Result {
	log.Info("job cancelled")
	emit.stage(types.StageError, 0, ErrCancelled.Error())
	return types.Result{Cancelled: true, Error: ErrCancelled.Error()}
}

// emitter throttles encode-phase progress to coarse buckets. Stage
// transitions always go through.
type emitter struct {
	jobID      string
	fn         types.ProgressFunc
	lastBucket int
}

func newEmitter(jobID string, fn types.ProgressFunc) *emitter {
	return &emitter{jobID: jobID, fn: fn, lastBucket: -1}
}

func (e *emitter) stage(stage types.Stage, pct float64, msg string) {
	if e.fn == nil {
		return
	}
	e.fn(types.Progress{JobID: e.jobID, Percent: pct, Stage: stage, Message: msg})
}

func (e *emitter) encode(pct, fps float64, speed string) {
	if e.fn == nil {
		return
	}
	// Frame-count estimates can overshoot; the contract is 0-100.
	if pct > 100 {
		pct = 100
	}
	bucket := int(pct) / progressBucketPct
	if bucket <= e.lastBucket {
		return
	}
	e.lastBucket = bucket
	e.fn(types.Progress{
		JobID:   e.jobID,
		Percent: pct,
		Stage:   types.StageProcessing,
		Message: "encoding",
		FPS:     fps,
		Speed:   speed,
	})
}
