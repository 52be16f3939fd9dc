// Package recorder implements the in-process encode path: source frames are
// decoded through an ffmpeg rawvideo pipe, composited frame by frame, and fed
// into a second ffmpeg process that encodes video and muxes the source's own
// audio track.
package recorder

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/pkg/errors"

	"github.com/reelforge/reelforge/internal/compositor"
	ffwrap "github.com/reelforge/reelforge/internal/ffmpeg"
)

// Fatal media-pipeline errors. Each one terminates the job.
var (
	// ErrNoAudioTrack: a silently muted deliverable is worse than a
	// failure the operator can see.
	ErrNoAudioTrack   = errors.New("source has no audio track to capture")
	ErrNoDataCaptured = errors.New("no data captured from source")
	ErrCorruptOutput  = errors.New("output file is corrupt or empty")
)

// minOutputBytes is the smallest plausible size for a non-corrupt output.
const minOutputBytes = 4096

// bytesPerPixel for the rgba pipe format.
const bytesPerPixel = 4

// Job carries everything one recording run needs. Geometry has already been
// resolved; the recorder only drives the loop.
type Job struct {
	SourcePath string
	OutputPath string

	SourceW, SourceH int
	CanvasW, CanvasH int

	// PreFilter is an optional filter applied before the cadence filter on
	// the decode side, e.g. a border crop. SourceW/SourceH must describe
	// the frame dimensions after it runs.
	PreFilter string

	// FPS is the output cadence, already measured and clamped.
	FPS         float64
	DurationSec float64
	TrimStart   float64

	HasAudio bool

	EncoderName string
	// EncoderArgs are the flattened quality/preset flags for EncoderName.
	EncoderArgs []string
	// EncoderGlobalArgs are global ffmpeg flags the encoder requires,
	// e.g. the VAAPI device selection.
	EncoderGlobalArgs []string
	// EncoderFilter is the encoder's required format/upload chain. When
	// set it replaces the default yuv420p pixel format conversion.
	EncoderFilter string

	Compositor *compositor.Compositor
}

// Recorder runs frame-loop encodes.
type Recorder struct {
	FFmpegPath string
	logger     *slog.Logger
}

// New creates a recorder.
func New(ffmpegPath string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{FFmpegPath: ffmpegPath, logger: logger}
}

// Record runs the frame loop until the trimmed source window is exhausted.
// onProgress receives (framesDone, framesExpected). All acquired resources
// (both child processes, pipes) are released on every exit path; the caller
// owns output-file cleanup on failure.
func (r *Recorder) Record(ctx context.Context, job Job, onProgress func(done, total int)) error {
	if !job.HasAudio {
		return ErrNoAudioTrack
	}
	if job.DurationSec <= 0 {
		return errors.New("trim window leaves no video to record")
	}

	decoder := r.decoderCmd(ctx, job)
	decoderOut, err := decoder.StdoutPipe()
	if err != nil {
		return errors.WithStack(err)
	}
	decoderTail := &ffwrap.TailBuffer{}
	decoder.Stderr = decoderTail

	encoder := r.encoderCmd(ctx, job)
	encoderIn, err := encoder.StdinPipe()
	if err != nil {
		return errors.WithStack(err)
	}
	encoderTail := &ffwrap.TailBuffer{}
	encoder.Stderr = encoderTail

	if err := decoder.Start(); err != nil {
		return errors.Wrap(err, "starting decoder")
	}
	// The encoder (and with it the audio capture) attaches only after the
	// decoder is already producing frames.
	if err := encoder.Start(); err != nil {
		_ = decoder.Process.Kill()
		_ = decoder.Wait()
		return errors.Wrap(err, "starting encoder")
	}

	killBoth := func() {
		if decoder.Process != nil {
			_ = decoder.Process.Kill()
		}
		if encoder.Process != nil {
			_ = encoder.Process.Kill()
		}
		_ = decoder.Wait()
		_ = encoder.Wait()
	}

	frameBytes := job.SourceW * job.SourceH * bytesPerPixel
	srcFrame := &image.RGBA{
		Pix:    make([]byte, frameBytes),
		Stride: job.SourceW * bytesPerPixel,
		Rect:   image.Rect(0, 0, job.SourceW, job.SourceH),
	}
	canvas := image.NewRGBA(image.Rect(0, 0, job.CanvasW, job.CanvasH))

	// Flushing roughly once a second bounds buffered encoder input and
	// keeps a stalled encoder from looking like a frozen job.
	flushEvery := int(job.FPS)
	if flushEvery < 1 {
		flushEvery = 1
	}
	out := bufio.NewWriterSize(encoderIn, len(canvas.Pix))

	expected := int(job.DurationSec * job.FPS)
	if expected < 1 {
		expected = 1
	}

	frames := 0
	reader := bufio.NewReaderSize(decoderOut, frameBytes)
	for {
		if err := ctx.Err(); err != nil {
			killBoth()
			return err
		}

		_, err := io.ReadFull(reader, srcFrame.Pix)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			killBoth()
			return errors.Wrap(err, "reading decoded frame")
		}

		job.Compositor.ComposeInto(canvas, srcFrame)
		if _, err := out.Write(canvas.Pix); err != nil {
			killBoth()
			return &ffwrap.ExitError{
				Err:  errors.Wrap(err, "writing composited frame"),
				Tail: encoderTail.Tail(),
			}
		}

		frames++
		if frames%flushEvery == 0 {
			if err := out.Flush(); err != nil {
				killBoth()
				return &ffwrap.ExitError{
					Err:  errors.Wrap(err, "flushing encoder input"),
					Tail: encoderTail.Tail(),
				}
			}
			if onProgress != nil {
				onProgress(frames, expected)
			}
		}
	}

	if frames == 0 {
		killBoth()
		return &ffwrap.ExitError{Err: ErrNoDataCaptured, Tail: decoderTail.Tail()}
	}

	// Render one final frame before finalizing so the last visible frame
	// is never lost to pipeline truncation.
	if _, err := out.Write(canvas.Pix); err == nil {
		frames++
	}
	if err := out.Flush(); err != nil {
		killBoth()
		return &ffwrap.ExitError{
			Err:  errors.Wrap(err, "final flush"),
			Tail: encoderTail.Tail(),
		}
	}
	_ = encoderIn.Close()

	decoderErr := decoder.Wait()
	encoderErr := encoder.Wait()
	if encoderErr != nil {
		return &ffwrap.ExitError{
			Err:  errors.Wrap(encoderErr, "encoder failed"),
			Tail: encoderTail.Tail(),
		}
	}
	if decoderErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	info, err := os.Stat(job.OutputPath)
	if err != nil {
		return errors.Wrap(err, "verifying output")
	}
	if info.Size() < minOutputBytes {
		return errors.Wrapf(ErrCorruptOutput, "output is %d bytes", info.Size())
	}

	if onProgress != nil {
		onProgress(expected, expected)
	}
	r.logger.Debug("frame loop finished",
		"frames", frames, "output", job.OutputPath, "bytes", info.Size())
	return nil
}

// decoderCmd decodes the trimmed source window to rgba frames at the output
// cadence. A per-decoded-frame pipe read is the frame-accurate scheduler
// here; there is no wall-clock timer to drift.
func (r *Recorder) decoderCmd(ctx context.Context, job Job) *exec.Cmd {
	vf := fmt.Sprintf("fps=%.3f", job.FPS)
	if job.PreFilter != "" {
		vf = job.PreFilter + "," + vf
	}
	return exec.CommandContext(ctx, r.FFmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-ss", fmt.Sprintf("%.3f", job.TrimStart),
		"-t", fmt.Sprintf("%.3f", job.DurationSec),
		"-i", job.SourcePath,
		"-vf", vf,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)
}

// encoderCmd consumes composited rgba frames on stdin and muxes the source's
// audio track, trimmed to the same window.
func (r *Recorder) encoderCmd(ctx context.Context, job Job) *exec.Cmd {
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, job.EncoderGlobalArgs...)
	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", job.CanvasW, job.CanvasH),
		"-framerate", fmt.Sprintf("%.3f", job.FPS),
		"-i", "pipe:0",
		"-ss", fmt.Sprintf("%.3f", job.TrimStart),
		"-t", fmt.Sprintf("%.3f", job.DurationSec),
		"-i", job.SourcePath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", job.EncoderName,
	)
	args = append(args, job.EncoderArgs...)
	args = append(args, "-c:a", "aac", "-b:a", "128k")
	if job.EncoderFilter != "" {
		args = append(args, "-vf", job.EncoderFilter)
	} else {
		args = append(args, "-pix_fmt", "yuv420p")
	}
	args = append(args,
		"-movflags", "+faststart",
		"-shortest",
		"-y", job.OutputPath,
	)
	return exec.CommandContext(ctx, r.FFmpegPath, args...)
}
