// Package hwaccel probes which hardware H.264 encoders actually work on the
// host and builds the ordered candidate chain a job will attempt. Probing is
// expensive, so results are cached for the process lifetime.
package hwaccel

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Encoder is one entry in the candidate chain.
type Encoder struct {
	// Name is the ffmpeg encoder identifier, e.g. "h264_nvenc".
	Name string
	// Hardware is false only for the universal software fallback.
	Hardware bool
	// FilterSuffix is appended to the video filter chain when this
	// encoder needs frames in a specific memory layout (VAAPI upload).
	FilterSuffix string
	// GlobalArgs are extra ffmpeg global flags the encoder requires.
	GlobalArgs []string
}

// Software is the universal fallback, always last in the chain.
var Software = Encoder{Name: "libx264"}

// hardwareEncoders is the probe order: NVIDIA first (most common discrete
// GPU), then Intel QSV, VAAPI, and VideoToolbox on macOS.
var hardwareEncoders = []Encoder{
	{Name: "h264_nvenc", Hardware: true},
	{Name: "h264_qsv", Hardware: true},
	{
		Name:         "h264_vaapi",
		Hardware:     true,
		FilterSuffix: "format=nv12,hwupload",
		GlobalArgs:   []string{"-vaapi_device", "/dev/dri/renderD128"},
	},
	{Name: "h264_videotoolbox", Hardware: true},
}

// Prober runs the capability checks.
type Prober struct {
	FFmpegPath string
	Timeout    time.Duration

	logger *slog.Logger
}

// NewProber creates a capability prober. Timeout bounds each individual
// smoke test, not the whole probe pass.
func NewProber(ffmpegPath string, timeout time.Duration, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{FFmpegPath: ffmpegPath, Timeout: timeout, logger: logger}
}

// Probe results are process-lifetime state. The mutex doubles as in-flight
// de-duplication: a second caller blocks until the first probe completes and
// then reads the cache.
var (
	probeMu     sync.Mutex
	probeDone   bool
	probeResult []Encoder
)

// ResetCache clears the probe cache. Test hook.
func ResetCache() {
	probeMu.Lock()
	defer probeMu.Unlock()
	probeDone = false
	probeResult = nil
}

// Candidates returns the ordered encoder chain for a job. With useGPU unset
// it is just the software encoder. With useGPU set it is every verified
// hardware encoder followed by the software fallback, which is always
// present as the guaranteed-available last resort.
func (p *Prober) Candidates(ctx context.Context, useGPU bool) []Encoder {
	if !useGPU {
		return []Encoder{Software}
	}

	probeMu.Lock()
	defer probeMu.Unlock()

	verified := probeResult
	if !probeDone {
		verified = p.verifiedHardware(ctx)
		// A cancelled probe pass proves nothing about the host; only a
		// completed one may be cached for the process lifetime.
		if ctx.Err() == nil {
			probeResult = verified
			probeDone = true
		}
	}

	chain := make([]Encoder, 0, len(verified)+1)
	chain = append(chain, verified...)
	return append(chain, Software)
}

// verifiedHardware returns hardware encoders that are both present in the
// ffmpeg build and pass a smoke test. Serial on purpose: concurrent GPU
// session creation is itself a known source of spurious init failures.
func (p *Prober) verifiedHardware(ctx context.Context) []Encoder {
	listed := p.buildList(ctx)

	var verified []Encoder
	for _, enc := range hardwareEncoders {
		if !strings.Contains(listed, enc.Name) {
			continue
		}
		if ok, reason := p.smokeTest(ctx, enc); !ok {
			p.logger.Debug("hardware encoder failed smoke test",
				"encoder", enc.Name, "reason", reason)
			continue
		}
		p.logger.Info("hardware encoder verified", "encoder", enc.Name)
		verified = append(verified, enc)
	}
	return verified
}

// buildList returns the toolchain's own encoder capability report.
func (p *Prober) buildList(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.FFmpegPath, "-hide_banner", "-encoders")
	out, err := cmd.Output()
	if err != nil {
		p.logger.Warn("could not list encoders", "error", err)
		return ""
	}
	return string(out)
}

// smokeTest runs a trivial synthetic two-frame encode. An encoder can be
// listed in the build yet unusable at runtime (no device, broken driver), and
// some of those failures still exit zero, so the diagnostic output is scanned
// for known failure phrases as well.
func (p *Prober) smokeTest(ctx context.Context, enc Encoder) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	args := []string{"-hide_banner"}
	args = append(args, enc.GlobalArgs...)
	args = append(args,
		"-f", "lavfi", "-i", "testsrc2=size=256x256:rate=30",
		"-frames:v", "2",
	)
	if enc.FilterSuffix != "" {
		args = append(args, "-vf", enc.FilterSuffix)
	}
	args = append(args, "-c:v", enc.Name, "-f", "null", "-")

	cmd := exec.CommandContext(ctx, p.FFmpegPath, args...)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err := cmd.Run()
	output := combined.String()

	if err != nil {
		return false, firstLineOf(output, err.Error())
	}
	if IsEncoderInitFailure(output) {
		return false, firstMatchingSignature(output)
	}
	return true, ""
}

func firstLineOf(output, fallback string) string {
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) != "" {
			return strings.TrimSpace(line)
		}
	}
	return fallback
}

func firstMatchingSignature(output string) string {
	lower := strings.ToLower(output)
	for _, sig := range FailureSignatures {
		if strings.Contains(lower, sig) {
			return sig
		}
	}
	return ""
}
