// Package config provides process configuration from environment variables
// and the per-job settings structs.
package config

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"

	"github.com/reelforge/reelforge/pkg/types"
)

// Config holds process-level configuration. Job-level knobs live in Settings.
// Probing resolves ffprobe from PATH; only the ffmpeg binary is configurable.
type Config struct {
	FFmpegPath string `env:"REELFORGE_FFMPEG, default=ffmpeg"`

	// TempDir is the parent for per-job scratch directories. Empty means
	// the OS default.
	TempDir string `env:"REELFORGE_TEMP_DIR"`

	// FramingServiceURL points at the face/saliency inference collaborator.
	// Empty disables AI framing regardless of job settings.
	FramingServiceURL string        `env:"REELFORGE_FRAMING_URL"`
	FramingTimeout    time.Duration `env:"REELFORGE_FRAMING_TIMEOUT, default=8s"`

	// ProbeTimeout bounds quick capability probes (encoder smoke tests,
	// frame extraction). DetectTimeout bounds full-video border analysis.
	ProbeTimeout  time.Duration `env:"REELFORGE_PROBE_TIMEOUT, default=6s"`
	DetectTimeout time.Duration `env:"REELFORGE_DETECT_TIMEOUT, default=30s"`

	LogFormat string `env:"REELFORGE_LOG_FORMAT, default=text"` // "json" or "text"
	LogLevel  string `env:"REELFORGE_LOG_LEVEL, default=info"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, errors.Wrap(err, "config")
	}
	return cfg, nil
}

// NewLogger creates a structured logger based on the configuration.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Settings enumerates every recognized per-job option with its default.
// There is deliberately no open-ended option bag: unknown knobs are a
// compile error, not silently ignored input.
type Settings struct {
	FitMode     types.FitMode     `validate:"oneof=cover contain"`
	QualityTier types.QualityTier `validate:"oneof=fast balanced quality"`

	UseGPU       bool
	TrimStartSec float64 `validate:"gte=0"`
	TrimEndSec   float64 `validate:"gte=0"`

	UseAIFraming bool
	UseMirror    bool
	UseDenoise   bool

	// UseSafeFrame switches to a caption-safe contain-style layout and
	// expands border detection so top/bottom text is never clipped.
	UseSafeFrame bool

	// FrameLoop selects the in-process frame compositor instead of the
	// external filter-graph encode.
	FrameLoop bool

	WatermarkText string
}

// DefaultSettings returns the documented defaults for every option.
func DefaultSettings() Settings {
	return Settings{
		FitMode:     types.FitModeCover,
		QualityTier: types.QualityTierBalanced,
	}
}

// EncodeJob is a single unit of work: one source video composited into one
// template and written to one output path.
type EncodeJob struct {
	ID           string
	SourcePath   string `validate:"required"`
	TemplatePath string `validate:"required"`
	OutputPath   string `validate:"required"`

	// Region overrides template placeholder detection when non-nil. It is
	// validated against the template's own canvas dimensions.
	Region *types.Region

	Settings Settings
}

var validate = validator.New()

// Validate fails fast on malformed jobs, before any expensive work.
func (j *EncodeJob) Validate() error {
	if err := validate.Struct(j); err != nil {
		return errors.Wrap(err, "invalid job")
	}
	if j.Settings.UseSafeFrame && j.Settings.FitMode == types.FitModeCover {
		// Safe-frame layouts imply contain; reject the contradiction
		// instead of guessing.
		return errors.New("invalid job: safe-frame requires fit mode \"contain\"")
	}
	return nil
}

// NormalizeSettings fills zero values with the documented defaults so a
// partially-populated Settings behaves predictably. Safe-frame jobs default
// to the contain layout; an explicitly requested fit mode is never rewritten,
// so a safe-frame/cover contradiction survives to Validate and is rejected
// there.
func NormalizeSettings(s Settings) Settings {
	if s.FitMode == "" {
		s.FitMode = types.FitModeCover
		if s.UseSafeFrame {
			s.FitMode = types.FitModeContain
		}
	}
	if s.QualityTier == "" {
		s.QualityTier = types.QualityTierBalanced
	}
	return s
}
