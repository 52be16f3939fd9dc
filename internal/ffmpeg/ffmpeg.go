// Package ffmpeg wraps probing and command execution around the external
// ffmpeg/ffprobe toolchain.
package ffmpeg

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/reelforge/reelforge/pkg/types"
)

// VideoMetadata contains metadata about a video file.
type VideoMetadata struct {
	Duration  float64
	Width     int
	Height    int
	Codec     string
	FrameRate float64
	HasAudio  bool
}

// Processor wraps ffprobe metadata extraction.
type Processor struct {
	logger *slog.Logger
}

// NewProcessor creates a new probe wrapper.
func NewProcessor(logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{logger: logger}
}

// GetVideoMetadata retrieves metadata about a video file. Duration is taken
// from the video stream, then the container, then derived from frame count
// and frame rate; files where none of those resolve are rejected.
func (p *Processor) GetVideoMetadata(inputPath string) (*VideoMetadata, error) {
	probe, err := ffmpeg.Probe(inputPath)
	if err != nil {
		return nil, errors.Wrap(err, "error probing video")
	}
	return parseProbe(probe)
}

func parseProbe(probe string) (*VideoMetadata, error) {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(probe), &data); err != nil {
		return nil, errors.WithStack(err)
	}

	streams, ok := data["streams"].([]interface{})
	if !ok || len(streams) == 0 {
		return nil, errors.New("no streams found in video")
	}

	var videoStream map[string]interface{}
	hasAudio := false
	for _, stream := range streams {
		s, ok := stream.(map[string]interface{})
		if !ok {
			continue
		}
		switch s["codec_type"] {
		case "video":
			if videoStream == nil {
				videoStream = s
			}
		case "audio":
			hasAudio = true
		}
	}

	if videoStream == nil {
		return nil, errors.New("no video stream found")
	}

	var duration float64

	// First try video stream duration
	if durationStr, ok := videoStream["duration"].(string); ok {
		if d, err := strconv.ParseFloat(strings.TrimSpace(durationStr), 64); err == nil {
			duration = d
		}
	}

	// If stream duration is not available, try format duration
	if duration == 0 {
		if format, ok := data["format"].(map[string]interface{}); ok {
			if durationStr, ok := format["duration"].(string); ok {
				if d, err := strconv.ParseFloat(strings.TrimSpace(durationStr), 64); err == nil {
					duration = d
				}
			}
		}
	}

	frameRate := parseRational(videoStream["r_frame_rate"])
	if frameRate <= 0 {
		frameRate = parseRational(videoStream["avg_frame_rate"])
	}

	// Last resort: derive duration from frame count and frame rate
	if duration == 0 && frameRate > 0 {
		if nbFrames, ok := videoStream["nb_frames"].(string); ok {
			if frames, err := strconv.ParseFloat(nbFrames, 64); err == nil {
				duration = frames / frameRate
			}
		}
	}

	if duration == 0 {
		return nil, errors.New("could not determine video duration")
	}

	width, _ := videoStream["width"].(float64)
	height, _ := videoStream["height"].(float64)
	codec, _ := videoStream["codec_name"].(string)
	if width <= 0 || height <= 0 {
		return nil, errors.New("could not determine video dimensions")
	}

	return &VideoMetadata{
		Duration:  duration,
		Width:     int(width),
		Height:    int(height),
		Codec:     codec,
		FrameRate: frameRate,
		HasAudio:  hasAudio,
	}, nil
}

func parseRational(v interface{}) float64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	nums := strings.Split(s, "/")
	if len(nums) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(nums[0], 64)
	den, err2 := strconv.ParseFloat(nums[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

// Frame rate bounds for output cadence. Sources reporting cadence outside
// this range (variable-rate screen captures mostly) are clamped.
const (
	MinOutputFPS = 24
	MaxOutputFPS = 60
)

// ClampFrameRate bounds a measured source frame rate to a sane output
// cadence. When no measurement is available the quality tier picks a default.
func ClampFrameRate(fps float64, tier types.QualityTier) float64 {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		if tier == types.QualityTierQuality {
			return 60
		}
		return 30
	}
	if fps < MinOutputFPS {
		return MinOutputFPS
	}
	if fps > MaxOutputFPS {
		return MaxOutputFPS
	}
	return fps
}

// GetOptimalThreadCount returns the thread budget for software encodes.
// 75% of cores keeps the host responsive while a job runs.
func GetOptimalThreadCount() int {
	cpuCount := runtime.NumCPU()
	return int(math.Max(1, float64(cpuCount)*0.75))
}

// EnsureExtension rewrites filename to carry the given video extension.
func EnsureExtension(filename, extension string) string {
	extensions := []string{".mp4", ".webm", ".mkv", ".avi", ".mov"}
	for _, ext := range extensions {
		filename = strings.TrimSuffix(filename, ext)
	}
	return filename + extension
}

// FormatColor renders an RGB triple as an ffmpeg 0xRRGGBB literal.
func FormatColor(r, g, b uint8) string {
	return fmt.Sprintf("0x%02X%02X%02X", r, g, b)
}
