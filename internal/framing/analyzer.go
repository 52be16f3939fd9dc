// Package framing decides where the interesting content (a face, usually)
// sits in a source video and produces the normalized anchor that biases
// cropping. The actual face/saliency inference lives in an external service;
// this package samples a representative frame, calls the service within a
// failure budget, and sanitizes whatever comes back. Analysis failure is
// never fatal: every error path yields the documented default anchor.
package framing

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/reelforge/reelforge/internal/geometry"
	"github.com/reelforge/reelforge/pkg/types"
)

const (
	// sampleOffsetSec skips the first half second of the video so black
	// frames and transitions are not what gets analyzed.
	sampleOffsetSec = 0.5

	// verticalBias pulls the vertical anchor toward the top of frame.
	// Centered framing cuts foreheads in portrait conversions.
	verticalBias = 0.85
)

// inference service wire format.
type inferenceRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type inferenceResponse struct {
	AnchorX float64 `json:"anchor_x"`
	AnchorY float64 `json:"anchor_y"`
	HasFace bool    `json:"has_face"`
}

// The HTTP client is shared across jobs and built once; concurrent first
// callers deduplicate on the sync.Once rather than racing to construct.
var (
	clientOnce    sync.Once
	sharedClient  *http.Client
	clientTimeout time.Duration
)

func httpClient(timeout time.Duration) *http.Client {
	clientOnce.Do(func() {
		clientTimeout = timeout
		sharedClient = &http.Client{Timeout: timeout}
	})
	return sharedClient
}

// Analyzer calls the external framing inference service.
type Analyzer struct {
	FFmpegPath string
	ServiceURL string
	Timeout    time.Duration

	logger *slog.Logger

	// client and extract override the shared HTTP client and ffmpeg frame
	// extraction in tests.
	client  *http.Client
	extract func(ctx context.Context, videoPath string, durationSec float64) ([]byte, func(), error)
}

// NewAnalyzer creates a framing analyzer. An empty serviceURL disables
// inference; Analyze then always returns the default anchor.
func NewAnalyzer(ffmpegPath, serviceURL string, timeout time.Duration, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		FFmpegPath: ffmpegPath,
		ServiceURL: serviceURL,
		Timeout:    timeout,
		logger:     logger,
	}
}

// Analyze samples one representative frame and asks the inference service
// where the content focus sits. The returned anchor is always well-formed:
// values are clamped into [0,1] and the vertical component is biased upward.
// On any failure (extraction, transport, rate limiting, garbage values) it
// falls back to the default anchor and the job continues.
func (a *Analyzer) Analyze(ctx context.Context, videoPath string, durationSec float64) types.ContentAnchor {
	if a.ServiceURL == "" {
		return geometry.DefaultAnchor()
	}

	extract := a.extract
	if extract == nil {
		extract = a.extractFrame
	}

	frame, cleanup, err := extract(ctx, videoPath, durationSec)
	if err != nil {
		a.logger.Warn("frame extraction failed, using default anchor",
			"video", videoPath, "error", err)
		return geometry.DefaultAnchor()
	}
	defer cleanup()

	resp, err := a.infer(ctx, frame)
	if err != nil {
		a.logger.Warn("framing inference failed, using default anchor",
			"video", videoPath, "error", err)
		return geometry.DefaultAnchor()
	}

	anchor := types.ContentAnchor{
		AnchorX: geometry.ClampAnchor(resp.AnchorX),
		AnchorY: geometry.ClampAnchor(resp.AnchorY),
		HasFace: resp.HasFace,
	}
	anchor.AnchorY = geometry.ClampAnchor(anchor.AnchorY * verticalBias)
	return anchor
}

// extractFrame writes one frame, sampled past the opening transition, to a
// temp file. The caller owns the cleanup func and must run it on every path.
func (a *Analyzer) extractFrame(ctx context.Context, videoPath string, durationSec float64) ([]byte, func(), error) {
	offset := sampleOffsetSec
	if durationSec > 0 && durationSec <= sampleOffsetSec {
		offset = 0
	}

	dir, err := os.MkdirTemp("", "reelforge_frame_")
	if err != nil {
		return nil, func() {}, errors.WithStack(err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	framePath := filepath.Join(dir, "sample.jpg")
	cmd := exec.CommandContext(ctx, a.FFmpegPath,
		"-hide_banner",
		"-ss", fmt.Sprintf("%.2f", offset),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "3",
		"-y", framePath,
	)
	if err := cmd.Run(); err != nil {
		cleanup()
		return nil, func() {}, errors.Wrap(err, "frame extraction")
	}

	data, err := os.ReadFile(framePath)
	if err != nil {
		cleanup()
		return nil, func() {}, errors.WithStack(err)
	}
	return data, cleanup, nil
}

func (a *Analyzer) infer(ctx context.Context, frame []byte) (*inferenceResponse, error) {
	body, err := json.Marshal(inferenceRequest{ImageBase64: encodeBase64(frame)})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.ServiceURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := a.client
	if client == nil {
		client = httpClient(a.Timeout)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "framing service")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("framing service returned %d", resp.StatusCode)
	}

	var out inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "framing service response")
	}
	return &out, nil
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
