package framing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/reelforge/internal/geometry"
)

func stubExtract(ctx context.Context, videoPath string, durationSec float64) ([]byte, func(), error) {
	return []byte("jpeg-bytes"), func() {}, nil
}

func newTestAnalyzer(t *testing.T, handler http.HandlerFunc) *Analyzer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a := NewAnalyzer("ffmpeg", srv.URL, 2*time.Second, nil)
	a.client = srv.Client()
	a.extract = stubExtract
	return a
}

func TestAnalyzeHappyPath(t *testing.T) {
	a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		var req inferenceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.ImageBase64)

		json.NewEncoder(w).Encode(inferenceResponse{AnchorX: 0.6, AnchorY: 0.4, HasFace: true})
	})

	anchor := a.Analyze(context.Background(), "clip.mp4", 30)
	assert.InDelta(t, 0.6, anchor.AnchorX, 1e-9)
	assert.InDelta(t, 0.4*0.85, anchor.AnchorY, 1e-9)
	assert.True(t, anchor.HasFace)
}

func TestAnalyzeClampsGarbageValues(t *testing.T) {
	cases := []struct {
		name   string
		resp   string
		wantX  float64
		wantY  float64
	}{
		{"out of range", `{"anchor_x": -3, "anchor_y": 5}`, 0, 0.85},
		{"non-finite", `{"anchor_x": "NaN", "anchor_y": 0.5}`, 0.5, 0.15}, // decode error -> default
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.resp))
			})
			anchor := a.Analyze(context.Background(), "clip.mp4", 30)
			assert.InDelta(t, tc.wantX, anchor.AnchorX, 1e-9)
			assert.InDelta(t, tc.wantY, anchor.AnchorY, 1e-9)
		})
	}
}

func TestAnalyzeServiceErrorFallsBack(t *testing.T) {
	a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exhausted", http.StatusTooManyRequests)
	})

	anchor := a.Analyze(context.Background(), "clip.mp4", 30)
	assert.Equal(t, geometry.DefaultAnchor(), anchor)
}

func TestAnalyzeExtractionErrorFallsBack(t *testing.T) {
	a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("service must not be called when extraction fails")
	})
	a.extract = func(ctx context.Context, videoPath string, durationSec float64) ([]byte, func(), error) {
		return nil, func() {}, assert.AnError
	}

	anchor := a.Analyze(context.Background(), "clip.mp4", 30)
	assert.Equal(t, geometry.DefaultAnchor(), anchor)
}

func TestAnalyzeDisabledWithoutServiceURL(t *testing.T) {
	a := NewAnalyzer("ffmpeg", "", time.Second, nil)
	anchor := a.Analyze(context.Background(), "clip.mp4", 30)
	assert.Equal(t, geometry.DefaultAnchor(), anchor)
}
