package hwaccel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsEncoderInitFailure(t *testing.T) {
	initFailures := []string{
		"[h264_nvenc @ 0x55f] Cannot load libcuda.so.1",
		"[h264_nvenc @ 0x55f] No capable devices found",
		"Driver does not support the required nvenc API version. Required: 12.0 Found: 11.1",
		"[h264_qsv @ 0x55f] Error initializing the MFX video encoder: unsupported (-3)",
		"[AVHWDeviceContext @ 0x55f] Failed to initialise VAAPI connection: -1 (unknown libva error).",
		"Error while opening encoder - maybe incorrect parameters such as bit_rate, rate, width or height",
		"Generic error in an external library",
	}
	for _, out := range initFailures {
		assert.True(t, IsEncoderInitFailure(out), out)
	}

	contentFailures := []string{
		"input.mp4: No such file or directory",
		"[matroska,webm @ 0x55f] Format matroska detected only with low score",
		"Error reinitializing filters! Failed to inject frame into filter network",
		"Invalid data found when processing input",
		"Conversion failed!",
	}
	for _, out := range contentFailures {
		assert.False(t, IsEncoderInitFailure(out), out)
	}
}

func TestIsEncoderInitFailureCaseInsensitive(t *testing.T) {
	assert.True(t, IsEncoderInitFailure("CUDA ERROR: out of memory"))
	assert.True(t, IsEncoderInitFailure("cannot LOAD libcuda"))
}

func TestCandidatesSoftwareOnlyWithoutGPU(t *testing.T) {
	ResetCache()
	t.Cleanup(ResetCache)

	p := NewProber("ffmpeg-does-not-exist", 100*time.Millisecond, nil)
	chain := p.Candidates(context.Background(), false)

	require.Len(t, chain, 1)
	assert.Equal(t, Software, chain[0])
	assert.False(t, chain[0].Hardware)
}

func TestCandidatesAlwaysEndWithSoftware(t *testing.T) {
	ResetCache()
	t.Cleanup(ResetCache)

	// The binary does not exist, so no hardware encoder can verify; the
	// chain still carries the universal fallback.
	p := NewProber("ffmpeg-does-not-exist", 100*time.Millisecond, nil)
	chain := p.Candidates(context.Background(), true)

	require.NotEmpty(t, chain)
	last := chain[len(chain)-1]
	assert.Equal(t, "libx264", last.Name)
	assert.False(t, last.Hardware)
}

func TestCandidatesCancelledProbeIsNotCached(t *testing.T) {
	ResetCache()
	t.Cleanup(ResetCache)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProber("ffmpeg-does-not-exist", 100*time.Millisecond, nil)
	chain := p.Candidates(ctx, true)

	require.NotEmpty(t, chain)
	assert.Equal(t, "libx264", chain[len(chain)-1].Name)

	// A probe pass that never ran to completion must not pin an empty
	// hardware list for the rest of the process.
	probeMu.Lock()
	assert.False(t, probeDone)
	probeMu.Unlock()
}

func TestCandidatesCached(t *testing.T) {
	ResetCache()
	t.Cleanup(ResetCache)

	p := NewProber("ffmpeg-does-not-exist", 100*time.Millisecond, nil)
	first := p.Candidates(context.Background(), true)
	second := p.Candidates(context.Background(), true)
	assert.Equal(t, first, second)

	probeMu.Lock()
	assert.True(t, probeDone)
	probeMu.Unlock()
}
