package ffmpeg

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/reelforge/pkg/types"
)

const probeWithStreamDuration = `{
	"streams": [
		{"codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720,
		 "duration": "12.5", "r_frame_rate": "30000/1001", "avg_frame_rate": "30000/1001"},
		{"codec_type": "audio", "codec_name": "aac"}
	],
	"format": {"duration": "12.6"}
}`

const probeFormatDurationOnly = `{
	"streams": [
		{"codec_type": "video", "codec_name": "vp9", "width": 1920, "height": 1080,
		 "r_frame_rate": "0/0", "avg_frame_rate": "25/1"}
	],
	"format": {"duration": "44.2"}
}`

const probeFrameCountOnly = `{
	"streams": [
		{"codec_type": "video", "codec_name": "h264", "width": 640, "height": 360,
		 "nb_frames": "300", "r_frame_rate": "30/1"}
	],
	"format": {}
}`

func TestParseProbeStreamDuration(t *testing.T) {
	meta, err := parseProbe(probeWithStreamDuration)
	require.NoError(t, err)

	assert.Equal(t, 1280, meta.Width)
	assert.Equal(t, 720, meta.Height)
	assert.Equal(t, "h264", meta.Codec)
	assert.InDelta(t, 12.5, meta.Duration, 1e-9)
	assert.InDelta(t, 29.97, meta.FrameRate, 0.01)
	assert.True(t, meta.HasAudio)
}

func TestParseProbeFormatFallback(t *testing.T) {
	meta, err := parseProbe(probeFormatDurationOnly)
	require.NoError(t, err)

	assert.InDelta(t, 44.2, meta.Duration, 1e-9)
	assert.InDelta(t, 25, meta.FrameRate, 1e-9) // r_frame_rate unusable, avg wins
	assert.False(t, meta.HasAudio)
}

func TestParseProbeFrameCountFallback(t *testing.T) {
	meta, err := parseProbe(probeFrameCountOnly)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, meta.Duration, 1e-9)
}

func TestParseProbeRejectsNoDuration(t *testing.T) {
	_, err := parseProbe(`{"streams":[{"codec_type":"video","codec_name":"h264","width":640,"height":360}],"format":{}}`)
	assert.Error(t, err)

	_, err = parseProbe(`{"streams":[{"codec_type":"audio"}]}`)
	assert.Error(t, err)
}

func TestClampFrameRate(t *testing.T) {
	assert.Equal(t, 30.0, ClampFrameRate(30, types.QualityTierBalanced))
	assert.Equal(t, 24.0, ClampFrameRate(15, types.QualityTierBalanced))
	assert.Equal(t, 60.0, ClampFrameRate(144, types.QualityTierBalanced))
	assert.Equal(t, 30.0, ClampFrameRate(0, types.QualityTierBalanced))
	assert.Equal(t, 30.0, ClampFrameRate(-1, types.QualityTierFast))
	assert.Equal(t, 60.0, ClampFrameRate(0, types.QualityTierQuality))
	assert.Equal(t, 30.0, ClampFrameRate(math.NaN(), types.QualityTierBalanced))
}

func TestParseProgressLine(t *testing.T) {
	var st ProgressState

	assert.False(t, ParseProgressLine("frame=120", &st))
	assert.False(t, ParseProgressLine("fps=29.97", &st))
	assert.False(t, ParseProgressLine("speed=1.5x", &st))
	assert.False(t, ParseProgressLine("out_time_ms=2500000", &st))
	assert.True(t, ParseProgressLine("progress=continue", &st))

	assert.Equal(t, 2500*time.Millisecond, st.OutTime)
	assert.InDelta(t, 29.97, st.FPS, 1e-9)
	assert.Equal(t, "1.5x", st.Speed)
	assert.False(t, st.End)

	// out_time clock format is a valid fallback
	assert.False(t, ParseProgressLine("out_time=00:00:05.000000", &st))
	assert.Equal(t, 5*time.Second, st.OutTime)

	assert.True(t, ParseProgressLine("progress=end", &st))
	assert.True(t, st.End)
}

func TestProgressPercentCappedBelowHundred(t *testing.T) {
	st := ProgressState{OutTime: 9 * time.Second}
	assert.InDelta(t, 90, st.Percent(10), 1e-9)

	// Elapsed past the expected duration still reports below 100 until
	// the process confirms completion.
	st.OutTime = 15 * time.Second
	assert.InDelta(t, 99, st.Percent(10), 1e-9)

	st.End = true
	assert.InDelta(t, 100, st.Percent(10), 1e-9)

	assert.Equal(t, 0.0, ProgressState{}.Percent(0))
}

func TestTailBufferKeepsLastLines(t *testing.T) {
	tb := &TailBuffer{}
	for i := 0; i < 100; i++ {
		_, err := tb.Write([]byte("line\n"))
		require.NoError(t, err)
	}
	_, err := tb.Write([]byte("[h264_nvenc @ 0x1] Cannot load libcuda.so.1\n"))
	require.NoError(t, err)

	tail := tb.Tail()
	assert.Contains(t, tail, "Cannot load libcuda")
	assert.LessOrEqual(t, len(strings.Split(tail, "\n")), tailLines)
}

func TestEnsureExtension(t *testing.T) {
	assert.Equal(t, "clip.mp4", EnsureExtension("clip.webm", ".mp4"))
	assert.Equal(t, "clip.mp4", EnsureExtension("clip", ".mp4"))
}

func TestFormatColor(t *testing.T) {
	assert.Equal(t, "0x00FF00", FormatColor(0, 255, 0))
	assert.Equal(t, "0x11223F", FormatColor(0x11, 0x22, 0x3F))
}
