package borders

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCandidates(t *testing.T) {
	output := `
[Parsed_cropdetect_0 @ 0x55d] x1:0 x2:1919 y1:139 y2:938 w:1920 h:800 x:0 y:140 pts:512 t:0.040000 crop=1920:800:0:140
[Parsed_cropdetect_0 @ 0x55d] x1:0 x2:1919 y1:140 y2:939 w:1920 h:800 x:0 y:140 pts:1024 t:0.080000 crop=1920:800:0:140
frame=  120 fps=0.0 q=-0.0 size=N/A
`
	cands := ParseCandidates(output)
	require.Len(t, cands, 2)
	assert.Equal(t, Candidate{W: 1920, H: 800, X: 0, Y: 140}, cands[0])
}

func TestSelectCropMajority(t *testing.T) {
	cands := []Candidate{
		{1920, 800, 0, 140},
		{1920, 800, 0, 140},
		{1920, 800, 0, 140},
		{1918, 798, 0, 142}, // jitter, same bucket
		{1920, 1080, 0, 0},  // one full-frame outlier
	}

	crop := SelectCrop(cands, 1920, 1080)
	require.True(t, crop.HasBorders)
	assert.Equal(t, 1920, crop.Width)
	assert.Equal(t, 800, crop.Height)
	assert.Equal(t, 140, crop.Y)
	assert.Equal(t, 1080, crop.OriginalHeight)
}

func TestSelectCropOrderIndependent(t *testing.T) {
	base := []Candidate{
		{1920, 800, 0, 140},
		{1916, 804, 2, 138},
		{1920, 796, 0, 142},
		{1280, 720, 320, 180},
		{1280, 720, 320, 180},
		{1284, 716, 318, 182},
	}

	want := SelectCrop(base, 1920, 1080)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := append([]Candidate(nil), base...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		assert.Equal(t, want, SelectCrop(shuffled, 1920, 1080))
	}
}

func TestSelectCropTiePrefersLargerArea(t *testing.T) {
	cands := []Candidate{
		{1920, 800, 0, 140},
		{1280, 720, 320, 180},
	}
	crop := SelectCrop(cands, 1920, 1080)
	assert.Equal(t, 1920, crop.Width)
	assert.Equal(t, 800, crop.Height)
}

func TestSelectCropNoCandidates(t *testing.T) {
	crop := SelectCrop(nil, 1280, 720)
	assert.False(t, crop.HasBorders)
	assert.Equal(t, 1280, crop.Width)
	assert.Equal(t, 720, crop.Height)
}

func TestSelectCropNoiseIsNotBorders(t *testing.T) {
	// Within edgeMargin of the full frame on every edge.
	cands := []Candidate{{1918, 1078, 1, 1}, {1918, 1078, 1, 1}}
	crop := SelectCrop(cands, 1920, 1080)
	assert.False(t, crop.HasBorders)
}

func TestSelectCropEvenDimensions(t *testing.T) {
	cands := []Candidate{{1919, 799, 0, 140}, {1919, 799, 0, 140}}
	crop := SelectCrop(cands, 1920, 1080)
	require.True(t, crop.HasBorders)
	assert.Zero(t, crop.Width%2)
	assert.Zero(t, crop.Height%2)
	// Odd inputs are decremented, never incremented.
	assert.Equal(t, 1918, crop.Width)
	assert.Equal(t, 798, crop.Height)
	assert.LessOrEqual(t, crop.X+crop.Width, 1920)
	assert.LessOrEqual(t, crop.Y+crop.Height, 1080)
}

func TestExpandSafe(t *testing.T) {
	crop := SelectCrop([]Candidate{{1920, 800, 0, 140}, {1920, 800, 0, 140}}, 1920, 1080)
	require.True(t, crop.HasBorders)

	safe := ExpandSafe(crop)
	require.True(t, safe.HasBorders)
	assert.Less(t, safe.Y, crop.Y)
	assert.Greater(t, safe.Height, crop.Height)
	assert.LessOrEqual(t, safe.Y+safe.Height, 1080)
	assert.Zero(t, safe.Width%2)
	assert.Zero(t, safe.Height%2)
}

func TestExpandSafeReachesFullFrame(t *testing.T) {
	// A sliver of a border disappears entirely under the safe margins.
	crop := SelectCrop([]Candidate{{1920, 1064, 0, 8}, {1920, 1064, 0, 8}}, 1920, 1080)
	require.True(t, crop.HasBorders)

	safe := ExpandSafe(crop)
	assert.False(t, safe.HasBorders)
	assert.Equal(t, 1080, safe.Height)
}

func TestExpandSafeNoBordersPassthrough(t *testing.T) {
	full := FullFrame(1280, 720)
	assert.Equal(t, full, ExpandSafe(full))
}

func TestGenerateCropFilter(t *testing.T) {
	crop := FullFrame(1281, 721)
	assert.Equal(t, "crop=1280:720:0:0", GenerateCropFilter(crop))
}
