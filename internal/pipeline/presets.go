package pipeline

import (
	"strconv"

	"golang.org/x/exp/slices"

	ffwrap "github.com/reelforge/reelforge/internal/ffmpeg"
	"github.com/reelforge/reelforge/internal/hwaccel"
	"github.com/reelforge/reelforge/pkg/types"
)

// encoderPresets maps encoder name and quality tier to the rate-control and
// preset flags for that encoder. Hardware encoders do not share libx264's CRF
// scale, so each family carries its own tuning.
var encoderPresets = map[string]map[types.QualityTier][]string{
	"libx264": {
		types.QualityTierFast:     {"-preset", "veryfast", "-crf", "26"},
		types.QualityTierBalanced: {"-preset", "medium", "-crf", "22"},
		types.QualityTierQuality:  {"-preset", "slower", "-crf", "18"},
	},
	"h264_nvenc": {
		types.QualityTierFast:     {"-preset", "p3", "-rc", "vbr", "-cq", "28"},
		types.QualityTierBalanced: {"-preset", "p5", "-rc", "vbr", "-cq", "23"},
		types.QualityTierQuality:  {"-preset", "p7", "-rc", "vbr", "-cq", "19"},
	},
	"h264_qsv": {
		types.QualityTierFast:     {"-preset", "veryfast", "-global_quality", "28"},
		types.QualityTierBalanced: {"-preset", "medium", "-global_quality", "23"},
		types.QualityTierQuality:  {"-preset", "slower", "-global_quality", "19"},
	},
	"h264_vaapi": {
		types.QualityTierFast:     {"-qp", "28"},
		types.QualityTierBalanced: {"-qp", "23"},
		types.QualityTierQuality:  {"-qp", "19"},
	},
	"h264_videotoolbox": {
		types.QualityTierFast:     {"-q:v", "45"},
		types.QualityTierBalanced: {"-q:v", "55"},
		types.QualityTierQuality:  {"-q:v", "65"},
	},
}

// encoderArgs returns the flattened quality flags for one encode attempt.
// Unknown encoder names fall back to the software preset table so a new
// candidate can never leave an attempt without rate control.
func encoderArgs(enc hwaccel.Encoder, tier types.QualityTier) []string {
	if tier == "" {
		tier = types.QualityTierBalanced
	}
	tiers, ok := encoderPresets[enc.Name]
	if !ok {
		tiers = encoderPresets[hwaccel.Software.Name]
	}
	args := slices.Clone(tiers[tier])
	if !enc.Hardware {
		args = append(args, "-threads", strconv.Itoa(ffwrap.GetOptimalThreadCount()))
	}
	return args
}
