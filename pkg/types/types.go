package types

// FitMode selects how source video is fitted into the target region.
type FitMode string

const (
	// FitModeCover scales the source so it fully covers the region,
	// cropping whatever overflows. This is the only mode that discards
	// source content.
	FitModeCover FitMode = "cover"
	// FitModeContain scales the source so it is entirely visible inside
	// the region, letterboxing the remainder.
	FitModeContain FitMode = "contain"
)

// QualityTier selects an encoder preset family.
type QualityTier string

const (
	QualityTierFast     QualityTier = "fast"
	QualityTierBalanced QualityTier = "balanced"
	QualityTierQuality  QualityTier = "quality"
)

// Stage identifies the coarse phase a job is in when a progress event fires.
type Stage string

const (
	StageAnalyzing  Stage = "analyzing"
	StageProcessing Stage = "processing"
	StageDone       Stage = "done"
	StageError      Stage = "error"
)

// Region is the target rectangle, in output-canvas pixel space, where the
// source video is drawn. It is produced once per job (detected from the
// template image or passed explicitly) and immutable thereafter.
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
}

// BorderCrop describes the sub-rectangle of a source video that excludes
// letterbox/pillarbox bars. Width and Height are always even.
type BorderCrop struct {
	X              int
	Y              int
	Width          int
	Height         int
	OriginalWidth  int
	OriginalHeight int
	HasBorders     bool
}

// ContentAnchor describes where the interesting content sits within the
// (possibly border-cropped) source frame. AnchorX and AnchorY are in [0,1]:
// 0 keeps the top/left edge visible when cropping, 1 the bottom/right edge.
type ContentAnchor struct {
	AnchorX float64
	AnchorY float64
	HasFace bool
}

// Progress is emitted repeatedly while a job runs.
type Progress struct {
	JobID   string
	Percent float64
	Stage   Stage
	Message string
	FPS     float64
	Speed   string
}

// ProgressFunc receives progress events. Implementations must be cheap;
// the pipeline already throttles delivery to coarse buckets.
type ProgressFunc func(Progress)

// Result is the terminal outcome of a job.
type Result struct {
	Success    bool
	Cancelled  bool
	OutputPath string
	Error      string
}
