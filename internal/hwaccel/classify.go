package hwaccel

import "strings"

// FailureSignatures lists diagnostic phrases that mark an encode failure as
// an encoder-initialization problem (broken driver, missing device, encoder
// compiled in but unusable) rather than a problem with the input or the
// filter graph. Only init failures are worth retrying on the next candidate.
//
// Driver message formats vary by vendor and version; this list is
// configuration, not exhaustive truth. Extend it here without touching the
// retry orchestration.
var FailureSignatures = []string{
	// NVIDIA / NVENC
	"cannot load libcuda",
	"cannot load nvcuvid",
	"cuda error",
	"no capable devices found",
	"no nvenc capable devices",
	"driver does not support the required nvenc api version",
	"failed loading nvcuda",
	"openencodesessionex failed",
	// Intel QSV
	"error initializing the mfx",
	"mfx session",
	"error creating a mfx session",
	// VAAPI
	"failed to initialise vaapi",
	"no vaapi support",
	"cannot open the device",
	"failed to create a vaapi device",
	// VideoToolbox
	"cannot create compression session",
	"videotoolbox hardware encoder",
	// Generic encoder-open failures
	"error while opening encoder",
	"generic error in an external library",
	"incompatible driver",
}

// IsEncoderInitFailure reports whether diagnostic output matches a known
// encoder-initialization failure signature. Content and filter-graph errors
// do not match and must not be retried on another encoder.
func IsEncoderInitFailure(output string) bool {
	lower := strings.ToLower(output)
	for _, sig := range FailureSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
