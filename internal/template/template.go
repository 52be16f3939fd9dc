// Package template loads template images and locates the placeholder
// rectangle that source video is keyed into.
package template

import (
	"image"
	"image/color"
	"os"

	// Template images arrive as PNG, JPEG or WebP.
	_ "image/jpeg"
	_ "image/png"

	_ "github.com/chai2010/webp"
	"github.com/pkg/errors"

	"github.com/reelforge/reelforge/internal/geometry"
	"github.com/reelforge/reelforge/pkg/types"
)

// Validation errors for template inputs. These fail a job fast, before any
// encoding work starts.
var (
	ErrNoPlaceholder          = errors.New("template has no detectable placeholder area")
	ErrPlaceholderTooSmall    = errors.New("template placeholder area is too small")
	ErrPlaceholderNotRectable = errors.New("template placeholder area is not sufficiently rectangular")
)

const (
	// minPlaceholderPixels rejects stray keyed specks as a Region.
	minPlaceholderPixels = 64 * 64
	// minFillDensity is the share of the bounding box that must be keyed;
	// gradients and irregular shapes fall below it.
	minFillDensity = 0.70
)

// ChromaKey describes the placeholder color. A pixel matches when it is
// near-pure in the dominant channel and near-zero in the other two.
type ChromaKey struct {
	R, G, B   uint8
	Tolerance uint8
}

// DefaultChromaKey is pure green, the conventional placeholder color.
func DefaultChromaKey() ChromaKey {
	return ChromaKey{R: 0, G: 255, B: 0, Tolerance: 60}
}

// Matches reports whether a pixel is within tolerance of the key color.
func (k ChromaKey) Matches(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return near(uint8(r>>8), k.R, k.Tolerance) &&
		near(uint8(g>>8), k.G, k.Tolerance) &&
		near(uint8(b>>8), k.B, k.Tolerance)
}

func near(v, target, tol uint8) bool {
	if v > target {
		return v-target <= tol
	}
	return target-v <= tol
}

// Template is a loaded template image with its detected (or overridden)
// placeholder region. The output canvas size comes from the template's own
// pixel dimensions, never from a hardcoded constant.
type Template struct {
	Path   string
	Image  image.Image
	Width  int
	Height int
	Region types.Region
	Key    ChromaKey
}

// Load decodes a template image and resolves its Region. When regionOverride
// is non-nil it is validated against the canvas instead of detected.
func Load(path string, key ChromaKey, regionOverride *types.Region) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open template")
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode template image")
	}

	bounds := img.Bounds()
	tpl := &Template{
		Path:   path,
		Image:  img,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Key:    key,
	}

	if regionOverride != nil {
		if err := geometry.ValidateRegion(*regionOverride, tpl.Width, tpl.Height); err != nil {
			return nil, errors.Wrap(err, "explicit region")
		}
		tpl.Region = *regionOverride
		return tpl, nil
	}

	region, err := DetectRegion(img, key)
	if err != nil {
		return nil, err
	}
	tpl.Region = region
	return tpl, nil
}

// DetectRegion finds the placeholder rectangle by a fixed-color tolerance
// scan: the bounding box of all matching pixels, required to hold a minimum
// pixel count and a minimum fill density so irregular or gradient shapes are
// rejected as invalid input.
func DetectRegion(img image.Image, key ChromaKey) (types.Region, error) {
	bounds := img.Bounds()

	minX, minY := bounds.Max.X, bounds.Max.Y
	maxX, maxY := bounds.Min.X-1, bounds.Min.Y-1
	count := 0

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if !key.Matches(img.At(x, y)) {
				continue
			}
			count++
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}

	if count == 0 {
		return types.Region{}, ErrNoPlaceholder
	}
	if count < minPlaceholderPixels {
		return types.Region{}, ErrPlaceholderTooSmall
	}

	w := maxX - minX + 1
	h := maxY - minY + 1
	density := float64(count) / float64(w*h)
	if density < minFillDensity {
		return types.Region{}, errors.Wrapf(ErrPlaceholderNotRectable,
			"fill density %.2f below %.2f", density, minFillDensity)
	}

	return types.Region{
		X:      minX - bounds.Min.X,
		Y:      minY - bounds.Min.Y,
		Width:  w,
		Height: h,
	}, nil
}

// BuildMask returns the template with every keyed pixel made transparent.
// Computed once per job; the compositor draws it over each frame.
func BuildMask(img image.Image, key ChromaKey) *image.RGBA {
	bounds := img.Bounds()
	mask := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := img.At(x, y)
			if key.Matches(c) {
				continue // leave fully transparent
			}
			mask.Set(x-bounds.Min.X, y-bounds.Min.Y, c)
		}
	}
	return mask
}
