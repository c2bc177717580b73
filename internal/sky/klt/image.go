package klt

import (
	"errors"
	"fmt"
	"math"
)

// ErrImageSize is returned when an image buffer does not match its
// declared dimensions, or when two frames handed to TrackFeatures differ.
var ErrImageSize = errors.New("klt: image size mismatch")

// Image is a single-plane 8-bit luminance frame, row-major.
type Image struct {
	Pix    []uint8
	Width  int
	Height int
}

// NewImage allocates a zeroed image.
func NewImage(width, height int) Image {
	return Image{Pix: make([]uint8, width*height), Width: width, Height: height}
}

// Validate checks the buffer length against the dimensions.
func (img Image) Validate() error {
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("%w: non-positive dimensions %dx%d", ErrImageSize, img.Width, img.Height)
	}
	if len(img.Pix) != img.Width*img.Height {
		return fmt.Errorf("%w: %d bytes for %dx%d", ErrImageSize, len(img.Pix), img.Width, img.Height)
	}
	return nil
}

// Clone returns a deep copy. The tracker keeps one as the previous frame
// because callers are free to reuse their capture buffers.
func (img Image) Clone() Image {
	pix := make([]uint8, len(img.Pix))
	copy(pix, img.Pix)
	return Image{Pix: pix, Width: img.Width, Height: img.Height}
}

// At returns the sample at (x, y). Coordinates must be in range.
func (img Image) At(x, y int) uint8 {
	return img.Pix[y*img.Width+x]
}

// Set writes the sample at (x, y). Coordinates must be in range.
func (img Image) Set(x, y int, v uint8) {
	img.Pix[y*img.Width+x] = v
}

// floatImage is the working representation for smoothing, gradients and
// sub-pixel sampling.
type floatImage struct {
	w, h int
	data []float32
}

func newFloatImage(w, h int) *floatImage {
	return &floatImage{w: w, h: h, data: make([]float32, w*h)}
}

func toFloat(img Image) *floatImage {
	f := newFloatImage(img.Width, img.Height)
	for i, p := range img.Pix {
		f.data[i] = float32(p)
	}
	return f
}

func (f *floatImage) at(x, y int) float32 {
	return f.data[y*f.w+x]
}

// interpolate samples f at a sub-pixel location with bilinear weights.
// The caller guarantees 0 <= x < w-1 and 0 <= y < h-1.
func (f *floatImage) interpolate(x, y float64) float32 {
	xt := int(x)
	yt := int(y)
	ax := float32(x - float64(xt))
	ay := float32(y - float64(yt))

	i := yt*f.w + xt
	return (1-ax)*(1-ay)*f.data[i] +
		ax*(1-ay)*f.data[i+1] +
		(1-ax)*ay*f.data[i+f.w] +
		ax*ay*f.data[i+f.w+1]
}

// gaussianKernel returns a normalised 1-D Gaussian truncated where the
// tail falls below a tenth of the peak.
func gaussianKernel(sigma float64) []float32 {
	if sigma <= 0 {
		return []float32{1}
	}
	const factor = 0.1
	half := 0
	for ; half < 32; half++ {
		if math.Exp(-float64(half*half)/(2*sigma*sigma)) < factor {
			break
		}
	}
	if half > 0 {
		half--
	}

	kernel := make([]float32, 2*half+1)
	var sum float32
	for i := -half; i <= half; i++ {
		v := float32(math.Exp(-float64(i*i) / (2 * sigma * sigma)))
		kernel[i+half] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// smooth convolves f with a separable Gaussian, clamping at the edges.
func smooth(f *floatImage, sigma float64) *floatImage {
	kernel := gaussianKernel(sigma)
	if len(kernel) == 1 {
		out := newFloatImage(f.w, f.h)
		copy(out.data, f.data)
		return out
	}
	half := len(kernel) / 2

	tmp := newFloatImage(f.w, f.h)
	for y := 0; y < f.h; y++ {
		for x := 0; x < f.w; x++ {
			var acc float32
			for k := -half; k <= half; k++ {
				xx := clampInt(x+k, 0, f.w-1)
				acc += kernel[k+half] * f.at(xx, y)
			}
			tmp.data[y*f.w+x] = acc
		}
	}

	out := newFloatImage(f.w, f.h)
	for y := 0; y < f.h; y++ {
		for x := 0; x < f.w; x++ {
			var acc float32
			for k := -half; k <= half; k++ {
				yy := clampInt(y+k, 0, f.h-1)
				acc += kernel[k+half] * tmp.at(x, yy)
			}
			out.data[y*f.w+x] = acc
		}
	}
	return out
}

// gradients returns central-difference x and y gradients. Edge pixels get
// zero gradient.
func gradients(f *floatImage) (gx, gy *floatImage) {
	gx = newFloatImage(f.w, f.h)
	gy = newFloatImage(f.w, f.h)
	for y := 1; y < f.h-1; y++ {
		for x := 1; x < f.w-1; x++ {
			i := y*f.w + x
			gx.data[i] = (f.data[i+1] - f.data[i-1]) / 2
			gy.data[i] = (f.data[i+f.w] - f.data[i-f.w]) / 2
		}
	}
	return gx, gy
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
