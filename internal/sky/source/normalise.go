package source

import "github.com/banshee-data/starfield/internal/sky/klt"

// Histogram tail sizes, in pixels, clipped by Normalise.
const (
	normaliseDark   = 100
	normaliseBright = 500
)

// Normalise stretches contrast. The black point is the level below which
// more than 100 pixels lie; the white point is the level above which more
// than 500 lie. Levels between them are spread over 0-255. A frame with no
// usable range is returned as an unchanged copy.
func Normalise(img klt.Image) klt.Image {
	var hist [256]int
	for _, p := range img.Pix {
		hist[p]++
	}

	bottom, acc := 0, 0
	for ; bottom < 256; bottom++ {
		acc += hist[bottom]
		if acc > normaliseDark {
			break
		}
	}
	top := 255
	for acc = 0; top > bottom; top-- {
		acc += hist[top]
		if acc > normaliseBright {
			break
		}
	}

	out := img.Clone()
	if top <= bottom {
		return out
	}
	span := top - bottom
	for i, p := range img.Pix {
		v := (int(p) - bottom) * 256 / span
		out.Pix[i] = uint8(max(0, min(255, v)))
	}
	return out
}
