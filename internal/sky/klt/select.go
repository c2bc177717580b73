package klt

import (
	"math"
	"sort"
)

type candidate struct {
	x, y  int
	score float64
}

// SelectGoodFeatures discards the contents of slots and refills them with
// the best features in img. Slots left over once candidates run out are
// marked NotFound.
func (e *Engine) SelectGoodFeatures(img Image, slots []Slot) error {
	if err := img.Validate(); err != nil {
		return err
	}
	for i := range slots {
		slots[i] = Slot{X: -1, Y: -1, Val: NotFound}
	}
	e.fill(img, slots)
	return nil
}

// ReplaceLostFeatures fills only the lost slots of slots. Alive slots are
// left untouched and new features keep MinDist clear of them. Lost slots
// that cannot be filled keep their reason code.
func (e *Engine) ReplaceLostFeatures(img Image, slots []Slot) error {
	if err := img.Validate(); err != nil {
		return err
	}
	e.fill(img, slots)
	return nil
}

func (e *Engine) fill(img Image, slots []Slot) {
	lost := 0
	for _, s := range slots {
		if !s.Alive() {
			lost++
		}
	}
	if lost == 0 {
		return
	}

	cands := e.scoreImage(img)

	occupied := newOccupancy(img.Width, img.Height, e.p.MinDist)
	for _, s := range slots {
		if s.Alive() {
			occupied.mark(int(s.X+0.5), int(s.Y+0.5))
		}
	}

	next := 0
	for i := range slots {
		if slots[i].Alive() {
			continue
		}
		for next < len(cands) && occupied.taken(cands[next].x, cands[next].y) {
			next++
		}
		if next >= len(cands) {
			// Out of candidates: remaining lost slots keep their reason.
			return
		}
		c := cands[next]
		next++
		occupied.mark(c.x, c.y)
		val := int(c.score)
		if val > math.MaxInt32 {
			val = math.MaxInt32
		}
		slots[i] = Slot{X: float32(c.x), Y: float32(c.y), Val: val}
	}
}

// scoreImage returns every pixel inside the border whose min eigenvalue
// reaches MinEigenvalue, strongest first. Ties break in raster order so
// selection is deterministic.
func (e *Engine) scoreImage(img Image) []candidate {
	bx, by := e.BorderX(), e.BorderY()
	hw, hh := e.p.WindowWidth/2, e.p.WindowHeight/2
	w, h := img.Width, img.Height
	if w-2*bx <= 0 || h-2*by <= 0 {
		return nil
	}

	f := smooth(toFloat(img), e.p.SmoothSigma)
	gx, gy := gradients(f)

	sxx := newIntegral(w, h, func(i int) float64 { v := float64(gx.data[i]); return v * v })
	sxy := newIntegral(w, h, func(i int) float64 { return float64(gx.data[i]) * float64(gy.data[i]) })
	syy := newIntegral(w, h, func(i int) float64 { v := float64(gy.data[i]); return v * v })

	minScore := float64(e.p.MinEigenvalue)
	var cands []candidate
	for y := by; y < h-by; y++ {
		y0, y1 := clampInt(y-hh, 0, h-1), clampInt(y+hh, 0, h-1)
		for x := bx; x < w-bx; x++ {
			x0, x1 := clampInt(x-hw, 0, w-1), clampInt(x+hw, 0, w-1)
			score := minEigenvalue(
				sxx.sum(x0, y0, x1, y1),
				sxy.sum(x0, y0, x1, y1),
				syy.sum(x0, y0, x1, y1),
			)
			if score >= minScore {
				cands = append(cands, candidate{x: x, y: y, score: score})
			}
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})
	return cands
}

// minEigenvalue is the smaller eigenvalue of the symmetric matrix
// [[gxx gxy] [gxy gyy]].
func minEigenvalue(gxx, gxy, gyy float64) float64 {
	half := (gxx - gyy) / 2
	return (gxx+gyy)/2 - math.Sqrt(half*half+gxy*gxy)
}

// integral is a summed-area table padded with a leading zero row and
// column.
type integral struct {
	w    int
	data []float64
}

func newIntegral(w, h int, value func(i int) float64) *integral {
	stride := w + 1
	t := &integral{w: stride, data: make([]float64, stride*(h+1))}
	for y := 0; y < h; y++ {
		var row float64
		for x := 0; x < w; x++ {
			row += value(y*w + x)
			t.data[(y+1)*stride+x+1] = t.data[y*stride+x+1] + row
		}
	}
	return t
}

// sum returns the total over the inclusive rectangle [x0,x1]x[y0,y1].
func (t *integral) sum(x0, y0, x1, y1 int) float64 {
	s := t.w
	return t.data[(y1+1)*s+x1+1] - t.data[y0*s+x1+1] - t.data[(y1+1)*s+x0] + t.data[y0*s+x0]
}

// occupancy marks square neighbourhoods of radius MinDist-1 as taken.
type occupancy struct {
	w, h, r int
	cells   []bool
}

func newOccupancy(w, h, minDist int) *occupancy {
	r := minDist - 1
	if r < 0 {
		r = 0
	}
	return &occupancy{w: w, h: h, r: r, cells: make([]bool, w*h)}
}

func (o *occupancy) taken(x, y int) bool {
	if x < 0 || y < 0 || x >= o.w || y >= o.h {
		return true
	}
	return o.cells[y*o.w+x]
}

func (o *occupancy) mark(x, y int) {
	for yy := max(y-o.r, 0); yy <= min(y+o.r, o.h-1); yy++ {
		for xx := max(x-o.r, 0); xx <= min(x+o.r, o.w-1); xx++ {
			o.cells[yy*o.w+xx] = true
		}
	}
}
