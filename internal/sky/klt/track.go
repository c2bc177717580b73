package klt

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// gradFrame holds the smoothed image and its gradients for one frame.
type gradFrame struct {
	img    *floatImage
	gx, gy *floatImage
}

func (e *Engine) prepare(img Image) gradFrame {
	f := smooth(toFloat(img), e.p.SmoothSigma)
	gx, gy := gradients(f)
	return gradFrame{img: f, gx: gx, gy: gy}
}

// TrackFeatures moves every alive slot from prev to cur. Slots that cannot
// be followed are set to (-1, -1) with a negative reason code. Lost slots
// are left alone.
func (e *Engine) TrackFeatures(prev, cur Image, slots []Slot) error {
	if err := prev.Validate(); err != nil {
		return fmt.Errorf("previous frame: %w", err)
	}
	if err := cur.Validate(); err != nil {
		return fmt.Errorf("current frame: %w", err)
	}
	if prev.Width != cur.Width || prev.Height != cur.Height {
		return fmt.Errorf("%w: previous %dx%d, current %dx%d",
			ErrImageSize, prev.Width, prev.Height, cur.Width, cur.Height)
	}

	p1 := e.prepare(prev)
	p2 := e.prepare(cur)

	for i := range slots {
		if !slots[i].Alive() {
			continue
		}
		x2, y2, val := e.trackOne(p1, p2, float64(slots[i].X), float64(slots[i].Y))
		if val == Tracked {
			slots[i] = Slot{X: float32(x2), Y: float32(y2), Val: Tracked}
		} else {
			slots[i] = Slot{X: -1, Y: -1, Val: val}
		}
	}
	return nil
}

// trackOne runs Lucas-Kanade for a single feature at (x1, y1) in p1 and
// returns its location in p2 with a slot value.
func (e *Engine) trackOne(p1, p2 gradFrame, x1, y1 float64) (float64, float64, int) {
	hw := float64(e.p.WindowWidth / 2)
	hh := float64(e.p.WindowHeight / 2)
	w := float64(p1.img.w)
	h := float64(p1.img.h)

	outside := func(x, y float64) bool {
		return x-hw < 0 || x+hw > w-2 || y-hh < 0 || y+hh > h-2
	}
	if outside(x1, y1) {
		return 0, 0, OutOfBounds
	}

	x2, y2 := x1, y1
	converged := false
	for iter := 0; iter < e.p.MaxIterations; iter++ {
		if outside(x2, y2) {
			return 0, 0, OutOfBounds
		}

		gxx, gxy, gyy, ex, ey := e.window(p1, p2, x1, y1, x2, y2)
		det := gxx*gyy - gxy*gxy
		if det < e.p.MinDeterminant {
			return 0, 0, SmallDet
		}

		dx, dy, ok := solve2x2(gxx, gxy, gyy, ex, ey)
		if !ok {
			return 0, 0, SmallDet
		}
		x2 += dx
		y2 += dy

		if math.Abs(dx) < e.p.MinDisplacement && math.Abs(dy) < e.p.MinDisplacement {
			converged = true
			break
		}
	}

	if outside(x2, y2) {
		return 0, 0, OutOfBounds
	}
	if !converged {
		return 0, 0, MaxIterations
	}
	if e.residual(p1, p2, x1, y1, x2, y2) > e.p.MaxResidual {
		return 0, 0, LargeResidual
	}
	return x2, y2, Tracked
}

// window accumulates the gradient matrix and the error vector over the
// tracking window. Gradients are averaged across both frames.
func (e *Engine) window(p1, p2 gradFrame, x1, y1, x2, y2 float64) (gxx, gxy, gyy, ex, ey float64) {
	hw := e.p.WindowWidth / 2
	hh := e.p.WindowHeight / 2
	for j := -hh; j <= hh; j++ {
		for i := -hw; i <= hw; i++ {
			ax, ay := x1+float64(i), y1+float64(j)
			bx, by := x2+float64(i), y2+float64(j)

			diff := float64(p1.img.interpolate(ax, ay) - p2.img.interpolate(bx, by))
			gx := float64(p1.gx.interpolate(ax, ay)+p2.gx.interpolate(bx, by)) / 2
			gy := float64(p1.gy.interpolate(ax, ay)+p2.gy.interpolate(bx, by)) / 2

			gxx += gx * gx
			gxy += gx * gy
			gyy += gy * gy
			ex += diff * gx
			ey += diff * gy
		}
	}
	return gxx, gxy, gyy, ex, ey
}

// residual is the mean absolute intensity difference over the window.
func (e *Engine) residual(p1, p2 gradFrame, x1, y1, x2, y2 float64) float64 {
	hw := e.p.WindowWidth / 2
	hh := e.p.WindowHeight / 2
	var sum float64
	for j := -hh; j <= hh; j++ {
		for i := -hw; i <= hw; i++ {
			a := p1.img.interpolate(x1+float64(i), y1+float64(j))
			b := p2.img.interpolate(x2+float64(i), y2+float64(j))
			sum += math.Abs(float64(a - b))
		}
	}
	return sum / float64(e.p.WindowWidth*e.p.WindowHeight)
}

// solve2x2 solves [[gxx gxy] [gxy gyy]] d = [ex ey].
func solve2x2(gxx, gxy, gyy, ex, ey float64) (float64, float64, bool) {
	a := mat.NewDense(2, 2, []float64{gxx, gxy, gxy, gyy})
	b := mat.NewVecDense(2, []float64{ex, ey})
	var d mat.VecDense
	if err := d.SolveVec(a, b); err != nil {
		return 0, 0, false
	}
	return d.AtVec(0), d.AtVec(1), true
}
