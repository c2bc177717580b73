package mesh

// orient is twice the signed area of abc; positive when counter-clockwise.
func orient(a, b, c Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

// inCircle is positive when d lies strictly inside the circumcircle of the
// counter-clockwise triangle abc, negative outside and zero on it.
func inCircle(a, b, c, d Point) float64 {
	adx, ady := a.X-d.X, a.Y-d.Y
	bdx, bdy := b.X-d.X, b.Y-d.Y
	cdx, cdy := c.X-d.X, c.Y-d.Y

	ad := adx*adx + ady*ady
	bd := bdx*bdx + bdy*bdy
	cd := cdx*cdx + cdy*cdy

	return adx*(bdy*cd-bd*cdy) -
		ady*(bdx*cd-bd*cdx) +
		ad*(bdx*cdy-bdy*cdx)
}

// contains reports whether p lies inside or on the counter-clockwise
// triangle abc.
func contains(a, b, c, p Point) bool {
	return orient(a, b, p) >= 0 && orient(b, c, p) >= 0 && orient(c, a, p) >= 0
}
