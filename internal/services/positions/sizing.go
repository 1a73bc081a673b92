package positions

// confidenceCurve maps prediction confidence to a fraction of the base
// size. Piecewise linear through (0.55, 0.5), (0.65, 0.75), (0.80, 1.0),
// clamped at the ends.
func confidenceCurve(confidence float64) float64 {
	type point struct{ conf, frac float64 }
	pts := []point{{0.55, 0.5}, {0.65, 0.75}, {0.80, 1.0}}

	if confidence <= pts[0].conf {
		return pts[0].frac
	}
	if confidence >= pts[len(pts)-1].conf {
		return pts[len(pts)-1].frac
	}
	for i := 1; i < len(pts); i++ {
		if confidence <= pts[i].conf {
			lo, hi := pts[i-1], pts[i]
			t := (confidence - lo.conf) / (hi.conf - lo.conf)
			return lo.frac + t*(hi.frac-lo.frac)
		}
	}
	return pts[len(pts)-1].frac
}
