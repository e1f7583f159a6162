package main

import "math"

// rect is a pixel rectangle as GL blits take it: x0,y0 inclusive, x1,y1 exclusive.
type rect struct {
	X0, Y0, X1, Y1 int
}

// letterbox fits a w×h image centred into a view, keeping its aspect.
func letterbox(w, h, viewW, viewH int) rect {
	if w <= 0 || h <= 0 || viewW <= 0 || viewH <= 0 {
		return rect{}
	}
	scale := math.Min(float64(viewW)/float64(w), float64(viewH)/float64(h))
	dw := int(math.Round(float64(w) * scale))
	dh := int(math.Round(float64(h) * scale))
	x0, y0 := (viewW-dw)/2, (viewH-dh)/2
	return rect{X0: x0, Y0: y0, X1: x0 + dw, Y1: y0 + dh}
}
