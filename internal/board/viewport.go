package board

// Viewport is the canvas pan/zoom state used to convert pointer coordinates
// (screen pixels) into the shared canvas coordinate space.
type Viewport struct {
	PanX float64
	PanY float64
	Zoom float64
}

// DefaultViewport is an unpanned, unzoomed canvas.
var DefaultViewport = Viewport{Zoom: 1}

func (v Viewport) zoom() float64 {
	if v.Zoom == 0 {
		return 1
	}
	return v.Zoom
}

// ToCanvas maps a screen coordinate to canvas units:
// canvas = (screen - pan) / zoom.
func (v Viewport) ToCanvas(sx, sy float64) (float64, float64) {
	z := v.zoom()
	return (sx - v.PanX) / z, (sy - v.PanY) / z
}

// ToScreen maps a canvas coordinate back to screen pixels.
func (v Viewport) ToScreen(cx, cy float64) (float64, float64) {
	z := v.zoom()
	return cx*z + v.PanX, cy*z + v.PanY
}

// DeltaToCanvas converts a screen-space pointer delta to canvas units. Pan
// cancels out for deltas; only zoom applies.
func (v Viewport) DeltaToCanvas(dx, dy float64) (float64, float64) {
	z := v.zoom()
	return dx / z, dy / z
}
