// Package viewport computes terminal cell geometry from the hosting
// surface and coordinates resize propagation. Only the active session is
// resized eagerly; background sessions pick up the current geometry the
// moment they become active.
package viewport

import "sync"

// Geometry is a terminal grid size in character cells.
type Geometry struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// Zero reports whether g has never been set.
func (g Geometry) Zero() bool { return g.Cols == 0 && g.Rows == 0 }

// CellMetrics describes the pixel footprint of one character cell and
// the padding around the render surface. For cell-addressed hosts (a
// tcell screen) metrics of 1x1 with no padding make the conversion an
// identity.
type CellMetrics struct {
	CellWidth  int
	CellHeight int
	PaddingX   int
	PaddingY   int
}

// MinCols and MinRows are the smallest geometry ever reported; remote
// PTYs behave badly below this.
const (
	MinCols = 2
	MinRows = 2
)

// Coordinator tracks the current viewport geometry. It is written by
// the UI layer on size changes and read by the registry on activation.
type Coordinator struct {
	mu      sync.RWMutex
	metrics CellMetrics
	current Geometry
}

// NewCoordinator creates a Coordinator with the given cell metrics.
// Zero-valued metric dimensions are treated as 1.
func NewCoordinator(metrics CellMetrics) *Coordinator {
	if metrics.CellWidth <= 0 {
		metrics.CellWidth = 1
	}
	if metrics.CellHeight <= 0 {
		metrics.CellHeight = 1
	}
	return &Coordinator{metrics: metrics}
}

// Update recomputes geometry from a viewport size in pixels. It returns
// the new geometry and whether it changed since the last update.
func (c *Coordinator) Update(widthPx, heightPx int) (Geometry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cols := (widthPx - 2*c.metrics.PaddingX) / c.metrics.CellWidth
	rows := (heightPx - 2*c.metrics.PaddingY) / c.metrics.CellHeight
	if cols < MinCols {
		cols = MinCols
	}
	if rows < MinRows {
		rows = MinRows
	}

	next := Geometry{Cols: cols, Rows: rows}
	if next == c.current {
		return next, false
	}
	c.current = next
	return next, true
}

// Current returns the most recently computed geometry. Zero before the
// first Update.
func (c *Coordinator) Current() Geometry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}
