// Package lookup provides the interpolation services used by the temperature
// pipeline: RTD resistance to temperature and thermocouple EMF to and from
// temperature.
package lookup

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chewxy/math32"
)

// ErrOutOfRange is returned when an input lies outside a table. The value
// returned alongside it is saturated to the nearest table edge.
var ErrOutOfRange = errors.New("lookup: input out of table range")

// Point is a single table entry.
type Point struct {
	X, Y float32
}

// Table is a piecewise-linear function over strictly ascending X.
type Table struct {
	pts []Point
}

// NewTable validates pts and returns a table. pts is not copied.
func NewTable(pts []Point) (*Table, error) {
	if len(pts) < 2 {
		return nil, fmt.Errorf("lookup: table needs at least 2 points, got %d", len(pts))
	}
	for i := 1; i < len(pts); i++ {
		if pts[i].X <= pts[i-1].X {
			return nil, fmt.Errorf("lookup: X not strictly ascending at index %d", i)
		}
	}
	return &Table{pts: pts}, nil
}

// MustTable is NewTable that panics on invalid input. Used for built-in tables.
func MustTable(pts []Point) *Table {
	t, err := NewTable(pts)
	if err != nil {
		panic(err)
	}
	return t
}

// Domain returns the X range covered by the table.
func (t *Table) Domain() (lo, hi float32) {
	return t.pts[0].X, t.pts[len(t.pts)-1].X
}

// Len returns the number of points.
func (t *Table) Len() int { return len(t.pts) }

// Eval interpolates y at x. Outside the domain the edge value is returned
// together with ErrOutOfRange; NaN yields the low edge.
func (t *Table) Eval(x float32) (float32, error) {
	n := len(t.pts)
	if x < t.pts[0].X || math32.IsNaN(x) {
		return t.pts[0].Y, ErrOutOfRange
	}
	if x > t.pts[n-1].X {
		return t.pts[n-1].Y, ErrOutOfRange
	}

	// First index with X >= x.
	i := sort.Search(n, func(i int) bool { return t.pts[i].X >= x })
	if t.pts[i].X == x {
		return t.pts[i].Y, nil
	}
	a, b := t.pts[i-1], t.pts[i]
	return a.Y + (x-a.X)*(b.Y-a.Y)/(b.X-a.X), nil
}

// Invert returns the inverse function. Y must be strictly monotonic.
func (t *Table) Invert() (*Table, error) {
	n := len(t.pts)
	inv := make([]Point, n)
	descending := t.pts[n-1].Y < t.pts[0].Y
	for i, p := range t.pts {
		j := i
		if descending {
			j = n - 1 - i
		}
		inv[j] = Point{X: p.Y, Y: p.X}
	}
	tbl, err := NewTable(inv)
	if err != nil {
		return nil, fmt.Errorf("lookup: table not invertible: %w", err)
	}
	return tbl, nil
}
