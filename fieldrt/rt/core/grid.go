package core

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

var ErrInvalidGrid = errors.New("core: grid needs at least 2 columns and 2 rows")

// maxPopulation keeps indices and dispatch sizes inside u32.
const maxPopulation = 1 << 30

// Grid is the latitude/longitude layout of the particle population.
type Grid struct {
	Cols int `yaml:"cols" json:"cols"`
	Rows int `yaml:"rows" json:"rows"`
}

func (g Grid) Count() int {
	return g.Cols * g.Rows
}

func (g Grid) Validate() error {
	if g.Cols < 2 || g.Rows < 2 {
		return fmt.Errorf("%w (got %dx%d)", ErrInvalidGrid, g.Cols, g.Rows)
	}
	if g.Count() > maxPopulation || g.Count()/g.Cols != g.Rows {
		return fmt.Errorf("%w: %dx%d exceeds %d particles", ErrInvalidGrid, g.Cols, g.Rows, maxPopulation)
	}
	return nil
}

// Cell maps a particle index to its grid column and row.
func (g Grid) Cell(i int) (ix, iy int) {
	return i % g.Cols, i / g.Cols
}

// Direction returns the unit vector of particle i. Y is up; row 0 is the
// south pole and the last row the north pole.
func (g Grid) Direction(i int) mgl32.Vec3 {
	ix, iy := g.Cell(i)
	lon := float32(ix) / float32(g.Cols-1) * 2 * math.Pi
	lat := float32(iy)/float32(g.Rows-1)*math.Pi - math.Pi/2
	return SphericalToCartesian(lat, lon)
}

func SphericalToCartesian(lat, lon float32) mgl32.Vec3 {
	cl := float32(math.Cos(float64(lat)))
	return mgl32.Vec3{
		cl * float32(math.Cos(float64(lon))),
		float32(math.Sin(float64(lat))),
		cl * float32(math.Sin(float64(lon))),
	}
}
