package core

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridValidate(t *testing.T) {
	tests := []struct {
		name    string
		grid    Grid
		wantErr bool
	}{
		{"minimal", Grid{Cols: 2, Rows: 2}, false},
		{"typical", Grid{Cols: 512, Rows: 256}, false},
		{"zero", Grid{}, true},
		{"single column", Grid{Cols: 1, Rows: 8}, true},
		{"single row", Grid{Cols: 8, Rows: 1}, true},
		{"negative", Grid{Cols: -4, Rows: 4}, true},
		{"too large", Grid{Cols: 1 << 16, Rows: 1 << 16}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.grid.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidGrid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGridCell(t *testing.T) {
	g := Grid{Cols: 4, Rows: 3}
	ix, iy := g.Cell(0)
	assert.Equal(t, 0, ix)
	assert.Equal(t, 0, iy)
	ix, iy = g.Cell(7)
	assert.Equal(t, 3, ix)
	assert.Equal(t, 1, iy)
	ix, iy = g.Cell(g.Count() - 1)
	assert.Equal(t, 3, ix)
	assert.Equal(t, 2, iy)
}

func TestGridDirection(t *testing.T) {
	g := Grid{Cols: 4, Rows: 4}
	require.NoError(t, g.Validate())

	for i := 0; i < g.Count(); i++ {
		assert.InDelta(t, 1.0, g.Direction(i).Len(), 1e-6, "index %d", i)
	}

	// Row 0 is the south pole, the last row the north pole.
	for ix := 0; ix < g.Cols; ix++ {
		south := g.Direction(ix)
		north := g.Direction((g.Rows-1)*g.Cols + ix)
		assert.InDelta(t, -1.0, south.Y(), 1e-6)
		assert.InDelta(t, 1.0, north.Y(), 1e-6)
		assertNear(t, mgl32.Vec3{0, 1, 0}, north, 1e-6)
		assertNear(t, mgl32.Vec3{0, -1, 0}, south, 1e-6)
	}

	// First column sits at lon = 0, on the +X side.
	g = Grid{Cols: 8, Rows: 3}
	eq := g.Direction(g.Cols)
	assertNear(t, mgl32.Vec3{1, 0, 0}, eq, 1e-6)

	// Last column wraps to lon = 2π.
	last := g.Direction(2*g.Cols - 1)
	assertNear(t, mgl32.Vec3{1, 0, 0}, last, 1e-5)
}

// Float32 trig leaves ~1e-7 residues where the exact answer is 0, so compare
// by distance rather than relative error.
func assertNear(t *testing.T, want, got mgl32.Vec3, tol float64) {
	t.Helper()
	assert.InDelta(t, 0, float64(got.Sub(want).Len()), tol, "want %v, got %v", want, got)
}
