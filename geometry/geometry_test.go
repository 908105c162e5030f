package geometry

import (
	"errors"
	"math"
	"testing"

	"github.com/notargets/HPCGKernel/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	testCases := []struct {
		name       string
		size, rank int
		threads    int
		nx, ny, nz int64
	}{
		{"zero extent", 1, 0, 1, 0, 4, 4},
		{"negative extent", 1, 0, 1, 4, -2, 4},
		{"no shards", 0, 0, 1, 4, 4, 4},
		{"rank out of range", 2, 2, 1, 4, 4, 4},
		{"negative threads", 1, 0, -1, 4, 4, 4},
		{"overflow", 1, 0, 1, math.MaxInt64 / 2, 4, 4},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.size, tc.rank, tc.threads, tc.nx, tc.ny, tc.nz)
			require.Error(t, err)
			assert.True(t, errors.Is(err, utils.ErrConfiguration))
		})
	}
}

func TestRowCoordsRoundTrip(t *testing.T) {
	g, err := New(1, 0, 1, 5, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, 27, g.StencilSize())
	assert.Equal(t, int64(60), g.TotalRows())
	for row := int64(0); row < g.TotalRows(); row++ {
		ix, iy, iz := g.Coords(row)
		if !g.Contains(ix, iy, iz) {
			t.Fatalf("row %d decoded outside the grid: (%d,%d,%d)", row, ix, iy, iz)
		}
		if got := g.Row(ix, iy, iz); got != row {
			t.Errorf("Row(Coords(%d)) = %d", row, got)
		}
	}
	assert.Equal(t, int64(1*5*3+2*5+4), g.Row(4, 2, 1))
}

func TestCoarsen(t *testing.T) {
	g, err := New(4, 1, 8, 16, 8, 32)
	require.NoError(t, err)

	c, err := g.Coarsen()
	require.NoError(t, err)
	assert.Equal(t, int64(8), c.Nx)
	assert.Equal(t, int64(4), c.Ny)
	assert.Equal(t, int64(16), c.Nz)
	assert.Equal(t, g.Size, c.Size)
	assert.Equal(t, g.Rank, c.Rank)
	assert.Equal(t, g.NumThreads, c.NumThreads)
	assert.Equal(t, g.StencilRadius, c.StencilRadius)

	// Keep halving until an extent turns odd
	levels := 1
	for cur := g; cur.CanCoarsen(); levels++ {
		next, err := cur.Coarsen()
		require.NoError(t, err)
		assert.Equal(t, cur.Nx/2, next.Nx)
		assert.Equal(t, cur.Ny/2, next.Ny)
		assert.Equal(t, cur.Nz/2, next.Nz)
		cur = next
	}
	assert.Equal(t, 4, levels) // 16x8x32 -> 8x4x16 -> 4x2x8 -> 2x1x4
	assert.Equal(t, levels, g.MaxLevels(0))
	assert.Equal(t, 2, g.MaxLevels(2))

	odd, err := New(1, 0, 1, 6, 3, 4)
	require.NoError(t, err)
	_, err = odd.Coarsen()
	assert.True(t, errors.Is(err, utils.ErrConfiguration))
	assert.Equal(t, 1, odd.MaxLevels(0))
}

func TestValidate(t *testing.T) {
	var g *Geometry
	assert.Error(t, g.Validate())
	g = &Geometry{Size: 1, Nx: 2, Ny: 2, Nz: 0}
	assert.True(t, errors.Is(g.Validate(), utils.ErrConfiguration))
}
