// Package geometry describes the global grid of a structured 3-D problem and
// how it coarsens between multigrid levels.
package geometry

import (
	"fmt"
	"math"

	"github.com/notargets/HPCGKernel/utils"
)

// StencilRadius is fixed: every grid point couples to the 3x3x3 block around it
const StencilRadius = 1

// Geometry holds the global extents of one grid level and the shard layout
// that level is distributed over. Values are immutable once constructed.
type Geometry struct {
	Size       int // Number of shards
	Rank       int // Rank of the process that owns this descriptor
	NumThreads int // Thread hint passed through to every level

	// Global extents. Products of these reach past 32 bits on large runs.
	Nx, Ny, Nz int64

	StencilRadius int
}

// New validates and constructs a Geometry
func New(size, rank, numThreads int, nx, ny, nz int64) (*Geometry, error) {
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, utils.Configf("grid extents must be positive, got %dx%dx%d", nx, ny, nz)
	}
	if size <= 0 {
		return nil, utils.Configf("shard count must be positive, got %d", size)
	}
	if rank < 0 || rank >= size {
		return nil, utils.Configf("rank %d outside [0,%d)", rank, size)
	}
	if numThreads < 0 {
		return nil, utils.Configf("thread hint must not be negative, got %d", numThreads)
	}
	if nx > math.MaxInt64/ny || nx*ny > math.MaxInt64/nz {
		return nil, utils.Configf("grid %dx%dx%d overflows int64 row numbering", nx, ny, nz)
	}
	return &Geometry{
		Size:          size,
		Rank:          rank,
		NumThreads:    numThreads,
		Nx:            nx,
		Ny:            ny,
		Nz:            nz,
		StencilRadius: StencilRadius,
	}, nil
}

// Validate rechecks a Geometry that was built without New
func (g *Geometry) Validate() error {
	if g == nil {
		return utils.Configf("nil geometry")
	}
	_, err := New(g.Size, g.Rank, g.NumThreads, g.Nx, g.Ny, g.Nz)
	return err
}

// StencilSize is the number of points in the stencil neighborhood
func (g *Geometry) StencilSize() int {
	w := 2*g.StencilRadius + 1
	return w * w * w
}

// TotalRows is the number of grid points, one matrix row per point
func (g *Geometry) TotalRows() int64 {
	return g.Nx * g.Ny * g.Nz
}

// Row linearizes grid coordinates with ix fastest and iz slowest
func (g *Geometry) Row(ix, iy, iz int64) int64 {
	return iz*g.Nx*g.Ny + iy*g.Nx + ix
}

// Coords inverts Row
func (g *Geometry) Coords(row int64) (ix, iy, iz int64) {
	plane := g.Nx * g.Ny
	iz = row / plane
	rem := row - iz*plane
	iy = rem / g.Nx
	ix = rem - iy*g.Nx
	return
}

// Contains reports whether (ix, iy, iz) lies inside the grid
func (g *Geometry) Contains(ix, iy, iz int64) bool {
	return ix >= 0 && ix < g.Nx && iy >= 0 && iy < g.Ny && iz >= 0 && iz < g.Nz
}

// CanCoarsen reports whether every extent is even
func (g *Geometry) CanCoarsen() bool {
	return g.Nx%2 == 0 && g.Ny%2 == 0 && g.Nz%2 == 0
}

// Coarsen halves every extent, keeping the shard layout, thread hint and
// stencil radius of the fine level.
func (g *Geometry) Coarsen() (*Geometry, error) {
	if !g.CanCoarsen() {
		return nil, utils.Configf("fine extents %dx%dx%d must be divisible by 2",
			g.Nx, g.Ny, g.Nz)
	}
	return &Geometry{
		Size:          g.Size,
		Rank:          g.Rank,
		NumThreads:    g.NumThreads,
		Nx:            g.Nx / 2,
		Ny:            g.Ny / 2,
		Nz:            g.Nz / 2,
		StencilRadius: g.StencilRadius,
	}, nil
}

// MaxLevels counts the levels reachable by repeated halving, the fine level
// included. A positive limit caps the result.
func (g *Geometry) MaxLevels(limit int) int {
	levels := 1
	nx, ny, nz := g.Nx, g.Ny, g.Nz
	for nx%2 == 0 && ny%2 == 0 && nz%2 == 0 {
		if limit > 0 && levels >= limit {
			break
		}
		nx, ny, nz = nx/2, ny/2, nz/2
		levels++
	}
	return levels
}

func (g *Geometry) String() string {
	return fmt.Sprintf("%dx%dx%d on %d shards (rank %d, threads %d, stencil %d)",
		g.Nx, g.Ny, g.Nz, g.Size, g.Rank, g.NumThreads, g.StencilSize())
}
