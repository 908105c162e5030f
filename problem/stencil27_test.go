package problem

import (
	"context"
	"errors"
	"testing"

	"github.com/notargets/HPCGKernel/geometry"
	"github.com/notargets/HPCGKernel/matrix"
	"github.com/notargets/HPCGKernel/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildMatrix(t *testing.T, shards int, nx, ny, nz int64) *matrix.Matrix {
	t.Helper()
	geom, err := geometry.New(shards, 0, 1, nx, ny, nz)
	require.NoError(t, err)
	m := matrix.New(matrix.LevelName(0), 0)
	require.NoError(t, m.Allocate(geom))
	require.NoError(t, m.Partition(shards))
	require.NoError(t, NewStencil27().Generate(context.Background(), m))
	return m
}

// expectedNonzeros counts stencil points inside an nx*ny*nz grid
func expectedNonzeros(nx, ny, nz int64) int64 {
	axis := func(n int64) int64 { return 3*n - 2 }
	return axis(nx) * axis(ny) * axis(nz)
}

func TestGenerateCounts(t *testing.T) {
	testCases := []struct {
		name       string
		shards     int
		nx, ny, nz int64
	}{
		{"cube single", 1, 4, 4, 4},
		{"cube sharded", 4, 4, 4, 4},
		{"box uneven shards", 3, 5, 3, 7},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := buildMatrix(t, tc.shards, tc.nx, tc.ny, tc.nz)
			want := expectedNonzeros(tc.nx, tc.ny, tc.nz)
			assert.Equal(t, want, m.TotalNumberOfNonzeros())
			for _, sh := range m.Shards {
				assert.Equal(t, want, sh.TotalNumberOfNonzeros)
				assert.Len(t, sh.GlobalToLocalMap, sh.LocalNumberOfRows)
			}
		})
	}
}

func TestGenerateRows(t *testing.T) {
	m := buildMatrix(t, 2, 3, 3, 3)
	geom := m.Geom
	for _, sh := range m.Shards {
		for i := 0; i < sh.LocalNumberOfRows; i++ {
			row := sh.RowStart + int64(i)
			assert.Equal(t, row, sh.LocalToGlobalMap[i])
			assert.Equal(t, i, sh.GlobalToLocalMap[row])
			assert.Equal(t, 26.0, sh.MatrixDiagonal[i])

			indG, _, vals := sh.Row(i)
			diagonals := 0
			for n, col := range indG {
				if col == row {
					diagonals++
					assert.Equal(t, 26.0, vals[n])
				} else {
					assert.Equal(t, -1.0, vals[n])
				}
				assert.True(t, col >= 0 && col < geom.TotalRows())
			}
			assert.Equal(t, 1, diagonals)
		}
	}
	// The center of a 3x3x3 grid couples to every point
	center := m.Shard(m.Layout().GetPartition(13))
	assert.Equal(t, 27, center.NonzerosInRow[13-int(center.RowStart)])
	// A corner couples to its 2x2x2 block
	assert.Equal(t, 8, m.Shard(0).NonzerosInRow[0])
}

func TestVectors(t *testing.T) {
	m := buildMatrix(t, 3, 4, 4, 2)
	v, err := NewVectors(m)
	require.NoError(t, err)
	for k, sh := range m.Shards {
		b := v.B.GetPartitionData(k)
		for i := 0; i < sh.LocalNumberOfRows; i++ {
			// Row sums of A give A*1
			assert.Equal(t, float64(27-sh.NonzerosInRow[i]), b[i])
			assert.Equal(t, 1.0, v.XExact.GetPartitionData(k)[i])
			assert.Equal(t, 0.0, v.X.GetPartitionData(k)[i])
		}
	}
	require.NoError(t, v.Deallocate())
	assert.True(t, errors.Is(v.Deallocate(), utils.ErrUseAfterFree))
}

func TestGenerateRequiresPartition(t *testing.T) {
	geom, err := geometry.New(1, 0, 1, 2, 2, 2)
	require.NoError(t, err)
	m := matrix.New("A", 0)
	require.NoError(t, m.Allocate(geom))
	err = NewStencil27().Generate(context.Background(), m)
	assert.True(t, errors.Is(err, utils.ErrInvariantViolation))
}
