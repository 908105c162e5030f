package cgdata

import (
	"errors"
	"testing"

	"github.com/notargets/HPCGKernel/geometry"
	"github.com/notargets/HPCGKernel/matrix"
	"github.com/notargets/HPCGKernel/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestVectorSetLifecycle(t *testing.T) {
	geom, err := geometry.New(3, 0, 1, 4, 4, 5)
	require.NoError(t, err)

	vs := New()
	assert.True(t, errors.Is(vs.Partition(3), utils.ErrInvariantViolation))

	require.NoError(t, vs.Allocate(geom))
	for _, pa := range vs.all() {
		assert.Len(t, pa.GlobalData, 80)
	}
	_, err = vs.Shard(0)
	assert.True(t, errors.Is(err, utils.ErrInvariantViolation))

	require.NoError(t, vs.Partition(3))
	assert.Equal(t, 3, vs.Domain().Size())
	assert.True(t, errors.Is(vs.Partition(3), utils.ErrInvariantViolation))

	require.NoError(t, vs.Deallocate())
	assert.True(t, errors.Is(vs.Deallocate(), utils.ErrUseAfterFree))
	assert.True(t, errors.Is(vs.Zero(), utils.ErrUseAfterFree))
	assert.True(t, errors.Is(vs.Allocate(geom), utils.ErrUseAfterFree))
}

func TestPartitionMatchesMatrix(t *testing.T) {
	geom, err := geometry.New(3, 0, 1, 4, 4, 5)
	require.NoError(t, err)
	m := matrix.New(matrix.LevelName(0), 0)
	require.NoError(t, m.Allocate(geom))
	require.NoError(t, m.Partition(3))

	vs := New()
	require.NoError(t, vs.Allocate(geom))
	require.NoError(t, vs.Partition(3))
	assert.True(t, vs.R.Layout().Equal(m.Layout()))

	bound := New()
	require.NoError(t, bound.Allocate(geom))
	require.NoError(t, bound.PartitionBy(m.Layout()))
	assert.True(t, bound.Ap.Layout().Equal(m.Layout()))
}

func TestShardViews(t *testing.T) {
	geom, err := geometry.New(2, 0, 1, 2, 2, 3)
	require.NoError(t, err)
	vs := New()
	require.NoError(t, vs.Allocate(geom))
	require.NoError(t, vs.Partition(2))

	for k := 0; k < 2; k++ {
		sv, err := vs.Shard(k)
		require.NoError(t, err)
		require.Equal(t, 6, sv.R.Len())
		for i := 0; i < sv.P.Len(); i++ {
			sv.P.SetVec(i, float64(k+1))
		}
		sv.Ap.ScaleVec(2, sv.P)
		sv.R.SubVec(sv.Ap, sv.P)
		assert.Equal(t, float64(6*(k+1)), mat.Dot(sv.R, mat.NewVecDense(6, floats.Span(make([]float64, 6), 1, 1))))
	}
	assert.Equal(t, 18.0, floats.Sum(vs.P.GlobalData))
	assert.Equal(t, 36.0, floats.Sum(vs.Ap.GlobalData))

	_, err = vs.Shard(2)
	assert.True(t, errors.Is(err, utils.ErrConfiguration))

	require.NoError(t, vs.Zero())
	for _, pa := range vs.all() {
		assert.Zero(t, floats.Norm(pa.GlobalData, 2))
	}
}

func TestEmptyShardView(t *testing.T) {
	geom, err := geometry.New(2, 0, 1, 1, 1, 1)
	require.NoError(t, err)
	vs := New()
	require.NoError(t, vs.Allocate(geom))
	require.NoError(t, vs.Partition(2))

	sv, err := vs.Shard(0)
	require.NoError(t, err)
	assert.Nil(t, sv.R)
	sv, err = vs.Shard(1)
	require.NoError(t, err)
	assert.Equal(t, 1, sv.Z.Len())
}
