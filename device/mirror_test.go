package device

import (
	"context"
	"errors"
	"testing"

	"github.com/notargets/HPCGKernel/geometry"
	"github.com/notargets/HPCGKernel/matrix"
	"github.com/notargets/HPCGKernel/partitions"
	"github.com/notargets/HPCGKernel/problem"
	"github.com/notargets/HPCGKernel/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMirror(t *testing.T) *Mirror {
	t.Helper()
	dev, err := utils.CreateDevice("Serial")
	if err != nil {
		t.Skipf("no OCCA device: %v", err)
	}
	t.Cleanup(dev.Free)
	m := NewMirror(dev)
	t.Cleanup(m.Free)
	return m
}

func TestUploadRoundTrip(t *testing.T) {
	m := newMirror(t)
	assert.Equal(t, "Serial", m.Mode())

	pa, err := partitions.AllocatePartitionedArray[float64]("x", 10, 1)
	require.NoError(t, err)
	_, err = pa.Partition(3)
	require.NoError(t, err)
	for i := range pa.GlobalData {
		pa.GlobalData[i] = float64(i)
	}

	require.NoError(t, Upload(m, pa))
	assert.NotNil(t, m.GetMemory("x"))
	assert.NotNil(t, m.GetOffsets("x"))
	assert.Equal(t, int64(80), m.Bytes("x"))
	assert.Equal(t, []string{"x"}, m.Arrays())

	// Clobber shard 1 on the host, then restore it from the device copy
	shard := pa.GetPartitionData(1)
	for i := range shard {
		shard[i] = -1
	}
	require.NoError(t, CopyToHost(m, pa, 1))
	for i := range pa.GlobalData {
		assert.Equal(t, float64(i), pa.GlobalData[i])
	}

	// Push a changed shard 2 and read it back
	for i := range pa.GetPartitionData(2) {
		pa.GetPartitionData(2)[i] = 100
	}
	require.NoError(t, CopyToDevice(m, pa, 2))
	clear(pa.GlobalData)
	for k := 0; k < 3; k++ {
		require.NoError(t, CopyToHost(m, pa, k))
	}
	assert.Equal(t, 0.0, pa.GlobalData[0])
	assert.Equal(t, 100.0, pa.GlobalData[9])

	err = CopyToHost(m, pa, 3)
	assert.True(t, errors.Is(err, utils.ErrConfiguration))
	assert.True(t, errors.Is(Upload(m, pa), utils.ErrInvariantViolation))
}

func TestUploadRequiresPartitioning(t *testing.T) {
	m := newMirror(t)
	pa, err := partitions.AllocatePartitionedArray[int64]("ids", 4, 1)
	require.NoError(t, err)
	assert.True(t, errors.Is(Upload(m, pa), utils.ErrInvariantViolation))

	_, err = pa.Partition(2)
	require.NoError(t, err)
	require.NoError(t, pa.Deallocate())
	assert.True(t, errors.Is(Upload(m, pa), utils.ErrUseAfterFree))
}

func TestUploadMatrix(t *testing.T) {
	m := newMirror(t)
	geom, err := geometry.New(2, 0, 1, 4, 4, 4)
	require.NoError(t, err)
	mtx := matrix.New(matrix.LevelName(0), 0)
	require.NoError(t, mtx.Allocate(geom))
	require.NoError(t, mtx.Partition(2))
	require.NoError(t, problem.NewStencil27().Generate(context.Background(), mtx))

	require.NoError(t, UploadMatrix(m, mtx))
	assert.Len(t, m.Arrays(), 6)
	assert.Equal(t, int64(64*27*8), m.Bytes("A-L0.matrixValues"))

	want := append([]float64(nil), mtx.MatrixValues.GlobalData...)
	clear(mtx.MatrixValues.GlobalData)
	require.NoError(t, CopyToHost(m, mtx.MatrixValues, 0))
	require.NoError(t, CopyToHost(m, mtx.MatrixValues, 1))
	assert.Equal(t, want, mtx.MatrixValues.GlobalData)

	m.Free()
	assert.Empty(t, m.Arrays())
	assert.Zero(t, m.TotalBytes())
}
