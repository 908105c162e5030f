// Package problem generates the nonzero pattern and values of the HPCG
// model problem: a 27-point stencil on a structured 3-D grid.
package problem

import (
	"context"
	"fmt"

	"github.com/notargets/HPCGKernel/matrix"
	"github.com/notargets/HPCGKernel/partitions"
	"github.com/notargets/HPCGKernel/utils"
)

// Stencil27 fills a partitioned matrix with the 27-point operator: the
// diagonal couples to itself with DiagonalValue and to every grid neighbor
// with OffDiagonalValue.
type Stencil27 struct {
	DiagonalValue    float64
	OffDiagonalValue float64
}

// NewStencil27 returns the HPCG coefficients
func NewStencil27() *Stencil27 {
	return &Stencil27{
		DiagonalValue:    26.0,
		OffDiagonalValue: -1.0,
	}
}

// Generate populates every shard's rows in parallel, then reduces the
// nonzero totals across shards. Any earlier halo state is discarded.
func (s *Stencil27) Generate(ctx context.Context, m *matrix.Matrix) error {
	if err := m.Check(); err != nil {
		return err
	}
	if m.Geom.StencilSize() != 27 {
		return utils.Configf("%s: stencil of %d points, generator needs 27", m.Name, m.Geom.StencilSize())
	}

	err := m.Domain().ParallelFor(ctx, func(ctx context.Context, k int) error {
		return s.generateShard(ctx, m, m.Shard(k))
	})
	if err != nil {
		return fmt.Errorf("%s: generate: %w", m.Name, err)
	}

	total := m.TotalNumberOfNonzeros()
	for _, sh := range m.Shards {
		sh.TotalNumberOfNonzeros = total
	}
	return nil
}

func (s *Stencil27) generateShard(ctx context.Context, m *matrix.Matrix, sh *matrix.Shard) error {
	geom := m.Geom
	sh.ResetHalo()
	sh.GlobalToLocalMap = make(map[int64]int, sh.LocalNumberOfRows)
	nnz := 0

	for i := 0; i < sh.LocalNumberOfRows; i++ {
		if i%4096 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		row := sh.RowStart + int64(i)
		ix, iy, iz := geom.Coords(row)
		base := i * sh.Stencil
		n := 0
		for sz := int64(-1); sz <= 1; sz++ {
			for sy := int64(-1); sy <= 1; sy++ {
				for sx := int64(-1); sx <= 1; sx++ {
					if !geom.Contains(ix+sx, iy+sy, iz+sz) {
						continue
					}
					col := geom.Row(ix+sx, iy+sy, iz+sz)
					sh.MtxIndG[base+n] = col
					if col == row {
						sh.MatrixValues[base+n] = s.DiagonalValue
						sh.MatrixDiagonal[i] = s.DiagonalValue
					} else {
						sh.MatrixValues[base+n] = s.OffDiagonalValue
					}
					n++
				}
			}
		}
		sh.NonzerosInRow[i] = n
		sh.LocalToGlobalMap[i] = row
		sh.GlobalToLocalMap[row] = i
		nnz += n
	}
	sh.LocalNumberOfNonzeros = nnz
	return nil
}

// Vectors are the right-hand side, initial guess and exact solution that
// accompany a generated matrix
type Vectors struct {
	B      *partitions.PartitionedArray[float64]
	X      *partitions.PartitionedArray[float64]
	XExact *partitions.PartitionedArray[float64]
}

// NewVectors allocates the problem vectors on m's layout and fills them so
// that A*XExact = B with XExact = 1 and X = 0.
func NewVectors(m *matrix.Matrix) (*Vectors, error) {
	if err := m.Check(); err != nil {
		return nil, err
	}
	rows := m.Geom.TotalRows()
	v := &Vectors{}
	var err error
	if v.B, err = allocateOn(m, "b", rows); err != nil {
		return nil, err
	}
	if v.X, err = allocateOn(m, "x", rows); err != nil {
		return nil, err
	}
	if v.XExact, err = allocateOn(m, "xexact", rows); err != nil {
		return nil, err
	}

	for k, sh := range m.Shards {
		b, xexact := v.B.GetPartitionData(k), v.XExact.GetPartitionData(k)
		for i := 0; i < sh.LocalNumberOfRows; i++ {
			_, _, vals := sh.Row(i)
			sum := 0.0
			for _, a := range vals {
				sum += a
			}
			b[i] = sum
			xexact[i] = 1.0
		}
	}
	return v, nil
}

func allocateOn(m *matrix.Matrix, name string, rows int64) (*partitions.PartitionedArray[float64], error) {
	pa, err := partitions.AllocatePartitionedArray[float64](m.Name+"."+name, rows, 1)
	if err != nil {
		return nil, err
	}
	if _, err = pa.PartitionBy(m.Layout()); err != nil {
		return nil, err
	}
	return pa, nil
}

// Deallocate releases all three vectors
func (v *Vectors) Deallocate() error {
	for _, pa := range []*partitions.PartitionedArray[float64]{v.B, v.X, v.XExact} {
		if err := pa.Deallocate(); err != nil {
			return err
		}
	}
	return nil
}
