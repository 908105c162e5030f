// Package cgdata holds the auxiliary vectors a conjugate-gradient solve
// needs on the fine level: residual, preconditioned residual, search
// direction and the product A*p.
package cgdata

import (
	"github.com/notargets/HPCGKernel/geometry"
	"github.com/notargets/HPCGKernel/partitions"
	"github.com/notargets/HPCGKernel/utils"
	"gonum.org/v1/gonum/mat"
)

// VectorSet allocates, partitions and frees its four vectors as a unit
type VectorSet struct {
	R  *partitions.PartitionedArray[float64] // residual
	Z  *partitions.PartitionedArray[float64] // preconditioned residual
	P  *partitions.PartitionedArray[float64] // search direction
	Ap *partitions.PartitionedArray[float64] // A*P

	domain *partitions.Domain
}

// ShardVectors are dense views onto one shard's rows of each vector.
// Writes through a view land in the VectorSet.
type ShardVectors struct {
	R, Z, P, Ap *mat.VecDense
}

// New returns an unallocated VectorSet
func New() *VectorSet {
	return &VectorSet{}
}

func (vs *VectorSet) all() []*partitions.PartitionedArray[float64] {
	return []*partitions.PartitionedArray[float64]{vs.R, vs.Z, vs.P, vs.Ap}
}

// Allocate sizes all four vectors to the global row count of geom
func (vs *VectorSet) Allocate(geom *geometry.Geometry) error {
	if vs.R != nil {
		if vs.R.Freed() {
			return utils.UseAfterFreef("vector set allocated after deallocation")
		}
		return utils.Invariantf("vector set allocated twice")
	}
	if err := geom.Validate(); err != nil {
		return err
	}
	rows := geom.TotalRows()
	var err error
	for _, v := range []struct {
		dst  **partitions.PartitionedArray[float64]
		name string
	}{
		{&vs.R, "r"}, {&vs.Z, "z"}, {&vs.P, "p"}, {&vs.Ap, "Ap"},
	} {
		if *v.dst, err = partitions.AllocatePartitionedArray[float64](v.name, rows, 1); err != nil {
			return err
		}
	}
	return nil
}

// Partition splits every vector into shardCount row blocks, the same
// boundaries the matrix of the level uses
func (vs *VectorSet) Partition(shardCount int) error {
	if err := vs.check(); err != nil {
		return err
	}
	if vs.domain != nil {
		return utils.Invariantf("vector set partitioned twice")
	}
	layout, err := partitions.BlockPartition(vs.R.Rows, shardCount)
	if err != nil {
		return err
	}
	return vs.PartitionBy(layout)
}

// PartitionBy binds the vectors to an existing layout, usually the one of
// the matrix they pair with
func (vs *VectorSet) PartitionBy(layout *partitions.PartitionLayout) error {
	if err := vs.check(); err != nil {
		return err
	}
	for _, pa := range vs.all() {
		if _, err := pa.PartitionBy(layout); err != nil {
			return err
		}
	}
	vs.domain = partitions.NewDomain(layout)
	return nil
}

// Domain is the launch domain recorded by partitioning
func (vs *VectorSet) Domain() *partitions.Domain {
	return vs.domain
}

// Shard returns views of shard k's rows. Empty shards get nil views since
// gonum does not allow zero-length vectors.
func (vs *VectorSet) Shard(k int) (*ShardVectors, error) {
	if err := vs.check(); err != nil {
		return nil, err
	}
	if vs.domain == nil {
		return nil, utils.Invariantf("vector set used before partitioning")
	}
	if k < 0 || k >= vs.domain.Size() {
		return nil, utils.Configf("shard %d outside [0,%d)", k, vs.domain.Size())
	}
	view := func(pa *partitions.PartitionedArray[float64]) *mat.VecDense {
		data := pa.GetPartitionData(k)
		if len(data) == 0 {
			return nil
		}
		return mat.NewVecDense(len(data), data)
	}
	return &ShardVectors{R: view(vs.R), Z: view(vs.Z), P: view(vs.P), Ap: view(vs.Ap)}, nil
}

// Zero clears all four vectors
func (vs *VectorSet) Zero() error {
	if err := vs.check(); err != nil {
		return err
	}
	for _, pa := range vs.all() {
		clear(pa.GlobalData)
	}
	return nil
}

// Deallocate releases all four vectors. A second call fails with
// ErrUseAfterFree.
func (vs *VectorSet) Deallocate() error {
	if err := vs.check(); err != nil {
		return err
	}
	for _, pa := range vs.all() {
		if err := pa.Deallocate(); err != nil {
			return err
		}
	}
	vs.domain = nil
	return nil
}

func (vs *VectorSet) check() error {
	if vs.R == nil {
		return utils.Invariantf("vector set used before allocation")
	}
	if vs.R.Freed() {
		return utils.UseAfterFreef("vector set used after deallocation")
	}
	return nil
}
