// Package matrix holds the distributed sparse matrix of one multigrid level:
// per-row storage in global and local column numbering, partitioned into
// contiguous row blocks, plus the halo bookkeeping each shard needs for SPMV.
package matrix

import (
	"fmt"
	"math"

	"github.com/notargets/HPCGKernel/geometry"
	"github.com/notargets/HPCGKernel/partitions"
	"github.com/notargets/HPCGKernel/utils"
)

type lifecycle uint8

const (
	created lifecycle = iota
	allocated
	partitioned
	freed
)

// Matrix is one level of the distributed system. Fine levels own their
// coarse level through NextCoarser; the chain never cycles.
type Matrix struct {
	Name  string
	Level int
	Geom  *geometry.Geometry

	// Row storage. Stride-1 arrays hold one value per row; the others hold
	// StencilSize slots per row of which NonzerosInRow are used.
	NonzerosInRow    *partitions.PartitionedArray[int]
	MtxIndG          *partitions.PartitionedArray[int64]
	MtxIndL          *partitions.PartitionedArray[int]
	MatrixValues     *partitions.PartitionedArray[float64]
	MatrixDiagonal   *partitions.PartitionedArray[float64]
	LocalToGlobalMap *partitions.PartitionedArray[int64]

	// Per-shard views and halo state, one slot per shard of Geom
	Shards []*Shard

	// Multigrid links
	NextCoarser     *Matrix
	FineToCoarseRow *partitions.PartitionedArray[int64] // Set on coarse levels only

	domain *partitions.Domain
	state  lifecycle
}

// New creates an unallocated matrix
func New(name string, level int) *Matrix {
	return &Matrix{Name: name, Level: level}
}

// LevelName is the conventional name of the matrix at a multigrid level
func LevelName(level int) string {
	return fmt.Sprintf("A-L%d", level)
}

// Allocate sizes every per-shard slot to geom.Size and allocates the row
// storage for the whole level. It must precede Partition.
func (m *Matrix) Allocate(geom *geometry.Geometry) error {
	if err := m.checkState(created, "allocate"); err != nil {
		return err
	}
	if err := geom.Validate(); err != nil {
		return fmt.Errorf("%s: %w", m.Name, err)
	}

	rows := geom.TotalRows()
	stencil := geom.StencilSize()
	if rows > math.MaxInt/int64(stencil) {
		return utils.Configf("%s: %d rows of %d stencil slots exceed addressable memory",
			m.Name, rows, stencil)
	}
	if err := m.allocateRegions(rows, stencil); err != nil {
		m.releaseRegions()
		return err
	}

	m.Shards = make([]*Shard, geom.Size)
	for k := range m.Shards {
		m.Shards[k] = &Shard{ID: k}
	}
	m.Geom = geom
	m.state = allocated
	return nil
}

func (m *Matrix) allocateRegions(rows int64, stencil int) error {
	var err error
	if m.NonzerosInRow, err = partitions.AllocatePartitionedArray[int](m.Name+".nonzerosInRow", rows, 1); err != nil {
		return err
	}
	if m.MtxIndG, err = partitions.AllocatePartitionedArray[int64](m.Name+".mtxIndG", rows, stencil); err != nil {
		return err
	}
	if m.MtxIndL, err = partitions.AllocatePartitionedArray[int](m.Name+".mtxIndL", rows, stencil); err != nil {
		return err
	}
	if m.MatrixValues, err = partitions.AllocatePartitionedArray[float64](m.Name+".matrixValues", rows, stencil); err != nil {
		return err
	}
	if m.MatrixDiagonal, err = partitions.AllocatePartitionedArray[float64](m.Name+".matrixDiagonal", rows, 1); err != nil {
		return err
	}
	m.LocalToGlobalMap, err = partitions.AllocatePartitionedArray[int64](m.Name+".localToGlobalMap", rows, 1)
	return err
}

// releaseRegions drops every row region so a failed Allocate leaves the
// matrix as New returned it
func (m *Matrix) releaseRegions() {
	m.NonzerosInRow = nil
	m.MtxIndG = nil
	m.MtxIndL = nil
	m.MatrixValues = nil
	m.MatrixDiagonal = nil
	m.LocalToGlobalMap = nil
}

// Partition assigns shard k the rows [T*k/n, T*(k+1)/n) on every row array
// and records the resulting launch domain. It may be called once.
func (m *Matrix) Partition(shardCount int) error {
	if err := m.checkState(allocated, "partition"); err != nil {
		return err
	}
	if shardCount != len(m.Shards) {
		return utils.Configf("%s: partition into %d shards, allocated for %d",
			m.Name, shardCount, len(m.Shards))
	}

	layout, err := partitions.BlockPartition(m.Geom.TotalRows(), shardCount)
	if err != nil {
		return fmt.Errorf("%s: %w", m.Name, err)
	}
	for _, bind := range []func(*partitions.PartitionLayout) (*partitions.Domain, error){
		m.NonzerosInRow.PartitionBy,
		m.MtxIndG.PartitionBy,
		m.MtxIndL.PartitionBy,
		m.MatrixValues.PartitionBy,
		m.MatrixDiagonal.PartitionBy,
		m.LocalToGlobalMap.PartitionBy,
	} {
		if _, err := bind(layout); err != nil {
			return err
		}
	}

	stencil := m.Geom.StencilSize()
	for k, sh := range m.Shards {
		p := layout.Partitions[k]
		sh.RowStart, sh.RowEnd = p.RowStart, p.RowEnd
		sh.Stencil = stencil
		sh.TotalNumberOfRows = m.Geom.TotalRows()
		sh.LocalNumberOfRows = int(p.NumRows)
		sh.LocalNumberOfColumns = int(p.NumRows)
		sh.NonzerosInRow = m.NonzerosInRow.GetPartitionData(k)
		sh.MtxIndG = m.MtxIndG.GetPartitionData(k)
		sh.MtxIndL = m.MtxIndL.GetPartitionData(k)
		sh.MatrixValues = m.MatrixValues.GetPartitionData(k)
		sh.MatrixDiagonal = m.MatrixDiagonal.GetPartitionData(k)
		sh.LocalToGlobalMap = m.LocalToGlobalMap.GetPartitionData(k)
		if p.NumRows > 0 && (sh.NonzerosInRow == nil || sh.MtxIndG == nil || sh.MatrixValues == nil) {
			return utils.Invariantf("%s: shard %d has no storage after partitioning", m.Name, k)
		}
	}

	// Any array carries the representative launch domain
	m.domain = partitions.NewDomain(layout)
	m.state = partitioned
	return nil
}

// Deallocate releases all storage owned by this level. The coarse level is
// not touched; see DeallocateHierarchy.
func (m *Matrix) Deallocate() error {
	if m.state == freed {
		return utils.UseAfterFreef("%s deallocated twice", m.Name)
	}
	if m.state == created {
		return utils.Invariantf("%s deallocated before allocation", m.Name)
	}
	for _, release := range []func() error{
		m.NonzerosInRow.Deallocate,
		m.MtxIndG.Deallocate,
		m.MtxIndL.Deallocate,
		m.MatrixValues.Deallocate,
		m.MatrixDiagonal.Deallocate,
		m.LocalToGlobalMap.Deallocate,
	} {
		if err := release(); err != nil {
			return err
		}
	}
	if m.FineToCoarseRow != nil {
		if err := m.FineToCoarseRow.Deallocate(); err != nil {
			return err
		}
	}
	m.Shards = nil
	m.domain = nil
	m.state = freed
	return nil
}

// DeallocateHierarchy frees a level and every coarser level it owns
func DeallocateHierarchy(m *Matrix) error {
	for cur := m; cur != nil; {
		next := cur.NextCoarser
		if err := cur.Deallocate(); err != nil {
			return err
		}
		cur.NextCoarser = nil
		cur = next
	}
	return nil
}

// Check fails with ErrUseAfterFree on a deallocated matrix and with
// ErrInvariantViolation before partitioning.
func (m *Matrix) Check() error {
	switch m.state {
	case freed:
		return utils.UseAfterFreef("%s used after deallocation", m.Name)
	case partitioned:
		return nil
	default:
		return utils.Invariantf("%s used before partitioning", m.Name)
	}
}

func (m *Matrix) checkState(want lifecycle, op string) error {
	if m.state == freed {
		return utils.UseAfterFreef("%s: %s after deallocation", m.Name, op)
	}
	if m.state != want {
		return utils.Invariantf("%s: %s called out of order", m.Name, op)
	}
	return nil
}

// IsPartitioned reports whether shard views are bound
func (m *Matrix) IsPartitioned() bool {
	return m.state == partitioned
}

// Domain is the launch domain recorded by Partition
func (m *Matrix) Domain() *partitions.Domain {
	return m.domain
}

// Layout is the row layout recorded by Partition
func (m *Matrix) Layout() *partitions.PartitionLayout {
	if m.domain == nil {
		return nil
	}
	return m.domain.Layout
}

// Shard returns shard k's view, nil before partitioning or out of range
func (m *Matrix) Shard(k int) *Shard {
	if m.state != partitioned || k < 0 || k >= len(m.Shards) {
		return nil
	}
	return m.Shards[k]
}

// IsLocalRow reports whether shard owns globalRow according to its
// global-to-local map. The answer is only meaningful once halo setup has run.
func (m *Matrix) IsLocalRow(shard int, globalRow int64) bool {
	sh := m.Shard(shard)
	if sh == nil || !sh.HaloReady {
		return false
	}
	_, ok := sh.GlobalToLocalMap[globalRow]
	return ok
}

// TotalNumberOfNonzeros sums the local nonzero counts of every shard
func (m *Matrix) TotalNumberOfNonzeros() int64 {
	var total int64
	for _, sh := range m.Shards {
		total += int64(sh.LocalNumberOfNonzeros)
	}
	return total
}

// Levels walks the NextCoarser chain starting at m
func (m *Matrix) Levels() []*Matrix {
	var levels []*Matrix
	for cur := m; cur != nil; cur = cur.NextCoarser {
		levels = append(levels, cur)
	}
	return levels
}

// NewColumnVector allocates a vector sized to shard k's local columns: owned
// rows first, then one slot per external value in halo receive order.
func (m *Matrix) NewColumnVector(k int) []float64 {
	sh := m.Shard(k)
	if sh == nil {
		return nil
	}
	return make([]float64, sh.LocalNumberOfColumns)
}
