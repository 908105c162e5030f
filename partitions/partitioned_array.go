package partitions

import (
	"math"

	"github.com/notargets/HPCGKernel/utils"
)

// Number is the element type constraint for partitioned storage
type Number interface {
	~int | ~int32 | ~int64 | ~float32 | ~float64
}

// PartitionedArray is a row-indexed region distributed across partitions.
// Allocation is deferred from partitioning: storage exists after
// AllocatePartitionedArray, but shard views exist only after Partition.
type PartitionedArray[T Number] struct {
	Name string

	// Number of rows and values stored per row
	Rows   int64
	Stride int

	// Contiguous global storage for all partitions
	// Layout: [Partition 0 Data][Partition 1 Data]...[Partition N-1 Data]
	GlobalData []T

	// Offset for each partition's data in GlobalData
	// Partition p's data starts at GlobalData[Offsets[p]]
	Offsets []int64

	layout *PartitionLayout
	freed  bool
}

// AllocatePartitionedArray creates storage for rows*stride values
func AllocatePartitionedArray[T Number](name string, rows int64, stride int) (*PartitionedArray[T], error) {
	if rows <= 0 || stride <= 0 {
		return nil, utils.Configf("%s: cannot allocate %d rows of stride %d", name, rows, stride)
	}
	if rows > math.MaxInt/int64(stride) {
		return nil, utils.Configf("%s: %d rows of stride %d exceed addressable memory", name, rows, stride)
	}
	pa := &PartitionedArray[T]{
		Name:       name,
		Rows:       rows,
		Stride:     stride,
		GlobalData: make([]T, rows*int64(stride)),
	}
	if pa.GlobalData == nil {
		return nil, utils.Invariantf("%s: allocation returned no storage", name)
	}
	return pa, nil
}

// Partition subdivides the array into numPartitions contiguous row blocks
// and returns the launch domain over those blocks. It may be called once.
func (pa *PartitionedArray[T]) Partition(numPartitions int) (*Domain, error) {
	if err := pa.check(); err != nil {
		return nil, err
	}
	layout, err := BlockPartition(pa.Rows, numPartitions)
	if err != nil {
		return nil, err
	}
	return pa.PartitionBy(layout)
}

// PartitionBy binds the array to an existing layout, so several arrays share
// shard boundaries exactly.
func (pa *PartitionedArray[T]) PartitionBy(layout *PartitionLayout) (*Domain, error) {
	if err := pa.check(); err != nil {
		return nil, err
	}
	if pa.layout != nil {
		return nil, utils.Invariantf("%s: already partitioned", pa.Name)
	}
	if layout.TotalRows != pa.Rows {
		return nil, utils.Configf("%s: layout covers %d rows, array has %d",
			pa.Name, layout.TotalRows, pa.Rows)
	}

	offsets := make([]int64, layout.NumPartitions+1)
	for i, p := range layout.Partitions {
		offsets[i] = p.RowStart * int64(pa.Stride)
	}
	offsets[layout.NumPartitions] = pa.Rows * int64(pa.Stride)

	pa.Offsets = offsets
	pa.layout = layout
	return NewDomain(layout), nil
}

// GetPartitionData returns a slice for partition p's data
func (pa *PartitionedArray[T]) GetPartitionData(partitionID int) []T {
	if pa.freed || partitionID < 0 || partitionID >= len(pa.Offsets)-1 {
		return nil
	}
	start := pa.Offsets[partitionID]
	end := pa.Offsets[partitionID+1]
	return pa.GlobalData[start:end:end]
}

// Layout returns the bound layout, nil before partitioning
func (pa *PartitionedArray[T]) Layout() *PartitionLayout {
	return pa.layout
}

// IsPartitioned reports whether shard views are available
func (pa *PartitionedArray[T]) IsPartitioned() bool {
	return pa.layout != nil
}

// Deallocate releases the storage. A second call fails with ErrUseAfterFree.
func (pa *PartitionedArray[T]) Deallocate() error {
	if err := pa.check(); err != nil {
		return err
	}
	pa.GlobalData = nil
	pa.Offsets = nil
	pa.layout = nil
	pa.freed = true
	return nil
}

// Freed reports whether Deallocate has run
func (pa *PartitionedArray[T]) Freed() bool {
	return pa.freed
}

func (pa *PartitionedArray[T]) check() error {
	if pa == nil {
		return utils.Invariantf("nil partitioned array")
	}
	if pa.freed {
		return utils.UseAfterFreef("%s used after deallocation", pa.Name)
	}
	return nil
}
