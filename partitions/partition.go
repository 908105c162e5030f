package partitions

import (
	"fmt"
	"math"
	"math/bits"
	"sort"

	"github.com/notargets/HPCGKernel/utils"
)

// Partition is one shard's contiguous block of matrix rows
type Partition struct {
	// Unique identifier for this partition, equal to the shard id
	ID int

	// Row membership: [RowStart, RowEnd)
	RowStart int64
	RowEnd   int64
	NumRows  int64
}

// PartitionLayout manages the complete row decomposition of one grid level
type PartitionLayout struct {
	// All partitions, ordered by ID and by row range
	Partitions []Partition

	// Global sizing information
	MaxRows       int64 // max(NumRows) across all partitions, the device padding bound
	TotalRows     int64 // Sum of all rows across partitions
	NumPartitions int
}

// BlockPartition assigns shard k the rows
// [totalRows*k/numPartitions, totalRows*(k+1)/numPartitions).
// Uneven remainders are spread by the integer division, never rejected.
func BlockPartition(totalRows int64, numPartitions int) (*PartitionLayout, error) {
	if totalRows <= 0 {
		return nil, utils.Configf("cannot partition %d rows", totalRows)
	}
	if numPartitions <= 0 {
		return nil, utils.Configf("partition count must be positive, got %d", numPartitions)
	}

	partitions := make([]Partition, numPartitions)
	for k := range partitions {
		start := blockBoundary(totalRows, k, numPartitions)
		end := blockBoundary(totalRows, k+1, numPartitions)
		partitions[k] = Partition{
			ID:       k,
			RowStart: start,
			RowEnd:   end,
			NumRows:  end - start,
		}
	}

	layout := &PartitionLayout{
		Partitions:    partitions,
		TotalRows:     totalRows,
		NumPartitions: numPartitions,
	}
	layout.MaxRows = layout.calculateMaxRows()

	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}
	return layout, nil
}

// blockBoundary computes total*k/n without overflowing the intermediate product
func blockBoundary(total int64, k, n int) int64 {
	hi, lo := bits.Mul64(uint64(total), uint64(k))
	q, _ := bits.Div64(hi, lo, uint64(n))
	return int64(q)
}

func (pl *PartitionLayout) calculateMaxRows() int64 {
	var maxRows int64
	for _, p := range pl.Partitions {
		if p.NumRows > maxRows {
			maxRows = p.NumRows
		}
	}
	return maxRows
}

// GetPartition returns the partition owning a global row, or -1 when the row
// is outside the layout
func (pl *PartitionLayout) GetPartition(row int64) int {
	if row < 0 || row >= pl.TotalRows {
		return -1
	}
	idx := sort.Search(len(pl.Partitions), func(i int) bool {
		return pl.Partitions[i].RowEnd > row
	})
	return pl.Partitions[idx].ID
}

// RowRange returns the row block of a partition
func (pl *PartitionLayout) RowRange(partitionID int) (start, end int64) {
	p := pl.Partitions[partitionID]
	return p.RowStart, p.RowEnd
}

// ValidateLayout checks that the partitions cover [0, TotalRows) exactly once
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.Partitions) != pl.NumPartitions {
		return fmt.Errorf("layout has %d partitions, expected %d",
			len(pl.Partitions), pl.NumPartitions)
	}
	var next int64
	for i, p := range pl.Partitions {
		if p.ID != i {
			return fmt.Errorf("partition at position %d has ID %d", i, p.ID)
		}
		if p.RowStart != next {
			return fmt.Errorf("partition %d starts at row %d, expected %d", p.ID, p.RowStart, next)
		}
		if p.RowEnd < p.RowStart || p.NumRows != p.RowEnd-p.RowStart {
			return fmt.Errorf("partition %d: inconsistent range [%d,%d) with %d rows",
				p.ID, p.RowStart, p.RowEnd, p.NumRows)
		}
		next = p.RowEnd
	}
	if next != pl.TotalRows {
		return fmt.Errorf("partitions cover %d rows, expected %d", next, pl.TotalRows)
	}
	if actual := pl.calculateMaxRows(); actual != pl.MaxRows {
		return fmt.Errorf("computed MaxRows %d != stored MaxRows %d", actual, pl.MaxRows)
	}
	return nil
}

// Equal reports whether two layouts assign identical row ranges
func (pl *PartitionLayout) Equal(other *PartitionLayout) bool {
	if other == nil || pl.TotalRows != other.TotalRows || pl.NumPartitions != other.NumPartitions {
		return false
	}
	for i := range pl.Partitions {
		if pl.Partitions[i] != other.Partitions[i] {
			return false
		}
	}
	return true
}

// PartitionStatistics computes load balance metrics
func (pl *PartitionLayout) PartitionStatistics() PartitionStats {
	stats := PartitionStats{
		NumPartitions: pl.NumPartitions,
		MinRows:       math.MaxInt64,
		AvgRows:       float64(pl.TotalRows) / float64(pl.NumPartitions),
	}

	for _, p := range pl.Partitions {
		if p.NumRows < stats.MinRows {
			stats.MinRows = p.NumRows
		}
		if p.NumRows > stats.MaxRows {
			stats.MaxRows = p.NumRows
		}
	}

	stats.Imbalance = float64(stats.MaxRows) / stats.AvgRows

	return stats
}

type PartitionStats struct {
	NumPartitions int
	MinRows       int64
	MaxRows       int64
	AvgRows       float64
	Imbalance     float64 // MaxRows / AvgRows
}
