package partitions

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Domain is the launch domain recorded by partitioning: the set of shards
// every later per-shard operation iterates over.
type Domain struct {
	Layout *PartitionLayout
}

// NewDomain wraps a layout as a launch domain
func NewDomain(layout *PartitionLayout) *Domain {
	return &Domain{Layout: layout}
}

// Size is the number of shards in the domain
func (d *Domain) Size() int {
	return d.Layout.NumPartitions
}

// Shards lists the shard ids in order
func (d *Domain) Shards() []int {
	ids := make([]int, d.Layout.NumPartitions)
	for i, p := range d.Layout.Partitions {
		ids[i] = p.ID
	}
	return ids
}

// ParallelFor runs fn once per shard, each on its own goroutine, and returns
// when every shard has finished. The first error cancels the context passed
// to the remaining shards. Shards block on each other through message
// passing, so the worker count is never capped below the shard count.
func (d *Domain) ParallelFor(ctx context.Context, fn func(ctx context.Context, shard int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range d.Layout.Partitions {
		shard := p.ID
		g.Go(func() error {
			return fn(gctx, shard)
		})
	}
	return g.Wait()
}
