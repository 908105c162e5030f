// Package multigrid builds the coarse levels of the preconditioner: each
// level halves the grid extents, gets its own generated matrix and halo
// plan, and records which fine row every coarse row injects from.
package multigrid

import (
	"context"
	"fmt"
	"time"

	"github.com/notargets/HPCGKernel/exchange"
	"github.com/notargets/HPCGKernel/geometry"
	"github.com/notargets/HPCGKernel/halo"
	"github.com/notargets/HPCGKernel/matrix"
	"github.com/notargets/HPCGKernel/metrics"
	"github.com/notargets/HPCGKernel/partitions"
	"github.com/notargets/HPCGKernel/utils"
)

// Generator fills a partitioned matrix with its nonzeros in global column
// numbering
type Generator interface {
	Generate(ctx context.Context, m *matrix.Matrix) error
}

// Builder creates matrix levels. Network carries the halo list exchange of
// every level it builds; message tags keep the levels apart.
type Builder struct {
	Generator Generator
	Network   *exchange.Network
	Logger    *utils.Logger
	Metrics   *metrics.SetupMetrics
}

// NewBuilder returns a Builder with a discarding logger and no metrics
func NewBuilder(gen Generator, net *exchange.Network) *Builder {
	return &Builder{
		Generator: gen,
		Network:   net,
		Logger:    utils.NoopLogger(),
	}
}

// SetupLevel allocates, partitions, generates and halo-configures the
// matrix of one level on geom
func (b *Builder) SetupLevel(ctx context.Context, geom *geometry.Geometry, level int) (*matrix.Matrix, error) {
	if b.Generator == nil || b.Network == nil {
		return nil, utils.Configf("builder needs a generator and a network")
	}
	m := matrix.New(matrix.LevelName(level), level)
	if err := m.Allocate(geom); err != nil {
		return nil, err
	}
	if err := b.populate(ctx, m); err != nil {
		_ = m.Deallocate()
		return nil, err
	}
	return m, nil
}

func (b *Builder) logger() *utils.Logger {
	if b.Logger == nil {
		return utils.NoopLogger()
	}
	return b.Logger
}

func (b *Builder) populate(ctx context.Context, m *matrix.Matrix) error {
	log := b.logger().WithLevel(m.Level)
	if err := m.Partition(m.Geom.Size); err != nil {
		return err
	}

	start := time.Now()
	if err := b.Generator.Generate(ctx, m); err != nil {
		return fmt.Errorf("%s: generate: %w", m.Name, err)
	}
	b.Metrics.Since("generate", start)

	start = time.Now()
	if err := halo.Setup(ctx, m, b.Network); err != nil {
		return err
	}
	b.Metrics.Since("halo", start)

	var external, sent int
	for _, sh := range m.Shards {
		external += sh.NumberOfExternalValues
		sent += sh.TotalToBeSent
	}
	log.Debug("halo configured",
		"matrix", m.Name,
		"external_values", external,
		"values_sent", sent)
	return nil
}

// BuildLevel creates the next coarser level of fine and links it through
// fine.NextCoarser. On failure fine is left unlinked and the partially
// built coarse level is released. A failed halo setup discards its queued
// messages, so BuildLevel may be retried on the same Network.
func (b *Builder) BuildLevel(ctx context.Context, fine *matrix.Matrix) (*matrix.Matrix, error) {
	if err := fine.Check(); err != nil {
		return nil, err
	}
	if fine.NextCoarser != nil {
		return nil, utils.Configf("%s already has a coarse level", fine.Name)
	}
	if !fine.Geom.CanCoarsen() {
		return nil, utils.Configf("%s: extents %dx%dx%d cannot be halved",
			fine.Name, fine.Geom.Nx, fine.Geom.Ny, fine.Geom.Nz)
	}
	coarseGeom, err := fine.Geom.Coarsen()
	if err != nil {
		return nil, err
	}

	coarse, err := b.SetupLevel(ctx, coarseGeom, fine.Level+1)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err = buildFineToCoarse(ctx, fine.Geom, coarse); err != nil {
		_ = coarse.Deallocate()
		return nil, err
	}
	b.Metrics.Since("restriction_map", start)

	fine.NextCoarser = coarse
	b.Metrics.ObserveLevel(coarse)
	b.logger().WithLevel(coarse.Level).Info("level built",
		"matrix", coarse.Name,
		"geometry", coarseGeom.String(),
		"rows", coarseGeom.TotalRows(),
		"nonzeros", coarse.TotalNumberOfNonzeros())
	return coarse, nil
}

// BuildHierarchy adds coarse levels below fine until an extent turns odd or
// maxLevels levels exist in total, fine included. maxLevels <= 0 means no
// cap. It returns the number of levels.
func (b *Builder) BuildHierarchy(ctx context.Context, fine *matrix.Matrix, maxLevels int) (int, error) {
	if err := fine.Check(); err != nil {
		return 0, err
	}
	if fine.NextCoarser != nil {
		return 0, utils.Configf("%s already has a coarse level", fine.Name)
	}
	b.Metrics.ObserveLevel(fine)

	levels := 1
	for cur := fine; cur.Geom.CanCoarsen() && (maxLevels <= 0 || levels < maxLevels); levels++ {
		next, err := b.BuildLevel(ctx, cur)
		if err != nil {
			// Release the partial chain and leave fine unlinked
			_ = matrix.DeallocateHierarchy(fine.NextCoarser)
			fine.NextCoarser = nil
			return 0, err
		}
		cur = next
	}
	return levels, nil
}

// buildFineToCoarse fills coarse.FineToCoarseRow, the fine row each coarse
// row injects from. Coarse point (ixc,iyc,izc) sits on fine point
// (2ixc,2iyc,2izc).
func buildFineToCoarse(ctx context.Context, fineGeom *geometry.Geometry, coarse *matrix.Matrix) error {
	f2c, err := partitions.AllocatePartitionedArray[int64](coarse.Name+".fineToCoarseRow", coarse.Geom.TotalRows(), 1)
	if err != nil {
		return err
	}
	if _, err = f2c.PartitionBy(coarse.Layout()); err != nil {
		return err
	}
	coarse.FineToCoarseRow = f2c

	return coarse.Domain().ParallelFor(ctx, func(ctx context.Context, k int) error {
		sh := coarse.Shard(k)
		out := f2c.GetPartitionData(k)
		for i := range out {
			ixc, iyc, izc := coarse.Geom.Coords(sh.RowStart + int64(i))
			out[i] = fineGeom.Row(2*ixc, 2*iyc, 2*izc)
		}
		return ctx.Err()
	})
}
