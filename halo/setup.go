// Package halo discovers the cross-shard column references of a distributed
// matrix and builds the per-shard send/receive schedule SPMV needs.
package halo

import (
	"context"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/notargets/HPCGKernel/exchange"
	"github.com/notargets/HPCGKernel/matrix"
	"github.com/notargets/HPCGKernel/partitions"
	"github.com/notargets/HPCGKernel/utils"
	"golang.org/x/sync/errgroup"
)

// Message tags are spread per level so exchanges on different levels never
// share a route
const (
	tagIndices = iota
	tagValues
	tagsPerLevel
)

func indicesTag(level int) int { return level*tagsPerLevel + tagIndices }
func valuesTag(level int) int  { return level*tagsPerLevel + tagValues }

// SetupTag is the message tag halo setup uses for the request lists of level
func SetupTag(level int) int { return indicesTag(level) }

// Setup builds the halo plan of every shard of m. The matrix must hold its
// column indices in global numbering; on return MtxIndL holds local column
// ids, external columns numbered after the owned rows.
//
// Every shard posts its request list to every other shard, empty lists
// included, so a shard learns whom it sends to without assuming the
// nonzero pattern is symmetric. Posting runs alongside receiving, so any
// route depth works, unbuffered included. A failed setup discards the
// request lists still queued for this level, leaving net reusable.
func Setup(ctx context.Context, m *matrix.Matrix, net *exchange.Network) error {
	if err := m.Check(); err != nil {
		return err
	}
	if net.Size() != len(m.Shards) {
		return utils.Configf("%s: network of %d shards for a matrix of %d",
			m.Name, net.Size(), len(m.Shards))
	}

	layout := m.Layout()
	err := m.Domain().ParallelFor(ctx, func(ctx context.Context, k int) error {
		sh := m.Shard(k)
		requests, err := discoverExternals(sh, layout)
		if err != nil {
			return err
		}
		return buildSendSchedule(ctx, sh, net.Endpoint(k), indicesTag(m.Level), requests)
	})
	if err != nil {
		net.Drain(indicesTag(m.Level))
		return fmt.Errorf("%s: halo setup: %w", m.Name, err)
	}
	return nil
}

// discoverExternals marks every column not found in the shard's
// global-to-local map as external, groups externals by owning shard, assigns
// their local ids and rewrites MtxIndL. It returns the external global ids
// requested from each owner.
func discoverExternals(sh *matrix.Shard, layout *partitions.PartitionLayout) (map[int][]int64, error) {
	sh.ResetHalo()
	if sh.GlobalToLocalMap == nil {
		return nil, utils.Invariantf("shard %d: halo setup before problem generation", sh.ID)
	}

	byOwner := make(map[int]*roaring64.Bitmap)
	for i := 0; i < sh.LocalNumberOfRows; i++ {
		indG, _, _ := sh.Row(i)
		for _, col := range indG {
			if _, local := sh.GlobalToLocalMap[col]; local {
				continue
			}
			owner := layout.GetPartition(col)
			if owner < 0 || owner == sh.ID {
				return nil, utils.Invariantf("shard %d: column %d has owner %d but is not mapped locally",
					sh.ID, col, owner)
			}
			bm, ok := byOwner[owner]
			if !ok {
				bm = roaring64.New()
				byOwner[owner] = bm
			}
			bm.Add(uint64(col))
		}
	}

	owners := make([]int, 0, len(byOwner))
	for owner := range byOwner {
		owners = append(owners, owner)
	}
	sort.Ints(owners)

	requests := make(map[int][]int64, len(owners))
	externalToLocal := make(map[int64]int)
	next := sh.LocalNumberOfRows
	for _, owner := range owners {
		ids := byOwner[owner].ToArray()
		cols := make([]int64, len(ids))
		for j, id := range ids {
			cols[j] = int64(id)
			externalToLocal[cols[j]] = next
			sh.ExternalGlobal = append(sh.ExternalGlobal, cols[j])
			next++
		}
		requests[owner] = cols
	}
	sh.NumberOfExternalValues = next - sh.LocalNumberOfRows
	sh.LocalNumberOfColumns = next

	for i := 0; i < sh.LocalNumberOfRows; i++ {
		indG, indL, _ := sh.Row(i)
		for n, col := range indG {
			if li, local := sh.GlobalToLocalMap[col]; local {
				indL[n] = li
			} else {
				indL[n] = externalToLocal[col]
			}
		}
	}
	return requests, nil
}

// buildSendSchedule trades request lists with every peer. What peer q asks
// of this shard, in q's receive order, becomes this shard's send list to q.
func buildSendSchedule(ctx context.Context, sh *matrix.Shard, ep *exchange.Endpoint, tag int,
	requests map[int][]int64) error {

	sends := make(map[int][]int, ep.Size())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for peer := 0; peer < ep.Size(); peer++ {
			if peer == sh.ID {
				continue
			}
			if err := ep.Send(gctx, peer, tag, requests[peer]); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for peer := 0; peer < ep.Size(); peer++ {
			if peer == sh.ID {
				continue
			}
			asked, err := ep.RecvInts(gctx, peer, tag)
			if err != nil {
				return err
			}
			if len(asked) == 0 {
				continue
			}
			rows := make([]int, len(asked))
			for j, col := range asked {
				li, ok := sh.GlobalToLocalMap[col]
				if !ok {
					return utils.Invariantf("shard %d: peer %d requested row %d this shard does not own",
						sh.ID, peer, col)
				}
				rows[j] = li
			}
			sends[peer] = rows
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	for peer := 0; peer < ep.Size(); peer++ {
		recv, send := len(requests[peer]), len(sends[peer])
		if recv == 0 && send == 0 {
			continue
		}
		sh.Neighbors = append(sh.Neighbors, peer)
		sh.ReceiveLength = append(sh.ReceiveLength, recv)
		sh.SendLength = append(sh.SendLength, send)
		sh.ElementsToSend = append(sh.ElementsToSend, sends[peer]...)
	}
	sh.TotalToBeSent = len(sh.ElementsToSend)
	if sh.TotalToBeSent > 0 {
		sh.SendBuffer = make([]float64, sh.TotalToBeSent)
	}
	sh.HaloReady = true
	return nil
}
