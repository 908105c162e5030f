package halo

import (
	"context"
	"fmt"

	"github.com/notargets/HPCGKernel/exchange"
	"github.com/notargets/HPCGKernel/matrix"
	"github.com/notargets/HPCGKernel/utils"
	"golang.org/x/sync/errgroup"
)

// PackSendBuffer gathers x[ElementsToSend] into the shard's send buffer
func PackSendBuffer(sh *matrix.Shard, x []float64) {
	for i, li := range sh.ElementsToSend {
		sh.SendBuffer[i] = x[li]
	}
}

// Exchange fills the external slots of x, a shard-local vector sized
// LocalNumberOfColumns, with the owning shards' values. Packing, sending and
// unpacking run under the shard's exchange lock, so two exchanges on the
// same level never interleave on the shared send buffer.
func Exchange(ctx context.Context, m *matrix.Matrix, k int, ep *exchange.Endpoint, x []float64) error {
	if err := m.Check(); err != nil {
		return err
	}
	sh := m.Shard(k)
	if sh == nil || !sh.HaloReady {
		return utils.Invariantf("%s: exchange on shard %d before halo setup", m.Name, k)
	}
	if len(x) < sh.LocalNumberOfColumns {
		return utils.Configf("%s: shard %d vector has %d entries, need %d",
			m.Name, k, len(x), sh.LocalNumberOfColumns)
	}

	tag := valuesTag(m.Level)
	sh.LockExchange()
	defer sh.UnlockExchange()

	PackSendBuffer(sh, x)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		offset := 0
		for i, peer := range sh.Neighbors {
			n := sh.SendLength[i]
			if n > 0 {
				if err := ep.Send(gctx, peer, tag, sh.SendBuffer[offset:offset+n]); err != nil {
					return err
				}
			}
			offset += n
		}
		return nil
	})
	g.Go(func() error {
		slot := sh.LocalNumberOfRows
		for i, peer := range sh.Neighbors {
			n := sh.ReceiveLength[i]
			if n == 0 {
				continue
			}
			values, err := ep.RecvFloats(gctx, peer, tag)
			if err != nil {
				return err
			}
			if len(values) != n {
				return utils.Invariantf("%s: shard %d expected %d values from %d, got %d",
					m.Name, k, n, peer, len(values))
			}
			copy(x[slot:slot+n], values)
			slot += n
		}
		return nil
	})
	return g.Wait()
}

// ExchangeAll runs Exchange on every shard concurrently. xs[k] is shard k's
// local vector. On failure the values still queued for this level are
// discarded.
func ExchangeAll(ctx context.Context, m *matrix.Matrix, net *exchange.Network, xs [][]float64) error {
	if err := m.Check(); err != nil {
		return err
	}
	if len(xs) != len(m.Shards) {
		return utils.Configf("%s: %d shard vectors for %d shards", m.Name, len(xs), len(m.Shards))
	}
	err := m.Domain().ParallelFor(ctx, func(ctx context.Context, k int) error {
		return Exchange(ctx, m, k, net.Endpoint(k), xs[k])
	})
	if err != nil {
		net.Drain(valuesTag(m.Level))
		return fmt.Errorf("%s: halo exchange: %w", m.Name, err)
	}
	return nil
}
