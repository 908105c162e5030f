package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendRecvOrdering(t *testing.T) {
	net := NewNetwork(2)
	ctx := context.Background()
	a, b := net.Endpoint(0), net.Endpoint(1)

	buf := []float64{1, 2, 3}
	require.NoError(t, a.Send(ctx, 1, 7, buf))
	buf[0] = 99 // Sender reuses its buffer
	require.NoError(t, a.Send(ctx, 1, 7, []float64{4}))

	got, err := b.RecvFloats(ctx, 0, 7)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, got)
	got, err = b.RecvFloats(ctx, 0, 7)
	require.NoError(t, err)
	assert.Equal(t, []float64{4}, got)
}

func TestTagsAreIndependent(t *testing.T) {
	net := NewNetwork(3)
	ctx := context.Background()
	require.NoError(t, net.Endpoint(2).Send(ctx, 0, 1, []int64{10}))
	require.NoError(t, net.Endpoint(2).Send(ctx, 0, 2, []int64{20}))

	second, err := net.Endpoint(0).RecvInts(ctx, 2, 2)
	require.NoError(t, err)
	first, err := net.Endpoint(0).RecvInts(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{20}, second)
	assert.Equal(t, []int64{10}, first)
}

func TestRecvHonorsContext(t *testing.T) {
	net := NewNetwork(2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := net.Endpoint(0).Recv(ctx, 1, 0)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestPeerValidation(t *testing.T) {
	net := NewNetwork(2)
	ctx := context.Background()
	assert.Error(t, net.Endpoint(0).Send(ctx, 0, 0, nil))
	assert.Error(t, net.Endpoint(0).Send(ctx, 2, 0, nil))
	assert.Panics(t, func() { net.Endpoint(5) })
	assert.Panics(t, func() { NewNetwork(0) })
}

func TestPayloadTypeMismatch(t *testing.T) {
	net := NewNetwork(2)
	ctx := context.Background()
	require.NoError(t, net.Endpoint(0).Send(ctx, 1, 0, []int64{1}))
	_, err := net.Endpoint(1).RecvFloats(ctx, 0, 0)
	assert.Error(t, err)
}

func TestAllToAll(t *testing.T) {
	const size = 6
	net := NewNetwork(size)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([][]float64, size)
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			ep := net.Endpoint(rank)
			for peer := 0; peer < size; peer++ {
				if peer != rank {
					_ = ep.Send(ctx, peer, 0, []float64{float64(rank)})
				}
			}
			sum := make([]float64, size)
			for peer := 0; peer < size; peer++ {
				if peer == rank {
					continue
				}
				v, err := ep.RecvFloats(ctx, peer, 0)
				if err == nil {
					sum[peer] = v[0]
				}
			}
			results[rank] = sum
		}(r)
	}
	wg.Wait()
	for rank, sum := range results {
		for peer, v := range sum {
			if peer != rank {
				assert.Equal(t, float64(peer), v)
			}
		}
	}
}

func TestUnbufferedSendWaitsForReceiver(t *testing.T) {
	net := NewNetworkWithDepth(2, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := net.Endpoint(0).Send(ctx, 1, 0, []int64{1})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	done := make(chan error, 1)
	go func() {
		done <- net.Endpoint(0).Send(context.Background(), 1, 0, []int64{2})
	}()
	got, err := net.Endpoint(1).RecvInts(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, got)
	require.NoError(t, <-done)
}

func TestDrain(t *testing.T) {
	net := NewNetwork(3)
	ctx := context.Background()
	require.NoError(t, net.Endpoint(0).Send(ctx, 1, 4, []int64{1}))
	require.NoError(t, net.Endpoint(0).Send(ctx, 2, 4, []int64{2}))
	require.NoError(t, net.Endpoint(2).Send(ctx, 1, 4, []int64{3}))
	require.NoError(t, net.Endpoint(2).Send(ctx, 1, 5, []int64{4}))

	assert.Equal(t, 3, net.Pending(4))
	assert.Equal(t, 3, net.Drain(4))
	assert.Zero(t, net.Pending(4))
	assert.Equal(t, 1, net.Pending(5), "other tags are untouched")

	got, err := net.Endpoint(1).RecvInts(ctx, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, got)
}
