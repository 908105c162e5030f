// Package exchange provides point-to-point message passing between named
// shards of one process. Every shard holds an Endpoint; messages between a
// (source, dest, tag) triple are delivered in send order.
package exchange

import (
	"context"
	"fmt"
	"sync"
)

// DefaultDepth is the number of messages buffered per (source, dest, tag)
// channel before Send blocks
const DefaultDepth = 16

type route struct {
	source, dest, tag int
}

// Message is one transfer between shards
type Message struct {
	Source  int
	Dest    int
	Tag     int
	Payload interface{}
}

// Network connects Size shards
type Network struct {
	size  int
	depth int

	mu     sync.Mutex
	routes map[route]chan Message
}

// NewNetwork creates a network for size shards
func NewNetwork(size int) *Network {
	return NewNetworkWithDepth(size, DefaultDepth)
}

// NewNetworkWithDepth creates a network with a custom per-route buffer
// depth. Depth 0 gives unbuffered routes: Send blocks until the peer receives.
func NewNetworkWithDepth(size, depth int) *Network {
	if size <= 0 {
		panic(fmt.Sprintf("network size must be positive, got %d", size))
	}
	if depth < 0 {
		depth = 0
	}
	return &Network{
		size:   size,
		depth:  depth,
		routes: make(map[route]chan Message),
	}
}

// Size is the number of shards on the network
func (n *Network) Size() int {
	return n.size
}

// Endpoint returns shard rank's view of the network
func (n *Network) Endpoint(rank int) *Endpoint {
	if rank < 0 || rank >= n.size {
		panic(fmt.Sprintf("rank %d outside network of size %d", rank, n.size))
	}
	return &Endpoint{net: n, Rank: rank}
}

func (n *Network) channel(r route) chan Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := n.routes[r]
	if !ok {
		ch = make(chan Message, n.depth)
		n.routes[r] = ch
	}
	return ch
}

// Pending counts the messages queued under tag on every route
func (n *Network) Pending(tag int) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for r, ch := range n.routes {
		if r.tag == tag {
			count += len(ch)
		}
	}
	return count
}

// Drain discards every message queued under tag and returns how many were
// dropped. Callers drain after a failed collective, once no shard is still
// sending, so a retry does not read stale messages.
func (n *Network) Drain(tag int) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	dropped := 0
	for r, ch := range n.routes {
		if r.tag != tag {
			continue
		}
		for len(ch) > 0 {
			<-ch
			dropped++
		}
	}
	return dropped
}

// Endpoint is one shard's handle on the network
type Endpoint struct {
	net  *Network
	Rank int
}

// Size is the number of shards on the network
func (e *Endpoint) Size() int {
	return e.net.size
}

func (e *Endpoint) validPeer(peer int) error {
	if peer < 0 || peer >= e.net.size {
		return fmt.Errorf("shard %d: peer %d outside network of size %d", e.Rank, peer, e.net.size)
	}
	if peer == e.Rank {
		return fmt.Errorf("shard %d: cannot message itself", e.Rank)
	}
	return nil
}

// Send delivers payload to dest under tag. Slices of float64 and int64 are
// copied, so the caller may reuse its buffer as soon as Send returns.
func (e *Endpoint) Send(ctx context.Context, dest, tag int, payload interface{}) error {
	if err := e.validPeer(dest); err != nil {
		return err
	}
	switch v := payload.(type) {
	case []float64:
		payload = append([]float64(nil), v...)
	case []int64:
		payload = append([]int64(nil), v...)
	}
	msg := Message{Source: e.Rank, Dest: dest, Tag: tag, Payload: payload}
	select {
	case e.net.channel(route{e.Rank, dest, tag}) <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shard %d: send to %d (tag %d): %w", e.Rank, dest, tag, ctx.Err())
	}
}

// Recv blocks until a message from source under tag arrives
func (e *Endpoint) Recv(ctx context.Context, source, tag int) (interface{}, error) {
	if err := e.validPeer(source); err != nil {
		return nil, err
	}
	select {
	case msg := <-e.net.channel(route{source, e.Rank, tag}):
		return msg.Payload, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("shard %d: recv from %d (tag %d): %w", e.Rank, source, tag, ctx.Err())
	}
}

// RecvFloats receives a []float64 payload
func (e *Endpoint) RecvFloats(ctx context.Context, source, tag int) ([]float64, error) {
	payload, err := e.Recv(ctx, source, tag)
	if err != nil {
		return nil, err
	}
	v, ok := payload.([]float64)
	if !ok {
		return nil, fmt.Errorf("shard %d: expected []float64 from %d, got %T", e.Rank, source, payload)
	}
	return v, nil
}

// RecvInts receives a []int64 payload
func (e *Endpoint) RecvInts(ctx context.Context, source, tag int) ([]int64, error) {
	payload, err := e.Recv(ctx, source, tag)
	if err != nil {
		return nil, err
	}
	v, ok := payload.([]int64)
	if !ok {
		return nil, fmt.Errorf("shard %d: expected []int64 from %d, got %T", e.Rank, source, payload)
	}
	return v, nil
}
