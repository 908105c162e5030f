package matrix

import (
	"sync"
)

// LocalData are the aggregate counts of one shard
type LocalData struct {
	TotalNumberOfRows     int64 // Rows across all shards
	TotalNumberOfNonzeros int64 // Nonzeros across all shards
	LocalNumberOfRows     int   // Rows owned by this shard
	LocalNumberOfColumns  int   // Owned rows plus external values
	LocalNumberOfNonzeros int   // Nonzeros in owned rows
}

// Shard is one shard's view of a level. Row slices alias the level's
// partitioned arrays; the halo fields are owned by the shard and are read
// only once halo setup completes.
type Shard struct {
	ID               int
	RowStart, RowEnd int64
	Stencil          int // Slots per row in the strided arrays
	LocalData

	NonzerosInRow    []int
	MtxIndG          []int64
	MtxIndL          []int
	MatrixValues     []float64
	MatrixDiagonal   []float64
	LocalToGlobalMap []int64
	GlobalToLocalMap map[int64]int

	// Halo state
	HaloReady              bool
	NumberOfExternalValues int
	Neighbors              []int // Neighbor shards, ascending, never this shard
	ReceiveLength          []int // Values received from Neighbors[i]
	SendLength             []int // Values sent to Neighbors[i]
	ElementsToSend         []int // Local rows to send, grouped by neighbor
	TotalToBeSent          int
	SendBuffer             []float64 // Staging for outgoing values, nil when nothing is sent
	ExternalGlobal         []int64   // Global id of external local column LocalNumberOfRows+j

	// Serializes halo transfers: both use SendBuffer
	exchangeMu sync.Mutex
}

// Row returns the used column and value slots of local row i
func (sh *Shard) Row(i int) (indG []int64, indL []int, values []float64) {
	start := i * sh.Stencil
	end := start + sh.NonzerosInRow[i]
	return sh.MtxIndG[start:end], sh.MtxIndL[start:end], sh.MatrixValues[start:end]
}

// LockExchange acquires the shard's exchange slot. Callers hold it from
// packing the send buffer until received values are consumed.
func (sh *Shard) LockExchange() {
	sh.exchangeMu.Lock()
}

// UnlockExchange releases the exchange slot
func (sh *Shard) UnlockExchange() {
	sh.exchangeMu.Unlock()
}

// ResetHalo clears halo state so setup can be rerun after the nonzero
// pattern changes
func (sh *Shard) ResetHalo() {
	sh.HaloReady = false
	sh.NumberOfExternalValues = 0
	sh.Neighbors = nil
	sh.ReceiveLength = nil
	sh.SendLength = nil
	sh.ElementsToSend = nil
	sh.TotalToBeSent = 0
	sh.SendBuffer = nil
	sh.ExternalGlobal = nil
	sh.LocalNumberOfColumns = sh.LocalNumberOfRows
}
