package halo

import (
	"fmt"

	"github.com/notargets/HPCGKernel/matrix"
)

type link struct {
	sender, receiver int
}

// ValidateSymmetry verifies that if shard A sends n values to shard B, then
// B expects exactly n values from A, and that the rows A sends are the
// global ids B filed under its external slots for A.
func ValidateSymmetry(m *matrix.Matrix) error {
	if err := m.Check(); err != nil {
		return err
	}

	// Build send expectations
	sent := make(map[link][]int64)
	for _, sh := range m.Shards {
		if !sh.HaloReady {
			return fmt.Errorf("%s: shard %d has no halo plan", m.Name, sh.ID)
		}
		if sh.TotalToBeSent != sumInts(sh.SendLength) {
			return fmt.Errorf("%s: shard %d totalToBeSent %d != sum of send lengths %d",
				m.Name, sh.ID, sh.TotalToBeSent, sumInts(sh.SendLength))
		}
		if sh.NumberOfExternalValues != sumInts(sh.ReceiveLength) {
			return fmt.Errorf("%s: shard %d has %d externals but receives %d",
				m.Name, sh.ID, sh.NumberOfExternalValues, sumInts(sh.ReceiveLength))
		}
		offset := 0
		for i, peer := range sh.Neighbors {
			if peer == sh.ID {
				return fmt.Errorf("%s: shard %d lists itself as a neighbor", m.Name, sh.ID)
			}
			if i > 0 && sh.Neighbors[i-1] >= peer {
				return fmt.Errorf("%s: shard %d neighbors not strictly ascending: %v",
					m.Name, sh.ID, sh.Neighbors)
			}
			ids := make([]int64, sh.SendLength[i])
			for j := range ids {
				ids[j] = sh.LocalToGlobalMap[sh.ElementsToSend[offset+j]]
			}
			sent[link{sh.ID, peer}] = ids
			offset += sh.SendLength[i]
		}
	}

	// Verify receive expectations match
	for _, sh := range m.Shards {
		slot := 0
		for i, peer := range sh.Neighbors {
			want := sh.ExternalGlobal[slot : slot+sh.ReceiveLength[i]]
			got := sent[link{peer, sh.ID}]
			if len(got) != len(want) {
				return fmt.Errorf("%s: count mismatch: shard %d sends %d to %d, but %d expects %d",
					m.Name, peer, len(got), sh.ID, sh.ID, len(want))
			}
			for j := range want {
				if got[j] != want[j] {
					return fmt.Errorf("%s: shard %d sends row %d to %d in slot %d, expected %d",
						m.Name, peer, got[j], sh.ID, j, want[j])
				}
			}
			delete(sent, link{peer, sh.ID})
			slot += sh.ReceiveLength[i]
		}
	}

	for l, ids := range sent {
		if len(ids) > 0 {
			return fmt.Errorf("%s: shard %d sends %d values to %d, which does not expect them",
				m.Name, l.sender, len(ids), l.receiver)
		}
	}
	return nil
}

func sumInts(values []int) int {
	total := 0
	for _, v := range values {
		total += v
	}
	return total
}
