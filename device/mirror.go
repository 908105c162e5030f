// Package device mirrors partitioned host arrays onto an OCCA device so the
// setup data can feed device kernels. Every array is stored as one global
// allocation plus an offsets allocation marking where each shard starts.
package device

import (
	"fmt"
	"sort"
	"unsafe"

	"github.com/notargets/HPCGKernel/matrix"
	"github.com/notargets/HPCGKernel/partitions"
	"github.com/notargets/HPCGKernel/utils"
	"github.com/notargets/gocca"
)

// Mirror owns the device allocations for a set of named arrays
type Mirror struct {
	Device       *gocca.OCCADevice
	PooledMemory map[string]*gocca.OCCAMemory

	hostOffsets map[string][]int64
	bytes       map[string]int64
}

// NewMirror creates an empty mirror on dev
func NewMirror(dev *gocca.OCCADevice) *Mirror {
	return &Mirror{
		Device:       dev,
		PooledMemory: make(map[string]*gocca.OCCAMemory),
		hostOffsets:  make(map[string][]int64),
		bytes:        make(map[string]int64),
	}
}

// Mode is the backend the device runs on
func (m *Mirror) Mode() string {
	return m.Device.Mode()
}

// Upload allocates device storage for pa, copies its data and offsets, and
// verifies the offsets read back unchanged. pa must be partitioned.
func Upload[T partitions.Number](m *Mirror, pa *partitions.PartitionedArray[T]) error {
	if pa.Freed() {
		return utils.UseAfterFreef("%s uploaded after deallocation", pa.Name)
	}
	if !pa.IsPartitioned() {
		return utils.Invariantf("%s uploaded before partitioning", pa.Name)
	}
	if _, exists := m.PooledMemory[pa.Name+"_global"]; exists {
		return utils.Invariantf("%s already mirrored", pa.Name)
	}

	var zero T
	elemSize := int64(unsafe.Sizeof(zero))
	totalBytes := int64(len(pa.GlobalData)) * elemSize
	// Device offsets are in bytes so kernels can address any element type
	deviceOffsets := make([]int64, len(pa.Offsets))
	for i, off := range pa.Offsets {
		deviceOffsets[i] = off * elemSize
	}

	m.PooledMemory[pa.Name+"_global"] = m.Device.Malloc(totalBytes, unsafe.Pointer(&pa.GlobalData[0]), nil)
	m.PooledMemory[pa.Name+"_offsets"] = m.Device.Malloc(int64(len(deviceOffsets)*8), unsafe.Pointer(&deviceOffsets[0]), nil)
	m.hostOffsets[pa.Name] = deviceOffsets
	m.bytes[pa.Name] = totalBytes

	if err := m.validateOffsets(pa.Name); err != nil {
		return fmt.Errorf("offset corruption detected after allocation: %w", err)
	}
	return nil
}

// CopyToDevice refreshes one shard of a mirrored array from the host
func CopyToDevice[T partitions.Number](m *Mirror, pa *partitions.PartitionedArray[T], shard int) error {
	mem, start, data, err := shardTarget(m, pa, shard)
	if err != nil || len(data) == 0 {
		return err
	}
	var zero T
	mem.CopyFromWithOffset(unsafe.Pointer(&data[0]), int64(len(data))*int64(unsafe.Sizeof(zero)), start)
	return nil
}

// CopyToHost overwrites one shard of pa with the device copy
func CopyToHost[T partitions.Number](m *Mirror, pa *partitions.PartitionedArray[T], shard int) error {
	mem, start, data, err := shardTarget(m, pa, shard)
	if err != nil || len(data) == 0 {
		return err
	}
	var zero T
	mem.CopyToWithOffset(unsafe.Pointer(&data[0]), int64(len(data))*int64(unsafe.Sizeof(zero)), start)
	return nil
}

func shardTarget[T partitions.Number](m *Mirror, pa *partitions.PartitionedArray[T], shard int) (*gocca.OCCAMemory, int64, []T, error) {
	if pa.Freed() {
		return nil, 0, nil, utils.UseAfterFreef("%s copied after deallocation", pa.Name)
	}
	mem := m.GetMemory(pa.Name)
	if mem == nil {
		return nil, 0, nil, fmt.Errorf("no device memory allocated for %s", pa.Name)
	}
	offsets := m.hostOffsets[pa.Name]
	if shard < 0 || shard >= len(offsets)-1 {
		return nil, 0, nil, utils.Configf("%s: shard %d outside [0,%d)", pa.Name, shard, len(offsets)-1)
	}
	return mem, offsets[shard], pa.GetPartitionData(shard), nil
}

// UploadMatrix mirrors every row array of a partitioned matrix
func UploadMatrix(m *Mirror, mtx *matrix.Matrix) error {
	if err := mtx.Check(); err != nil {
		return err
	}
	uploads := []func() error{
		func() error { return Upload(m, mtx.NonzerosInRow) },
		func() error { return Upload(m, mtx.MtxIndG) },
		func() error { return Upload(m, mtx.MtxIndL) },
		func() error { return Upload(m, mtx.MatrixValues) },
		func() error { return Upload(m, mtx.MatrixDiagonal) },
		func() error { return Upload(m, mtx.LocalToGlobalMap) },
	}
	if mtx.FineToCoarseRow != nil {
		uploads = append(uploads, func() error { return Upload(m, mtx.FineToCoarseRow) })
	}
	for _, upload := range uploads {
		if err := upload(); err != nil {
			return fmt.Errorf("%s: %w", mtx.Name, err)
		}
	}
	return nil
}

// GetMemory returns the device memory for a named array
func (m *Mirror) GetMemory(name string) *gocca.OCCAMemory {
	return m.PooledMemory[name+"_global"]
}

// GetOffsets returns the byte offsets memory for a named array
func (m *Mirror) GetOffsets(name string) *gocca.OCCAMemory {
	return m.PooledMemory[name+"_offsets"]
}

// Bytes is the device footprint of one mirrored array
func (m *Mirror) Bytes(name string) int64 {
	return m.bytes[name]
}

// TotalBytes is the device footprint of all mirrored arrays, offsets excluded
func (m *Mirror) TotalBytes() int64 {
	var total int64
	for _, b := range m.bytes {
		total += b
	}
	return total
}

// Arrays lists the mirrored array names in sorted order
func (m *Mirror) Arrays() []string {
	names := make([]string, 0, len(m.hostOffsets))
	for name := range m.hostOffsets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Mirror) validateOffsets(name string) error {
	expected, exists := m.hostOffsets[name]
	if !exists {
		return fmt.Errorf("no host offsets found for %s", name)
	}
	offsetsMem := m.GetOffsets(name)
	if offsetsMem == nil {
		return fmt.Errorf("no device offsets found for %s", name)
	}
	actual := make([]int64, len(expected))
	offsetsMem.CopyTo(unsafe.Pointer(&actual[0]), int64(len(actual)*8))
	for i := range expected {
		if actual[i] != expected[i] {
			return fmt.Errorf("%s: offset %d is %d on device, %d on host", name, i, actual[i], expected[i])
		}
	}
	return nil
}

// Free releases every device allocation. The device itself stays open.
func (m *Mirror) Free() {
	for _, mem := range m.PooledMemory {
		mem.Free()
	}
	m.PooledMemory = make(map[string]*gocca.OCCAMemory)
	m.hostOffsets = make(map[string][]int64)
	m.bytes = make(map[string]int64)
}
