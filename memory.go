// memory.go - backing store for guest physical memory.
//
// Grounded on the teacher's memory_bus.go/machine_bus.go: a contiguous
// byte slice, little-endian typed accessors, and a mutex guarding access
// (the guest's "parallelism" is all on the host's single goroutine, but the
// GDB and cosim drivers both read memory from outside the stepping loop, so
// real safety is needed here unlike the rest of the single-threaded core).

package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"syscall"
)

const defaultMemorySize = 16 * 1024 * 1024

// Memory is the flat guest physical address space. It may be backed by an
// anonymous slice or by an mmap'd file shared with a cosimulating process.
type Memory struct {
	mu   sync.RWMutex
	data []byte
	file *os.File // non-nil when backed by -s shared memory
}

// NewMemory allocates an anonymous memory region of the given size.
func NewMemory(size uint32) *Memory {
	return &Memory{data: make([]byte, size)}
}

// NewSharedMemory mmaps path (created/truncated to size) so its bytes are
// visible to an external cosimulating process, per spec.md §6.
func NewSharedMemory(path string, size uint32) (*Memory, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("memory: open shared file: %w", err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("memory: truncate shared file: %w", err)
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("memory: mmap shared file: %w", err)
	}
	return &Memory{data: data, file: f}, nil
}

// Close unmaps and closes the backing file, if any.
func (m *Memory) Close() error {
	if m.file == nil {
		return nil
	}
	if err := syscall.Munmap(m.data); err != nil {
		return err
	}
	return m.file.Close()
}

func (m *Memory) Size() uint32 { return uint32(len(m.data)) }

func (m *Memory) Randomize(seed uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	x := seed | 1
	for i := range m.data {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
		m.data[i] = byte(x)
	}
}

func (m *Memory) inBounds(addr uint32, n int) bool {
	return uint64(addr)+uint64(n) <= uint64(len(m.data))
}

func (m *Memory) ReadByte(addr uint32) (byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.inBounds(addr, 1) {
		return 0, false
	}
	return m.data[addr], true
}

func (m *Memory) WriteByte(addr uint32, v byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inBounds(addr, 1) {
		return false
	}
	m.data[addr] = v
	return true
}

func (m *Memory) ReadHalf(addr uint32) (uint16, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.inBounds(addr, 2) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(m.data[addr:]), true
}

func (m *Memory) WriteHalf(addr uint32, v uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inBounds(addr, 2) {
		return false
	}
	binary.LittleEndian.PutUint16(m.data[addr:], v)
	return true
}

func (m *Memory) ReadWord(addr uint32) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.inBounds(addr, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.data[addr:]), true
}

func (m *Memory) WriteWord(addr uint32, v uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inBounds(addr, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.data[addr:], v)
	return true
}

// ReadBlock copies n bytes starting at addr; used by block-vector transfers
// and the SDMMC block device. Returns false if the range is out of bounds.
func (m *Memory) ReadBlock(addr uint32, n int) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.inBounds(addr, n) {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, m.data[addr:addr+uint32(n)])
	return out, true
}

// WriteBlock copies buf into memory starting at addr.
func (m *Memory) WriteBlock(addr uint32, buf []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inBounds(addr, len(buf)) {
		return false
	}
	copy(m.data[addr:], buf)
	return true
}

// DumpRange is used by the -d host flag and the GDB 'm' packet.
func (m *Memory) DumpRange(start, length uint32) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	end := uint64(start) + uint64(length)
	if end > uint64(len(m.data)) {
		end = uint64(len(m.data))
	}
	if uint64(start) >= end {
		return nil
	}
	out := make([]byte, end-uint64(start))
	copy(out, m.data[start:end])
	return out
}
