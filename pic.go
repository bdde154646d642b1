// pic.go - interrupt controller: pending mask, ack, and mask registers.
//
// Grounded on the coprocessor manager's shadow-register pattern
// (coprocessor_manager.go keeps plain uint32 fields mirroring each MMIO
// register and a mutex around them); the PIC is the same shape, simplified
// to the three registers spec.md §4.7 names.

package main

import "sync"

// PIC is the programmable interrupt controller. RaiseInterrupt ORs bits in
// from any source (device or host pipe); the guest acks by writing the bits
// it has handled to picAck.
type PIC struct {
	mu      sync.Mutex
	pending uint32
	mask    uint32
}

func NewPIC() *PIC { return &PIC{} }

// RaiseInterrupt ORs bits into the pending mask. Called from device
// callbacks and the host interrupt-pipe reader.
func (p *PIC) RaiseInterrupt(bits uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending |= bits
}

// PendingMasked returns the bits that are both pending and unmasked -
// what the thread core checks each step to decide whether to enter an
// interrupt trap.
func (p *PIC) PendingMasked() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending &^ p.mask
}

func (p *PIC) HandleRead(addr uint32) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch addr - picBase {
	case picPending:
		return p.pending
	case picMask:
		return p.mask
	default:
		return 0
	}
}

func (p *PIC) HandleWrite(addr uint32, v uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch addr - picBase {
	case picAck:
		p.pending &^= v
	case picMask:
		p.mask = v
	}
}
