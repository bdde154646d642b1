// mmu.go - the two software-managed TLBs (spec.md §4.5/C4): ASID-tagged
// entries, permission/dirty checks, and the tlbinval family.
//
// Grounded on the teacher's coprocessor_manager.go for the fixed-capacity,
// linearly-searched table-of-structs shape (no teacher code models an MMU
// directly; this is new domain logic built in that shape, per SPEC_FULL.md
// §3/§9).

package main

import "fmt"

const tlbCapacity = 64

// pageShift/pageSize fix the page granularity TLB entries translate at.
const (
	pageShift = 12
	pageSize  = 1 << pageShift
	pageMask  = pageSize - 1
)

// tlbEntry mirrors spec.md §4.2's per-entry fields exactly.
type tlbEntry struct {
	valid      bool
	global     bool
	virtPage   uint32
	physPage   uint32
	asid       uint32
	present    bool
	writable   bool
	executable bool
	supervisor bool
	dirty      bool
}

// TLB is a fixed-capacity, directly-mapped-by-slot table searched linearly;
// insertion evicts the oldest entry (a simple ring) once full.
type TLB struct {
	entries [tlbCapacity]tlbEntry
	next    int
}

func newTLB() *TLB { return &TLB{} }

// lookupResult is what a successful translation yields; spec.md §4.5 names
// these fields verbatim.
type lookupResult struct {
	physPage   uint32
	present    bool
	writable   bool
	executable bool
	supervisor bool
	global     bool
	dirty      bool
}

func (t *TLB) lookup(asid, vpage uint32) (lookupResult, bool) {
	for _, e := range t.entries {
		if !e.valid || e.virtPage != vpage {
			continue
		}
		if e.global || e.asid == asid {
			return lookupResult{
				physPage:   e.physPage,
				present:    e.present,
				writable:   e.writable,
				executable: e.executable,
				supervisor: e.supervisor,
				global:     e.global,
				dirty:      e.dirty,
			}, true
		}
	}
	return lookupResult{}, false
}

// insert installs or replaces the entry for (asid, vpage). Invariant (c):
// within one TLB, (asid-or-global, vpage) never appears twice; insert first
// overwrites any existing match before falling back to ring eviction.
func (t *TLB) insert(e tlbEntry) {
	for i := range t.entries {
		if t.entries[i].valid && t.entries[i].virtPage == e.virtPage &&
			(t.entries[i].global == e.global) &&
			(e.global || t.entries[i].asid == e.asid) {
			t.entries[i] = e
			return
		}
	}
	t.entries[t.next] = e
	t.next = (t.next + 1) % tlbCapacity
}

// setDirty marks the entry for (asid, vpage) dirty, used after a
// write-on-clean fault is resolved by the OS and the page is re-inserted;
// also usable directly if the OS instead issues a dirty-only update.
func (t *TLB) setDirty(asid, vpage uint32) bool {
	for i := range t.entries {
		e := &t.entries[i]
		if e.valid && e.virtPage == vpage && (e.global || e.asid == asid) {
			e.dirty = true
			return true
		}
	}
	return false
}

// invalidate drops the entry matching vpage for the current ASID or global,
// implementing the per-address `tlbinval` instruction.
func (t *TLB) invalidate(asid, vpage uint32) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.valid && e.virtPage == vpage && (e.global || e.asid == asid) {
			e.valid = false
		}
	}
}

// invalidateAll empties the TLB, implementing `itlbinvalall`/`dtlbinvalall`.
func (t *TLB) invalidateAll() {
	for i := range t.entries {
		t.entries[i] = tlbEntry{}
	}
	t.next = 0
}

// MMU owns one instruction TLB and one data TLB. Each thread has its own
// MMU instance (newThread in thread.go); within it, ASID tagging is what
// keeps separate address spaces apart, matching spec.md's "software-
// managed MMU with separate instruction/data TLBs".
type MMU struct {
	itlb *TLB
	dtlb *TLB
}

func NewMMU() *MMU {
	return &MMU{itlb: newTLB(), dtlb: newTLB()}
}

// translateResult carries everything a caller needs to either complete the
// access or raise the appropriate fault.
type translateResult struct {
	physAddr uint32
	fault    FaultCause
	ok       bool
}

func splitAddr(vaddr uint32) (page, offset uint32) {
	return vaddr &^ pageMask, vaddr & pageMask
}

// TranslateFetch resolves an instruction-fetch address through the ITLB.
func (m *MMU) TranslateFetch(asid, vaddr uint32, supervisor bool) translateResult {
	vpage, off := splitAddr(vaddr)
	e, hit := m.itlb.lookup(asid, vpage)
	if !hit {
		return translateResult{fault: FaultITlbMiss}
	}
	if !e.present {
		return translateResult{fault: FaultIFetchPageFault}
	}
	if e.supervisor && !supervisor {
		return translateResult{fault: FaultSupervisorAccess}
	}
	if !e.executable {
		return translateResult{fault: FaultNotExecutable}
	}
	return translateResult{physAddr: e.physPage | off, ok: true}
}

// TranslateData resolves a load/store address through the DTLB. write
// distinguishes a store (which additionally requires the dirty bit, or
// raises PAGE_FAULT with the write subcause so the OS can set it).
func (m *MMU) TranslateData(asid, vaddr uint32, supervisor, write bool) translateResult {
	vpage, off := splitAddr(vaddr)
	e, hit := m.dtlb.lookup(asid, vpage)
	if !hit {
		return translateResult{fault: FaultDTlbMiss}
	}
	if !e.present {
		return translateResult{fault: FaultPageFault}
	}
	if e.supervisor && !supervisor {
		return translateResult{fault: FaultSupervisorAccess}
	}
	if write && !e.writable {
		return translateResult{fault: FaultNotWritable}
	}
	if write && !e.dirty {
		return translateResult{fault: FaultPageFault}
	}
	return translateResult{physAddr: e.physPage | off, ok: true}
}

// InsertITlb/InsertDTlb service the `tlbinsert` family of privileged
// instructions the TLB-miss handler uses to load a translation after
// walking the guest page table itself.
func (m *MMU) InsertITlb(asid, vaddr, physPage uint32, present, executable, supervisor, global bool) {
	vpage, _ := splitAddr(vaddr)
	m.itlb.insert(tlbEntry{
		valid: true, virtPage: vpage, physPage: physPage &^ pageMask,
		asid: asid, present: present, executable: executable,
		supervisor: supervisor, global: global,
	})
}

func (m *MMU) InsertDTlb(asid, vaddr, physPage uint32, present, writable, supervisor, dirty, global bool) {
	vpage, _ := splitAddr(vaddr)
	m.dtlb.insert(tlbEntry{
		valid: true, virtPage: vpage, physPage: physPage &^ pageMask,
		asid: asid, present: present, writable: writable,
		supervisor: supervisor, dirty: dirty, global: global,
	})
}

// SetDTlbDirty services `dtlbsetdirty <vaddr>`: the handler for a
// write-on-clean-page fault calls this once it has approved the write,
// rather than re-running the full dtlbinsert with every field repeated.
func (m *MMU) SetDTlbDirty(asid, vaddr uint32) bool {
	vpage, _ := splitAddr(vaddr)
	return m.dtlb.setDirty(asid, vpage)
}

// TlbInval implements `tlbinval <vaddr>`: invalidates the matching entry in
// both TLBs for the current ASID (or a matching global entry).
func (m *MMU) TlbInval(asid, vaddr uint32) {
	vpage, _ := splitAddr(vaddr)
	m.itlb.invalidate(asid, vpage)
	m.dtlb.invalidate(asid, vpage)
}

func (m *MMU) ITlbInvalAll() { m.itlb.invalidateAll() }
func (m *MMU) DTlbInvalAll() { m.dtlb.invalidateAll() }

func (r translateResult) String() string {
	if r.ok {
		return fmt.Sprintf("phys=0x%08x", r.physAddr)
	}
	return fmt.Sprintf("fault=%s", r.fault)
}
