package main

import "testing"

func TestMMUMissThenFix(t *testing.T) {
	m := NewMMU()
	r := m.TranslateData(0, 0x1000, true, false)
	if r.ok || r.fault != FaultDTlbMiss {
		t.Fatalf("expected DTLB miss, got %+v", r)
	}

	m.InsertDTlb(0, 0x1000, 0x2000, true, true, true, true, false)
	r = m.TranslateData(0, 0x1000, true, false)
	if !r.ok || r.physAddr != 0x2000 {
		t.Fatalf("expected hit at 0x2000, got %+v", r)
	}
}

func TestTlbInvalThenMiss(t *testing.T) {
	m := NewMMU()
	m.InsertDTlb(0, 0x4000, 0x5000, true, true, true, true, false)
	if r := m.TranslateData(0, 0x4000, true, false); !r.ok {
		t.Fatalf("expected hit before invalidation, got %+v", r)
	}

	m.TlbInval(0, 0x4000)
	r := m.TranslateData(0, 0x4000, true, false)
	if r.ok || r.fault != FaultDTlbMiss {
		t.Fatalf("expected TLB_MISS after tlbinval, got %+v", r)
	}
}

func TestWriteOnCleanPageFaults(t *testing.T) {
	m := NewMMU()
	m.InsertDTlb(0, 0x1000, 0x2000, true, true, true, false, false)
	r := m.TranslateData(0, 0x1000, true, true)
	if r.ok || r.fault != FaultPageFault {
		t.Fatalf("expected PAGE_FAULT on write to clean page, got %+v", r)
	}
}

func TestNotWritablePageFaultsOnStore(t *testing.T) {
	m := NewMMU()
	m.InsertDTlb(0, 0x1000, 0x2000, true, false, true, true, false)
	r := m.TranslateData(0, 0x1000, true, true)
	if r.ok || r.fault != FaultNotWritable {
		t.Fatalf("expected NOT_WRITABLE, got %+v", r)
	}
}

func TestGlobalEntryMatchesAnyASID(t *testing.T) {
	m := NewMMU()
	m.InsertDTlb(0, 0x1000, 0x2000, true, true, true, true, true)
	r := m.TranslateData(7, 0x1000, true, false)
	if !r.ok {
		t.Fatalf("expected global entry to match ASID 7, got %+v", r)
	}
}
