// traps.go - fault and interrupt delivery (spec.md §4.6).
//
// Grounded on the teacher's coprocessor_manager.go save/restore-on-fault
// pattern, generalized from its single status register to the full
// flags/trap_PC/trap_cause/trap_address set spec.md names.

package main

// enterTrap implements the general trap path: save flags, record cause/PC/
// address, switch to supervisor with MMU state left as-is, interrupts off,
// then jump to the trap handler. Invariant (a): saved_flags is captured
// atomically before flags is mutated.
func (t *Thread) enterTrap(cause FaultCause, faultAddr uint32, faultPC uint32) {
	t.cr[CrSavedFlags] = t.cr[CrFlags]
	t.cr[CrTrapPC] = faultPC
	t.cr[CrTrapAddress] = faultAddr
	t.cr[CrTrapCause] = uint32(cause)

	t.cr[CrFlags] = t.cr[CrFlags] | FlagSupervisor
	t.cr[CrFlags] &^= FlagInterruptEnable
	// MMU enable state is preserved for a general trap per §4.6.

	t.inInterrupt = true

	if t.stopOnFault(cause) {
		return
	}
	t.pc = t.cr[CrTrapHandler]
}

// stopOnFault implements the GDB driver's dbg_set_stop_on_fault behaviour
// (spec.md §7): rather than dispatch into the guest trap handler, the
// thread halts and the stub is notified so it can report the stop to the
// debugger. Interrupts are never intercepted this way.
func (t *Thread) stopOnFault(cause FaultCause) bool {
	if !t.proc.DebugStopOnFault || cause == FaultInterrupt {
		return false
	}
	t.halted = true
	if t.proc.FaultStop != nil {
		select {
		case t.proc.FaultStop <- t.id:
		default:
		}
	}
	return true
}

// enterTlbMissTrap is the same as enterTrap except it always disables the
// MMU for the handler (so the handler's own page-table walk isn't itself
// subject to translation) and jumps to the TLB-miss handler instead of the
// general one.
func (t *Thread) enterTlbMissTrap(cause FaultCause, faultAddr uint32, faultPC uint32) {
	t.cr[CrSavedFlags] = t.cr[CrFlags]
	t.cr[CrTrapPC] = faultPC
	t.cr[CrTrapAddress] = faultAddr
	t.cr[CrTrapCause] = uint32(cause)

	t.cr[CrFlags] = t.cr[CrFlags] | FlagSupervisor
	t.cr[CrFlags] &^= FlagInterruptEnable
	t.cr[CrFlags] &^= FlagMMUEnable

	t.inInterrupt = true

	if t.stopOnFault(cause) {
		return
	}
	t.pc = t.cr[CrTlbMissHandler]
}

// eret restores flags and PC from the saved trap state, implementing the
// Format-D `eret` instruction.
func (t *Thread) eret() {
	t.cr[CrFlags] = t.cr[CrSavedFlags]
	t.pc = t.cr[CrTrapPC]
	t.inInterrupt = false
}
