package stm

import (
	"sync/atomic"
	"unsafe"
)

// WordVar is a transacted, machine-pointer-width word.
type WordVar struct {
	val atomic.Uintptr
}

// NewWordVar returns a transacted word initialized to v. Call this only
// before any transaction can see the variable; once transactions are
// running, all access must go through them.
func NewWordVar(v uintptr) *WordVar {
	w := &WordVar{}
	w.val.Store(v)
	return w
}

// addr derives a stable identity for stripe hashing from the variable's
// own address. Recomputed on every call rather than cached, since Go's
// memory model gives no guarantee a stored uintptr tracks a moved object
// (it does not currently move heap values, but this is the future-proof
// idiom).
func (v *WordVar) addr() uintptr { return uintptr(unsafe.Pointer(v)) }

func (v *WordVar) orec(t *Table) *orec { return t.orecFor(v.addr()) }

func (v *WordVar) load() uintptr { return v.val.Load() }

func (v *WordVar) store(val uintptr) { v.val.Store(val) }

// Snapshot reads the current value outside of any transaction. Per the
// STM's contract this is safe only when no concurrent transaction can be
// touching v — e.g. after all transactions against it have completed.
func (v *WordVar) Snapshot() uintptr { return v.val.Load() }

// IntVar is a transacted 32-bit word, the narrower companion to WordVar.
type IntVar struct {
	val atomic.Int32
}

// NewIntVar returns a transacted int32 initialized to v.
func NewIntVar(v int32) *IntVar {
	iv := &IntVar{}
	iv.val.Store(v)
	return iv
}

func (v *IntVar) addr() uintptr { return uintptr(unsafe.Pointer(v)) }

func (v *IntVar) orec(t *Table) *orec { return t.orecFor(v.addr()) }

func (v *IntVar) load() int32 { return v.val.Load() }

func (v *IntVar) store(val int32) { v.val.Store(val) }

// Snapshot reads the current value outside of any transaction, under the
// same caveat as WordVar.Snapshot.
func (v *IntVar) Snapshot() int32 { return v.val.Load() }
