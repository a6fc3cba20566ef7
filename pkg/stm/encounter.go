package stm

import "time"

// EncounterTx is the encounter-time-locking transaction: it acquires a
// stripe's orec the first time it writes through that stripe, stores the
// new value in place immediately, and keeps just enough of the old value
// to roll back on abort.
type EncounterTx struct {
	id    uint64
	table *Table

	start, end time.Time
	retries    int
	state      txnState

	log       readLog
	locked    []lockedOrec
	lockedSet map[*orec]bool

	prevW map[*WordVar]uintptr
	prevI map[*IntVar]int32

	observer Observer
}

// NewEncounterTx creates a fresh encounter-mode transaction attempt against
// table. A nil table uses DefaultTable.
func NewEncounterTx(table *Table) *EncounterTx {
	if table == nil {
		table = DefaultTable
	}
	return &EncounterTx{id: nextID(), table: table}
}

// SetObserver attaches a lifecycle observer; pass nil to detach.
func (tx *EncounterTx) SetObserver(o Observer) { tx.observer = o }

// ID returns this attempt's transaction id, for diagnostics only.
func (tx *EncounterTx) ID() uint64 { return tx.id }

// Retries reports how many consecutive aborts this object has recorded
// since it last committed.
func (tx *EncounterTx) Retries() int { return tx.retries }

// Duration reports how long the just-finished attempt took. Valid after
// Commit or Abort returns.
func (tx *EncounterTx) Duration() time.Duration { return tx.end.Sub(tx.start) }

// Begin starts a new attempt.
func (tx *EncounterTx) Begin() {
	tx.start = time.Now()
	tx.state = txnActive
	if tx.observer != nil {
		tx.observer.OnBegin(tx.id)
	}
}

// lockForWrite acquires o for this transaction's write set and logs the
// stripe's locked word. Entries read from o before the lock that still
// carry the word the lock was taken from are moved to the locked word, so
// they keep validating while this transaction holds o. Returns the cause to
// abort with on failure.
func (tx *EncounterTx) lockForWrite(o *orec) (ok bool, cause Cause) {
	if tx.lockedSet != nil && tx.lockedSet[o] {
		return true, 0
	}
	w := o.snapshot()
	if isLockedWord(w) {
		return false, CauseConflictingOwner
	}
	if !o.tryLock(w, tx.id) {
		return false, CauseLockFailed
	}
	if tx.lockedSet == nil {
		tx.lockedSet = make(map[*orec]bool, 4)
	}
	tx.lockedSet[o] = true
	tx.locked = append(tx.locked, lockedOrec{o: o, newVersion: w + 1})
	for i := range tx.log {
		if tx.log[i].o == o && tx.log[i].word == w {
			tx.log[i].word = lockBit | tx.id
		}
	}
	tx.log = append(tx.log, readLogEntry{o: o, word: o.snapshot()})
	return true, 0
}

func (tx *EncounterTx) requireActive() {
	if tx.state != txnActive {
		panic("stm: operation on a terminated transaction")
	}
}

// WriteW writes val through v, acquiring v's stripe if this transaction
// doesn't already hold it, and storing in place.
func (tx *EncounterTx) WriteW(v *WordVar, val uintptr) error {
	tx.requireActive()
	o := v.orec(tx.table)
	if ok, cause := tx.lockForWrite(o); !ok {
		return abortErr(tx.id, cause)
	}
	if tx.prevW == nil {
		tx.prevW = make(map[*WordVar]uintptr, 4)
	}
	if _, seen := tx.prevW[v]; !seen {
		tx.prevW[v] = v.load()
	}
	if !tx.log.valid() {
		return abortErr(tx.id, CauseReadSetInvalid)
	}
	v.store(val)
	return nil
}

// WriteI is WriteW's counterpart for the narrower int word.
func (tx *EncounterTx) WriteI(v *IntVar, val int32) error {
	tx.requireActive()
	o := v.orec(tx.table)
	if ok, cause := tx.lockForWrite(o); !ok {
		return abortErr(tx.id, cause)
	}
	if tx.prevI == nil {
		tx.prevI = make(map[*IntVar]int32, 4)
	}
	if _, seen := tx.prevI[v]; !seen {
		tx.prevI[v] = v.load()
	}
	if !tx.log.valid() {
		return abortErr(tx.id, CauseReadSetInvalid)
	}
	v.store(val)
	return nil
}

// ReadW reads v. If this transaction already owns v's stripe (from an
// earlier write), the read-log entry logged at that write stands in; no
// second entry is appended.
func (tx *EncounterTx) ReadW(v *WordVar) (uintptr, error) {
	tx.requireActive()
	o := v.orec(tx.table)
	if tx.lockedSet == nil || !tx.lockedSet[o] {
		if o.isLocked() {
			return 0, abortErr(tx.id, CauseConflictingOwner)
		}
		tx.log = append(tx.log, readLogEntry{o: o, word: o.snapshot()})
	}
	if !tx.log.valid() {
		return 0, abortErr(tx.id, CauseReadSetInvalid)
	}
	return v.load(), nil
}

// ReadI is ReadW's counterpart for the narrower int word.
func (tx *EncounterTx) ReadI(v *IntVar) (int32, error) {
	tx.requireActive()
	o := v.orec(tx.table)
	if tx.lockedSet == nil || !tx.lockedSet[o] {
		if o.isLocked() {
			return 0, abortErr(tx.id, CauseConflictingOwner)
		}
		tx.log = append(tx.log, readLogEntry{o: o, word: o.snapshot()})
	}
	if !tx.log.valid() {
		return 0, abortErr(tx.id, CauseReadSetInvalid)
	}
	return v.load(), nil
}

// Commit validates the read set one last time and, if it still holds,
// releases every locked stripe at a new, higher version. Returns false
// with an *AbortError if validation failed; the caller must still call
// Abort to release whatever this transaction had locked.
func (tx *EncounterTx) Commit() (bool, error) {
	tx.requireActive()
	if !tx.log.valid() {
		return false, abortErr(tx.id, CauseReadSetInvalid)
	}
	for _, lo := range tx.locked {
		lo.o.unlock(lo.newVersion)
	}
	tx.end = time.Now()
	tx.state = txnCommitted
	if tx.observer != nil {
		tx.observer.OnCommit(tx.id, tx.Duration())
	}
	tx.retries = 0
	tx.clear()
	return true, nil
}

// Abort restores every address this transaction wrote to the value it held
// at the moment of the transaction's first write to it, releases every
// locked stripe, and backs off before returning. cause may be nil (a
// voluntary application abort) or an *AbortError returned by a prior
// operation on this same transaction.
func (tx *EncounterTx) Abort(cause error) {
	tx.requireActive()
	for v, prev := range tx.prevW {
		v.store(prev)
	}
	for v, prev := range tx.prevI {
		v.store(prev)
	}
	for _, lo := range tx.locked {
		lo.o.unlock(lo.newVersion)
	}
	tx.end = time.Now()
	tx.state = txnAborted
	tx.retries++
	if tx.observer != nil {
		tx.observer.OnAbort(tx.id, causeOf(cause), tx.Duration())
	}
	tx.clear()
	backoff(encounterBackoffMaxMicros)
}

func (tx *EncounterTx) clear() {
	tx.log = nil
	tx.locked = nil
	tx.lockedSet = nil
	tx.prevW = nil
	tx.prevI = nil
}
