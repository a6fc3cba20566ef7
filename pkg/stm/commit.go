package stm

import "time"

// commitTimeout bounds how long a commit-mode transaction may run since
// Begin before it self-aborts. It exists only in commit mode: two
// commit-mode transactions that keep re-deriving the same buffered writes
// from each other's intermediate state could otherwise livelock, since
// neither locks anything until commit; the timeout breaks the tie.
const commitTimeout = 10_000 * time.Microsecond

// CommitTx is the commit-time-locking transaction: it buffers every write
// in a map, reads through the buffer first, and acquires orecs only once,
// at commit, immediately before publishing.
type CommitTx struct {
	id    uint64
	table *Table

	start, end time.Time
	beginTS    time.Time
	retries    int
	state      txnState

	log       readLog
	writeW    map[*WordVar]uintptr
	writeI    map[*IntVar]int32
	locked    []lockedOrec
	lockedSet map[*orec]bool

	observer Observer
}

// NewCommitTx creates a fresh commit-mode transaction attempt against
// table. A nil table uses DefaultTable.
func NewCommitTx(table *Table) *CommitTx {
	if table == nil {
		table = DefaultTable
	}
	return &CommitTx{id: nextID(), table: table}
}

// SetObserver attaches a lifecycle observer; pass nil to detach.
func (tx *CommitTx) SetObserver(o Observer) { tx.observer = o }

// ID returns this attempt's transaction id, for diagnostics only.
func (tx *CommitTx) ID() uint64 { return tx.id }

// Retries reports how many consecutive aborts this object has recorded
// since it last committed.
func (tx *CommitTx) Retries() int { return tx.retries }

// Duration reports how long the just-finished attempt took. Valid after
// Commit or Abort returns.
func (tx *CommitTx) Duration() time.Duration { return tx.end.Sub(tx.start) }

// Begin starts a new attempt and arms the self-timeout clock.
func (tx *CommitTx) Begin() {
	tx.start = time.Now()
	tx.beginTS = tx.start
	tx.state = txnActive
	if tx.observer != nil {
		tx.observer.OnBegin(tx.id)
	}
}

func (tx *CommitTx) timedOut() bool {
	return time.Since(tx.beginTS) > commitTimeout
}

func (tx *CommitTx) requireActive() {
	if tx.state != txnActive {
		panic("stm: operation on a terminated transaction")
	}
}

// WriteW buffers val for v; nothing is touched until Commit. Repeated
// writes to the same v before commit keep only the last value.
func (tx *CommitTx) WriteW(v *WordVar, val uintptr) error {
	tx.requireActive()
	if tx.timedOut() {
		return abortErr(tx.id, CauseTimeout)
	}
	if !tx.log.valid() {
		return abortErr(tx.id, CauseReadSetInvalid)
	}
	if tx.writeW == nil {
		tx.writeW = make(map[*WordVar]uintptr, 4)
	}
	tx.writeW[v] = val
	return nil
}

// WriteI is WriteW's counterpart for the narrower int word.
func (tx *CommitTx) WriteI(v *IntVar, val int32) error {
	tx.requireActive()
	if tx.timedOut() {
		return abortErr(tx.id, CauseTimeout)
	}
	if !tx.log.valid() {
		return abortErr(tx.id, CauseReadSetInvalid)
	}
	if tx.writeI == nil {
		tx.writeI = make(map[*IntVar]int32, 4)
	}
	tx.writeI[v] = val
	return nil
}

// ReadW returns the buffered value for v if this transaction has already
// written it (read-your-own-writes); otherwise it reads through, logging
// the stripe.
func (tx *CommitTx) ReadW(v *WordVar) (uintptr, error) {
	tx.requireActive()
	if tx.timedOut() {
		return 0, abortErr(tx.id, CauseTimeout)
	}
	if val, ok := tx.writeW[v]; ok {
		return val, nil
	}
	o := v.orec(tx.table)
	if o.isLocked() {
		return 0, abortErr(tx.id, CauseConflictingOwner)
	}
	tx.log = append(tx.log, readLogEntry{o: o, word: o.snapshot()})
	if !tx.log.valid() {
		return 0, abortErr(tx.id, CauseReadSetInvalid)
	}
	return v.load(), nil
}

// ReadI is ReadW's counterpart for the narrower int word.
func (tx *CommitTx) ReadI(v *IntVar) (int32, error) {
	tx.requireActive()
	if tx.timedOut() {
		return 0, abortErr(tx.id, CauseTimeout)
	}
	if val, ok := tx.writeI[v]; ok {
		return val, nil
	}
	o := v.orec(tx.table)
	if o.isLocked() {
		return 0, abortErr(tx.id, CauseConflictingOwner)
	}
	tx.log = append(tx.log, readLogEntry{o: o, word: o.snapshot()})
	if !tx.log.valid() {
		return 0, abortErr(tx.id, CauseReadSetInvalid)
	}
	return v.load(), nil
}

// acquireForCommit locks o on behalf of a buffered write. If o is already
// in the read log, the logged word is the CAS's expected value — this is
// what catches a writer that intervened since this transaction read o;
// otherwise the orec's live snapshot is used. Once locked, the log entries
// for o are moved to the locked word so the revalidation in Commit accepts
// this transaction's own lock.
func (tx *CommitTx) acquireForCommit(o *orec) error {
	if tx.lockedSet != nil && tx.lockedSet[o] {
		return nil
	}
	expected, fromLog := tx.log.find(o)
	if !fromLog {
		expected = o.snapshot()
	}
	if isLockedWord(expected) {
		return abortErr(tx.id, CauseConflictingOwner)
	}
	if !o.tryLock(expected, tx.id) {
		return abortErr(tx.id, CauseLockFailed)
	}
	if tx.lockedSet == nil {
		tx.lockedSet = make(map[*orec]bool, 4)
	}
	tx.lockedSet[o] = true
	tx.locked = append(tx.locked, lockedOrec{o: o, newVersion: expected + 1})
	for i := range tx.log {
		if tx.log[i].o == o && tx.log[i].word == expected {
			tx.log[i].word = lockBit | tx.id
		}
	}
	return nil
}

// Commit validates, then — for a read-only transaction — finishes
// immediately; otherwise it locks every stripe a buffered write touches,
// revalidates the read set, publishes the writes, and releases the locks
// at bumped versions.
func (tx *CommitTx) Commit() (bool, error) {
	tx.requireActive()
	if tx.timedOut() {
		return false, abortErr(tx.id, CauseTimeout)
	}

	if len(tx.writeW) == 0 && len(tx.writeI) == 0 {
		if !tx.log.valid() {
			return false, abortErr(tx.id, CauseReadSetInvalid)
		}
		return tx.finishCommit(), nil
	}

	for v := range tx.writeW {
		if err := tx.acquireForCommit(v.orec(tx.table)); err != nil {
			return false, err
		}
	}
	for v := range tx.writeI {
		if err := tx.acquireForCommit(v.orec(tx.table)); err != nil {
			return false, err
		}
	}

	if !tx.log.valid() {
		return false, abortErr(tx.id, CauseReadSetInvalid)
	}

	for v, val := range tx.writeW {
		v.store(val)
	}
	for v, val := range tx.writeI {
		v.store(val)
	}

	for _, lo := range tx.locked {
		lo.o.unlock(lo.newVersion)
	}

	return tx.finishCommit(), nil
}

func (tx *CommitTx) finishCommit() bool {
	tx.end = time.Now()
	tx.state = txnCommitted
	if tx.observer != nil {
		tx.observer.OnCommit(tx.id, tx.Duration())
	}
	tx.retries = 0
	tx.clear()
	return true
}

// Abort discards every buffered write and the read log, releases any
// stripes already locked during a (partial) commit attempt, and backs off.
// Nothing is restored: a commit-mode transaction never publishes a write
// before it holds every orec it needs, so memory was never touched.
func (tx *CommitTx) Abort(cause error) {
	tx.requireActive()
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
	backoff(commitBackoffMaxMicros)
}

func (tx *CommitTx) clear() {
	tx.log = nil
	tx.writeW = nil
	tx.writeI = nil
	tx.locked = nil
	tx.lockedSet = nil
}
