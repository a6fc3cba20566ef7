package stm

import (
	"sync/atomic"
	"time"
)

// idGen is the process-global, monotonically increasing transaction id
// source named in the design. The first id handed out is 1.
var idGen atomic.Uint64

func nextID() uint64 { return idGen.Add(1) }

type txnState uint8

const (
	txnActive txnState = iota
	txnCommitted
	txnAborted
)

// lockedOrec remembers an orec this transaction has locked, plus the
// version it must publish on release. newVersion is fixed at lock time
// (one past whatever unlocked word was compared-and-swapped away), not
// recomputed at unlock, since by then the word no longer carries it.
type lockedOrec struct {
	o          *orec
	newVersion uint64
}

// Observer receives lifecycle notifications from a transaction. It exists
// so diagnostics (see pkg/stmtrace) can watch commits and aborts without
// the core engine importing anything beyond the standard library. A nil
// Observer (the default) costs one nil check per transition.
type Observer interface {
	OnBegin(txnID uint64)
	OnCommit(txnID uint64, elapsed time.Duration)
	OnAbort(txnID uint64, cause Cause, elapsed time.Duration)
}
