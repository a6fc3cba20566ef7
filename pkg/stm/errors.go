package stm

import "fmt"

// Cause diagnoses why a transaction aborted. It never changes the control
// contract: every cause means the same thing to the caller — abort and
// retry from a fresh Begin.
type Cause uint8

const (
	// CauseConflictingOwner means a stripe this transaction needed was
	// already locked by another transaction.
	CauseConflictingOwner Cause = iota + 1
	// CauseLockFailed means the CAS acquiring a stripe's orec lost a race
	// after this transaction observed it unlocked.
	CauseLockFailed
	// CauseReadSetInvalid means a stripe this transaction had already read
	// changed version before commit.
	CauseReadSetInvalid
	// CauseTimeout means a commit-mode transaction exceeded its wall-clock
	// budget since Begin. Encounter-mode transactions never use this.
	CauseTimeout
	// CauseApplicationRequested means the host program called Abort
	// voluntarily, without a preceding failed operation.
	CauseApplicationRequested
)

func (c Cause) String() string {
	switch c {
	case CauseConflictingOwner:
		return "conflicting-owner"
	case CauseLockFailed:
		return "lock-acquisition-failed"
	case CauseReadSetInvalid:
		return "read-set-invalidated"
	case CauseTimeout:
		return "self-timeout"
	case CauseApplicationRequested:
		return "application-requested"
	default:
		return "unknown"
	}
}

// AbortError is the one error kind that crosses the package boundary. A
// Read, Write, or Commit that returns one has stored no value itself, but
// the transaction may still hold locked stripes; the caller must call Abort
// on the same transaction and retry with a fresh instance.
type AbortError struct {
	TxnID uint64
	Cause Cause
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("stm: tx %d aborted: %s", e.TxnID, e.Cause)
}

func abortErr(id uint64, cause Cause) *AbortError {
	return &AbortError{TxnID: id, Cause: cause}
}

// causeOf recovers the Cause a caller should attribute to a voluntary
// Abort call. A nil err (the application decided to bail with no prior
// failed operation) is CauseApplicationRequested; any *AbortError carries
// its own cause forward so tracing sees the real reason.
func causeOf(err error) Cause {
	if ae, ok := err.(*AbortError); ok {
		return ae.Cause
	}
	return CauseApplicationRequested
}
