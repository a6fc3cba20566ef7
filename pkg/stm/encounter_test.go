package stm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncounterEmptyTxnCommits(t *testing.T) {
	tbl := NewTable(64)
	tx := NewEncounterTx(tbl)
	tx.Begin()
	ok, err := tx.Commit()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEncounterReadYourOwnWrite(t *testing.T) {
	tbl := NewTable(64)
	x := NewWordVar(0)

	tx := NewEncounterTx(tbl)
	tx.Begin()
	require.NoError(t, tx.WriteW(x, 7))
	got, err := tx.ReadW(x)
	require.NoError(t, err)
	require.Equal(t, uintptr(7), got)

	ok, err := tx.Commit()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uintptr(7), x.Snapshot())
}

func TestEncounterWriteBeforeReadLogsOnce(t *testing.T) {
	tbl := NewTable(64)
	x := NewWordVar(0)

	tx := NewEncounterTx(tbl)
	tx.Begin()
	require.NoError(t, tx.WriteW(x, 1))
	_, err := tx.ReadW(x)
	require.NoError(t, err)

	// First-touch policy: the write already logged the stripe, the
	// read must not have appended a second entry.
	require.Len(t, tx.log, 1)
}

func TestEncounterConflictingWriteAborts(t *testing.T) {
	tbl := NewTable(64)
	x := NewWordVar(0)

	first := NewEncounterTx(tbl)
	first.Begin()
	require.NoError(t, first.WriteW(x, 1))

	second := NewEncounterTx(tbl)
	second.Begin()
	err := second.WriteW(x, 2)
	require.Error(t, err)
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	require.Equal(t, CauseConflictingOwner, abortErr.Cause)

	second.Abort(err)
	ok, err := first.Commit()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uintptr(1), x.Snapshot())
}

func TestEncounterRollbackRestoresFirstOverwrittenValue(t *testing.T) {
	tbl := NewTable(64)
	x := NewWordVar(5)

	tx := NewEncounterTx(tbl)
	tx.Begin()
	require.NoError(t, tx.WriteW(x, 7))
	require.NoError(t, tx.WriteW(x, 9)) // second overwrite must not clobber the rollback value

	tx.Abort(nil)

	require.Equal(t, uintptr(5), x.Snapshot())
	require.False(t, x.orec(tbl).isLocked())
}

func TestEncounterReadOfLockedStripeAborts(t *testing.T) {
	tbl := NewTable(64)
	x := NewWordVar(0)

	writer := NewEncounterTx(tbl)
	writer.Begin()
	require.NoError(t, writer.WriteW(x, 1))

	reader := NewEncounterTx(tbl)
	reader.Begin()
	_, err := reader.ReadW(x)
	require.Error(t, err)
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	require.Equal(t, CauseConflictingOwner, abortErr.Cause)
}

func TestEncounterCommitBumpsVersion(t *testing.T) {
	tbl := NewTable(64)
	x := NewWordVar(0)
	before := x.orec(tbl).version()

	tx := NewEncounterTx(tbl)
	tx.Begin()
	require.NoError(t, tx.WriteW(x, 1))
	ok, err := tx.Commit()
	require.NoError(t, err)
	require.True(t, ok)

	require.Greater(t, x.orec(tbl).version(), before)
}

func TestEncounterOperationOnTerminatedTxnPanics(t *testing.T) {
	tbl := NewTable(64)
	tx := NewEncounterTx(tbl)
	tx.Begin()
	_, err := tx.Commit()
	require.NoError(t, err)

	require.Panics(t, func() { tx.WriteW(NewWordVar(0), 1) })
}

func TestEncounterBothWidthsInOneTxn(t *testing.T) {
	tbl := NewTable(64)
	w := NewWordVar(0)
	i := NewIntVar(0)

	tx := NewEncounterTx(tbl)
	tx.Begin()
	require.NoError(t, tx.WriteW(w, 100))
	require.NoError(t, tx.WriteI(i, 42))
	ok, err := tx.Commit()
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, uintptr(100), w.Snapshot())
	require.Equal(t, int32(42), i.Snapshot())
}
