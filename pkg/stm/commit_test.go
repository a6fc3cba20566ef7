package stm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCommitEmptyTxnIsReadOnlyFastPath(t *testing.T) {
	tbl := NewTable(64)
	tx := NewCommitTx(tbl)
	tx.Begin()
	ok, err := tx.Commit()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCommitReadYourOwnWrite(t *testing.T) {
	tbl := NewTable(64)
	x := NewWordVar(0)

	tx := NewCommitTx(tbl)
	tx.Begin()
	require.NoError(t, tx.WriteW(x, 9))
	got, err := tx.ReadW(x)
	require.NoError(t, err)
	require.Equal(t, uintptr(9), got)

	// Buffering means no reader sees 9 until commit.
	require.Equal(t, uintptr(0), x.Snapshot())

	ok, err := tx.Commit()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uintptr(9), x.Snapshot())
}

func TestCommitAbortPublishesNothing(t *testing.T) {
	tbl := NewTable(64)
	x := NewWordVar(3)

	tx := NewCommitTx(tbl)
	tx.Begin()
	require.NoError(t, tx.WriteW(x, 9))
	_, err := tx.ReadW(x)
	require.NoError(t, err)

	tx.Abort(nil)

	require.Equal(t, uintptr(3), x.Snapshot())
	require.False(t, x.orec(tbl).isLocked())
}

func TestCommitLockedWriteUsesLoggedVersionAsExpected(t *testing.T) {
	tbl := NewTable(64)
	x := NewWordVar(0)

	tx := NewCommitTx(tbl)
	tx.Begin()
	_, err := tx.ReadW(x) // logs x's stripe
	require.NoError(t, err)
	require.NoError(t, tx.WriteW(x, 5))

	// An intervening writer bumps the stripe after we logged it but
	// before we commit: our commit's lock attempt, which expects the
	// logged word, must now fail.
	intervener := NewEncounterTx(tbl)
	intervener.Begin()
	require.NoError(t, intervener.WriteW(x, 99))
	ok, err := intervener.Commit()
	require.NoError(t, err)
	require.True(t, ok)

	_, err = tx.Commit()
	require.Error(t, err)
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	require.Equal(t, CauseLockFailed, abortErr.Cause)
}

func TestCommitReadOfLockedStripeAborts(t *testing.T) {
	tbl := NewTable(64)
	x := NewWordVar(0)

	writer := NewEncounterTx(tbl)
	writer.Begin()
	require.NoError(t, writer.WriteW(x, 1))

	reader := NewCommitTx(tbl)
	reader.Begin()
	_, err := reader.ReadW(x)
	require.Error(t, err)
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	require.Equal(t, CauseConflictingOwner, abortErr.Cause)
}

func TestCommitSelfTimeout(t *testing.T) {
	tbl := NewTable(64)
	x := NewWordVar(0)

	tx := NewCommitTx(tbl)
	tx.Begin()
	tx.beginTS = time.Now().Add(-2 * commitTimeout)

	_, err := tx.ReadW(x)
	require.Error(t, err)
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	require.Equal(t, CauseTimeout, abortErr.Cause)
}

func TestCommitBothWidthsInOneTxn(t *testing.T) {
	tbl := NewTable(64)
	w := NewWordVar(0)
	i := NewIntVar(0)

	tx := NewCommitTx(tbl)
	tx.Begin()
	require.NoError(t, tx.WriteW(w, 100))
	require.NoError(t, tx.WriteI(i, 42))
	ok, err := tx.Commit()
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, uintptr(100), w.Snapshot())
	require.Equal(t, int32(42), i.Snapshot())
}
