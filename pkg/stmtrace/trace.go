package stmtrace

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/blake2b"

	"github.com/cobaltdb/stm/pkg/stm"
)

// Event is one recorded transaction lifecycle transition.
type Event struct {
	TxnID     uint64 `msgpack:"txn_id"`
	Kind      string `msgpack:"kind"` // "begin", "commit", or "abort"
	Cause     string `msgpack:"cause,omitempty"`
	ElapsedNS int64  `msgpack:"elapsed_ns,omitempty"`
}

// Recorder implements stm.Observer, accumulating events in memory. It is
// attached to a transaction with SetObserver and is never required for
// correctness — the core engine runs identically with or without one.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) OnBegin(txnID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{TxnID: txnID, Kind: "begin"})
}

func (r *Recorder) OnCommit(txnID uint64, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{TxnID: txnID, Kind: "commit", ElapsedNS: elapsed.Nanoseconds()})
}

func (r *Recorder) OnAbort(txnID uint64, cause stm.Cause, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{
		TxnID:     txnID,
		Kind:      "abort",
		Cause:     cause.String(),
		ElapsedNS: elapsed.Nanoseconds(),
	})
}

// Events returns a snapshot copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Encode serializes the recorded events to msgpack, in the shape of a thin
// wire-protocol wrapper: small tagged structs in, bytes out.
func (r *Recorder) Encode() ([]byte, error) {
	return msgpack.Marshal(r.Events())
}

// Decode is Encode's inverse.
func Decode(data []byte) ([]Event, error) {
	var events []Event
	if err := msgpack.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("stmtrace: decode: %w", err)
	}
	return events, nil
}

var _ stm.Observer = (*Recorder)(nil)

// Fingerprint hashes a named snapshot of final memory values into a short,
// comparable digest. It lets a benchmark or test assert that two runs of a
// scenario ended at the same final state without printing every word.
func Fingerprint(values map[string]uint64) ([]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("stmtrace: fingerprint: %w", err)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(h, "%s=%d\n", k, values[k])
	}
	return h.Sum(nil), nil
}
