package auditstore

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Outcome classifies how a session ended, for operator accountability
// only (SPEC_FULL.md §3, "audit record"). It has no bearing on
// protocol behavior.
type Outcome string

const (
	OutcomeAuthed         Outcome = "authed"
	OutcomeAuthFailed     Outcome = "auth_failed"
	OutcomeTransferred    Outcome = "transferred"
	OutcomeTransferFailed Outcome = "transfer_failed"
)

// Record is one audit entry.
type Record struct {
	At         int64   `json:"at"`
	RemoteAddr string  `json:"remote_addr"`
	KeyHash    string  `json:"key_hash,omitempty"`
	Outcome    Outcome `json:"outcome"`
	Reason     string  `json:"reason,omitempty"`
}

// Log appends Records to a KV, keyed by a monotonically increasing
// sequence number so iteration order matches insertion order.
type Log struct {
	kv  KV
	seq uint64
}

// NewLog wraps kv as an audit Log. kv may be Noop{} to disable
// persistence entirely while keeping the same call sites.
func NewLog(kv KV) *Log {
	return &Log{kv: kv}
}

// Append persists rec under the next sequence key. It is safe to call
// from concurrent goroutines.
func (l *Log) Append(rec Record) error {
	key := seqKey(atomic.AddUint64(&l.seq, 1))
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("auditstore: marshal record: %w", err)
	}
	return l.kv.Put(key, value)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// KeyHashHex renders a 32-byte key hash for storage in a Record.
func KeyHashHex(hash [32]byte) string {
	return hex.EncodeToString(hash[:])
}

// Noop is a KV that discards every write; used when the operator has
// not configured an audit directory (SPEC_FULL.md §4.7, "optional").
type Noop struct{}

func (Noop) Get(key []byte) ([]byte, error) { return nil, fmt.Errorf("auditstore: noop store") }
func (Noop) Put(key, value []byte) error    { return nil }
func (Noop) Delete(key []byte) error        { return nil }
func (Noop) Close() error                   { return nil }
