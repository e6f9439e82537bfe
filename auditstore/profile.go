package auditstore

import (
	"runtime/pprof"
	"sync/atomic"
)

var (
	readProfile    = pprof.NewProfile("auditstore.read")
	writeProfile   = pprof.NewProfile("auditstore.write")
	profileCounter int64
)

func profileKey() int64 {
	return atomic.AddInt64(&profileCounter, 1)
}

// Profiled wraps a KV with pprof read/write counters, adapted from
// the teacher's internal/debug.ProfileDB, so operators can inspect
// audit-store I/O pressure with `go tool pprof` against the running
// process without the audit store itself knowing anything about
// profiling.
type Profiled struct {
	wrapped KV
}

// NewProfiled returns kv wrapped with read/write profiling.
func NewProfiled(kv KV) *Profiled {
	return &Profiled{wrapped: kv}
}

func (p *Profiled) Get(key []byte) ([]byte, error) {
	readProfile.Add(profileKey(), 1)
	return p.wrapped.Get(key)
}

func (p *Profiled) Put(key, value []byte) error {
	writeProfile.Add(profileKey(), 1)
	return p.wrapped.Put(key, value)
}

func (p *Profiled) Delete(key []byte) error {
	writeProfile.Add(profileKey(), 1)
	return p.wrapped.Delete(key)
}

func (p *Profiled) Close() error {
	return p.wrapped.Close()
}
