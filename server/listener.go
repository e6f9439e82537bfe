// Package server implements the acceptor/connector runtime (A1 in
// SPEC_FULL.md §4.6): the listening socket, one goroutine per accepted
// connection, the shutdown contract, and the structured log events
// that stand in for spec.md §6's "UI layer" collaborator. It contains
// no protocol logic of its own — that lives in package transport.
package server

import (
	"context"
	"crypto/rsa"
	"net"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/ethereum/go-ethereum/log"

	"github.com/sweetrush/stl-finapp/auditstore"
	"github.com/sweetrush/stl-finapp/authstore"
	"github.com/sweetrush/stl-finapp/transport"
)

// extraFrameGrace is how long the acceptor waits, after a successful
// transfer, to observe whether the connector sends a second frame
// (spec.md §4.5, "a second one is a protocol violation").
const extraFrameGrace = 200 * time.Millisecond

// Listener is the acceptor side of the service: it owns the bound TCP
// socket and spawns one goroutine per accepted connection (spec.md §5,
// "parallel-task server"). No lock is ever held across an I/O wait.
type Listener struct {
	ln    net.Listener
	priv  *rsa.PrivateKey
	store atomic.Value // *authstore.Store, swapped atomically on reload
	sink  transport.Sink
	audit *auditstore.Log

	run   int32
	conns mapset.Set // of net.Conn, mirrors the teacher's rpc.Server.codecs bookkeeping
	wg    sync.WaitGroup
}

// NewListener binds addr and constructs a Listener ready for Serve.
func NewListener(addr string, priv *rsa.PrivateKey, store *authstore.Store, sink transport.Sink, audit *auditstore.Log) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		ln:    ln,
		priv:  priv,
		sink:  sink,
		audit: audit,
		run:   1,
		conns: mapset.NewSet(),
	}
	l.store.Store(store)
	return l, nil
}

// Addr reports the bound address, useful when addr was "host:0".
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// ReloadAuthStore atomically swaps in a freshly loaded store (spec.md
// §5, "hot reload of the whitelist is an atomic swap of the shared
// reference"). In-flight sessions keep the store snapshot they started
// with.
func (l *Listener) ReloadAuthStore(path string) error {
	store, err := authstore.Load(path)
	if err != nil {
		return err
	}
	l.store.Store(store)
	log.Info("authorization store reloaded", "entries", store.Len())
	return nil
}

// Serve accepts connections until ctx is cancelled or Close is
// called. Cancelling ctx stops new accepts and forces the deadline of
// every live connection into the past, which interrupts the read or
// write each session is blocked in at that moment. A read or write a
// session starts after that sets a fresh deadline of its own and is
// not interrupted. Serve returns once every session has ended.
func (l *Listener) Serve(ctx context.Context) error {
	stopWatcher := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			atomic.StoreInt32(&l.run, 0)
			l.abortInFlight()
			l.ln.Close()
		case <-stopWatcher:
		}
	}()
	defer close(stopWatcher)

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if atomic.LoadInt32(&l.run) == 0 {
				l.wg.Wait()
				return nil
			}
			return err
		}
		l.conns.Add(conn)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.conns.Remove(conn)
			defer conn.Close()
			l.handleConn(conn)
		}()
	}
}

// Close stops accepting new connections; existing sessions continue
// until their own completion or a later ctx cancellation.
func (l *Listener) Close() error {
	atomic.StoreInt32(&l.run, 0)
	return l.ln.Close()
}

func (l *Listener) abortInFlight() {
	past := time.Now().Add(-time.Second)
	for c := range l.conns.Iter() {
		conn := c.(net.Conn)
		conn.SetDeadline(past)
	}
}

func (l *Listener) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	log.Info("connection accepted", "remote", remote)

	store, _ := l.store.Load().(*authstore.Store)
	session, err := transport.AcceptorHandshake(conn, l.priv, store)
	if err != nil {
		kind := errorKind(err)
		log.Warn("handshake failed", "remote", remote, "kind", kind, "err", err)
		l.audit.Append(auditstore.Record{
			At:         time.Now().Unix(),
			RemoteAddr: remote,
			Outcome:    auditstore.OutcomeAuthFailed,
			Reason:     kind,
		})
		return
	}
	keyHashHex := auditstore.KeyHashHex(session.KeyHash)
	log.Info("handshake authenticated", "remote", remote, "key_hash", keyHashHex)
	l.audit.Append(auditstore.Record{
		At:         time.Now().Unix(),
		RemoteAddr: remote,
		KeyHash:    keyHashHex,
		Outcome:    auditstore.OutcomeAuthed,
	})

	if err := transport.ReceiveBlob(session, l.sink); err != nil {
		kind := errorKind(err)
		log.Warn("transfer failed", "remote", remote, "key_hash", keyHashHex, "kind", kind, "err", err)
		l.audit.Append(auditstore.Record{
			At:         time.Now().Unix(),
			RemoteAddr: remote,
			KeyHash:    keyHashHex,
			Outcome:    auditstore.OutcomeTransferFailed,
			Reason:     kind,
		})
		return
	}
	log.Info("transfer complete", "remote", remote, "key_hash", keyHashHex)
	l.audit.Append(auditstore.Record{
		At:         time.Now().Unix(),
		RemoteAddr: remote,
		KeyHash:    keyHashHex,
		Outcome:    auditstore.OutcomeTransferred,
	})

	if err := transport.ExpectNoMoreFrames(session, extraFrameGrace); err != nil {
		log.Warn("protocol violation after transfer", "remote", remote, "err", err)
	}
}

// errorKind extracts the error-taxonomy string (spec.md §7) from err,
// for structured log fields and audit reasons. Every error returned by
// package transport's exported functions is a *transport.Error.
func errorKind(err error) string {
	if te, ok := err.(*transport.Error); ok {
		return te.Kind().String()
	}
	return "unknown"
}
