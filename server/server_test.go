package server

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sweetrush/stl-finapp/auditstore"
	"github.com/sweetrush/stl-finapp/authstore"
	"github.com/sweetrush/stl-finapp/cryptoprim"
)

// memSink records every delivered blob for assertions; it never
// touches the filesystem.
type memSink struct {
	mu        sync.Mutex
	delivered []delivery
}

type delivery struct {
	filename string
	data     []byte
}

func (s *memSink) Deliver(filename string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), data...)
	s.delivered = append(s.delivered, delivery{filename, cp})
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func newTestListener(t *testing.T, keys ...string) (*Listener, *memSink) {
	t.Helper()
	priv, _, err := cryptoprim.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate acceptor key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "whitelist.txt")
	data := ""
	for _, k := range keys {
		data += k + "\n"
	}
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write whitelist: %v", err)
	}
	store, err := authstore.Load(path)
	if err != nil {
		t.Fatalf("load whitelist: %v", err)
	}

	sink := &memSink{}
	ln, err := NewListener("127.0.0.1:0", priv, store, sink, auditstore.NewLog(auditstore.Noop{}))
	if err != nil {
		t.Fatalf("new listener: %v", err)
	}
	return ln, sink
}

func serveInBackground(t *testing.T, ln *Listener) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ln.Serve(ctx) }()
	return cancel, done
}

// S1: full happy-path transfer over a real loopback connection.
func TestServerHappyPathTransfer(t *testing.T) {
	ln, sink := newTestListener(t, "ck-alpha")
	cancel, done := serveInBackground(t, ln)
	defer cancel()

	connectorPriv, _, err := cryptoprim.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate connector key: %v", err)
	}
	blob := []byte("quarterly statement\n")
	if err := Send(ln.Addr().String(), connectorPriv, "ck-alpha", blob, "statement.csv"); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatalf("expected exactly one delivered blob, got %d", sink.count())
	}
	if string(sink.delivered[0].data) != string(blob) {
		t.Fatalf("delivered content mismatch")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve returned error after cancel: %v", err)
	}
}

// S2: a connect key absent from the whitelist must be rejected and no
// blob delivered.
func TestServerRejectsUnknownConnectKey(t *testing.T) {
	ln, sink := newTestListener(t, "ck-alpha")
	cancel, _ := serveInBackground(t, ln)
	defer cancel()

	connectorPriv, _, _ := cryptoprim.GenerateKeyPair()
	err := Send(ln.Addr().String(), connectorPriv, "ck-wrong", []byte("x"), "f.csv")
	if err == nil {
		t.Fatalf("expected send to fail for an unknown connect key")
	}
	if sink.count() != 0 {
		t.Fatalf("expected no delivery for a rejected handshake")
	}
}

// S6: two sessions against the same listener run independently and
// both succeed.
func TestServerHandlesConcurrentSessions(t *testing.T) {
	ln, sink := newTestListener(t, "ck-alpha", "ck-beta")
	cancel, done := serveInBackground(t, ln)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	send := func(key, filename string) {
		defer wg.Done()
		priv, _, err := cryptoprim.GenerateKeyPair()
		if err != nil {
			errs <- err
			return
		}
		errs <- Send(ln.Addr().String(), priv, key, []byte("payload-"+key), filename)
	}
	wg.Add(2)
	go send("ck-alpha", "a.csv")
	go send("ck-beta", "b.csv")
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent send failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() != 2 {
		t.Fatalf("expected two independent deliveries, got %d", sink.count())
	}

	cancel()
	<-done
}

// Cancelling the Serve context stops accepting new connections.
func TestServerStopsAcceptingAfterCancel(t *testing.T) {
	ln, _ := newTestListener(t, "ck-alpha")
	cancel, done := serveInBackground(t, ln)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return after cancellation")
	}

	connectorPriv, _, _ := cryptoprim.GenerateKeyPair()
	if err := Send(ln.Addr().String(), connectorPriv, "ck-alpha", []byte("x"), "f.csv"); err == nil {
		t.Fatalf("expected dial to fail once the listener has stopped")
	}
}
