package transport

import (
	"net"
	"os"
	"testing"

	"github.com/sweetrush/stl-finapp/authstore"
	"github.com/sweetrush/stl-finapp/cryptoprim"
)

func newTestStore(t *testing.T, keys ...string) *authstore.Store {
	t.Helper()
	store, err := authstore.Load(writeTestWhitelist(t, keys...))
	if err != nil {
		t.Fatalf("load whitelist: %v", err)
	}
	return store
}

func writeTestWhitelist(t *testing.T, keys ...string) string {
	t.Helper()
	path := t.TempDir() + "/whitelist.txt"
	data := ""
	for _, k := range keys {
		data += k + "\n"
	}
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write whitelist: %v", err)
	}
	return path
}

func TestHandshakeHappyPath(t *testing.T) {
	acceptorPriv, _, err := cryptoprim.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate acceptor key: %v", err)
	}
	connectorPriv, _, err := cryptoprim.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate connector key: %v", err)
	}
	store := newTestStore(t, "ck-alpha")

	acceptorConn, connectorConn := net.Pipe()
	defer acceptorConn.Close()
	defer connectorConn.Close()

	type result struct {
		session *Session
		err     error
	}
	acceptorCh := make(chan result, 1)
	connectorCh := make(chan result, 1)

	go func() {
		s, err := AcceptorHandshake(acceptorConn, acceptorPriv, store)
		acceptorCh <- result{s, err}
	}()
	go func() {
		s, err := ConnectorHandshake(connectorConn, connectorPriv, "ck-alpha")
		connectorCh <- result{s, err}
	}()

	ar := <-acceptorCh
	cr := <-connectorCh
	if ar.err != nil {
		t.Fatalf("acceptor handshake: %v", ar.err)
	}
	if cr.err != nil {
		t.Fatalf("connector handshake: %v", cr.err)
	}
	if ar.session.KeyHash != authstore.HashConnectKey("ck-alpha") {
		t.Fatalf("acceptor recorded wrong key hash")
	}
	if ar.session.PeerPublicKey.N.Cmp(connectorPriv.PublicKey.N) != 0 {
		t.Fatalf("acceptor did not retain connector's public key")
	}
	if cr.session.PeerPublicKey.N.Cmp(acceptorPriv.PublicKey.N) != 0 {
		t.Fatalf("connector did not retain acceptor's public key")
	}
}

func TestHandshakeRejectsUnknownKey(t *testing.T) {
	acceptorPriv, _, _ := cryptoprim.GenerateKeyPair()
	connectorPriv, _, _ := cryptoprim.GenerateKeyPair()
	store := newTestStore(t, "ck-alpha")

	acceptorConn, connectorConn := net.Pipe()
	defer acceptorConn.Close()
	defer connectorConn.Close()

	acceptorErr := make(chan error, 1)
	go func() {
		_, err := AcceptorHandshake(acceptorConn, acceptorPriv, store)
		acceptorErr <- err
	}()

	_, connErr := ConnectorHandshake(connectorConn, connectorPriv, "ck-beta")
	if connErr == nil {
		t.Fatalf("expected connector to observe AuthFailure")
	}
	if err := <-acceptorErr; err == nil {
		t.Fatalf("expected acceptor to report an auth error")
	} else if e, ok := err.(*Error); !ok || e.Kind() != KindAuth {
		t.Fatalf("expected KindAuth, got %v", err)
	}
}

func TestHandshakeReplayFailsAgainstFreshChallenge(t *testing.T) {
	// S5: produce a valid challenge proof for one challenge and check
	// it, as the acceptor's proof check does, against a second, fresh
	// challenge. The signature was only ever valid for the original
	// challenge, so verification must fail.
	acceptorPriv, _, _ := cryptoprim.GenerateKeyPair()
	connectorPriv, connectorPub, _ := cryptoprim.GenerateKeyPair()
	store := newTestStore(t, "ck-alpha")

	firstChallenge, _ := cryptoprim.RandomBytes(32)
	proof, err := cryptoprim.SignChallenge(connectorPriv, firstChallenge)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	secondChallenge, _ := cryptoprim.RandomBytes(32)
	if secondChallenge[0] == firstChallenge[0] {
		secondChallenge[0]++ // guarantee the two challenges differ
	}

	if err := cryptoprim.VerifyChallenge(connectorPub, secondChallenge, proof); err == nil {
		t.Fatalf("replayed proof must not verify against a fresh challenge")
	}
	_ = acceptorPriv
	_ = store
}
