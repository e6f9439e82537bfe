package server

import (
	"crypto/rsa"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/sweetrush/stl-finapp/transport"
)

// DialTimeout bounds the TCP connect itself, separate from the
// handshake budget that starts once the socket is open.
const DialTimeout = 10 * time.Second

// Dial opens a TCP connection to addr and runs the connector side of
// the handshake (spec.md §4.4) to completion, returning a ready
// Session. It is the one-shot counterpart to Listener.Serve, used by
// cmd/ftt.
func Dial(addr string, localPriv *rsa.PrivateKey, connectKey string) (*transport.Session, error) {
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, err
	}
	log.Info("dialed peer", "remote", addr)

	session, err := transport.ConnectorHandshake(conn, localPriv, connectKey)
	if err != nil {
		log.Warn("handshake failed", "remote", addr, "err", err)
		conn.Close()
		return nil, err
	}
	log.Info("handshake authenticated", "remote", addr)
	return session, nil
}

// Send runs the full one-shot connector pipeline (spec.md §4.5):
// dial, handshake, seal, transmit, and await the acceptor's verdict.
// The connection is always closed before Send returns.
func Send(addr string, localPriv *rsa.PrivateKey, connectKey string, blob []byte, filename string) error {
	session, err := Dial(addr, localPriv, connectKey)
	if err != nil {
		return err
	}
	defer session.Conn.Close()

	if err := transport.SendBlob(session, blob, filename); err != nil {
		log.Warn("transfer failed", "remote", addr, "err", err)
		return err
	}
	log.Info("transfer complete", "remote", addr, "bytes", len(blob))
	return nil
}
