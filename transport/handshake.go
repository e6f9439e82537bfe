package transport

import (
	"crypto/rsa"
	"net"
	"time"

	"github.com/sweetrush/stl-finapp/authstore"
	"github.com/sweetrush/stl-finapp/cryptoprim"
)

// HandshakeTimeout is the overall deadline for the full handshake
// exchange, per spec.md §4.4 ("Handshake must complete within 60
// seconds overall").
const HandshakeTimeout = 60 * time.Second

// Session is the authenticated per-connection state produced by a
// successful handshake (spec.md §3, "Authenticated session state").
// It is symmetric: both the acceptor and the connector end up with
// one of these, each holding the *other* side's public key.
type Session struct {
	Conn            net.Conn
	RemoteAddr      string
	KeyHash         [32]byte
	PeerPublicKey   *rsa.PublicKey
	LocalPrivateKey *rsa.PrivateKey
}

// deadlineBudget tracks the overall handshake deadline and hands out
// the remaining time as a per-frame timeout, so no single slow frame
// can make the handshake run past HandshakeTimeout.
type deadlineBudget struct {
	deadline time.Time
}

func newBudget(total time.Duration) *deadlineBudget {
	return &deadlineBudget{deadline: time.Now().Add(total)}
}

func (b *deadlineBudget) next() time.Duration {
	remaining := time.Until(b.deadline)
	if remaining <= 0 {
		return time.Nanosecond // force an immediate timeout rather than block forever
	}
	if remaining > DefaultIOTimeout {
		return DefaultIOTimeout
	}
	return remaining
}

// AcceptorHandshake runs the acceptor side of the state machine in
// SPEC_FULL.md §4.4: AwaitConnection → SentChallenge → AwaitResponse →
// {Authed|Failed} → ExchangedKeys → Ready. On any failure after the
// challenge is sent, other than a failed frame write, it attempts to
// send AuthFailure with a short opaque reason before returning; the
// caller is responsible for closing conn in all cases.
func AcceptorHandshake(conn net.Conn, localPriv *rsa.PrivateKey, store *authstore.Store) (*Session, error) {
	budget := newBudget(HandshakeTimeout)

	challenge, err := cryptoprim.RandomBytes(32)
	if err != nil {
		return nil, wrapErr(KindCrypto, "generate challenge", err)
	}
	if err := WriteFrame(conn, AuthChallengeMsg(challenge), budget.next()); err != nil {
		return nil, err
	}

	// Step moved ahead of the original ordering per SPEC_FULL.md §4.4:
	// the connector's public key must be known before its challenge
	// proof (a signature) can be verified.
	keyMsg, err := ReadFrame(conn, budget.next())
	if err != nil {
		return nil, failAndReturn(conn, budget, "bad frame", err)
	}
	if keyMsg.Tag != TagPublicKey {
		return nil, failAndReturn(conn, budget, "unexpected frame", newErr(KindProtocol, "expected PublicKeyExchange"))
	}
	peerPub, err := cryptoprim.DecodePublicKey(keyMsg.PublicKeyPEM)
	if err != nil {
		return nil, failAndReturn(conn, budget, "malformed public key", wrapErr(KindAuth, "decode connector public key", err))
	}

	respMsg, err := ReadFrame(conn, budget.next())
	if err != nil {
		return nil, failAndReturn(conn, budget, "bad frame", err)
	}
	if respMsg.Tag != TagAuthResponse {
		return nil, failAndReturn(conn, budget, "unexpected frame", newErr(KindProtocol, "expected AuthResponse"))
	}
	var keyHash [32]byte
	if len(respMsg.KeyHash) != len(keyHash) {
		return nil, failAndReturn(conn, budget, "malformed key hash", newErr(KindProtocol, "key hash has wrong size"))
	}
	copy(keyHash[:], respMsg.KeyHash)

	if !store.Contains(keyHash) {
		sendFailure(conn, budget, "unknown key")
		return nil, newErr(KindAuth, "unknown connect key")
	}
	if err := cryptoprim.VerifyChallenge(peerPub, challenge, respMsg.ChallengeProof); err != nil {
		sendFailure(conn, budget, "bad proof")
		return nil, wrapErr(KindAuth, "challenge proof did not verify", err)
	}
	// challenge is single-use: from here on it is never checked again.

	if err := WriteFrame(conn, AuthSuccessMsg(), budget.next()); err != nil {
		return nil, err
	}
	if err := WriteFrame(conn, PublicKeyMsg(cryptoprim.EncodePublicKey(&localPriv.PublicKey)), budget.next()); err != nil {
		return nil, err
	}

	return &Session{
		Conn:            conn,
		RemoteAddr:      conn.RemoteAddr().String(),
		KeyHash:         keyHash,
		PeerPublicKey:   peerPub,
		LocalPrivateKey: localPriv,
	}, nil
}

// ConnectorHandshake runs the connector side: Dialing → AwaitChallenge
// → SentResponse → {Authed|Failed} → ExchangedKeys → Ready.
func ConnectorHandshake(conn net.Conn, localPriv *rsa.PrivateKey, connectKey string) (*Session, error) {
	budget := newBudget(HandshakeTimeout)

	challengeMsg, err := ReadFrame(conn, budget.next())
	if err != nil {
		return nil, err
	}
	if challengeMsg.Tag != TagAuthChallenge {
		return nil, newErr(KindProtocol, "expected AuthChallenge")
	}

	if err := WriteFrame(conn, PublicKeyMsg(cryptoprim.EncodePublicKey(&localPriv.PublicKey)), budget.next()); err != nil {
		return nil, err
	}

	proof, err := cryptoprim.SignChallenge(localPriv, challengeMsg.Challenge)
	if err != nil {
		return nil, wrapErr(KindCrypto, "sign challenge", err)
	}
	keyHash := authstore.HashConnectKey(connectKey)
	if err := WriteFrame(conn, AuthResponseMsg(keyHash[:], proof), budget.next()); err != nil {
		return nil, err
	}

	resultMsg, err := ReadFrame(conn, budget.next())
	if err != nil {
		return nil, err
	}
	switch resultMsg.Tag {
	case TagAuthFailure:
		return nil, newErr(KindAuth, "acceptor rejected handshake: "+resultMsg.Reason)
	case TagAuthSuccess:
		// continue below
	default:
		return nil, newErr(KindProtocol, "expected AuthSuccess or AuthFailure")
	}

	peerKeyMsg, err := ReadFrame(conn, budget.next())
	if err != nil {
		return nil, err
	}
	if peerKeyMsg.Tag != TagPublicKey {
		return nil, newErr(KindProtocol, "expected PublicKeyExchange")
	}
	peerPub, err := cryptoprim.DecodePublicKey(peerKeyMsg.PublicKeyPEM)
	if err != nil {
		return nil, wrapErr(KindAuth, "decode acceptor public key", err)
	}

	return &Session{
		Conn:            conn,
		RemoteAddr:      conn.RemoteAddr().String(),
		KeyHash:         keyHash,
		PeerPublicKey:   peerPub,
		LocalPrivateKey: localPriv,
	}, nil
}

func sendFailure(conn net.Conn, budget *deadlineBudget, reason string) {
	// Best-effort: the connection may already be unusable, and
	// spec.md's failure semantics only require that we try.
	_ = WriteFrame(conn, AuthFailureMsg(reason), budget.next())
}

func failAndReturn(conn net.Conn, budget *deadlineBudget, reason string, err error) error {
	sendFailure(conn, budget, reason)
	return err
}
