package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"time"

	"github.com/sweetrush/stl-finapp/cryptoprim"
)

// Sink is the persistence collaborator described in spec.md §6: it
// persists delivered plaintext under a suggested filename, owning
// naming, timestamping, extension, and directory choice itself.
type Sink interface {
	Deliver(filenameHint string, plaintext []byte) error
}

// rsaCiphertextSize is the fixed output size of PKCS#1 v1.5 encryption
// under a 2048-bit key (cryptoprim.KeyBits / 8).
const rsaCiphertextSize = cryptoprim.KeyBits / 8
const aeadTagSize = 16

// MaxPlaintextSize returns the largest blob that can be sealed into a
// single frame alongside filename, i.e. MaxFramePayload minus the
// fixed per-field overhead of an EncryptedPayload message (spec.md
// §4.5, "bounded by framing limit minus per-field overhead").
func MaxPlaintextSize(filename string) int {
	overhead := 1 + // tag byte
		4 + aeadTagSize + // ciphertext length prefix + AEAD tag
		nonceSize +
		4 + rsaCiphertextSize + // encrypted_key length prefix + RSA ciphertext
		checksumSize +
		4 + len(filename) // filename length prefix + bytes
	return MaxFramePayload - overhead
}

// SendBlob implements the connector side of the session pipeline
// (spec.md §4.5, "Seal"): it seals blob under a fresh AES-256-GCM key
// wrapped for s.PeerPublicKey, sends the EncryptedPayload frame, and
// waits for the acceptor's TransferResult. Exactly one blob may be
// sent per Session; calling it twice on the same Session is a caller
// error the acceptor will reject as a protocol violation.
func SendBlob(s *Session, blob []byte, filename string) error {
	if len(blob) > MaxPlaintextSize(filename) {
		return newErr(KindPolicy, "blob exceeds maximum frame payload")
	}

	checksum := cryptoprim.SHA256(blob)
	aesKey, err := cryptoprim.RandomBytes(cryptoprim.AESKeySize)
	if err != nil {
		return wrapErr(KindCrypto, "generate aes key", err)
	}
	nonce, err := cryptoprim.RandomBytes(nonceSize)
	if err != nil {
		return wrapErr(KindCrypto, "generate nonce", err)
	}
	ciphertext, err := cryptoprim.SealAES256GCM(aesKey, nonce, blob)
	if err != nil {
		return wrapErr(KindCrypto, "seal blob", err)
	}
	encryptedKey, err := cryptoprim.EncryptRSA(s.PeerPublicKey, aesKey)
	if err != nil {
		return wrapErr(KindCrypto, "wrap aes key", err)
	}

	msg := EncryptedPayloadMsg(ciphertext, nonce, encryptedKey, checksum[:], filename)
	if err := WriteFrame(s.Conn, msg, DefaultIOTimeout); err != nil {
		return err
	}

	result, err := ReadFrame(s.Conn, DefaultIOTimeout)
	if err != nil {
		return err
	}
	if result.Tag != TagTransferResult {
		return newErr(KindProtocol, "expected TransferResult")
	}
	if !result.Success {
		return newErr(KindCrypto, "transfer failed: "+result.Reason)
	}
	return nil
}

// ReceiveBlob implements the acceptor side of the session pipeline
// (spec.md §4.5, "Open"): it receives exactly one EncryptedPayload,
// unwraps the AES key, opens the AEAD ciphertext, verifies the
// defense-in-depth checksum, and hands the result to sink. It always
// attempts to send a TransferResult before returning, except when the
// frame read itself failed (nothing valid to respond to).
func ReceiveBlob(s *Session, sink Sink) error {
	msg, err := ReadFrame(s.Conn, DefaultIOTimeout)
	if err != nil {
		return err
	}
	if msg.Tag != TagEncrypted {
		return failTransfer(s, "unexpected frame", newErr(KindProtocol, "expected EncryptedPayload"))
	}

	aesKey, err := cryptoprim.DecryptRSA(s.LocalPrivateKey, msg.EncryptedKey)
	if err != nil {
		return failTransfer(s, "decrypt key", wrapErr(KindCrypto, "rsa decrypt", err))
	}
	plaintext, err := cryptoprim.OpenAES256GCM(aesKey, msg.Nonce, msg.Ciphertext)
	if err != nil {
		return failTransfer(s, "integrity", wrapErr(KindCrypto, "aes open", err))
	}
	checksum := cryptoprim.SHA256(plaintext)
	if !bytes.Equal(checksum[:], msg.Checksum) {
		return failTransfer(s, "checksum", newErr(KindCrypto, "checksum mismatch"))
	}

	if err := sink.Deliver(msg.Filename, plaintext); err != nil {
		return failTransfer(s, "sink", wrapErr(KindIO, "persist blob", err))
	}

	if err := WriteFrame(s.Conn, TransferResultMsg(true, ""), DefaultIOTimeout); err != nil {
		return err
	}
	return nil
}

// ExpectNoMoreFrames verifies the session carried exactly one
// EncryptedPayload: spec.md §4.5 treats a second frame as a protocol
// violation that must not be persisted. The acceptor calls this after
// ReceiveBlob succeeds, with a short read deadline, and treats
// anything other than a timeout/clean-close as a violation.
func ExpectNoMoreFrames(s *Session, timeout time.Duration) error {
	msg, err := ReadFrame(s.Conn, timeout)
	if err == nil {
		return newErr(KindProtocol, "unexpected extra frame after payload: "+msg.Tag.String())
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return nil // timeout or clean close is the expected outcome
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return wrapErr(KindProtocol, "unexpected data after payload", err)
}

func failTransfer(s *Session, reason string, err error) error {
	_ = WriteFrame(s.Conn, TransferResultMsg(false, reason), DefaultIOTimeout)
	return err
}
