package transport

import (
	"encoding/binary"
	"fmt"
)

// Tag identifies one of the seven message variants in SPEC_FULL.md
// §4.2 / spec.md §4.2. It is the first byte of every frame payload.
type Tag byte

const (
	TagAuthChallenge  Tag = 'A'
	TagAuthResponse   Tag = 'B'
	TagAuthSuccess    Tag = 'C'
	TagAuthFailure    Tag = 'D'
	TagPublicKey      Tag = 'E'
	TagEncrypted      Tag = 'F'
	TagTransferResult Tag = 'G'
)

func (t Tag) String() string {
	switch t {
	case TagAuthChallenge:
		return "AuthChallenge"
	case TagAuthResponse:
		return "AuthResponse"
	case TagAuthSuccess:
		return "AuthSuccess"
	case TagAuthFailure:
		return "AuthFailure"
	case TagPublicKey:
		return "PublicKeyExchange"
	case TagEncrypted:
		return "EncryptedPayload"
	case TagTransferResult:
		return "TransferResult"
	default:
		return fmt.Sprintf("Tag(%d)", byte(t))
	}
}

const challengeSize = 32
const checksumSize = 32
const nonceSize = 12

// Message is the decoded form of a single frame payload. Exactly one
// of the typed fields is meaningful, selected by Tag.
type Message struct {
	Tag Tag

	Challenge []byte // TagAuthChallenge

	KeyHash        []byte // TagAuthResponse
	ChallengeProof []byte // TagAuthResponse

	Reason string // TagAuthFailure, TagTransferResult

	PublicKeyPEM []byte // TagPublicKey

	Ciphertext   []byte // TagEncrypted
	Nonce        []byte // TagEncrypted
	EncryptedKey []byte // TagEncrypted
	Checksum     []byte // TagEncrypted
	Filename     string // TagEncrypted

	Success bool // TagTransferResult
}

// AuthChallengeMsg builds an AuthChallenge message.
func AuthChallengeMsg(challenge []byte) *Message {
	return &Message{Tag: TagAuthChallenge, Challenge: challenge}
}

// AuthResponseMsg builds an AuthResponse message.
func AuthResponseMsg(keyHash, proof []byte) *Message {
	return &Message{Tag: TagAuthResponse, KeyHash: keyHash, ChallengeProof: proof}
}

// AuthSuccessMsg builds an AuthSuccess message.
func AuthSuccessMsg() *Message {
	return &Message{Tag: TagAuthSuccess}
}

// AuthFailureMsg builds an AuthFailure message with a short
// operator-facing reason.
func AuthFailureMsg(reason string) *Message {
	return &Message{Tag: TagAuthFailure, Reason: reason}
}

// PublicKeyMsg builds a PublicKeyExchange message carrying a
// PEM-encoded RSA public key.
func PublicKeyMsg(pem []byte) *Message {
	return &Message{Tag: TagPublicKey, PublicKeyPEM: pem}
}

// EncryptedPayloadMsg builds an EncryptedPayload message.
func EncryptedPayloadMsg(ciphertext, nonce, encryptedKey, checksum []byte, filename string) *Message {
	return &Message{
		Tag:          TagEncrypted,
		Ciphertext:   ciphertext,
		Nonce:        nonce,
		EncryptedKey: encryptedKey,
		Checksum:     checksum,
		Filename:     filename,
	}
}

// TransferResultMsg builds a TransferResult message.
func TransferResultMsg(success bool, reason string) *Message {
	return &Message{Tag: TagTransferResult, Success: success, Reason: reason}
}

// encode renders m into its canonical binary payload (without the
// outer 4-byte frame length prefix, which is frame.go's concern). The
// encoding is deterministic: length-prefixed variable fields (4-byte
// big-endian length then raw bytes), fixed-size fields inline, no
// trailing padding.
func (m *Message) encode() []byte {
	var buf []byte
	buf = append(buf, byte(m.Tag))

	switch m.Tag {
	case TagAuthChallenge:
		buf = appendFixed(buf, m.Challenge, challengeSize)
	case TagAuthResponse:
		buf = appendFixed(buf, m.KeyHash, checksumSize)
		buf = appendVar(buf, m.ChallengeProof)
	case TagAuthSuccess:
		// empty payload
	case TagAuthFailure:
		buf = appendVar(buf, []byte(m.Reason))
	case TagPublicKey:
		buf = appendVar(buf, m.PublicKeyPEM)
	case TagEncrypted:
		buf = appendVar(buf, m.Ciphertext)
		buf = appendFixed(buf, m.Nonce, nonceSize)
		buf = appendVar(buf, m.EncryptedKey)
		buf = appendFixed(buf, m.Checksum, checksumSize)
		buf = appendVar(buf, []byte(m.Filename))
	case TagTransferResult:
		if m.Success {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = appendVar(buf, []byte(m.Reason))
	}
	return buf
}

// decodeMessage parses a frame payload (tag byte plus body) into a
// Message. It never allocates more than len(payload) bytes of
// scratch space: every length it reads is checked against the
// remaining slice before use.
func decodeMessage(payload []byte) (*Message, error) {
	if len(payload) < 1 {
		return nil, newErr(KindProtocol, "empty frame payload")
	}
	tag := Tag(payload[0])
	rest := payload[1:]
	m := &Message{Tag: tag}

	var err error
	switch tag {
	case TagAuthChallenge:
		m.Challenge, rest, err = takeFixed(rest, challengeSize)
	case TagAuthResponse:
		var keyHash []byte
		keyHash, rest, err = takeFixed(rest, checksumSize)
		if err != nil {
			return nil, err
		}
		m.KeyHash = keyHash
		m.ChallengeProof, rest, err = takeVar(rest)
	case TagAuthSuccess:
		// no payload
	case TagAuthFailure:
		var reason []byte
		reason, rest, err = takeVar(rest)
		m.Reason = string(reason)
	case TagPublicKey:
		m.PublicKeyPEM, rest, err = takeVar(rest)
	case TagEncrypted:
		m.Ciphertext, rest, err = takeVar(rest)
		if err != nil {
			return nil, err
		}
		m.Nonce, rest, err = takeFixed(rest, nonceSize)
		if err != nil {
			return nil, err
		}
		m.EncryptedKey, rest, err = takeVar(rest)
		if err != nil {
			return nil, err
		}
		m.Checksum, rest, err = takeFixed(rest, checksumSize)
		if err != nil {
			return nil, err
		}
		var filename []byte
		filename, rest, err = takeVar(rest)
		m.Filename = string(filename)
	case TagTransferResult:
		if len(rest) < 1 {
			return nil, newErr(KindProtocol, "truncated TransferResult")
		}
		m.Success = rest[0] != 0
		rest = rest[1:]
		var reason []byte
		reason, rest, err = takeVar(rest)
		m.Reason = string(reason)
	default:
		return nil, newErr(KindProtocol, fmt.Sprintf("unknown tag %d", byte(tag)))
	}
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, newErr(KindProtocol, "trailing bytes after message")
	}
	return m, nil
}

func appendFixed(buf, field []byte, size int) []byte {
	if len(field) != size {
		panic(fmt.Sprintf("transport: fixed field has wrong size %d, want %d", len(field), size))
	}
	return append(buf, field...)
}

func appendVar(buf, field []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(field)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, field...)
}

func takeFixed(buf []byte, size int) (field, rest []byte, err error) {
	if len(buf) < size {
		return nil, nil, newErr(KindProtocol, "truncated fixed-size field")
	}
	return buf[:size], buf[size:], nil
}

func takeVar(buf []byte) (field, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, newErr(KindProtocol, "truncated length prefix")
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint64(n) > uint64(len(buf)) {
		return nil, nil, newErr(KindProtocol, "length prefix exceeds remaining payload")
	}
	return buf[:n], buf[n:], nil
}
