package cryptoprim

import (
	"crypto/rand"
	"crypto/rsa"
)

// MaxRSAPlaintext is the largest plaintext spec.md promises PKCS#1
// v1.5 padding can carry for a 2048-bit key (a 32-byte AES key is well
// within this bound).
const MaxRSAPlaintext = 190

// EncryptRSA wraps plaintext for pub using PKCS#1 v1.5 padding, the
// scheme spec.md §3 mandates for the embedded AES key.
func EncryptRSA(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxRSAPlaintext {
		return nil, newError(KindPadding, "plaintext exceeds PKCS#1 v1.5 bound")
	}
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, pub, plaintext)
	if err != nil {
		return nil, newError(KindPadding, "rsa encrypt failed")
	}
	return ct, nil
}

// DecryptRSA unwraps ciphertext with priv. Failure reasons (padding
// oracle details included) are collapsed into a single opaque Error so
// that, per spec.md §4.1, no information about *why* decryption failed
// crosses a package boundary — let alone the wire.
func DecryptRSA(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	pt, err := rsa.DecryptPKCS1v15(rand.Reader, priv, ciphertext)
	if err != nil {
		return nil, newError(KindPadding, "rsa decrypt failed")
	}
	return pt, nil
}

// challengeProofDomain is prepended to the challenge before signing so
// a signature produced for the handshake proof cannot be replayed as a
// valid signature for an unrelated purpose.
const challengeProofDomain = "fttd-auth-challenge-v1"

// SignChallenge produces the handshake proof described in
// SPEC_FULL.md §4.4: an RSASSA-PKCS1-v1_5 signature, under priv, of
// SHA-256(challengeProofDomain || challenge).
func SignChallenge(priv *rsa.PrivateKey, challenge []byte) ([]byte, error) {
	digest := digestChallenge(challenge)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, cryptoSHA256, digest[:])
	if err != nil {
		return nil, newError(KindPadding, "challenge signing failed")
	}
	return sig, nil
}

// VerifyChallenge checks the proof SignChallenge produced, using the
// connector's public key exchanged earlier in the same session.
func VerifyChallenge(pub *rsa.PublicKey, challenge, proof []byte) error {
	digest := digestChallenge(challenge)
	if err := rsa.VerifyPKCS1v15(pub, cryptoSHA256, digest[:], proof); err != nil {
		return newError(KindPadding, "challenge proof does not verify")
	}
	return nil
}

func digestChallenge(challenge []byte) [32]byte {
	return SHA256(append([]byte(challengeProofDomain), challenge...))
}
