package cryptoprim

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
)

// KeyBits is the fixed RSA modulus size spec.md mandates for every
// key pair this module generates or accepts.
const KeyBits = 2048

const (
	privateKeyPEMType = "RSA PRIVATE KEY"
	publicKeyPEMType  = "RSA PUBLIC KEY"

	// privateKeyFileMode restricts the private key file to
	// owner-readable on write, per spec.md §3.
	privateKeyFileMode = 0600
	publicKeyFileMode  = 0644
)

// GenerateKeyPair produces a fresh RSA-2048 key pair sourced from the
// platform CSPRNG. RSA key generation is CPU-bound and comparatively
// slow; callers on a cooperatively scheduled I/O runtime should run it
// off the hot path.
func GenerateKeyPair() (*rsa.PrivateKey, *rsa.PublicKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, nil, newError(KindKeySize, "rsa key generation failed")
	}
	return priv, &priv.PublicKey, nil
}

// EncodePrivateKey serializes priv as PEM-wrapped PKCS#1.
func EncodePrivateKey(priv *rsa.PrivateKey) []byte {
	block := &pem.Block{Type: privateKeyPEMType, Bytes: x509.MarshalPKCS1PrivateKey(priv)}
	return pem.EncodeToMemory(block)
}

// EncodePublicKey serializes pub as PEM-wrapped PKCS#1.
func EncodePublicKey(pub *rsa.PublicKey) []byte {
	block := &pem.Block{Type: publicKeyPEMType, Bytes: x509.MarshalPKCS1PublicKey(pub)}
	return pem.EncodeToMemory(block)
}

// DecodePrivateKey parses a PEM-wrapped PKCS#1 RSA private key and
// verifies it carries the expected modulus size.
func DecodePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, newError(KindMalformedPEM, "no PEM block found")
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, newError(KindMalformedPEM, "invalid PKCS#1 private key")
	}
	if priv.N.BitLen() != KeyBits {
		return nil, newError(KindKeySize, "unexpected key size")
	}
	return priv, nil
}

// DecodePublicKey parses a PEM-wrapped PKCS#1 RSA public key and
// verifies it carries the expected modulus size.
func DecodePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, newError(KindMalformedPEM, "no PEM block found")
	}
	pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, newError(KindMalformedPEM, "invalid PKCS#1 public key")
	}
	if pub.N.BitLen() != KeyBits {
		return nil, newError(KindKeySize, "unexpected key size")
	}
	return pub, nil
}

// SavePrivateKey writes priv to path as PEM-wrapped PKCS#1, creating
// or truncating the file with owner-only read/write permissions.
func SavePrivateKey(priv *rsa.PrivateKey, path string) error {
	if err := os.WriteFile(path, EncodePrivateKey(priv), privateKeyFileMode); err != nil {
		return err
	}
	// os.WriteFile applies the mode only when it creates the file.
	return os.Chmod(path, privateKeyFileMode)
}

// SavePublicKey writes pub to path as PEM-wrapped PKCS#1.
func SavePublicKey(pub *rsa.PublicKey, path string) error {
	return os.WriteFile(path, EncodePublicKey(pub), publicKeyFileMode)
}

// LoadPrivateKey reads and decodes the private key at path.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodePrivateKey(data)
}

// LoadPublicKey reads and decodes the public key at path.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodePublicKey(data)
}
