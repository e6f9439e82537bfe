package authstore

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set"
)

const hashedPrefix = "sha256:"

// Store is an in-memory set of permitted connect-key hashes. It is
// read-mostly: concurrent Contains calls share a read lock and never
// block each other; Append takes the write lock for its duplicate
// check, file append, and in-memory add, so Contains waits while an
// Append is in progress. Compare spec.md §5 ("concurrent readers are
// allowed without locking if the store is swapped atomically on
// reload; writers use exclusive access").
//
// Open question (spec.md §9, carried forward unresolved): Contains
// does not use a constant-time comparison. The value under test is a
// SHA-256 digest of a secret, not the secret itself, and is already
// non-secret once it has crossed the wire in an AuthResponse frame —
// this implementation's judgment agrees with spec.md that a timing
// oracle here has no exploitable target, and keeps the plain
// mapset.Set lookup the teacher's own code style favors.
type Store struct {
	mu       sync.RWMutex
	hashes   mapset.Set          // of [32]byte
	plain    map[[32]byte]string // hash -> plaintext, only for entries loaded in plaintext form
}

func newStore() *Store {
	return &Store{hashes: mapset.NewSet(), plain: make(map[[32]byte]string)}
}

// HashConnectKey returns SHA-256(connectKey), the only form of a
// connect key ever compared against the store.
func HashConnectKey(connectKey string) [32]byte {
	return sha256.Sum256([]byte(connectKey))
}

// Load parses path: blank lines and lines starting with '#' are
// ignored, trailing whitespace is trimmed. A line of the form
// "sha256:<64 hex chars>" is inserted directly as a pre-hashed entry
// (spec.md §9's at-rest-protection note); any other non-blank line is
// treated as a plaintext connect key and hashed. A missing file is a
// ConfigError — the store fails closed at startup per spec.md §4.3.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{msg: fmt.Sprintf("open whitelist %q", path), err: err}
	}
	defer f.Close()

	s := newStore()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if hexDigest, ok := strings.CutPrefix(line, hashedPrefix); ok {
			hash, err := decodeHexDigest(hexDigest)
			if err != nil {
				return nil, &Error{msg: fmt.Sprintf("malformed %s entry", hashedPrefix), err: err}
			}
			s.hashes.Add(hash)
			continue
		}
		s.addPlaintext(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, &Error{msg: "read whitelist", err: err}
	}
	return s, nil
}

func decodeHexDigest(hexDigest string) ([32]byte, error) {
	var hash [32]byte
	raw, err := hex.DecodeString(hexDigest)
	if err != nil {
		return hash, err
	}
	if len(raw) != len(hash) {
		return hash, fmt.Errorf("digest has %d bytes, want %d", len(raw), len(hash))
	}
	copy(hash[:], raw)
	return hash, nil
}

func (s *Store) addPlaintext(connectKey string) {
	hash := HashConnectKey(connectKey)
	s.hashes.Add(hash)
	s.plain[hash] = connectKey
}

// Contains reports whether hash is a permitted connect-key digest.
// Duplicates inserted via Load or Append are idempotent: membership
// depends only on set membership, never on insertion order or count.
func (s *Store) Contains(hash [32]byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hashes.Contains(hash)
}

// Append adds connectKey to the store and to the file at path, after
// verifying it is not already present by hash. Appending an
// already-present key is a no-op: reloading the file afterward leaves
// the store unchanged, satisfying the idempotence law in spec.md §8.
func (s *Store) Append(connectKey, path string) error {
	hash := HashConnectKey(connectKey)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hashes.Contains(hash) {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return &Error{msg: fmt.Sprintf("open whitelist %q for append", path), err: err}
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, connectKey); err != nil {
		return &Error{msg: "append to whitelist", err: err}
	}

	s.addPlaintext(connectKey)
	return nil
}

// Len reports the number of distinct permitted hashes, for
// diagnostics/logging only.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hashes.Cardinality()
}
