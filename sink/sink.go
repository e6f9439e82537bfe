// Package sink provides the default implementation of the
// persistence collaborator described in spec.md §6: it is handed
// (filename_hint, plaintext) at most once per successful session and
// owns naming, timestamping, extension, and directory choice, none of
// which the protocol core (package transport) knows or cares about.
package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileSink writes delivered blobs under Dir, deriving the on-disk
// name from the sender's filename hint. spec.md places this naming
// convention explicitly out of the protocol core's scope; this is
// just one reasonable default a deployment can swap out.
type FileSink struct {
	Dir string

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// NewFileSink returns a FileSink rooted at dir, creating it if
// necessary.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("sink: create directory %q: %w", dir, err)
	}
	return &FileSink{Dir: dir, now: time.Now}, nil
}

// Deliver implements transport.Sink.
func (s *FileSink) Deliver(filenameHint string, plaintext []byte) error {
	name := s.targetName(filenameHint)
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, plaintext, 0644); err != nil {
		return fmt.Errorf("sink: write %q: %w", path, err)
	}
	return nil
}

func (s *FileSink) targetName(filenameHint string) string {
	base := sanitize(filenameHint)
	if base == "" {
		base = "blob"
	}
	nowFn := s.now
	if nowFn == nil {
		nowFn = time.Now
	}
	return fmt.Sprintf("%s-%d.ftt", base, nowFn().UnixNano())
}

// sanitize strips path separators and leading dots so a filename hint
// from the remote peer can never escape Dir or reference a hidden
// file; spec.md treats the filename as a hint only, not a trusted path.
func sanitize(hint string) string {
	hint = filepath.Base(filepath.Clean("/" + hint))
	hint = strings.TrimLeft(hint, ".")
	if hint == "" || hint == string(filepath.Separator) {
		return ""
	}
	return hint
}
