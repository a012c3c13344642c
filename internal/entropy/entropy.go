// Package entropy provides the raw randomness sources behind number
// generation.
//
// A Source hands out a fresh byte slice per call. The system source reads
// crypto/rand; the chacha20 source expands a system-seeded key with the
// ChaCha20 keystream and rekeys itself periodically.
package entropy

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// DefaultRawBytes is the number of bytes returned per call unless configured.
const DefaultRawBytes = 32

// Source kinds accepted by New.
const (
	KindSystem   = "system"
	KindChaCha20 = "chacha20"
)

// ErrUnknownSource is returned by New for an unsupported kind.
var ErrUnknownSource = errors.New("unknown entropy source")

// Source returns raw random bytes.
type Source interface {
	RawBytes(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]byte, error)

func (f SourceFunc) RawBytes(ctx context.Context) ([]byte, error) { return f(ctx) }

// New builds the source named by kind, returning size bytes per call.
func New(kind string, size int) (Source, error) {
	switch kind {
	case KindSystem, "":
		return NewSystem(size), nil
	case KindChaCha20:
		return NewChaCha(NewSystem(seedSize), size)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, kind)
	}
}

// System reads from crypto/rand.
type System struct {
	reader io.Reader
	size   int
}

// NewSystem returns a crypto/rand source. size <= 0 selects DefaultRawBytes.
func NewSystem(size int) *System {
	return newSystemReader(rand.Reader, size)
}

func newSystemReader(r io.Reader, size int) *System {
	if size <= 0 {
		size = DefaultRawBytes
	}
	return &System{reader: r, size: size}
}

func (s *System) RawBytes(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := make([]byte, s.size)
	if _, err := io.ReadFull(s.reader, b); err != nil {
		return nil, fmt.Errorf("read system entropy: %w", err)
	}
	return b, nil
}
