package entropy

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20"
)

const (
	seedSize = chacha20.KeySize + chacha20.NonceSize

	// rekeyAfter bounds the keystream drawn from a single key.
	rekeyAfter = 1 << 20
)

// ChaCha expands a seed drawn from another source with the ChaCha20
// keystream. It is safe for concurrent use.
type ChaCha struct {
	seed Source
	size int

	mu     sync.Mutex
	cipher *chacha20.Cipher
	drawn  int
}

// NewChaCha creates a keystream source seeded from seed. size <= 0 selects
// DefaultRawBytes.
func NewChaCha(seed Source, size int) (*ChaCha, error) {
	if size <= 0 {
		size = DefaultRawBytes
	}
	c := &ChaCha{seed: seed, size: size}
	if err := c.rekey(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ChaCha) RawBytes(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.drawn+c.size > rekeyAfter {
		if err := c.rekey(ctx); err != nil {
			return nil, err
		}
	}
	out := make([]byte, c.size)
	c.cipher.XORKeyStream(out, out)
	c.drawn += c.size
	return out, nil
}

// rekey replaces the cipher with one keyed from fresh seed bytes.
func (c *ChaCha) rekey(ctx context.Context) error {
	seed, err := c.seed.RawBytes(ctx)
	if err != nil {
		return fmt.Errorf("seed chacha20: %w", err)
	}
	if len(seed) < seedSize {
		return fmt.Errorf("seed chacha20: got %d bytes, need %d", len(seed), seedSize)
	}
	cipher, err := chacha20.NewUnauthenticatedCipher(seed[:chacha20.KeySize], seed[chacha20.KeySize:seedSize])
	if err != nil {
		return fmt.Errorf("init chacha20: %w", err)
	}
	c.cipher = cipher
	c.drawn = 0
	return nil
}
