// Package secure holds secret material in protected memory.
//
// Secret values live in a memguard enclave: encrypted at rest in memory,
// mlocked where the OS allows it, wiped when destroyed. Callers use the
// scoped With helper so plaintext exists only for the duration of one
// operation and is erased on every exit path, including panics.
package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Buffer stores one secret value in protected memory.
type Buffer struct {
	enclave *memguard.Enclave
	mu      sync.Mutex
	// destroyed allows idempotent Destroy calls and blocks use after
	// destruction
	destroyed bool
}

// NewBuffer seals the given bytes into a protected buffer. memguard copies
// and wipes the input slice, so callers must not reuse it.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{enclave: memguard.NewEnclave(data)}
}

// NewBufferFromString seals a string value. The byte conversion is a fresh
// copy which memguard wipes; the original string is immutable and left to
// the collector.
func NewBufferFromString(s string) *Buffer {
	return NewBuffer([]byte(s))
}

// With decrypts the secret, passes the plaintext to fn, and wipes the
// plaintext before returning regardless of how fn exits.
func (b *Buffer) With(fn func(plaintext []byte) error) error {
	b.mu.Lock()
	enclave := b.enclave
	destroyed := b.destroyed
	b.mu.Unlock()

	if destroyed || enclave == nil {
		return fn(nil)
	}

	locked, err := enclave.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()

	return fn(locked.Bytes())
}

// Destroy marks the buffer as destroyed. Idempotent; With returns empty
// plaintext afterwards. The encrypted enclave bytes are safe to leave to
// the collector, memguard.Purge in main handles final cleanup.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.enclave = nil
	b.destroyed = true
}

// Destroyed reports whether Destroy has been called.
func (b *Buffer) Destroyed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}
