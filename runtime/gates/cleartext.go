package gates

import (
	"fmt"
	"sync/atomic"
)

// clearBit is the cleartext ciphertext: one unencrypted bit.
type clearBit struct {
	v uint8
}

// ClearKey is the cleartext scheme's evaluation key. It carries nothing;
// it exists so the runner's key plumbing is exercised unchanged.
type ClearKey struct{}

// Cleartext is the unencrypted gate scheme. Allocation and free counts are
// tracked so tests can assert the runner releases every intermediate
// ciphertext exactly once.
type Cleartext struct {
	allocs atomic.Int64
	frees  atomic.Int64
}

// NewCleartext returns a cleartext scheme.
func NewCleartext() *Cleartext {
	return &Cleartext{}
}

// Key returns the scheme's (empty) evaluation key.
func (c *Cleartext) Key() *ClearKey {
	return &ClearKey{}
}

// Live returns the number of ciphertexts allocated and not yet freed.
func (c *Cleartext) Live() int64 {
	return c.allocs.Load() - c.frees.Load()
}

// Encrypt wraps plaintext bits as ciphertexts.
func (c *Cleartext) Encrypt(bits []uint8) []Ciphertext {
	cts := make([]Ciphertext, len(bits))
	for i, b := range bits {
		ct := c.NewCiphertext(nil)
		ct.(*clearBit).v = b & 1
		cts[i] = ct
	}
	return cts
}

// Decrypt unwraps ciphertexts back to plaintext bits.
func (c *Cleartext) Decrypt(cts []Ciphertext) []uint8 {
	bits := make([]uint8, len(cts))
	for i, ct := range cts {
		bits[i] = ct.(*clearBit).v
	}
	return bits
}

func (c *Cleartext) Name() string { return "cleartext" }

func (c *Cleartext) NewCiphertext(key CloudKey) Ciphertext {
	c.allocs.Add(1)
	return &clearBit{}
}

func (c *Cleartext) Free(ct Ciphertext) {
	if ct == nil {
		return
	}
	c.frees.Add(1)
}

func (c *Cleartext) Copy(out, src Ciphertext, key CloudKey) {
	out.(*clearBit).v = src.(*clearBit).v
}

func (c *Cleartext) Constant(out Ciphertext, bit uint8, key CloudKey) {
	out.(*clearBit).v = bit & 1
}

func (c *Cleartext) And(out, a, b Ciphertext, key CloudKey) {
	out.(*clearBit).v = a.(*clearBit).v & b.(*clearBit).v
}

func (c *Cleartext) Or(out, a, b Ciphertext, key CloudKey) {
	out.(*clearBit).v = a.(*clearBit).v | b.(*clearBit).v
}

func (c *Cleartext) Not(out, a Ciphertext, key CloudKey) {
	out.(*clearBit).v = a.(*clearBit).v ^ 1
}

// MarshalCiphertext implements Codec.
func (c *Cleartext) MarshalCiphertext(ct Ciphertext) ([]byte, error) {
	cb, ok := ct.(*clearBit)
	if !ok {
		return nil, fmt.Errorf("gates: ciphertext is not a cleartext bit")
	}
	return []byte{cb.v}, nil
}

// UnmarshalCiphertext implements Codec.
func (c *Cleartext) UnmarshalCiphertext(data []byte) (Ciphertext, error) {
	if len(data) != 1 {
		return nil, fmt.Errorf("gates: cleartext bit must be 1 byte, got %d", len(data))
	}
	ct := c.NewCiphertext(nil)
	ct.(*clearBit).v = data[0] & 1
	return ct, nil
}
