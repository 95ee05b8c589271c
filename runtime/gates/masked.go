package gates

import (
	"crypto/rand"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"
)

// maskedNonceSize is the per-ciphertext nonce length.
const maskedNonceSize = 16

// SecretKey is the client-side key of the masked scheme.
type SecretKey struct {
	k [32]byte
}

// GenerateSecretKey draws a fresh secret key.
func GenerateSecretKey() (*SecretKey, error) {
	sk := &SecretKey{}
	if _, err := rand.Read(sk.k[:]); err != nil {
		return nil, fmt.Errorf("gates: generating secret key: %w", err)
	}
	return sk, nil
}

// LoadSecretKey restores a key written with Bytes.
func LoadSecretKey(data []byte) (*SecretKey, error) {
	if len(data) != len(SecretKey{}.k) {
		return nil, fmt.Errorf("gates: secret key must be %d bytes, got %d", len(SecretKey{}.k), len(data))
	}
	sk := &SecretKey{}
	copy(sk.k[:], data)
	return sk, nil
}

// Bytes serializes the key.
func (sk *SecretKey) Bytes() []byte {
	out := make([]byte, len(sk.k))
	copy(out, sk.k[:])
	return out
}

// Cloud derives the evaluation key handed to the runner. In a real
// gate-bootstrapping backend this would be public key material; the toy
// scheme has to carry the mask key itself, which is exactly why it must
// never be used outside tests and demos.
func (sk *SecretKey) Cloud() *MaskedKey {
	mk := &MaskedKey{}
	mk.k = sk.k
	return mk
}

// MaskedKey is the masked scheme's CloudKey.
type MaskedKey struct {
	k [32]byte
}

// maskedBit is one masked ciphertext: a random nonce plus the bit XORed
// with the keyed mask of that nonce.
type maskedBit struct {
	nonce  [maskedNonceSize]byte
	masked uint8
}

// Masked is the keyed masked gate scheme. Each gate unmasks its operands,
// computes in the clear, and reseals the result under a fresh nonce, so
// ciphertexts are never reused across wires.
type Masked struct {
	allocs atomic.Int64
	frees  atomic.Int64
}

// NewMasked returns a masked scheme.
func NewMasked() *Masked {
	return &Masked{}
}

// Live returns the number of ciphertexts allocated and not yet freed.
func (m *Masked) Live() int64 {
	return m.allocs.Load() - m.frees.Load()
}

// maskOf derives the mask bit for a nonce under k: the low bit of a keyed
// BLAKE2b-256 digest of the nonce.
func maskOf(k *[32]byte, nonce []byte) uint8 {
	h, err := blake2b.New256(k[:])
	if err != nil {
		panic("gates: keyed blake2b: " + err.Error())
	}
	h.Write(nonce)
	return h.Sum(nil)[0] & 1
}

// reseal writes bit into out under a fresh nonce.
func (m *Masked) reseal(out *maskedBit, bit uint8, key *MaskedKey) {
	if _, err := rand.Read(out.nonce[:]); err != nil {
		panic("gates: drawing nonce: " + err.Error())
	}
	out.masked = (bit & 1) ^ maskOf(&key.k, out.nonce[:])
}

// open recovers the plaintext bit of ct.
func (m *Masked) open(ct Ciphertext, key *MaskedKey) uint8 {
	mb := ct.(*maskedBit)
	return mb.masked ^ maskOf(&key.k, mb.nonce[:])
}

// Encrypt seals plaintext bits under sk.
func (m *Masked) Encrypt(sk *SecretKey, bits []uint8) []Ciphertext {
	key := sk.Cloud()
	cts := make([]Ciphertext, len(bits))
	for i, b := range bits {
		ct := m.NewCiphertext(key).(*maskedBit)
		m.reseal(ct, b, key)
		cts[i] = ct
	}
	return cts
}

// Decrypt opens ciphertexts under sk.
func (m *Masked) Decrypt(sk *SecretKey, cts []Ciphertext) []uint8 {
	key := sk.Cloud()
	bits := make([]uint8, len(cts))
	for i, ct := range cts {
		bits[i] = m.open(ct, key)
	}
	return bits
}

func (m *Masked) Name() string { return "masked" }

func (m *Masked) NewCiphertext(key CloudKey) Ciphertext {
	m.allocs.Add(1)
	return &maskedBit{}
}

func (m *Masked) Free(ct Ciphertext) {
	if ct == nil {
		return
	}
	m.frees.Add(1)
}

func (m *Masked) Copy(out, src Ciphertext, key CloudKey) {
	mk := key.(*MaskedKey)
	m.reseal(out.(*maskedBit), m.open(src, mk), mk)
}

func (m *Masked) Constant(out Ciphertext, bit uint8, key CloudKey) {
	mk := key.(*MaskedKey)
	m.reseal(out.(*maskedBit), bit, mk)
}

func (m *Masked) And(out, a, b Ciphertext, key CloudKey) {
	mk := key.(*MaskedKey)
	m.reseal(out.(*maskedBit), m.open(a, mk)&m.open(b, mk), mk)
}

func (m *Masked) Or(out, a, b Ciphertext, key CloudKey) {
	mk := key.(*MaskedKey)
	m.reseal(out.(*maskedBit), m.open(a, mk)|m.open(b, mk), mk)
}

func (m *Masked) Not(out, a Ciphertext, key CloudKey) {
	mk := key.(*MaskedKey)
	m.reseal(out.(*maskedBit), m.open(a, mk)^1, mk)
}

// MarshalCiphertext implements Codec.
func (m *Masked) MarshalCiphertext(ct Ciphertext) ([]byte, error) {
	mb, ok := ct.(*maskedBit)
	if !ok {
		return nil, fmt.Errorf("gates: ciphertext is not a masked bit")
	}
	out := make([]byte, maskedNonceSize+1)
	copy(out, mb.nonce[:])
	out[maskedNonceSize] = mb.masked
	return out, nil
}

// UnmarshalCiphertext implements Codec.
func (m *Masked) UnmarshalCiphertext(data []byte) (Ciphertext, error) {
	if len(data) != maskedNonceSize+1 {
		return nil, fmt.Errorf("gates: masked bit must be %d bytes, got %d", maskedNonceSize+1, len(data))
	}
	mb := m.NewCiphertext(nil).(*maskedBit)
	copy(mb.nonce[:], data[:maskedNonceSize])
	mb.masked = data[maskedNonceSize]
	return mb, nil
}
