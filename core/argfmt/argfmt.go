// Package argfmt defines the on-disk container for encrypted argument and
// result vectors exchanged between the client-side encrypt/decrypt steps
// and the evaluating runner.
//
// Layout: MAGIC(4) "FHE1" | VERSION(2) | FLAGS(2) | BODY_LEN(8) | BODY |
// DIGEST(32). The body is canonical CBOR so identical archives are
// byte-for-byte stable; the digest is BLAKE2b-256 of the body and is
// verified on read.
package argfmt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/malchev/fully-homomorphic-encryption/runtime/gates"
)

const (
	// Magic is the file magic number.
	Magic = "FHE1"

	// Version is the container format version, little-endian uint16.
	Version uint16 = 0x0001
)

// Flags is a bitmask for optional container features. None are defined
// yet; readers reject unknown bits.
type Flags uint16

// Vector is one named flat ciphertext vector: Bits[i] is the serialized
// ciphertext of host bit i.
type Vector struct {
	Name string   `cbor:"name"`
	Bits [][]byte `cbor:"bits"`
}

// Archive is a set of named ciphertext vectors produced under one scheme.
type Archive struct {
	Scheme  string   `cbor:"scheme"`
	Vectors []Vector `cbor:"vectors"`
}

// Vector looks a vector up by name.
func (a *Archive) Vector(name string) (Vector, bool) {
	for _, v := range a.Vectors {
		if v.Name == name {
			return v, true
		}
	}
	return Vector{}, false
}

// sortVectors orders vectors by name for deterministic encoding.
func (a *Archive) sortVectors() {
	sort.Slice(a.Vectors, func(i, j int) bool {
		return a.Vectors[i].Name < a.Vectors[j].Name
	})
}

// Seal serializes named ciphertext vectors into an archive using the
// scheme's codec.
func Seal(scheme gates.Scheme, codec gates.Codec, named map[string][]gates.Ciphertext) (*Archive, error) {
	a := &Archive{Scheme: scheme.Name()}
	for name, cts := range named {
		v := Vector{Name: name, Bits: make([][]byte, len(cts))}
		for i, ct := range cts {
			data, err := codec.MarshalCiphertext(ct)
			if err != nil {
				return nil, fmt.Errorf("argfmt: sealing %s[%d]: %w", name, i, err)
			}
			v.Bits[i] = data
		}
		a.Vectors = append(a.Vectors, v)
	}
	a.sortVectors()
	return a, nil
}

// Open deserializes every vector of the archive back into ciphertexts.
func (a *Archive) Open(codec gates.Codec) (map[string][]gates.Ciphertext, error) {
	out := make(map[string][]gates.Ciphertext, len(a.Vectors))
	for _, v := range a.Vectors {
		cts := make([]gates.Ciphertext, len(v.Bits))
		for i, data := range v.Bits {
			ct, err := codec.UnmarshalCiphertext(data)
			if err != nil {
				return nil, fmt.Errorf("argfmt: opening %s[%d]: %w", v.Name, i, err)
			}
			cts[i] = ct
		}
		out[v.Name] = cts
	}
	return out, nil
}

// Write writes the archive to w and returns the body digest.
func Write(w io.Writer, a *Archive) ([32]byte, error) {
	a.sortVectors()

	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return [32]byte{}, fmt.Errorf("argfmt: creating CBOR encoder: %w", err)
	}
	body, err := encMode.Marshal(a)
	if err != nil {
		return [32]byte{}, fmt.Errorf("argfmt: encoding body: %w", err)
	}

	digest := blake2b.Sum256(body)

	var preamble bytes.Buffer
	preamble.WriteString(Magic)
	if err := binary.Write(&preamble, binary.LittleEndian, Version); err != nil {
		return [32]byte{}, err
	}
	if err := binary.Write(&preamble, binary.LittleEndian, uint16(0)); err != nil { // flags
		return [32]byte{}, err
	}
	if err := binary.Write(&preamble, binary.LittleEndian, uint64(len(body))); err != nil {
		return [32]byte{}, err
	}

	if _, err := w.Write(preamble.Bytes()); err != nil {
		return [32]byte{}, err
	}
	if _, err := w.Write(body); err != nil {
		return [32]byte{}, err
	}
	if _, err := w.Write(digest[:]); err != nil {
		return [32]byte{}, err
	}
	return digest, nil
}

// Read parses an archive from r, verifying magic, version, flags, and the
// body digest.
func Read(r io.Reader) (*Archive, [32]byte, error) {
	var zero [32]byte

	header := make([]byte, 4+2+2+8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, zero, fmt.Errorf("argfmt: reading preamble: %w", err)
	}
	if string(header[:4]) != Magic {
		return nil, zero, fmt.Errorf("argfmt: bad magic %q", header[:4])
	}
	version := binary.LittleEndian.Uint16(header[4:6])
	if version != Version {
		return nil, zero, fmt.Errorf("argfmt: unsupported version %#04x", version)
	}
	flags := Flags(binary.LittleEndian.Uint16(header[6:8]))
	if flags != 0 {
		return nil, zero, fmt.Errorf("argfmt: unknown flags %#04x", uint16(flags))
	}
	bodyLen := binary.LittleEndian.Uint64(header[8:16])

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, zero, fmt.Errorf("argfmt: reading body: %w", err)
	}
	var stored [32]byte
	if _, err := io.ReadFull(r, stored[:]); err != nil {
		return nil, zero, fmt.Errorf("argfmt: reading digest: %w", err)
	}

	digest := blake2b.Sum256(body)
	if digest != stored {
		return nil, zero, fmt.Errorf("argfmt: body digest mismatch, file corrupted")
	}

	a := &Archive{}
	if err := cbor.Unmarshal(body, a); err != nil {
		return nil, zero, fmt.Errorf("argfmt: decoding body: %w", err)
	}
	return a, digest, nil
}
