package runner

import (
	"github.com/malchev/fully-homomorphic-encryption/core/invariant"
	"github.com/malchev/fully-homomorphic-encryption/core/ir"
	"github.com/malchev/fully-homomorphic-encryption/core/meta"
	"github.com/malchev/fully-homomorphic-encryption/runtime/gates"
)

// collector walks the structural return tree after the graph has drained
// and copies each leaf ciphertext into its output slot.
type collector struct {
	ec     *evalContext
	values map[uint64]gates.Ciphertext
	copies uint64
}

// collectNodeValue places the bits of n into out starting at offset.
//
// Bits wider than one descend operand by operand with the destination
// offset reversed: the circuit's flat layout is big-endian while the host
// buffers are little-endian, so operand i of an n-bit value lands at
// offset n-1-i. Arrays and tuples are laid out in host order and recurse
// without reversal.
func (c *collector) collectNodeValue(n *ir.Node, out []gates.Ciphertext, offset int) error {
	typ := n.Type()
	switch typ.Kind {
	case ir.BitsKind:
		if typ.Width == 1 {
			// Concats of a single bit add no structure; step to the source.
			for n.IsConcat() {
				n = n.Operand(0)
			}
			v, ok := c.values[n.ID()]
			invariant.Invariant(ok, "output node %s missing from value table", n.Name())
			invariant.NotNil(v, "output bit for "+n.Name())
			invariant.InRange(offset, 0, len(out)-1, "output offset")

			c.ec.scheme.Copy(out[offset], v, c.ec.key)
			c.copies++
			return nil
		}
		for i := 0; i < typ.Width; i++ {
			if err := c.collectNodeValue(n.Operand(i), out, offset+(typ.Width-i-1)); err != nil {
				return err
			}
		}

	case ir.ArrayKind:
		stride := typ.Elem.FlatBitCount()
		for i := 0; i < typ.Size; i++ {
			if err := c.collectNodeValue(n.Operand(i), out, offset+i*stride); err != nil {
				return err
			}
		}

	case ir.TupleKind:
		subOffset := 0
		for i := 0; i < len(typ.Fields); i++ {
			if err := c.collectNodeValue(n.Operand(i), out, offset+subOffset); err != nil {
				return err
			}
			subOffset += n.Operand(i).Type().FlatBitCount()
		}
	}
	return nil
}

// collectOutputs distributes the return node's elements: the primary
// return value into result, then each remaining element into the buffer of
// the next output-binding parameter.
func (c *collector) collectOutputs(md *meta.Metadata, result []gates.Ciphertext,
	args map[string][]gates.Ciphertext,
) error {
	ret := c.ec.fn.Return()

	var elements []*ir.Node
	if ret.Type().Kind == ir.TupleKind {
		elements = ret.Operands()
	} else {
		elements = []*ir.Node{ret}
	}
	if len(elements) == 0 {
		return nil
	}

	outputIdx := 0
	if md.Return.AsVoid {
		if result != nil {
			return newError(CodeVoidWithResult,
				"return value requested for a void-returning function")
		}
	} else {
		if err := c.collectNodeValue(elements[outputIdx], result, 0); err != nil {
			return err
		}
		outputIdx++
	}

	paramIdx := 0
	for ; outputIdx < len(elements); outputIdx++ {
		var bound meta.Param
		found := false
		for paramIdx < len(md.Params) {
			p := md.Params[paramIdx]
			paramIdx++
			if p.OutputBinding() {
				bound = p
				found = true
				break
			}
		}
		if !found {
			return newError(CodeOutputParamMismatch,
				"no matching in/out param for return element %d", outputIdx).
				WithContext("function", c.ec.fn.Name())
		}
		if err := c.collectNodeValue(elements[outputIdx], args[bound.Name], 0); err != nil {
			return err
		}
	}
	return nil
}
