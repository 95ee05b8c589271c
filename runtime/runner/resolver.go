package runner

import (
	"github.com/malchev/fully-homomorphic-encryption/core/invariant"
	"github.com/malchev/fully-homomorphic-encryption/core/ir"
)

// sliceAddr is a resolved bit-slice source: a parameter name and the flat
// bit offset into that parameter's ciphertext vector. An overflow address
// marks a shift past the source width, which evaluates to a no-op.
type sliceAddr struct {
	param    string
	index    int
	overflow bool
}

// assertChainNode enforces the bit-slice chain whitelist: walking toward
// the root may only ever cross array indexes, bit slices, shifts, tuple
// indexes, and the eventual parameter. Anything else means the loader let a
// malformed circuit through, which is a bug, not an input error.
func assertChainNode(n *ir.Node) {
	invariant.Invariant(
		n.IsArrayIndex() || n.IsBitSlice() || n.IsShrl() || n.IsParam() || n.IsTupleIndex(),
		"invalid node %s in bit-slice chain", n)
}

// resolveBitSlice reduces a bit_slice node to the parameter it reads and
// the flat bit offset within it.
//
// Three shapes occur. Slicing through an array_index lands on the indexed
// element's bit range, so the offset is element-bits times the literal
// index plus the slice start. Slicing a parameter or tuple_index directly
// uses the slice start as-is. Anything else is an interior shift chain:
// each step toward the root moves the source one bit, so the offset is the
// chain length.
func resolveBitSlice(n *ir.Node) (sliceAddr, error) {
	slice := n.AsBitSlice()
	op := slice.Arg()
	sliceIdx := 0

	switch {
	case op.IsArrayIndex():
		ai := op.AsArrayIndex()
		arrayType := ai.Array().Type()
		invariant.Invariant(arrayType.Kind == ir.ArrayKind,
			"array_index %s applied to non-array %s", op, arrayType)

		// Only literal indices into single-dimensional arrays are
		// supported. Extending past 1-d means walking the index chain and
		// accumulating the offset from element zero at each level.
		indices := ai.Indices()
		if len(indices) != 1 {
			return sliceAddr{}, newError(CodeUnsupportedIndex,
				"only single-dimensional arrays/array indices are supported").
				WithContext("node", n.Name())
		}
		if !indices[0].IsLiteral() {
			return sliceAddr{}, newError(CodeUnsupportedIndex,
				"only literal indexes into arrays are supported").
				WithContext("node", n.Name())
		}
		concreteIndex := indices[0].AsLiteral().Value

		sliceIdx = arrayType.Elem.FlatBitCount()*int(concreteIndex) + slice.Start

		for !op.IsParam() {
			op = op.Operand(0)
			assertChainNode(op)
		}

	case op.IsParam() || op.IsTupleIndex():
		sliceIdx = slice.Start

	default:
		// Interior shift chain: walk up until a param or tuple_index,
		// one bit per step.
		for !(op.IsParam() || op.IsTupleIndex()) {
			sliceIdx++
			op = op.Operand(0)
			assertChainNode(op)
		}
	}

	// A shift right past the source width is a no-op bit.
	if op.Type().FlatBitCount() == sliceIdx {
		return sliceAddr{overflow: true}, nil
	}

	paramName := op.Name()
	if op.IsTupleIndex() || op.IsArrayIndex() {
		paramName = op.Operand(0).Name()
	}

	invariant.InRange(sliceIdx, 0, op.Type().FlatBitCount()-1, "resolved slice index")
	return sliceAddr{param: paramName, index: sliceIdx}, nil
}
