package runner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malchev/fully-homomorphic-encryption/core/ir"
)

func TestResolveBitSliceParam(t *testing.T) {
	t.Parallel()

	b := ir.NewFunctionBuilder("f")
	x := b.Param("x", ir.Bits(8))
	s := b.BitSlice(x, 3, 1)
	b.Return(s)
	_, err := b.Build()
	require.NoError(t, err)

	addr, rerr := resolveBitSlice(s)
	require.Nil(t, rerr)
	assert.Equal(t, sliceAddr{param: "x", index: 3}, addr)
}

func TestResolveBitSliceArrayIndex(t *testing.T) {
	t.Parallel()

	b := ir.NewFunctionBuilder("f")
	a := b.Param("a", ir.ArrayOf(ir.Bits(8), 3))
	idx := b.Literal(2, ir.Bits(32))
	ai := b.ArrayIndex(a, idx)
	s := b.BitSlice(ai, 3, 1)
	b.Return(s)
	_, err := b.Build()
	require.NoError(t, err)

	addr, rerr := resolveBitSlice(s)
	require.Nil(t, rerr)
	// element 2 starts at bit 16, plus slice start 3.
	assert.Equal(t, sliceAddr{param: "a", index: 19}, addr)
}

func TestResolveBitSliceShrlChain(t *testing.T) {
	t.Parallel()

	b := ir.NewFunctionBuilder("f")
	x := b.Param("x", ir.Bits(4))
	amt := b.Param("amt", ir.Bits(1))
	sh1 := b.Shrl(x, amt)
	sh2 := b.Shrl(sh1, amt)
	s := b.BitSlice(sh2, 0, 1)
	b.Return(s)
	_, err := b.Build()
	require.NoError(t, err)

	// Two chain steps toward the root: bit offset 2.
	addr, rerr := resolveBitSlice(s)
	require.Nil(t, rerr)
	assert.Equal(t, sliceAddr{param: "x", index: 2}, addr)
}

func TestResolveBitSliceOverflow(t *testing.T) {
	t.Parallel()

	b := ir.NewFunctionBuilder("f")
	x := b.Param("x", ir.Bits(1))
	amt := b.Param("amt", ir.Bits(1))
	sh := b.Shrl(x, amt)
	s := b.BitSlice(sh, 0, 1)
	b.Return(s)
	_, err := b.Build()
	require.NoError(t, err)

	// One step past a 1-bit source: an overflow shift, resolved to a no-op.
	addr, rerr := resolveBitSlice(s)
	require.Nil(t, rerr)
	assert.True(t, addr.overflow)
}

func TestResolveBitSliceTupleIndex(t *testing.T) {
	t.Parallel()

	b := ir.NewFunctionBuilder("f")
	p := b.Param("p", ir.TupleOf(ir.Bits(1), ir.Bits(8)))
	ti := b.TupleIndex(p, 1)
	s := b.BitSlice(ti, 2, 1)
	b.Return(s)
	_, err := b.Build()
	require.NoError(t, err)

	addr, rerr := resolveBitSlice(s)
	require.Nil(t, rerr)
	assert.Equal(t, "p", addr.param)
	assert.Equal(t, 2, addr.index)
}

func TestResolveBitSliceMultiDimIndexRejected(t *testing.T) {
	t.Parallel()

	b := ir.NewFunctionBuilder("f")
	a := b.Param("a", ir.ArrayOf(ir.ArrayOf(ir.Bits(4), 2), 3))
	i0 := b.Literal(1, ir.Bits(32))
	i1 := b.Literal(0, ir.Bits(32))
	ai := b.ArrayIndex(a, i0, i1)
	s := b.BitSlice(ai, 0, 1)
	b.Return(s)
	_, err := b.Build()
	require.NoError(t, err)

	_, rerr := resolveBitSlice(s)
	require.Error(t, rerr)
	assert.True(t, IsCode(rerr, CodeUnsupportedIndex))
	assert.Contains(t, rerr.Error(), "single-dimensional")
}

func TestResolveBitSliceNonLiteralIndexRejected(t *testing.T) {
	t.Parallel()

	b := ir.NewFunctionBuilder("f")
	a := b.Param("a", ir.ArrayOf(ir.Bits(4), 2))
	i := b.Param("i", ir.Bits(32))
	ai := b.ArrayIndex(a, i)
	s := b.BitSlice(ai, 0, 1)
	b.Return(s)
	_, err := b.Build()
	require.NoError(t, err)

	_, rerr := resolveBitSlice(s)
	require.Error(t, rerr)
	assert.True(t, IsCode(rerr, CodeUnsupportedIndex))
	assert.Contains(t, rerr.Error(), "literal indexes")
}

func TestResolveBitSliceBadChainPanics(t *testing.T) {
	t.Parallel()

	// A gate node inside a slice chain breaks the chain whitelist, which
	// is an internal inconsistency, not an input error.
	b := ir.NewFunctionBuilder("f")
	x := b.Param("x", ir.Bits(1))
	n := b.Not(x)
	sh := b.Shrl(n, x)
	s := b.BitSlice(sh, 0, 1)
	b.Return(s)
	_, err := b.Build()
	require.NoError(t, err)

	defer func() {
		r := recover()
		require.NotNil(t, r, "expected invariant violation")
		assert.True(t, strings.Contains(r.(string), "bit-slice chain"))
	}()
	_, _ = resolveBitSlice(s)
}
