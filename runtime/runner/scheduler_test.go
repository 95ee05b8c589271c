package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malchev/fully-homomorphic-encryption/core/ir"
	"github.com/malchev/fully-homomorphic-encryption/core/meta"
	"github.com/malchev/fully-homomorphic-encryption/runtime/gates"
)

// TestValueTableClassification drives the scheduler directly and checks
// the value table afterwards: exactly one entry per node, non-nil exactly
// for gate results, live bit slices, and single-bit literals.
func TestValueTableClassification(t *testing.T) {
	t.Parallel()

	b := ir.NewFunctionBuilder("f")
	a := b.Param("a", ir.ArrayOf(ir.Bits(2), 2))
	idx := b.Literal(1, ir.Bits(32)) // wide literal: array index only
	ai := b.ArrayIndex(a, idx)
	s1 := b.BitSlice(ai, 0, 1)
	one := b.Literal(1, ir.Bits(1))
	g := b.And(s1, one)
	b.Return(b.Tuple(g))
	fn, err := b.Build()
	require.NoError(t, err)

	md := &meta.Metadata{
		TopFuncName: "f",
		Return:      meta.ReturnType{AsVoid: true},
		Params:      []meta.Param{{Name: "a", Type: ir.ArrayOf(ir.Bits(2), 2), IsReference: true}},
	}
	scheme := gates.NewCleartext()
	r, err := New(mustPackage(t, fn), md, scheme, Config{Workers: 2})
	require.NoError(t, err)
	defer r.Close()

	ec := &evalContext{
		scheme: scheme,
		key:    scheme.Key(),
		args:   map[string][]gates.Ciphertext{"a": scheme.Encrypt([]uint8{1, 0, 0, 1})},
		fn:     fn,
	}
	values := make(map[uint64]gates.Ciphertext, len(fn.Nodes()))
	res := &RunResult{}
	require.NoError(t, r.schedule(ec, values, res))

	require.Len(t, values, len(fn.Nodes()), "exactly one entry per node")
	for _, n := range fn.Nodes() {
		v, ok := values[n.ID()]
		require.True(t, ok, "node %s missing", n.Name())

		wantNonNil := n.Op().Gate() ||
			(n.IsBitSlice()) ||
			(n.IsLiteral() && n.Type().Equal(ir.Bits(1)))
		assert.Equal(t, wantNonNil, v != nil, "node %s (%s)", n.Name(), n.Op())
	}

	for _, v := range values {
		if v != nil {
			scheme.Free(v)
		}
	}
	assert.Equal(t, int64(4), scheme.Live(), "only the argument bits stay live")
}

// TestScheduleRoundsFollowDepth verifies that rounds mirror dependency
// depth: a node runs in the round after its deepest operand.
func TestScheduleRoundsFollowDepth(t *testing.T) {
	t.Parallel()

	// slice -> not -> not: params+literal-free chain of depth 4
	// (param, slice, not, not), one ready node per round after round 1.
	b := ir.NewFunctionBuilder("f")
	x := b.Param("x", ir.Bits(1))
	s := b.BitSlice(x, 0, 1)
	n1 := b.Not(s)
	b.Return(b.Not(n1))
	fn, err := b.Build()
	require.NoError(t, err)

	h := newHarness(t, mustPackage(t, fn), singleBitMeta("x"), Config{
		Workers:   4,
		Telemetry: TelemetryTiming,
	})
	out, _, res := h.run(1, map[string][]uint8{"x": {1}})
	assert.Equal(t, []uint8{1}, out)
	assert.Equal(t, 4, res.Rounds)
	require.Len(t, res.RoundTimings, 4)
	assert.Equal(t, 1, res.RoundTimings[0].Nodes, "only the param is minimal")
}
