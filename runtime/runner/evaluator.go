package runner

import (
	"sync/atomic"

	"github.com/malchev/fully-homomorphic-encryption/core/invariant"
	"github.com/malchev/fully-homomorphic-encryption/core/ir"
	"github.com/malchev/fully-homomorphic-encryption/runtime/gates"
)

// evalContext carries the per-run state workers need to evaluate a node.
// Everything here is read-only during a run except the gate counter.
type evalContext struct {
	scheme gates.Scheme
	key    gates.CloudKey
	args   map[string][]gates.Ciphertext
	fn     *ir.Function

	gateCalls atomic.Uint64
}

func (ec *evalContext) countGate() {
	ec.gateCalls.Add(1)
}

// evalNode evaluates one node and returns its ciphertext, or nil for
// structural nodes that exist only as addressing scaffolding.
//
// Operands arrive in the node's operand order and may be nil where the producer was
// structural; gate opcodes require non-nil operands, which the scheduler's
// readiness rule guarantees for well-formed circuits.
func (ec *evalContext) evalNode(n *ir.Node, operands []gates.Ciphertext) (gates.Ciphertext, error) {
	if n.Op().Structural() {
		// Handled as operands of slice nodes.
		return nil, nil
	}

	switch n.Op() {
	case ir.OpBitSlice:
		addr, err := resolveBitSlice(n)
		if err != nil {
			return nil, err
		}
		if addr.overflow {
			return nil, nil
		}
		buf, ok := ec.args[addr.param]
		invariant.Invariant(ok, "bit slice %s resolved to unbound parameter %s", n.Name(), addr.param)
		invariant.InRange(addr.index, 0, len(buf)-1, "slice index")

		out := ec.scheme.NewCiphertext(ec.key)
		ec.scheme.Copy(out, buf[addr.index], ec.key)
		ec.countGate()
		return out, nil

	case ir.OpLiteral:
		typ := n.Type()
		invariant.Invariant(typ.Kind == ir.BitsKind, "literal %s must be bits-typed", n.Name())
		if typ.Width == 1 {
			bit := uint8(1)
			if n.AsLiteral().AllZeros() {
				bit = 0
			}
			out := ec.scheme.NewCiphertext(ec.key)
			ec.scheme.Constant(out, bit, ec.key)
			ec.countGate()
			return out, nil
		}
		// Wider literals exist strictly to pull values out of arrays.
		for _, user := range ec.fn.Users(n) {
			invariant.Invariant(user.IsArrayIndex(), "unsupported literal %s used by %s", n, user)
		}
		return nil, nil

	case ir.OpAnd:
		invariant.Precondition(len(operands) == 2, "and %s needs two operands", n.Name())
		invariant.NotNil(operands[0], "and operand 0")
		invariant.NotNil(operands[1], "and operand 1")
		out := ec.scheme.NewCiphertext(ec.key)
		ec.scheme.And(out, operands[0], operands[1], ec.key)
		ec.countGate()
		return out, nil

	case ir.OpOr:
		invariant.Precondition(len(operands) == 2, "or %s needs two operands", n.Name())
		invariant.NotNil(operands[0], "or operand 0")
		invariant.NotNil(operands[1], "or operand 1")
		out := ec.scheme.NewCiphertext(ec.key)
		ec.scheme.Or(out, operands[0], operands[1], ec.key)
		ec.countGate()
		return out, nil

	case ir.OpNot:
		invariant.Precondition(len(operands) == 1, "not %s needs one operand", n.Name())
		invariant.NotNil(operands[0], "not operand")
		out := ec.scheme.NewCiphertext(ec.key)
		ec.scheme.Not(out, operands[0], ec.key)
		ec.countGate()
		return out, nil
	}

	invariant.Invariant(false, "unsupported node %s", n)
	return nil, nil
}
