package ir

import (
	"fmt"
)

// FunctionBuilder assembles a Function node by node. Operands must already
// have been created through the same builder, which keeps the body acyclic
// and referentially closed without a separate validation pass.
//
// The builder records the first construction error and reports it from
// Build; intermediate calls can be chained without per-call checks.
type FunctionBuilder struct {
	name   string
	nodes  []*Node
	params []*Node
	ret    *Node
	nextID uint64
	err    error
}

// NewFunctionBuilder starts a builder for a function with the given name.
func NewFunctionBuilder(name string) *FunctionBuilder {
	return &FunctionBuilder{name: name}
}

func (b *FunctionBuilder) fail(format string, args ...interface{}) *Node {
	if b.err == nil {
		b.err = fmt.Errorf("ir: "+format, args...)
	}
	// Poison node so chained calls stay nil-safe.
	return b.add(&Node{op: OpLiteral, typ: Bits(1), name: "<error>"})
}

func (b *FunctionBuilder) add(n *Node) *Node {
	b.nextID++
	n.id = b.nextID
	if n.name == "" {
		n.name = fmt.Sprintf("%s.%d", n.op, n.id)
	}
	b.nodes = append(b.nodes, n)
	return n
}

// Param declares a parameter node. Parameter order follows call order.
func (b *FunctionBuilder) Param(name string, t *Type) *Node {
	n := b.add(&Node{op: OpParam, typ: t, name: name})
	b.params = append(b.params, n)
	return n
}

// Literal creates a literal node of the given type.
func (b *FunctionBuilder) Literal(value uint64, t *Type) *Node {
	return b.add(&Node{op: OpLiteral, typ: t, literal: value})
}

// BitSlice extracts width bits of arg beginning at start.
func (b *FunctionBuilder) BitSlice(arg *Node, start, width int) *Node {
	return b.add(&Node{
		op:         OpBitSlice,
		typ:        Bits(width),
		operands:   []*Node{arg},
		sliceStart: start,
		sliceWidth: width,
	})
}

// Shrl is a logical shift right of value by amount.
func (b *FunctionBuilder) Shrl(value, amount *Node) *Node {
	return b.add(&Node{op: OpShrl, typ: value.typ, operands: []*Node{value, amount}})
}

// Concat concatenates its operands, first operand in the most significant
// position, as the IR's big-endian layout requires.
func (b *FunctionBuilder) Concat(args ...*Node) *Node {
	width := 0
	for _, a := range args {
		if a.typ.Kind != BitsKind {
			return b.fail("concat operand %s is not bits-typed", a.name)
		}
		width += a.typ.Width
	}
	return b.add(&Node{op: OpConcat, typ: Bits(width), operands: append([]*Node(nil), args...)})
}

// ArrayIndex indexes array with the given index nodes, one per dimension.
func (b *FunctionBuilder) ArrayIndex(array *Node, indices ...*Node) *Node {
	t := array.typ
	for range indices {
		if t.Kind != ArrayKind {
			return b.fail("array_index into non-array %s", array.name)
		}
		t = t.Elem
	}
	operands := append([]*Node{array}, indices...)
	return b.add(&Node{op: OpArrayIndex, typ: t, operands: operands, indexCount: len(indices)})
}

// TupleIndex selects field index of tuple.
func (b *FunctionBuilder) TupleIndex(tuple *Node, index int) *Node {
	if tuple.typ.Kind != TupleKind || index < 0 || index >= len(tuple.typ.Fields) {
		return b.fail("tuple_index %d out of range for %s", index, tuple.name)
	}
	return b.add(&Node{
		op:         OpTupleIndex,
		typ:        tuple.typ.Fields[index],
		operands:   []*Node{tuple},
		tupleIndex: index,
	})
}

// Array aggregates elements into an array of the given element type.
func (b *FunctionBuilder) Array(elem *Type, elems ...*Node) *Node {
	return b.add(&Node{
		op:       OpArray,
		typ:      ArrayOf(elem, len(elems)),
		operands: append([]*Node(nil), elems...),
	})
}

// Tuple aggregates elements into a tuple.
func (b *FunctionBuilder) Tuple(elems ...*Node) *Node {
	fields := make([]*Type, len(elems))
	for i, e := range elems {
		fields[i] = e.typ
	}
	return b.add(&Node{op: OpTuple, typ: TupleOf(fields...), operands: append([]*Node(nil), elems...)})
}

// And creates a two-input AND gate node.
func (b *FunctionBuilder) And(x, y *Node) *Node {
	return b.add(&Node{op: OpAnd, typ: Bits(1), operands: []*Node{x, y}})
}

// Or creates a two-input OR gate node.
func (b *FunctionBuilder) Or(x, y *Node) *Node {
	return b.add(&Node{op: OpOr, typ: Bits(1), operands: []*Node{x, y}})
}

// Not creates a NOT gate node.
func (b *FunctionBuilder) Not(x *Node) *Node {
	return b.add(&Node{op: OpNot, typ: Bits(1), operands: []*Node{x}})
}

// Return designates the function's return node.
func (b *FunctionBuilder) Return(n *Node) {
	b.ret = n
}

// Build finalizes the function.
func (b *FunctionBuilder) Build() (*Function, error) {
	if b.err != nil {
		return nil, b.err
	}
	f := &Function{
		name:   b.name,
		params: b.params,
		ret:    b.ret,
		nodes:  b.nodes,
	}
	if err := f.finalize(); err != nil {
		return nil, err
	}
	return f, nil
}

// NewPackage bundles functions into a package.
func NewPackage(name string, fns ...*Function) (*Package, error) {
	p := &Package{name: name, funcs: make(map[string]*Function, len(fns))}
	for _, f := range fns {
		if _, dup := p.funcs[f.name]; dup {
			return nil, fmt.Errorf("ir: duplicate function %s in package %s", f.name, name)
		}
		p.funcs[f.name] = f
	}
	return p, nil
}
