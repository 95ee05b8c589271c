// Package runner evaluates a booleanified circuit homomorphically: it
// walks the IR graph in dependency order, dispatches each node to the gate
// provider across a fixed worker pool, and copies the encrypted outputs
// into the caller's buffers.
package runner

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/malchev/fully-homomorphic-encryption/core/invariant"
	"github.com/malchev/fully-homomorphic-encryption/core/ir"
	"github.com/malchev/fully-homomorphic-encryption/core/meta"
	"github.com/malchev/fully-homomorphic-encryption/runtime/gates"
)

// Runner binds a loaded circuit, its metadata, and a gate scheme to a
// worker pool. A Runner is reusable across runs and must be Closed to stop
// its workers; runs are serialized internally.
type Runner struct {
	pkg    *ir.Package
	md     *meta.Metadata
	fn     *ir.Function
	scheme gates.Scheme
	cfg    Config
	pool   *workerPool

	mu     sync.Mutex
	closed bool
}

// New builds a Runner from pre-parsed structures and starts its worker
// pool.
func New(pkg *ir.Package, md *meta.Metadata, scheme gates.Scheme, cfg Config) (*Runner, error) {
	invariant.NotNil(pkg, "pkg")
	invariant.NotNil(md, "md")
	invariant.NotNil(scheme, "scheme")

	fn, ok := pkg.Function(md.TopFuncName)
	if !ok {
		msg := fmt.Sprintf("entry function %q not found in package %s", md.TopFuncName, pkg.Name())
		return nil, newError(CodeMetadataMismatch,
			"%s", withSuggestion(msg, md.TopFuncName, pkg.FunctionNames()))
	}

	if len(fn.Params()) != len(md.Params) {
		return nil, newError(CodeMetadataMismatch,
			"function %s has %d parameters, metadata describes %d",
			fn.Name(), len(fn.Params()), len(md.Params))
	}
	for i, p := range fn.Params() {
		mp := md.Params[i]
		if p.Name() != mp.Name {
			return nil, newError(CodeMetadataMismatch,
				"parameter %d is %q in the IR but %q in the metadata", i, p.Name(), mp.Name)
		}
		if p.Type().FlatBitCount() != mp.Type.FlatBitCount() {
			return nil, newError(CodeMetadataMismatch,
				"parameter %s spans %d bits in the IR but %d in the metadata",
				p.Name(), p.Type().FlatBitCount(), mp.Type.FlatBitCount())
		}
	}

	workers := cfg.Workers
	if workers <= 0 {
		// *2 for hyperthreading opportunities.
		workers = 2 * runtime.NumCPU()
	}

	return &Runner{
		pkg:    pkg,
		md:     md,
		fn:     fn,
		scheme: scheme,
		cfg:    cfg,
		pool:   newWorkerPool(workers),
	}, nil
}

// NewFromStrings parses IR and metadata text and builds a Runner.
func NewFromStrings(irText, metaText string, scheme gates.Scheme, cfg Config) (*Runner, error) {
	pkg, err := ir.ParsePackage(irText)
	if err != nil {
		return nil, &RunError{Code: CodeInvalidIR, Message: "parsing circuit IR", Cause: err}
	}
	md, err := meta.Parse(metaText)
	if err != nil {
		return nil, &RunError{Code: CodeMetadataMismatch, Message: "parsing metadata", Cause: err}
	}
	return New(pkg, md, scheme, cfg)
}

// NewFromFiles reads IR and metadata files and builds a Runner.
func NewFromFiles(irPath, metaPath string, scheme gates.Scheme, cfg Config) (*Runner, error) {
	irText, err := os.ReadFile(irPath)
	if err != nil {
		return nil, &RunError{Code: CodeInvalidIR, Message: "reading circuit IR", Cause: err}
	}
	metaText, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, &RunError{Code: CodeMetadataMismatch, Message: "reading metadata", Cause: err}
	}
	return NewFromStrings(string(irText), string(metaText), scheme, cfg)
}

// Metadata returns the runner's validated metadata.
func (r *Runner) Metadata() *meta.Metadata { return r.md }

// Package returns the loaded circuit package.
func (r *Runner) Package() *ir.Package { return r.pkg }

// Function returns the entry function.
func (r *Runner) Function() *ir.Function { return r.fn }

// Close stops the worker pool. The Runner cannot run again afterwards.
func (r *Runner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.pool.Close()
}

// Run evaluates the circuit.
//
// result receives the primary return value and must be nil exactly when
// the function returns void; args maps every parameter name to its flat
// ciphertext vector, input bits already encrypted by the caller. Buffers
// are borrowed for the duration of the call. Output-binding parameters are
// written back through args; every intermediate ciphertext the run
// allocates is freed before Run returns.
func (r *Runner) Run(result []gates.Ciphertext, args map[string][]gates.Ciphertext,
	key gates.CloudKey,
) (*RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	invariant.Precondition(!r.closed, "runner used after Close")

	if err := r.checkBindings(result, args); err != nil {
		return nil, err
	}

	start := time.Now()
	res := &RunResult{}
	res.recordDebugEvent(DebugRounds, r.cfg.Debug, "run_start", 0,
		fmt.Sprintf("nodes=%d workers=%d", len(r.fn.Nodes()), r.pool.size))

	ec := &evalContext{
		scheme: r.scheme,
		key:    key,
		args:   args,
		fn:     r.fn,
	}

	// Intermediate ciphertexts, indexed by node id. The table owns every
	// non-nil entry until the run ends, success or not.
	values := make(map[uint64]gates.Ciphertext, len(r.fn.Nodes()))
	defer func() {
		for _, v := range values {
			if v != nil {
				r.scheme.Free(v)
			}
		}
	}()

	if err := r.schedule(ec, values, res); err != nil {
		return nil, err
	}

	coll := &collector{ec: ec, values: values}
	if err := coll.collectOutputs(r.md, result, args); err != nil {
		return nil, err
	}

	res.GateCalls = ec.gateCalls.Load()
	res.CollectCopies = coll.copies
	res.Duration = time.Since(start)
	res.recordDebugEvent(DebugRounds, r.cfg.Debug, "run_complete", 0,
		fmt.Sprintf("rounds=%d gates=%d", res.Rounds, res.GateCalls))
	return res, nil
}

// checkBindings verifies the caller's buffers against the metadata before
// any evaluation starts.
func (r *Runner) checkBindings(result []gates.Ciphertext, args map[string][]gates.Ciphertext) error {
	if len(args) != len(r.md.Params) {
		return newError(CodeMetadataMismatch,
			"function %s takes %d parameters, %d bound", r.fn.Name(), len(r.md.Params), len(args))
	}
	for _, p := range r.md.Params {
		buf, ok := args[p.Name]
		if !ok {
			names := make([]string, 0, len(args))
			for name := range args {
				names = append(names, name)
			}
			msg := fmt.Sprintf("parameter %q has no argument binding", p.Name)
			return newError(CodeMetadataMismatch, "%s", withSuggestion(msg, p.Name, names))
		}
		if want := p.Type.FlatBitCount(); len(buf) != want {
			return newError(CodeMetadataMismatch,
				"argument %s has %d bits, parameter needs %d", p.Name, len(buf), want)
		}
	}

	if r.md.Return.AsVoid {
		if result != nil {
			return newError(CodeVoidWithResult,
				"return value requested for a void-returning function")
		}
		return nil
	}

	want := r.PrimaryReturnBits()
	if len(result) != want {
		return newError(CodeMetadataMismatch,
			"result buffer has %d bits, return value needs %d", len(result), want)
	}
	return nil
}

// PrimaryReturnBits is the flat width of the primary return element: the
// first element when the return node is a tuple carrying back-writes, the
// whole return otherwise. Callers size their result buffer with it.
func (r *Runner) PrimaryReturnBits() int {
	if r.md.Return.AsVoid {
		return 0
	}
	ret := r.fn.Return()
	if ret.Type().Kind == ir.TupleKind && ret.OperandCount() > 0 {
		return ret.Operand(0).Type().FlatBitCount()
	}
	return ret.Type().FlatBitCount()
}
