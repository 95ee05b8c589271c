package runner

import (
	"fmt"
	"time"

	"github.com/malchev/fully-homomorphic-encryption/core/invariant"
	"github.com/malchev/fully-homomorphic-encryption/runtime/gates"
)

// schedule drains the circuit in dependency-driven rounds.
//
// Each round scans the remaining nodes, enqueues every node whose operands
// already have value-table entries, and waits for exactly that many
// completions before the next scan. The coordinator is the only writer of
// the value table and the unevaluated set; the round barrier is what makes
// a producer's value-table write happen before any consumer's readiness
// test.
func (r *Runner) schedule(ec *evalContext, values map[uint64]gates.Ciphertext, res *RunResult) error {
	nodes := r.fn.Nodes()

	unevaluated := make(map[uint64]struct{}, len(nodes))
	for _, n := range nodes {
		unevaluated[n.ID()] = struct{}{}
	}

	var firstErr error
	for len(unevaluated) > 0 {
		res.Rounds++
		roundStart := time.Now()
		gatesBefore := ec.gateCalls.Load()

		// Scan ahead for nodes whose operands are all available. Nodes are
		// visited in definition order so rounds are deterministic.
		var ready []readyWork
		for _, n := range nodes {
			if _, pending := unevaluated[n.ID()]; !pending {
				continue
			}
			operands := make([]gates.Ciphertext, n.OperandCount())
			allReady := true
			for i, operand := range n.Operands() {
				v, ok := values[operand.ID()]
				if !ok {
					allReady = false
					break
				}
				operands[i] = v
			}
			if allReady {
				ready = append(ready, readyWork{node: n, operands: operands, ec: ec})
			}
		}

		// An acyclic, referentially closed circuit always has a minimal
		// unevaluated node, so an empty round means the loader let a bad
		// graph through.
		invariant.Invariant(len(ready) > 0,
			"scheduler round %d made no progress with %d nodes pending", res.Rounds, len(unevaluated))

		res.recordDebugEvent(DebugRounds, r.cfg.Debug, "round_start", 0,
			fmt.Sprintf("ready=%d pending=%d", len(ready), len(unevaluated)))

		// Feed the pool and harvest exactly len(ready) completions,
		// interleaving so a round larger than the queue capacity cannot
		// wedge the coordinator.
		sent, received := 0, 0
		for received < len(ready) {
			if sent < len(ready) {
				select {
				case r.pool.input <- ready[sent]:
					sent++
					continue
				case done := <-r.pool.output:
					r.retire(done, values, unevaluated, res, &firstErr)
					received++
				}
			} else {
				done := <-r.pool.output
				r.retire(done, values, unevaluated, res, &firstErr)
				received++
			}
		}

		if firstErr != nil {
			return firstErr
		}

		if r.cfg.Telemetry >= TelemetryTiming {
			res.RoundTimings = append(res.RoundTimings, RoundTiming{
				Round:     res.Rounds,
				Nodes:     len(ready),
				GateCalls: ec.gateCalls.Load() - gatesBefore,
				Duration:  time.Since(roundStart),
			})
		}
	}

	invariant.Postcondition(len(values) == len(nodes),
		"value table holds %d entries for %d nodes", len(values), len(nodes))
	return nil
}

// retire records one completed node. Even when evaluation failed the node
// is marked complete so the round's completion count stays balanced and
// the remaining in-flight work can drain.
func (r *Runner) retire(done completedWork, values map[uint64]gates.Ciphertext,
	unevaluated map[uint64]struct{}, res *RunResult, firstErr *error,
) {
	if done.err != nil && *firstErr == nil {
		*firstErr = done.err
	}

	_, dup := values[done.node.ID()]
	invariant.Invariant(!dup, "node %s evaluated twice", done.node.Name())

	values[done.node.ID()] = done.ct
	delete(unevaluated, done.node.ID())
	res.NodesEvaluated++

	res.recordDebugEvent(DebugNodes, r.cfg.Debug, "node_complete", done.node.ID(),
		fmt.Sprintf("op=%s nil=%t", done.node.Op(), done.ct == nil))
}
