package runner

import (
	"time"
)

// Config configures a Runner.
type Config struct {
	// Workers sets the worker pool size. Zero means twice the number of
	// online CPUs, to leave room for hyperthreading.
	Workers int

	// Debug controls debug event tracing (development only).
	Debug DebugLevel

	// Telemetry controls run metric collection (production-safe).
	Telemetry TelemetryLevel
}

// DebugLevel controls debug tracing.
type DebugLevel int

const (
	DebugOff    DebugLevel = iota // no debug info (default)
	DebugRounds                   // run start/complete and round start tracing
	DebugNodes                    // per-node completion tracing
)

// TelemetryLevel controls metric collection.
type TelemetryLevel int

const (
	TelemetryOff    TelemetryLevel = iota // counters only (default)
	TelemetryTiming                       // counters plus per-round timings
)

// RunResult holds the metrics of one completed run.
type RunResult struct {
	Duration       time.Duration // total run time
	Rounds         int           // scheduler rounds executed
	NodesEvaluated int           // nodes retired into the value table
	GateCalls      uint64        // gate-library calls during evaluation
	CollectCopies  uint64        // gate copies while collecting outputs

	RoundTimings []RoundTiming // per round (TelemetryTiming only)
	DebugEvents  []DebugEvent  // debug trace (DebugOff disables)
}

// RoundTiming describes one scheduler round.
type RoundTiming struct {
	Round     int           // 1-based round number
	Nodes     int           // nodes evaluated this round
	GateCalls uint64        // gate-library calls made this round
	Duration  time.Duration // wall time of the round
}

// DebugEvent is one debug trace record.
type DebugEvent struct {
	Timestamp time.Time
	Event     string // "round_start", "node_complete", ...
	NodeID    uint64 // 0 when not node-specific
	Context   string
}

// recordDebugEvent appends an event when debug tracing is enabled.
func (res *RunResult) recordDebugEvent(level, enabled DebugLevel, event string, nodeID uint64, context string) {
	if enabled < level {
		return
	}
	res.DebugEvents = append(res.DebugEvents, DebugEvent{
		Timestamp: time.Now(),
		Event:     event,
		NodeID:    nodeID,
		Context:   context,
	})
}
