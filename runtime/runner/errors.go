package runner

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Code classifies run failures.
const (
	// CodeInvalidIR covers loads of malformed circuits: unknown opcodes,
	// dangling operands, and other IR text the parser rejects. Bad
	// bit-slice chain shapes are not checked at load; they trip an
	// invariant during evaluation.
	CodeInvalidIR = "INVALID_IR"

	// CodeMetadataMismatch means the metadata disagrees with the IR or the
	// caller's bindings: wrong entry name, parameter count, name, or width.
	CodeMetadataMismatch = "METADATA_MISMATCH"

	// CodeUnsupportedIndex is a non-literal or multi-dimensional array
	// index in a bit-slice chain.
	CodeUnsupportedIndex = "UNSUPPORTED_INDEX"

	// CodeVoidWithResult means a result buffer was supplied for a
	// void-returning function.
	CodeVoidWithResult = "VOID_WITH_RESULT"

	// CodeOutputParamMismatch means the return tuple carries more
	// back-writes than there are output-binding parameters.
	CodeOutputParamMismatch = "OUTPUT_PARAM_MISMATCH"
)

// RunError is the structured error surfaced to Run callers.
type RunError struct {
	Code    string
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap allows error unwrapping.
func (e *RunError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair to the error.
func (e *RunError) WithContext(key string, value interface{}) *RunError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// newError creates a RunError with a formatted message.
func newError(code, format string, args ...interface{}) *RunError {
	return &RunError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is a RunError with the given code.
func IsCode(err error, code string) bool {
	var re *RunError
	return errors.As(err, &re) && re.Code == code
}

// suggest returns the candidate closest to name, or "" when nothing is
// near enough to be a plausible typo.
func suggest(name string, candidates []string) string {
	ranks := fuzzy.RankFindNormalizedFold(name, candidates)
	if len(ranks) == 0 {
		return ""
	}
	sort.Sort(ranks)
	return ranks[0].Target
}

// withSuggestion appends a did-you-mean hint when one exists.
func withSuggestion(msg, name string, candidates []string) string {
	if hint := suggest(name, candidates); hint != "" {
		return fmt.Sprintf("%s (did you mean %q?)", msg, hint)
	}
	return msg
}
