package pipeline

import (
	"errors"
	"fmt"
)

// Error taxonomy for pipeline runs. SchemaViolation and
// ReferentialIntegrity are recoverable once per gateway call via a
// corrective retry; the rest surface after the call's retry budget is spent.
var (
	// ErrSchemaViolation means a gateway response did not conform to the
	// stage's structured shape.
	ErrSchemaViolation = errors.New("pipeline: response violates stage schema")

	// ErrReferentialIntegrity means a relationship referenced an entity id
	// outside the confirmed set. Treated as a schema-level violation for
	// retry purposes.
	ErrReferentialIntegrity = errors.New("pipeline: edge references entity outside confirmed set")

	// ErrExtractionFailed means a stage exhausted its retry budget. Fatal
	// for the run; no partial graph is returned.
	ErrExtractionFailed = errors.New("pipeline: stage retry budget exhausted")

	// ErrGatewayTimeout means the pending LLM call timed out or was
	// cancelled.
	ErrGatewayTimeout = errors.New("pipeline: llm gateway timed out")

	// ErrGatewayUnavailable means a transport-level failure from the LLM
	// gateway.
	ErrGatewayUnavailable = errors.New("pipeline: llm gateway unavailable")
)

// StageError carries the identity of the failing stage to the caller. The
// caller gets a typed error plus the stage name, never a silently degraded
// graph.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// stageFailed wraps a stage's terminal error with ExtractionFailed and the
// stage identity, preserving the underlying classification for errors.Is.
func stageFailed(stage string, err error) error {
	return &StageError{Stage: stage, Err: fmt.Errorf("%w: %w", ErrExtractionFailed, err)}
}
