package kgraph

import (
	"errors"

	"github.com/lmarinho/kgraph/pipeline"
)

var (
	// ErrInputTooLarge is returned when a document exceeds the configured
	// size ceiling. Checked before any LLM call is made.
	ErrInputTooLarge = errors.New("kgraph: document exceeds size limit")

	// ErrRunNotFound is returned when a run ID does not exist.
	ErrRunNotFound = errors.New("kgraph: run not found")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("kgraph: unsupported document format")

	// ErrParsingFailed is returned when document parsing fails.
	ErrParsingFailed = errors.New("kgraph: parsing failed")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("kgraph: embedding generation failed")

	// ErrEmbeddingDisabled is returned when a similarity search is requested
	// without an embedding provider configured.
	ErrEmbeddingDisabled = errors.New("kgraph: no embedding provider configured")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("kgraph: invalid configuration")
)

// Pipeline failure classes, re-exported so callers can classify run errors
// without importing the pipeline package.
var (
	ErrSchemaViolation      = pipeline.ErrSchemaViolation
	ErrReferentialIntegrity = pipeline.ErrReferentialIntegrity
	ErrExtractionFailed     = pipeline.ErrExtractionFailed
	ErrGatewayTimeout       = pipeline.ErrGatewayTimeout
	ErrGatewayUnavailable   = pipeline.ErrGatewayUnavailable
)
