// Package parser turns document files into the plain text the extraction
// pipeline consumes. Formatting is deliberately flattened: the pipeline works
// on prose, so tables and page structure are rendered into readable text.
package parser

import "context"

// Document is a parsed file, reduced to extraction-ready text.
type Document struct {
	Name   string // base name of the source file
	Format string // lowercase extension without the dot
	Text   string
}

// Parser can parse a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*Document, error)
	SupportedFormats() []string
}
