// Package mtrace implements the binary encoding for .mlyze memory traces.
//
// A trace is a 256-byte header, a JSON metadata blob describing the
// interned file/function/stack tables, and a stream of variable-length
// events. Encoding and decoding are stateless per call except for the
// Interner, which accumulates the tables that get embedded in the header
// when the trace is finalized.
package mtrace // import "github.com/mlyze/mlyze/mtrace"
