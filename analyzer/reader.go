// Package analyzer implements the offline reader and leak/attribution
// report over a closed .mlyze trace file: a low-level mmap-backed reader
// plus a small report-building layer on top.
package analyzer

import (
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/mlyze/mlyze/mtrace"
)

// Trace is an opened, validated .mlyze file: header and metadata already
// parsed, event bytes available for sequential decoding via Events.
type Trace struct {
	f           *os.File
	mm          mmap.MMap
	Header      mtrace.Header
	Metadata    mtrace.Metadata
	eventsStart int
}

// Open mmaps path, validates its header, and parses its metadata blob.
// The returned Trace must be Closed when done.
func Open(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	header, err := mtrace.DecodeHeader(mm)
	if err != nil {
		mm.Unmap()
		f.Close()
		return nil, err
	}

	metaStart := mtrace.HeaderSize
	metaEnd := metaStart + int(header.MetadataLen)
	if metaEnd > len(mm) {
		mm.Unmap()
		f.Close()
		return nil, mtrace.ErrKind(mtrace.KindTruncatedStream)
	}

	metadata, err := mtrace.DecodeMetadata(mm[metaStart:metaEnd])
	if err != nil {
		mm.Unmap()
		f.Close()
		return nil, err
	}

	return &Trace{f: f, mm: mm, Header: header, Metadata: metadata, eventsStart: metaEnd}, nil
}

// Close releases the mapping and the underlying file descriptor.
func (t *Trace) Close() error {
	if err := t.mm.Unmap(); err != nil {
		t.f.Close()
		return err
	}
	return t.f.Close()
}

// Events returns a fresh EventReader positioned at the start of the event
// stream.
func (t *Trace) Events() *EventReader {
	return &EventReader{data: t.mm, offset: t.eventsStart}
}

// EventReader walks a trace's event stream one record at a time: call
// Next until it returns false, then check Err to distinguish clean EOF
// from a mid-event truncation.
type EventReader struct {
	data   []byte
	offset int

	Event     mtrace.Event
	err       error
	Truncated bool
}

// Next advances to the following event, returning false at clean EOF or on
// a decode failure. A mid-event truncation sets Truncated and returns
// false without setting Err — the partial event is discarded and surfaced
// as a note, not an error; any other decode failure (an unknown tag, a
// malformed varint) sets Err instead.
func (r *EventReader) Next() bool {
	if r.err != nil || r.offset >= len(r.data) {
		return false
	}

	ev, next, err := mtrace.DecodeEvent(r.data, r.offset)
	if err != nil {
		if de, ok := err.(*mtrace.DecodeError); ok && de.Kind == mtrace.KindTruncatedStream {
			r.Truncated = true
			return false
		}
		r.err = err
		return false
	}

	r.Event = ev
	r.offset = next
	return true
}

// Err returns the first non-truncation decode error encountered, if any.
func (r *EventReader) Err() error {
	return r.err
}
