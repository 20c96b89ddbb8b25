package mtrace

import (
	"encoding/binary"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Frame is one entry of a StackTrace before interning: a source location
// plus the function that was executing there. Frames are ordered from
// innermost (the allocation site) outward.
type Frame struct {
	File string
	Line int
	Func string
}

// Interner owns the three monotonically growing intern tables embedded
// in a trace's metadata: files, functions, and stack traces. It is
// single-writer (the tracer that owns it) and idempotent: interning the
// same value twice returns the same ID, and distinct values always get
// distinct IDs. Stack-sequence lookups are hashed with xxhash so repeated
// allocations at the same call site don't pay for a linear scan or a
// string-concatenation key on every event.
type Interner struct {
	files    []string
	fileIdx  map[string]int
	funcs    []string
	funcIdx  map[string]int
	stacks   [][]Frame
	resolved [][]MetadataFrame // stacks[i] resolved to file/func ids, same index
	stackIdx map[uint64][]int  // hash -> candidate stack ids (collision bucket)
}

// NewInterner returns an empty Interner.
func NewInterner() *Interner {
	return &Interner{
		fileIdx:  map[string]int{},
		funcIdx:  map[string]int{},
		stackIdx: map[uint64][]int{},
	}
}

// InternFile returns the stable id for path, creating one if this is the
// first time path has been seen.
func (in *Interner) InternFile(path string) int {
	if id, ok := in.fileIdx[path]; ok {
		return id
	}
	id := len(in.files)
	in.files = append(in.files, path)
	in.fileIdx[path] = id
	return id
}

// InternFunc returns the stable id for name, creating one if needed.
// Marker names are interned through this same table (see InternMarker),
// by design: it saves a fourth table and the sharing is only observable
// via the metadata blob.
func (in *Interner) InternFunc(name string) int {
	if id, ok := in.funcIdx[name]; ok {
		return id
	}
	id := len(in.funcs)
	in.funcs = append(in.funcs, name)
	in.funcIdx[name] = id
	return id
}

// InternMarker is InternFunc under another name, documenting the
// function/marker namespace-sharing design choice at call sites that mean
// "marker name", not "function name".
func (in *Interner) InternMarker(name string) int {
	return in.InternFunc(name)
}

// InternStack returns the stable id for the full ordered frame sequence
// frames, creating one if this exact sequence hasn't been seen before.
// File and function names within frames are interned as a side effect.
func (in *Interner) InternStack(frames []Frame) int {
	h := hashFrames(frames)
	for _, candidate := range in.stackIdx[h] {
		if framesEqual(in.stacks[candidate], frames) {
			return candidate
		}
	}
	cp := make([]Frame, len(frames))
	copy(cp, frames)
	mf := make([]MetadataFrame, len(frames))
	for i, f := range frames {
		mf[i] = MetadataFrame{FileID: in.InternFile(f.File), Line: f.Line, FuncID: in.InternFunc(f.Func)}
	}
	id := len(in.stacks)
	in.stacks = append(in.stacks, cp)
	in.resolved = append(in.resolved, mf)
	in.stackIdx[h] = append(in.stackIdx[h], id)
	return id
}

func hashFrames(frames []Frame) uint64 {
	d := xxhash.New()
	var lineBuf [8]byte
	for _, f := range frames {
		d.WriteString(f.File)
		d.Write([]byte{0})
		binary.LittleEndian.PutUint64(lineBuf[:], uint64(f.Line))
		d.Write(lineBuf[:])
		d.WriteString(f.Func)
		d.Write([]byte{0})
	}
	return d.Sum64()
}

func framesEqual(a, b []Frame) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Metadata freezes the interner's current state into the JSON shape
// embedded in the trace header. gcSource, if non-empty, is recorded under
// the "gc_source" key.
func (in *Interner) Metadata(gcSource string) Metadata {
	m := Metadata{
		Files:       make(map[string]string, len(in.files)),
		Functions:   make(map[string]string, len(in.funcs)),
		StackTraces: make(map[string][]MetadataFrame, len(in.stacks)),
		GCSource:    gcSource,
	}
	for id, path := range in.files {
		m.Files[strconv.Itoa(id)] = path
	}
	for id, name := range in.funcs {
		m.Functions[strconv.Itoa(id)] = name
	}
	for id, mf := range in.resolved {
		m.StackTraces[strconv.Itoa(id)] = mf
	}
	return m
}
