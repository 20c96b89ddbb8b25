package mtrace

import (
	"encoding/binary"
	"encoding/json"
)

// Magic is the 4-byte file signature at the start of every .mlyze trace.
var Magic = [4]byte{'M', 'T', 'R', 'C'}

// Version is the current trace format version.
const Version uint32 = 1

// HeaderSize is the fixed size, in bytes, of the trace header prefix.
// The metadata JSON blob begins immediately after it.
const HeaderSize = 256

// Header is the fixed 256-byte prefix of a .mlyze trace: magic, version,
// start timestamp (microseconds since the Unix epoch), and the length of
// the metadata blob that follows. Bytes 20-255 are reserved and always
// zero-filled.
type Header struct {
	Version     uint32
	StartUs     uint64
	MetadataLen uint32
}

// EncodeHeader renders h as the 256-byte fixed prefix (magic at 0:4,
// version at 4:8, start_us at 8:16, metadata_len at 16:20, zero-filled
// reserved region at 20:256).
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint64(buf[8:16], h.StartUs)
	binary.LittleEndian.PutUint32(buf[16:20], h.MetadataLen)
	return buf
}

// DecodeHeader parses the fixed 256-byte prefix out of buf, which must be
// at least HeaderSize bytes long.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errTruncatedStream("header")
	}
	if string(buf[0:4]) != string(Magic[:]) {
		return Header{}, errInvalidMagic(buf[0:4])
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != Version {
		return Header{}, errUnsupportedVersion(version)
	}
	return Header{
		Version:     version,
		StartUs:     binary.LittleEndian.Uint64(buf[8:16]),
		MetadataLen: binary.LittleEndian.Uint32(buf[16:20]),
	}, nil
}

// Metadata is the JSON blob that follows the header: the frozen intern
// tables, plus an optional note on which native mechanism produced GC
// events (see Interner.Metadata).
type Metadata struct {
	Files       map[string]string          `json:"files"`
	Functions   map[string]string          `json:"functions"`
	StackTraces map[string][]MetadataFrame `json:"stack_traces"`
	GCSource    string                     `json:"gc_source,omitempty"`
}

// MetadataFrame is one frame of an interned stack trace as it appears in
// the metadata JSON: file and function are expressed as intern IDs, not
// literal strings.
type MetadataFrame struct {
	FileID int `json:"file_id"`
	Line   int `json:"line"`
	FuncID int `json:"func_id"`
}

// EncodeMetadata marshals m to its canonical JSON form (UTF-8, no BOM).
func EncodeMetadata(m Metadata) ([]byte, error) {
	if m.Files == nil {
		m.Files = map[string]string{}
	}
	if m.Functions == nil {
		m.Functions = map[string]string{}
	}
	if m.StackTraces == nil {
		m.StackTraces = map[string][]MetadataFrame{}
	}
	return json.Marshal(m)
}

// DecodeMetadata parses the metadata JSON blob.
func DecodeMetadata(buf []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(buf, &m); err != nil {
		return Metadata{}, errMetadataParse(err)
	}
	if m.Files == nil {
		m.Files = map[string]string{}
	}
	if m.Functions == nil {
		m.Functions = map[string]string{}
	}
	if m.StackTraces == nil {
		m.StackTraces = map[string][]MetadataFrame{}
	}
	return m, nil
}
