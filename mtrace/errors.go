package mtrace

import "fmt"

// DecodeError is the kind of failure returned while parsing a trace's
// header or event stream. The analyzer surfaces these to the user as a
// short, non-zero-exit reason; it never guesses past one.
type DecodeError struct {
	Kind string
	Msg  string
}

func (e *DecodeError) Error() string {
	if e.Msg == "" {
		return e.Kind
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Error kinds, per the trace format's error taxonomy. These are compared
// against with errors.Is, so each DecodeError of a given Kind is created
// through the matching constructor below, all of which return a pointer
// equal under errors.Is to the ErrKind sentinel of the same Kind.
const (
	KindInvalidMagic       = "InvalidMagic"
	KindUnsupportedVersion = "UnsupportedVersion"
	KindTruncatedStream    = "TruncatedStream"
	KindUnknownEventType   = "UnknownEventType"
	KindVarintOverflow     = "VarintOverflow"
	KindMetadataParseError = "MetadataParseError"
)

func errInvalidMagic(got []byte) error {
	return &DecodeError{Kind: KindInvalidMagic, Msg: fmt.Sprintf("got %q, want %q", got, Magic)}
}

func errUnsupportedVersion(got uint32) error {
	return &DecodeError{Kind: KindUnsupportedVersion, Msg: fmt.Sprintf("version %d", got)}
}

func errTruncatedStream(msg string) error {
	return &DecodeError{Kind: KindTruncatedStream, Msg: msg}
}

func errUnknownEventType(tag byte) error {
	return &DecodeError{Kind: KindUnknownEventType, Msg: fmt.Sprintf("tag %d", tag)}
}

func errVarintOverflow() error {
	return &DecodeError{Kind: KindVarintOverflow, Msg: "no terminating byte within 10 bytes"}
}

func errMetadataParse(cause error) error {
	return &DecodeError{Kind: KindMetadataParseError, Msg: cause.Error()}
}

// Is reports whether err is a *DecodeError of the given kind, so callers
// can write errors.Is(err, mtrace.ErrKind(mtrace.KindTruncatedStream)).
func (e *DecodeError) Is(target error) bool {
	o, ok := target.(*DecodeError)
	return ok && o.Kind == e.Kind
}

// ErrKind returns a sentinel *DecodeError usable with errors.Is to test
// for a particular error kind, e.g. errors.Is(err, mtrace.ErrKind(mtrace.KindTruncatedStream)).
func ErrKind(kind string) error {
	return &DecodeError{Kind: kind}
}
