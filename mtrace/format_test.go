package mtrace

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Version: Version, StartUs: 1234567890, MetadataLen: 42}
	buf := EncodeHeader(h)
	require.Len(t, buf, HeaderSize)
	require.Equal(t, "MTRC", string(buf[0:4]))

	got, err := DecodeHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)

	// Reserved region is zero-filled.
	for i := 20; i < HeaderSize; i++ {
		require.Zerof(t, buf[i], "reserved byte %d not zero", i)
	}
}

func TestHeaderInvalidMagic(t *testing.T) {
	buf := EncodeHeader(Header{Version: Version})
	buf[0] = 'X'
	_, err := DecodeHeader(buf)
	require.Error(t, err)
	require.Equal(t, KindInvalidMagic, err.(*DecodeError).Kind)
}

func TestHeaderUnsupportedVersion(t *testing.T) {
	buf := EncodeHeader(Header{Version: 99})
	_, err := DecodeHeader(buf)
	require.Error(t, err)
	require.Equal(t, KindUnsupportedVersion, err.(*DecodeError).Kind)
}

func TestHeaderTruncated(t *testing.T) {
	buf := EncodeHeader(Header{Version: Version})
	_, err := DecodeHeader(buf[:100])
	require.Error(t, err)
	require.Equal(t, KindTruncatedStream, err.(*DecodeError).Kind)
}

func TestMetadataRoundTrip(t *testing.T) {
	in := NewInterner()
	stackID := in.InternStack([]Frame{{File: "main.go", Line: 10, Func: "main.alloc"}})
	m := in.Metadata("runtime.ReadMemStats")

	encoded, err := EncodeMetadata(m)
	require.NoError(t, err)

	got, err := DecodeMetadata(encoded)
	require.NoError(t, err)
	require.Equal(t, "main.go", got.Files["0"])
	require.Equal(t, "main.alloc", got.Functions["0"])
	require.Len(t, got.StackTraces[strconv.Itoa(stackID)], 1)
	require.Equal(t, "runtime.ReadMemStats", got.GCSource)
}
