package mtrace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventRoundTrip(t *testing.T) {
	events := []Event{
		&AllocEvent{TimestampDelta: 42, Address: 0, Size: 1024, StackID: 7, ThreadID: 99},
		&AllocEvent{TimestampDelta: 0, Address: 0xdeadbeef, Size: 0, StackID: 0, ThreadID: 0},
		&FreeEvent{TimestampDelta: 5, Address: 0},
		&GCEvent{TimestampDelta: 100, ObjectsCollected: 3, BytesFreed: 4096},
		&MarkerEvent{TimestampDelta: 1, NameID: 12},
	}
	for _, ev := range events {
		buf := EncodeEvent(nil, ev)
		got, n, err := DecodeEvent(buf, 0)
		require.NoError(t, err)
		require.Equal(t, len(buf), n)
		require.Equal(t, ev, got)
	}
}

func TestDecodeUnknownEventType(t *testing.T) {
	buf := []byte{0xff, 0x00}
	_, _, err := DecodeEvent(buf, 0)
	require.Error(t, err)
	require.Equal(t, KindUnknownEventType, err.(*DecodeError).Kind)
}

func TestDecodeTruncatedEvent(t *testing.T) {
	full := EncodeEvent(nil, &AllocEvent{TimestampDelta: 1, Address: 1, Size: 2, StackID: 3, ThreadID: 4})
	_, _, err := DecodeEvent(full[:len(full)-1], 0)
	require.Error(t, err)
	require.Equal(t, KindTruncatedStream, err.(*DecodeError).Kind)
}

func TestEventKindString(t *testing.T) {
	require.Equal(t, "ALLOC", EventAlloc.String())
	require.Equal(t, "FREE", EventFree.String())
	require.Equal(t, "GC", EventGC.String())
	require.Equal(t, "MARKER", EventMarker.String())
}
