package analyzer

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlyze/mlyze/mtrace"
)

// buildTrace assembles a minimal but well-formed .mlyze file: a header
// sized to the real metadata blob, a metadata blob built from an
// *mtrace.Interner, and the given already-encoded event bytes.
func buildTrace(t *testing.T, interner *mtrace.Interner, gcSource string, events []mtrace.Event) string {
	t.Helper()

	var body []byte
	for _, ev := range events {
		body = mtrace.EncodeEvent(body, ev)
	}

	metaBytes, err := mtrace.EncodeMetadata(interner.Metadata(gcSource))
	require.NoError(t, err)

	header := mtrace.EncodeHeader(mtrace.Header{
		Version:     mtrace.Version,
		StartUs:     1000,
		MetadataLen: uint32(len(metaBytes)),
	})

	path := filepath.Join(t.TempDir(), "trace.mlyze")
	var raw []byte
	raw = append(raw, header...)
	raw = append(raw, metaBytes...)
	raw = append(raw, body...)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func leakStack(in *mtrace.Interner) uint64 {
	return uint64(in.InternStack([]mtrace.Frame{
		{File: "leaky.go", Line: 42, Func: "leakySite"},
	}))
}

func pairedStack(in *mtrace.Interner) uint64 {
	return uint64(in.InternStack([]mtrace.Frame{
		{File: "ok.go", Line: 7, Func: "scratchSite"},
	}))
}

// A leak simulation: allocations at one call site, never freed.
func TestAnalyzeReportsLeakedBytes(t *testing.T) {
	in := mtrace.NewInterner()
	stack := leakStack(in)
	events := []mtrace.Event{
		&mtrace.AllocEvent{TimestampDelta: 0, Address: 0x1000, Size: 2 << 20, StackID: stack, ThreadID: 1},
	}
	path := buildTrace(t, in, "", events)

	report, err := Analyze(path, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(2<<20), report.StillAllocatedBytes)
	require.Equal(t, 1, report.StillAllocatedCount)
	require.Equal(t, "CRITICAL", report.Severity)
	require.Len(t, report.TopStacks, 1)
	require.Equal(t, "leaky.go:42 leakySite", report.TopStacks[0].Label)
}

// 100 ALLOCs of 1024 bytes at a single stack, sharing one address, never
// freed. This exercises the accumulation path at the ALLOC handling: each
// ALLOC adds to the address's liveBytes/allocCount rather than replacing
// them, so the leak total is the sum of all 100, not just the last one.
func TestAnalyzeLeakSimulationHundredAllocsAccumulate(t *testing.T) {
	in := mtrace.NewInterner()
	stack := leakStack(in)
	events := make([]mtrace.Event, 0, 100)
	for i := 0; i < 100; i++ {
		events = append(events, &mtrace.AllocEvent{TimestampDelta: 0, Address: 0x1000, Size: 1024, StackID: stack, ThreadID: 1})
	}
	path := buildTrace(t, in, "", events)

	report, err := Analyze(path, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(100), report.EventCounts["ALLOC"])
	require.Zero(t, report.EventCounts["FREE"])
	require.Equal(t, uint64(102400), report.StillAllocatedBytes)
	require.Equal(t, uint64(102400), report.TotalAllocatedBytes)
	require.Equal(t, 1, report.StillAllocatedCount)
	require.Len(t, report.TopStacks, 1)
	require.Equal(t, uint64(102400), report.TopStacks[0].CumulativeBytes)
	require.Equal(t, "leaky.go:42 leakySite", report.TopStacks[0].Label)
}

// Every allocation is eventually paired with a FREE; nothing
// should remain live and severity should be empty.
func TestAnalyzeFullyPairedLeavesNothingLive(t *testing.T) {
	in := mtrace.NewInterner()
	stack := pairedStack(in)
	events := []mtrace.Event{
		&mtrace.AllocEvent{TimestampDelta: 0, Address: 0x2000, Size: 512, StackID: stack, ThreadID: 1},
		&mtrace.FreeEvent{TimestampDelta: 1, Address: 0x2000},
	}
	path := buildTrace(t, in, "", events)

	report, err := Analyze(path, 5)
	require.NoError(t, err)
	require.Zero(t, report.StillAllocatedBytes)
	require.Zero(t, report.StillAllocatedCount)
	require.Equal(t, uint64(512), report.TotalAllocatedBytes)
	require.Equal(t, uint64(512), report.TotalFreedBytes)
	require.Empty(t, report.Severity)
}

// FREE for an address never allocated is silently ignored.
func TestAnalyzeIgnoresFreeOfUnknownAddress(t *testing.T) {
	in := mtrace.NewInterner()
	events := []mtrace.Event{
		&mtrace.FreeEvent{TimestampDelta: 0, Address: 0xdead},
	}
	path := buildTrace(t, in, "", events)

	report, err := Analyze(path, 5)
	require.NoError(t, err)
	require.Zero(t, report.TotalFreedBytes)
	require.Equal(t, uint64(1), report.EventCounts["FREE"])
}

// Address-less (address 0) allocations from multiple call sites share the
// one aggregate slot.
func TestAnalyzeAddressZeroIsSharedSlot(t *testing.T) {
	in := mtrace.NewInterner()
	s1 := uint64(in.InternStack([]mtrace.Frame{{File: "a.go", Line: 1, Func: "a"}}))
	s2 := uint64(in.InternStack([]mtrace.Frame{{File: "b.go", Line: 2, Func: "b"}}))
	events := []mtrace.Event{
		&mtrace.AllocEvent{TimestampDelta: 0, Address: 0, Size: 100, StackID: s1, ThreadID: 1},
		&mtrace.AllocEvent{TimestampDelta: 0, Address: 0, Size: 200, StackID: s2, ThreadID: 1},
	}
	path := buildTrace(t, in, "", events)

	report, err := Analyze(path, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(300), report.StillAllocatedBytes)
	require.Len(t, report.TopStacks, 2)
}

// GC and MARKER events are counted but never affect the
// allocation table.
func TestAnalyzeCountsGCAndMarkerWithoutAffectingAllocations(t *testing.T) {
	in := mtrace.NewInterner()
	nameID := uint64(in.InternMarker("checkpoint"))
	events := []mtrace.Event{
		&mtrace.GCEvent{TimestampDelta: 0, ObjectsCollected: 10, BytesFreed: 1024},
		&mtrace.MarkerEvent{TimestampDelta: 1, NameID: nameID},
	}
	path := buildTrace(t, in, GCSourceNameForTest, events)

	report, err := Analyze(path, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(1), report.EventCounts["GC"])
	require.Equal(t, uint64(1), report.EventCounts["MARKER"])
	require.Zero(t, report.StillAllocatedBytes)
	require.Equal(t, GCSourceNameForTest, report.GCSource)
}

// A trace truncated mid-event is reported, not fatally erred.
func TestAnalyzeTruncatedMidEventIsReportedNotFatal(t *testing.T) {
	in := mtrace.NewInterner()
	stack := leakStack(in)
	var body []byte
	body = mtrace.EncodeEvent(body, &mtrace.AllocEvent{TimestampDelta: 0, Address: 0x3000, Size: 64, StackID: stack, ThreadID: 1})
	// Append a truncated second event: a lone ALLOC tag byte with no payload.
	body = append(body, byte(mtrace.EventAlloc))

	metaBytes, err := mtrace.EncodeMetadata(in.Metadata(""))
	require.NoError(t, err)
	header := mtrace.EncodeHeader(mtrace.Header{Version: mtrace.Version, StartUs: 1, MetadataLen: uint32(len(metaBytes))})

	path := filepath.Join(t.TempDir(), "truncated.mlyze")
	var raw []byte
	raw = append(raw, header...)
	raw = append(raw, metaBytes...)
	raw = append(raw, body...)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	report, err := Analyze(path, 5)
	require.NoError(t, err)
	require.True(t, report.Truncated)
	require.Equal(t, uint64(1), report.EventCounts["ALLOC"])
}

// Marker name ids round-trip through the metadata's function table back
// to the exact strings passed to Mark.
func TestMarkerNamesResolveThroughMetadata(t *testing.T) {
	in := mtrace.NewInterner()
	phase1 := uint64(in.InternMarker("phase-1"))
	stack := leakStack(in)
	phase2 := uint64(in.InternMarker("phase-2"))
	events := []mtrace.Event{
		&mtrace.MarkerEvent{TimestampDelta: 0, NameID: phase1},
		&mtrace.AllocEvent{TimestampDelta: 1, Address: 0, Size: 64, StackID: stack, ThreadID: 1},
		&mtrace.MarkerEvent{TimestampDelta: 2, NameID: phase2},
	}
	path := buildTrace(t, in, "", events)

	tr, err := Open(path)
	require.NoError(t, err)
	defer tr.Close()

	var names []string
	reader := tr.Events()
	for reader.Next() {
		if m, ok := reader.Event.(*mtrace.MarkerEvent); ok {
			names = append(names, tr.Metadata.Functions[strconv.FormatUint(m.NameID, 10)])
		}
	}
	require.NoError(t, reader.Err())
	require.Equal(t, []string{"phase-1", "phase-2"}, names)
}

func TestAnalyzeUnresolvableStackFallsBackToStackID(t *testing.T) {
	in := mtrace.NewInterner()
	// Stack id 99 is never interned, so it won't appear in metadata.
	events := []mtrace.Event{
		&mtrace.AllocEvent{TimestampDelta: 0, Address: 0x4000, Size: 16, StackID: 99, ThreadID: 1},
	}
	path := buildTrace(t, in, "", events)

	report, err := Analyze(path, 5)
	require.NoError(t, err)
	require.Equal(t, "stack_99", report.TopStacks[0].Label)
}

const GCSourceNameForTest = "runtime.ReadMemStats"
