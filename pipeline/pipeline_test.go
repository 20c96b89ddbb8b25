package pipeline

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPipelineWritesAndDrains(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, Config{MaxEvents: 100, BatchLimit: 10, BufferSize: 16}, nil)

	for i := 0; i < 5; i++ {
		p.EnqueueAlloc(1, 0, 1024, 0, 0)
	}
	p.Stop()

	stats := p.Stats()
	require.Equal(t, uint64(5), stats.AllocationsSeen)
	require.Equal(t, uint64(5), stats.AllocationsTracked)
	require.Equal(t, uint64(5), stats.EventsWritten)
	require.Zero(t, stats.EventsDropped)
	require.NotZero(t, buf.Len())
}

func TestPipelineSamplingStride(t *testing.T) {
	// sample_rate = 0.25 over 400 observed allocations: allocations_tracked
	// should land in {99,100,101} depending on stride rounding, and
	// allocations_seen must equal 400.
	var buf bytes.Buffer
	p := New(&buf, Config{MaxEvents: 10000, SampleRate: 0.25}, nil)

	for i := 0; i < 400; i++ {
		p.EnqueueAlloc(1, 0, 1, 0, 0)
	}
	p.Stop()

	stats := p.Stats()
	require.Equal(t, uint64(400), stats.AllocationsSeen)
	require.Contains(t, []uint64{99, 100, 101}, stats.AllocationsTracked)
}

func TestPipelineOverflowAccounting(t *testing.T) {
	// events_seen = events_written + events_dropped, exercised by
	// overwhelming a tiny buffer before any drain can run.
	var buf bytes.Buffer
	p := New(&buf, Config{MaxEvents: 8, BatchLimit: 1000, BufferSize: 1 << 20}, nil)
	for i := 0; i < 20; i++ {
		p.EnqueueFree(1, 0)
	}
	p.Stop()

	stats := p.Stats()
	seen := stats.DeallocationsTracked
	require.Equal(t, seen, stats.EventsWritten+stats.EventsDropped)
}

func TestPipelineStopIdempotent(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, Config{}, nil)
	p.Stop()
	p.Stop() // must not panic or hang
}

func TestPipelineUnhealthyOnWriteError(t *testing.T) {
	p := New(failingWriter{}, Config{BufferSize: 1}, nil)
	p.EnqueueAlloc(1, 0, 1, 0, 0)
	// Give the writer goroutine a moment to observe the failure before
	// checking health.
	time.Sleep(20 * time.Millisecond)
	p.Stop()
	require.True(t, p.Unhealthy())
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errWriteFailed
}

var errWriteFailed = &writeError{}

type writeError struct{}

func (*writeError) Error() string { return "simulated write failure" }
