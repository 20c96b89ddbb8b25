package pipeline

import "sync/atomic"

// Stats is a point-in-time snapshot of a Pipeline's counters. All
// counters are exact and monotonic for the lifetime of the Pipeline that
// produced them.
type Stats struct {
	AllocationsSeen      uint64
	AllocationsTracked   uint64
	DeallocationsTracked uint64
	GCEvents             uint64
	EventsWritten        uint64
	EventsDropped        uint64
	BytesWritten         uint64
}

// counters holds the atomic fields a Pipeline updates as it runs.
// EventsDropped lives in the ring buffer (its mutex already serializes
// overflow) and is merged into the snapshot by Pipeline.Stats.
type counters struct {
	allocationsSeen      atomic.Uint64
	allocationsTracked   atomic.Uint64
	deallocationsTracked atomic.Uint64
	gcEvents             atomic.Uint64
	eventsWritten        atomic.Uint64
	bytesWritten         atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		AllocationsSeen:      c.allocationsSeen.Load(),
		AllocationsTracked:   c.allocationsTracked.Load(),
		DeallocationsTracked: c.deallocationsTracked.Load(),
		GCEvents:             c.gcEvents.Load(),
		EventsWritten:        c.eventsWritten.Load(),
		BytesWritten:         c.bytesWritten.Load(),
	}
}
