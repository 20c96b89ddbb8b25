package pipeline

import (
	"bytes"
	"context"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mlyze/mlyze/mtrace"
)

// Default tuning parameters.
const (
	DefaultBatchLimit = 1000
	DefaultBufferSize = 64 * 1024
	idleSleep         = time.Millisecond
	joinTimeout       = 5 * time.Second
)

// Config tunes a Pipeline's buffering and batching behavior.
type Config struct {
	MaxEvents  int // ring buffer capacity
	BatchLimit int // max events drained per writer iteration
	BufferSize int // scratch buffer size before flushing to disk
	SampleRate float64
}

// Pipeline is the bounded, concurrent path between producers (the
// allocation source and GC callback) and the trace file: a ring buffer
// plus a single background writer goroutine that owns all I/O on the
// file. Only the writer goroutine ever touches the file; producers only
// ever touch the ring buffer's mutex.
type Pipeline struct {
	cfg Config
	rb  *ringBuffer
	w   io.Writer

	counters  counters
	unhealthy atomic.Bool
	logger    *zap.SugaredLogger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	sampleStride  uint64
	sampleCounter atomic.Uint64
}

// New constructs a Pipeline that writes drained, batched event bytes to
// w. The caller is responsible for having already written the trace
// header to w before events start flowing (see tracer.Start).
func New(w io.Writer, cfg Config, logger *zap.SugaredLogger) *Pipeline {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultMaxEvents
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.SampleRate <= 0 || cfg.SampleRate > 1 {
		cfg.SampleRate = 1
	}
	stride := uint64(1)
	if cfg.SampleRate < 1 {
		stride = uint64(math.Round(1 / cfg.SampleRate))
		if stride < 1 {
			stride = 1
		}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	p := &Pipeline{
		cfg:          cfg,
		rb:           newRingBuffer(cfg.MaxEvents),
		w:            w,
		logger:       logger,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		sampleStride: stride,
	}
	go p.writerLoop()
	return p
}

// EnqueueAlloc records an allocation event, subject to sampling: every
// sampleStride-th allocation is admitted. Deallocations and GC events
// are never sampled away.
func (p *Pipeline) EnqueueAlloc(delta uint64, address, size, stackID uint64, threadID uint16) {
	p.counters.allocationsSeen.Add(1)
	if p.cfg.SampleRate < 1 {
		n := p.sampleCounter.Add(1)
		if n%p.sampleStride != 0 {
			return
		}
	}
	ev := &mtrace.AllocEvent{TimestampDelta: delta, Address: address, Size: size, StackID: stackID, ThreadID: threadID}
	p.enqueue(ev)
	p.counters.allocationsTracked.Add(1)
}

// EnqueueFree records a deallocation event. Never sampled away.
func (p *Pipeline) EnqueueFree(delta uint64, address uint64) {
	ev := &mtrace.FreeEvent{TimestampDelta: delta, Address: address}
	p.enqueue(ev)
	p.counters.deallocationsTracked.Add(1)
}

// EnqueueGC records a garbage-collection event. Never sampled away.
func (p *Pipeline) EnqueueGC(delta, objectsCollected, bytesFreed uint64) {
	ev := &mtrace.GCEvent{TimestampDelta: delta, ObjectsCollected: objectsCollected, BytesFreed: bytesFreed}
	p.enqueue(ev)
	p.counters.gcEvents.Add(1)
}

// EnqueueMarker records a marker/annotation event.
func (p *Pipeline) EnqueueMarker(delta, nameID uint64) {
	p.enqueue(&mtrace.MarkerEvent{TimestampDelta: delta, NameID: nameID})
}

func (p *Pipeline) enqueue(ev mtrace.Event) {
	p.rb.enqueue(mtrace.EncodeEvent(nil, ev))
}

// writerLoop is the single background worker that owns p.w. It drains
// batches of encoded events under the ring buffer's mutex, accumulates
// them into a scratch buffer, and flushes to the underlying writer
// whenever the scratch buffer exceeds its capacity — never performing
// I/O while holding the ring buffer's lock.
func (p *Pipeline) writerLoop() {
	defer close(p.doneCh)
	var scratch bytes.Buffer
	for {
		select {
		case <-p.stopCh:
			p.drainAndFlush(&scratch)
			return
		default:
		}

		batch := p.rb.drain(p.cfg.BatchLimit)
		if len(batch) == 0 {
			time.Sleep(idleSleep)
			continue
		}
		for _, ev := range batch {
			scratch.Write(ev)
			p.counters.eventsWritten.Add(1)
			if scratch.Len() >= p.cfg.BufferSize {
				p.flush(&scratch)
			}
		}
	}
}

func (p *Pipeline) flush(scratch *bytes.Buffer) {
	if scratch.Len() == 0 {
		return
	}
	n, err := p.w.Write(scratch.Bytes())
	if err != nil {
		if !p.unhealthy.Swap(true) {
			p.logger.Errorw("trace writer I/O error; draining remaining events to /dev/null", "error", err)
		}
		p.w = io.Discard
	}
	p.counters.bytesWritten.Add(uint64(n))
	scratch.Reset()
}

func (p *Pipeline) drainAndFlush(scratch *bytes.Buffer) {
	for _, ev := range p.rb.drainAll() {
		scratch.Write(ev)
		p.counters.eventsWritten.Add(1)
	}
	p.flush(scratch)
}

// Stop signals the writer to finish and waits up to 5s for it to exit.
// If the worker doesn't exit in time, Stop performs the final drain and
// flush itself, on the calling goroutine, so nothing queued is lost to a
// stuck worker. Stop is idempotent.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	select {
	case <-p.doneCh:
	case <-time.After(joinTimeout):
		p.logger.Warnw("writer worker did not exit within timeout; performing synchronous final drain")
		var scratch bytes.Buffer
		p.drainAndFlush(&scratch)
	}
}

// Stats returns a point-in-time snapshot of the pipeline's counters.
func (p *Pipeline) Stats() Stats {
	s := p.counters.snapshot()
	s.EventsDropped = p.rb.droppedCount()
	return s
}

// Unhealthy reports whether the writer has hit an I/O error and is
// discarding further output.
func (p *Pipeline) Unhealthy() bool {
	return p.unhealthy.Load()
}

// Context returns a context.Context that is canceled when Stop is
// called, so a long-lived producer (such as an AllocationSource's
// WatchGC poller) can tie its own lifetime to the pipeline's.
func (p *Pipeline) Context() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-p.stopCh
		cancel()
	}()
	return ctx
}
