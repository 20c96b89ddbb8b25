// Package tracer wires the mtrace codec, the pipeline's ring buffer and
// writer worker, and an AllocationSource together into the public
// Start/Stop/Mark/Snapshot surface: the stateful handle a caller actually
// holds, wrapping the lower-level packages that only ever see bytes.
package tracer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mlyze/mlyze/mtrace"
	"github.com/mlyze/mlyze/pipeline"
)

// ErrAlreadyActive is returned by Start when a trace is already running in
// this process. Only one Tracer may be active at a time.
var ErrAlreadyActive = errors.New("tracer: a trace is already active in this process")

var active atomic.Pointer[Tracer]

// Tracer is a running trace capture. Obtain one with Start and end it with
// Stop; a Tracer is safe for concurrent use by multiple goroutines.
type Tracer struct {
	outputFile string
	f          *os.File
	cfg        Config
	startTime  time.Time
	startUs    uint64

	interner *mtrace.Interner
	internMu sync.Mutex

	source pipeline.AllocationSource
	pipe   *pipeline.Pipeline

	lastEmittedUs atomic.Uint64

	stopOnce sync.Once
	stopErr  error
}

// Start begins a new trace, writing a provisional header to outputFile and
// returning a handle to control it. Start fails with ErrAlreadyActive if
// another Tracer is already running in this process, and with an I/O error
// if outputFile cannot be created, in which case capture never begins.
func Start(outputFile string, opts ...Option) (*Tracer, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	t := &Tracer{}
	if !active.CompareAndSwap(nil, t) {
		return nil, ErrAlreadyActive
	}

	f, err := os.Create(outputFile)
	if err != nil {
		active.CompareAndSwap(t, nil)
		return nil, err
	}

	startTime := time.Now()
	startUs := uint64(startTime.UnixMicro())

	// Provisional header: an empty "{}" metadata blob. Stop rewrites both
	// once the real intern tables are known.
	placeholder := []byte("{}")
	header := mtrace.EncodeHeader(mtrace.Header{
		Version:     mtrace.Version,
		StartUs:     startUs,
		MetadataLen: uint32(len(placeholder)),
	})
	if _, err := f.Write(header); err != nil {
		f.Close()
		active.CompareAndSwap(t, nil)
		return nil, err
	}
	if _, err := f.Write(placeholder); err != nil {
		f.Close()
		active.CompareAndSwap(t, nil)
		return nil, err
	}

	t.outputFile = outputFile
	t.f = f
	t.cfg = cfg
	t.startTime = startTime
	t.startUs = startUs
	t.interner = mtrace.NewInterner()
	t.source = pipeline.NewMemProfileSource(cfg.MaxStackDepth)
	t.pipe = pipeline.New(f, pipeline.Config{
		MaxEvents:  cfg.MaxEvents,
		BatchLimit: cfg.BatchSize,
		BufferSize: cfg.BufferSize,
		SampleRate: cfg.SampleRate,
	}, cfg.Logger)

	// Establish the diff baseline so the first real Snapshot/Stop only
	// reports activity since Start, not since process boot.
	if _, err := t.source.Sample(context.Background()); err != nil {
		cfg.Logger.Warnw("initial allocation baseline sample failed", "error", err)
	}

	if cfg.TrackGC {
		t.source.WatchGC(t.pipe.Context(), func(objectsCollected, bytesFreed uint64) {
			t.pipe.EnqueueGC(t.nextDelta(), objectsCollected, bytesFreed)
		})
	}

	return t, nil
}

// IsTracing reports whether a Tracer is currently active in this process.
func IsTracing() bool {
	return active.Load() != nil
}

// nextDelta returns the microsecond timestamp delta to stamp on the next
// event, measured against the last delta issued by any producer
// goroutine. Using one shared high-water mark (rather than one per
// producer) keeps every event's delta non-negative in final file order
// even though producers run concurrently and are interleaved by the
// pipeline's ring buffer, not by a global clock.
func (t *Tracer) nextDelta() uint64 {
	now := uint64(time.Since(t.startTime).Microseconds())
	for {
		last := t.lastEmittedUs.Load()
		next := now
		if next < last {
			next = last
		}
		if t.lastEmittedUs.CompareAndSwap(last, next) {
			delta := next - last
			return delta
		}
	}
}

// Snapshot samples the allocation source immediately and records the
// resulting deltas, without waiting for Stop. Callers use it to capture
// interesting points mid-run.
func (t *Tracer) Snapshot() error {
	deltas, err := t.source.Sample(context.Background())
	if err != nil {
		return err
	}
	t.recordDeltas(deltas)
	return nil
}

// Mark appends a MARKER event carrying name, sharing the function/marker
// intern namespace (mtrace.Interner.InternMarker).
func (t *Tracer) Mark(name string) {
	t.internMu.Lock()
	id := t.interner.InternMarker(name)
	t.internMu.Unlock()
	t.pipe.EnqueueMarker(t.nextDelta(), uint64(id))
}

func (t *Tracer) recordDeltas(deltas []pipeline.AllocationDelta) {
	for _, d := range deltas {
		t.internMu.Lock()
		stackID := t.interner.InternStack(d.Stack)
		t.internMu.Unlock()

		delta := t.nextDelta()
		threadID := pipeline.CurrentThreadID()
		if d.SizeDelta > 0 {
			t.pipe.EnqueueAlloc(delta, 0, uint64(d.SizeDelta), uint64(stackID), threadID)
		} else if d.SizeDelta < 0 {
			t.pipe.EnqueueFree(delta, 0)
		}
	}
}

// Stop ends the trace: it takes a final allocation sample, drains the
// pipeline, and rewrites the trace file's header and metadata so the
// on-disk file is self-describing. Stop is idempotent; the second and
// later calls return the same result as the first.
func (t *Tracer) Stop() error {
	t.stopOnce.Do(func() {
		t.stopErr = t.stop()
		active.CompareAndSwap(t, nil)
	})
	return t.stopErr
}

func (t *Tracer) stop() error {
	if deltas, err := t.source.Sample(context.Background()); err == nil {
		t.recordDeltas(deltas)
	} else {
		t.cfg.Logger.Warnw("final allocation sample failed", "error", err)
	}

	t.pipe.Stop()

	if err := t.f.Sync(); err != nil {
		t.f.Close()
		return err
	}
	if err := t.f.Close(); err != nil {
		return err
	}

	return t.rewriteWithMetadata()
}

// rewriteWithMetadata implements the temp-file-and-rename swap: it reads
// back the event bytes already on disk (written past the provisional
// header+metadata by the pipeline's writer), then reassembles the file as
// a correctly sized header, the frozen metadata blob, and those same event
// bytes, so a crash mid-rewrite leaves the original file untouched rather
// than corrupted.
func (t *Tracer) rewriteWithMetadata() error {
	raw, err := os.ReadFile(t.outputFile)
	if err != nil {
		return err
	}
	if len(raw) < mtrace.HeaderSize+2 {
		return mtrace.ErrKind(mtrace.KindTruncatedStream)
	}
	eventBytes := raw[mtrace.HeaderSize+2:]

	gcSource := ""
	if t.cfg.TrackGC {
		gcSource = pipeline.GCSourceName
	}
	t.internMu.Lock()
	metadata := t.interner.Metadata(gcSource)
	t.internMu.Unlock()

	metadataBytes, err := mtrace.EncodeMetadata(metadata)
	if err != nil {
		return err
	}

	header := mtrace.EncodeHeader(mtrace.Header{
		Version:     mtrace.Version,
		StartUs:     t.startUs,
		MetadataLen: uint32(len(metadataBytes)),
	})

	tmp, err := os.CreateTemp(filepath.Dir(t.outputFile), ".mlyze-tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(header); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(metadataBytes); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(eventBytes); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, t.outputFile)
}

// Stats returns the underlying pipeline's counters.
func (t *Tracer) Stats() pipeline.Stats {
	return t.pipe.Stats()
}

// Unhealthy reports whether the trace's writer worker has hit an I/O error
// and is discarding further output.
func (t *Tracer) Unhealthy() bool {
	return t.pipe.Unhealthy()
}
