package pipeline

import (
	"runtime"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// goroutineID extracts the numeric id of the calling goroutine by
// parsing the "goroutine N [" prefix out of a short runtime.Stack dump.
// Go has no public API for this; it is a well-known trick, used here
// because the trace format's thread_id field needs *some* stable
// per-producer identifier and the default AllocationSource has no better
// one available.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	const prefix = "goroutine "
	if len(b) < len(prefix) || string(b[:len(prefix)]) != prefix {
		return 0
	}
	b = b[len(prefix):]
	end := 0
	for end < len(b) && b[end] != ' ' {
		end++
	}
	id, err := strconv.ParseUint(string(b[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// foldThreadID folds a wide native (or, here, goroutine) id into the
// trace format's 16-bit thread_id field by hashing rather than
// truncating: a raw truncation would collide constantly on platforms
// (and runtimes) that hand out sequential ids.
func foldThreadID(id uint64) uint16 {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(id >> (8 * i))
	}
	return uint16(xxhash.Sum64(buf[:]) & 0xFFFF)
}

// currentThreadID returns the 16-bit thread id to embed in an event
// produced by the calling goroutine.
func currentThreadID() uint16 {
	return foldThreadID(goroutineID())
}

// CurrentThreadID is the exported form of currentThreadID, for callers
// outside this package (the tracer) that need to tag an event with the
// id of the goroutine producing it.
func CurrentThreadID() uint16 {
	return currentThreadID()
}
