package analyzer

import (
	"sort"
	"strconv"

	"github.com/mlyze/mlyze/mtrace"
)

// DefaultTopN is the default number of call sites shown in a report.
const DefaultTopN = 5

type allocSlot struct {
	liveBytes  uint64
	allocCount int
	stackID    uint64
}

type stackAccum struct {
	cumulativeBytes uint64
}

// Analyze reads and walks the trace at path end to end, building the same
// report shape regardless of caller (library use or cmd/mlyze analyze):
// event counts by kind, the still-live allocation set, total
// allocated/freed bytes, and the topN heaviest call sites by cumulative
// bytes. It is a pure function of the file's bytes plus topN; any
// rendering choice (text vs JSON) lives one layer up in Report.Text/JSON.
func Analyze(path string, topN int) (Report, error) {
	if topN <= 0 {
		topN = DefaultTopN
	}

	tr, err := Open(path)
	if err != nil {
		return Report{}, err
	}
	defer tr.Close()

	report := Report{
		EventCounts: map[string]uint64{},
		GCSource:    tr.Metadata.GCSource,
	}

	// address 0 is the shared slot every address-less event lands in; real
	// addresses (from a hypothetical exact-tracking source) get their own
	// slot.
	allocations := map[uint64]*allocSlot{}
	byStack := map[uint64]*stackAccum{}

	events := tr.Events()
	for events.Next() {
		ev := events.Event
		report.EventCounts[ev.Kind().String()]++

		switch e := ev.(type) {
		case *mtrace.AllocEvent:
			slot, ok := allocations[e.Address]
			if !ok {
				slot = &allocSlot{}
				allocations[e.Address] = slot
			}
			slot.liveBytes += e.Size
			slot.allocCount++
			slot.stackID = e.StackID

			acc, ok := byStack[e.StackID]
			if !ok {
				acc = &stackAccum{}
				byStack[e.StackID] = acc
			}
			acc.cumulativeBytes += e.Size

			report.TotalAllocatedBytes += e.Size

		case *mtrace.FreeEvent:
			slot, ok := allocations[e.Address]
			if !ok {
				// FREE for an unknown address: silently ignored.
				continue
			}
			report.TotalFreedBytes += slot.liveBytes
			delete(allocations, e.Address)

		case *mtrace.GCEvent, *mtrace.MarkerEvent:
			// Counted above; no allocation-table effect.
		}
	}
	if err := events.Err(); err != nil {
		return Report{}, err
	}
	report.Truncated = events.Truncated

	// One entry per live slot: every address-0 allocation shares one slot.
	for _, slot := range allocations {
		report.StillAllocatedCount++
		report.StillAllocatedBytes += slot.liveBytes
	}

	report.TopStacks = topStacks(byStack, tr.Metadata, topN)
	report.Severity = severityFor(report.StillAllocatedBytes)

	return report, nil
}

func topStacks(byStack map[uint64]*stackAccum, meta mtrace.Metadata, topN int) []StackSummary {
	summaries := make([]StackSummary, 0, len(byStack))
	for stackID, acc := range byStack {
		frames := resolveFrames(meta, stackID)
		summaries = append(summaries, StackSummary{
			StackID:         stackID,
			Frames:          frames,
			Label:           labelFor(frames, stackID),
			CumulativeBytes: acc.cumulativeBytes,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CumulativeBytes != summaries[j].CumulativeBytes {
			return summaries[i].CumulativeBytes > summaries[j].CumulativeBytes
		}
		return summaries[i].StackID < summaries[j].StackID
	})
	if len(summaries) > topN {
		summaries = summaries[:topN]
	}
	return summaries
}

func labelFor(frames []string, stackID uint64) string {
	if len(frames) == 0 {
		return fallbackLabel(stackID)
	}
	return stackLabel(frames)
}

// resolveFrames renders stackID's frames as "file:line function" strings,
// innermost first. For an unresolvable stack id (one absent from the
// metadata table, e.g. a corrupted or hand-built trace) it returns nil, and
// labelFor then falls back to "stack_<id>" rather than failing the analysis.
func resolveFrames(meta mtrace.Metadata, stackID uint64) []string {
	mframes, ok := meta.StackTraces[strconv.FormatUint(stackID, 10)]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(mframes))
	for _, mf := range mframes {
		file := meta.Files[strconv.Itoa(mf.FileID)]
		fn := meta.Functions[strconv.Itoa(mf.FuncID)]
		out = append(out, file+":"+strconv.Itoa(mf.Line)+" "+fn)
	}
	return out
}
