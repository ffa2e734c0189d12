package scenario

import "sort"

// TimedEvent is one flattened timeline occurrence. AtMs is cumulative
// logical time from scenario start; DelayMs is the intrinsic delay a
// realtime player sleeps after producing the event. Think and Assistant
// list entries expand into one TimedEvent per line.
type TimedEvent struct {
	AtMs      int64
	DelayMs   int64
	StepIndex int
	Elem      Element
}

// Flatten walks the timeline in document order, expanding list-valued
// events into individually timed occurrences. Logical time starts at zero;
// each timed line emits at the current time and then advances it by the
// line's delay, and advanceMs advances time without emitting output to the
// caller's transcript (it still appears in the stream so realtime players
// can sleep it).
//
// The returned slice is in document order. Cumulative time is monotonically
// non-decreasing by construction, so document order is also time order.
func Flatten(doc *Document) []TimedEvent {
	var out []TimedEvent
	var now int64

	for i, step := range doc.Timeline {
		for _, elem := range step.Elements {
			switch e := elem.(type) {
			case Think:
				for _, line := range e.Lines {
					out = append(out, TimedEvent{
						AtMs:      now,
						DelayMs:   line.DelayMs,
						StepIndex: i,
						Elem:      Think{Lines: []TimedText{line}},
					})
					now += line.DelayMs
				}
			case Assistant:
				for _, line := range e.Lines {
					out = append(out, TimedEvent{
						AtMs:      now,
						DelayMs:   line.DelayMs,
						StepIndex: i,
						Elem:      Assistant{Lines: []TimedText{line}},
					})
					now += line.DelayMs
				}
			case UserInputs:
				for _, line := range e.Lines {
					out = append(out, TimedEvent{
						AtMs:      now,
						DelayMs:   line.DelayMs,
						StepIndex: i,
						Elem:      UserInputs{Lines: []TimedText{line}, Target: e.Target},
					})
					now += line.DelayMs
				}
			case Advance:
				out = append(out, TimedEvent{AtMs: now, DelayMs: e.Ms, StepIndex: i, Elem: e})
				now += e.Ms
			default:
				// Events with no intrinsic delay emit at the current time;
				// any duration they have (tool execution, commands) is spent
				// by the player after producing the event.
				out = append(out, TimedEvent{AtMs: now, StepIndex: i, Elem: elem})
			}
		}
	}
	return out
}

// FastSchedule returns the flattened timeline stable-sorted by time.
// Replaying it without any blocking delays is equivalent to realtime
// playback modulo wall-clock timestamps: events from the same list keep
// their relative order at equal times.
func FastSchedule(doc *Document) []TimedEvent {
	events := Flatten(doc)
	sorted := make([]TimedEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].AtMs < sorted[b].AtMs
	})
	return sorted
}
