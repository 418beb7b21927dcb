package appointment

import (
	"iter"
	"slices"
)

// DefaultGranularityMinutes is the platform-wide slot step. Slot generation
// walks availability windows in fixed increments of this size; it is not
// derived from the duration eventually booked.
const DefaultGranularityMinutes = 15

// GenerateSlots produces the free slots inside the given availability windows,
// skipping candidates that overlap any busy interval. The sequence is lazy and
// restartable: ranging over it again re-walks the windows. Slots are emitted
// ordered by start time ascending; windows with equal starts keep their
// declaration order, though the no-overlap invariant on windows makes that
// case unreachable in practice.
//
// Windows with IsAvailable=false are ignored. A window shorter than one
// granularity step yields nothing.
func GenerateSlots(windows []AvailabilityWindow, busy []Interval, granularityMinutes int) iter.Seq[Slot] {
	if granularityMinutes <= 0 {
		granularityMinutes = DefaultGranularityMinutes
	}

	ordered := make([]AvailabilityWindow, 0, len(windows))
	for _, w := range windows {
		if w.IsAvailable && w.Start < w.End {
			ordered = append(ordered, w)
		}
	}
	slices.SortStableFunc(ordered, func(a, b AvailabilityWindow) int {
		return int(a.Start) - int(b.Start)
	})

	return func(yield func(Slot) bool) {
		step := MinuteOfDay(granularityMinutes)
		for _, w := range ordered {
			for start := w.Start; start.Add(granularityMinutes) <= w.End; start += step {
				candidate := Interval{Start: start, End: start.Add(granularityMinutes)}
				if overlapsAny(candidate, busy) {
					continue
				}
				if !yield(Slot{Start: candidate.Start, End: candidate.End}) {
					return
				}
			}
		}
	}
}

// FitsWindow reports whether a requested booking interval starts on a slot
// boundary of some available window and lies entirely inside it. It is the
// booking-time counterpart of GenerateSlots for durations longer than one
// granularity step.
func FitsWindow(windows []AvailabilityWindow, start MinuteOfDay, durationMinutes, granularityMinutes int) bool {
	if granularityMinutes <= 0 {
		granularityMinutes = DefaultGranularityMinutes
	}
	for _, w := range windows {
		if !w.IsAvailable {
			continue
		}
		if start < w.Start || start.Add(durationMinutes) > w.End {
			continue
		}
		if int(start-w.Start)%granularityMinutes != 0 {
			continue
		}
		return true
	}
	return false
}

// BusyIntervals extracts the occupied spans of the given appointments,
// ignoring cancelled ones. Cancelled appointments release their interval.
func BusyIntervals(appts []Appointment) []Interval {
	var busy []Interval
	for i := range appts {
		if appts[i].Status == StatusCancelled {
			continue
		}
		busy = append(busy, appts[i].Interval())
	}
	return busy
}

func overlapsAny(candidate Interval, busy []Interval) bool {
	for _, b := range busy {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}
