package agenda

import "time"

// Window is an open interval of the day in minutes from midnight.
type Window struct {
	Open  int
	Close int
}

// Narrow intersects w with an optional override; a nil bound leaves that side
// unchanged, and an override can only shrink the window, never widen it.
func (w Window) Narrow(open, close *int) Window {
	out := w
	if open != nil && *open > out.Open {
		out.Open = *open
	}
	if close != nil && *close < out.Close {
		out.Close = *close
	}
	return out
}

// Blackout is a half-open unavailable range [Start, End) in minutes from
// midnight.
type Blackout struct {
	Start int
	End   int
}

// Slots quantizes the window into back-to-back ticks of durationMinutes and
// returns the start time of every offerable tick on the given day. A tick is
// dropped when it would cross the close bound, when it intersects a blackout,
// or when booked (count of active appointments starting exactly at the tick)
// has reached capacity. The day value is expected to be a local midnight.
func Slots(day time.Time, w Window, durationMinutes int, blackouts []Blackout, booked map[int]int, capacity int) []time.Time {
	if durationMinutes <= 0 || w.Close <= w.Open {
		return nil
	}

	var ticks []time.Time
	for t := w.Open; t+durationMinutes <= w.Close; t += durationMinutes {
		if overlapsAny(t, t+durationMinutes, blackouts) {
			continue
		}
		if capacity > 0 && booked[t] >= capacity {
			continue
		}
		ticks = append(ticks, day.Add(time.Duration(t)*time.Minute))
	}
	return ticks
}

func overlapsAny(start, end int, blackouts []Blackout) bool {
	for _, b := range blackouts {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start < b.End && b.Start < end {
			return true
		}
	}
	return false
}

// MinutesOfDay converts a local time to its minutes-from-midnight tick value.
func MinutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
