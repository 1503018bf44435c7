// Package timewindow decides whether an instant falls inside one of an
// owner's weekly scan windows.
package timewindow

import "time"

// Window is a single weekly scan window: the most recent occurrence of Day
// at Start (on or before the instant being tested), open for Duration.
type Window struct {
	Day      time.Weekday
	Start    time.Duration // offset from midnight
	Duration time.Duration
}

// mostRecentOccurrence returns the most recent instant on or before `now`
// that falls on `day` at the given time-of-day offset from midnight.
func mostRecentOccurrence(now time.Time, day time.Weekday, start time.Duration) time.Time {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	candidate := midnight.Add(start)

	delta := int(now.Weekday()) - int(day)
	if delta < 0 {
		delta += 7
	}
	candidate = candidate.AddDate(0, 0, -delta)

	if candidate.After(now) {
		candidate = candidate.AddDate(0, 0, -7)
	}
	return candidate
}

// InWindows reports whether `now` lies strictly inside any window, i.e.
// window_start < now < window_start + duration.
func InWindows(windows []Window, now time.Time) bool {
	for _, w := range windows {
		start := mostRecentOccurrence(now, w.Day, w.Start)
		end := start.Add(w.Duration)
		if start.Before(now) && now.Before(end) {
			return true
		}
	}
	return false
}
