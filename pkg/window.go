package pkg

import (
	"fmt"
	"time"
)

// TimeWindow is a recurring time-of-day interval expressed in minutes of day.
// The end minute is exclusive.
type TimeWindow struct {
	StartMin int `json:"start_min"`
	EndMin   int `json:"end_min"`
}

// Contains reports whether t's local time of day falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	return m >= w.StartMin && m < w.EndMin
}

// String renders the window as "HH:MM-HH:MM".
func (w TimeWindow) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d",
		w.StartMin/60, w.StartMin%60, w.EndMin/60, w.EndMin%60)
}

// InAnyWindow reports whether t falls inside any of the given windows.
func InAnyWindow(t time.Time, windows []TimeWindow) bool {
	for _, w := range windows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}
