package sleep

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// WindowSource decides whether `at` falls inside the theoretical sleep
// time and, if so, names the activity. A source is either a named list
// of cron-expression windows (each pairing a cron "due" instant with a
// duration) or a fixed HH:MM-HH:MM daily range.
type WindowSource struct {
	// Schedules, when non-empty, takes precedence: each entry fires its
	// Activity name for Duration after its cron expression is due.
	Schedules []ScheduleWindow

	// FixedStart/FixedEnd, e.g. "23:00"/"07:00", describe a daily range
	// that may wrap past midnight. Used when Schedules is empty.
	FixedStart string
	FixedEnd   string

	// FixedJitterMinutes adds a per-day deterministic random offset (in
	// [-J, +J] minutes) to FixedStart/FixedEnd, seeded by the calendar
	// date, so the edge isn't perfectly predictable but is stable across
	// repeated checks within the same day.
	FixedJitterMinutes int
}

// ScheduleWindow is one cron-sourced theoretical sleep window.
type ScheduleWindow struct {
	Activity string
	Cron     string // standard 5-field cron expression marking the window start
	Duration time.Duration
}

// InTheoreticalSleepTime reports whether at falls inside the configured
// window and, if so, the activity name.
func (w WindowSource) InTheoreticalSleepTime(at time.Time) (bool, string) {
	if len(w.Schedules) > 0 {
		return w.inScheduleWindow(at)
	}
	return w.inFixedWindow(at)
}

func (w WindowSource) inScheduleWindow(at time.Time) (bool, string) {
	gron := gronx.New()
	for _, s := range w.Schedules {
		// Walk back from `at` in small steps to find whether the most
		// recent "due" instant for this expression is still within
		// Duration of `at`. gronx only answers "is this exact minute
		// due", so probe minute-by-minute back to the window length.
		for back := time.Duration(0); back <= s.Duration; back += time.Minute {
			candidate := at.Add(-back)
			due, err := gron.IsDue(s.Cron, candidate)
			if err != nil {
				continue
			}
			if due {
				return true, s.Activity
			}
		}
	}
	return false, ""
}

func (w WindowSource) inFixedWindow(at time.Time) (bool, string) {
	if w.FixedStart == "" || w.FixedEnd == "" {
		return false, ""
	}

	start, err1 := parseClockWithJitter(w.FixedStart, at, w.FixedJitterMinutes)
	end, err2 := parseClockWithJitter(w.FixedEnd, at, w.FixedJitterMinutes)
	if err1 != nil || err2 != nil {
		return false, ""
	}

	if start.Before(end) || start.Equal(end) {
		if (at.Equal(start) || at.After(start)) && at.Before(end) {
			return true, "scheduled_sleep"
		}
		return false, ""
	}

	// Wraps past midnight (e.g. 23:00 -> 07:00).
	if at.Equal(start) || at.After(start) || at.Before(end) {
		return true, "scheduled_sleep"
	}
	return false, ""
}

// parseClockWithJitter parses "HH:MM" onto the same calendar day as ref,
// offset by a deterministic pseudo-random number of minutes in
// [-jitterMinutes, jitterMinutes] seeded from ref's date, so the exact
// edge shifts slightly day to day without needing real randomness.
func parseClockWithJitter(clock string, ref time.Time, jitterMinutes int) (time.Time, error) {
	var h, m int
	if _, err := fmt.Sscanf(clock, "%d:%d", &h, &m); err != nil {
		return time.Time{}, err
	}
	base := time.Date(ref.Year(), ref.Month(), ref.Day(), h, m, 0, 0, ref.Location())
	if jitterMinutes <= 0 {
		return base, nil
	}
	seed := ref.Year()*372 + int(ref.Month())*31 + ref.Day()
	offset := seed%(2*jitterMinutes+1) - jitterMinutes
	return base.Add(time.Duration(offset) * time.Minute), nil
}
