package message

import (
	"fmt"
	"time"
)

// DeadlineLayout is how deadlines are printed in group messages.
const DeadlineLayout = "02 Jan 2006 15:04 MST"

// Count renders n with a singular or plural unit, e.g. "1 day" or "7 days".
// unit is given in its singular form.
func Count(n int, unit string) string {
	if n == 1 || n == -1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Humanize renders a remaining duration with the coarsest unit that keeps it
// readable.
func Humanize(d time.Duration) string {
	switch {
	case d >= 48*time.Hour:
		return Count(int(d/(24*time.Hour)), "day")
	case d >= 2*time.Hour:
		return Count(int(d/time.Hour), "hour")
	}
	m := int(d.Round(time.Minute) / time.Minute)
	if m < 1 {
		m = 1
	}
	return Count(m, "minute")
}

// Deadline formats t in UTC using DeadlineLayout.
func Deadline(t time.Time) string {
	return t.UTC().Format(DeadlineLayout)
}
