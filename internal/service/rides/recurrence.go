package rides

import (
	"time"

	"github.com/Domenick1991/carpool/internal/domain"
)

type ExpandOptions struct {
	MaxInstances int
	DefaultWeeks int
	NewID        func() string
}

// ExpandRecurrence walks day by day from the day after the parent's departure
// and clones the parent onto every day whose weekday is in rec.Days. The walk
// stops after MaxInstances instances or once it passes the end date, which is
// inclusive and defaults to DefaultWeeks after the parent's date.
func ExpandRecurrence(parent *domain.Ride, rec domain.Recurrence, opts ExpandOptions) []*domain.Ride {
	if len(rec.Days) == 0 || opts.MaxInstances <= 0 {
		return nil
	}

	days := make(map[time.Weekday]bool, len(rec.Days))
	for _, d := range rec.Days {
		days[d] = true
	}

	var last time.Time
	if rec.EndDate != nil {
		last = dateOf(*rec.EndDate)
	} else {
		last = dateOf(parent.DepartureAt).AddDate(0, 0, 7*opts.DefaultWeeks)
	}

	var out []*domain.Ride
	for offset := 1; len(out) < opts.MaxInstances; offset++ {
		at := parent.DepartureAt.AddDate(0, 0, offset)
		if dateOf(at).After(last) {
			break
		}
		if !days[at.Weekday()] {
			continue
		}
		out = append(out, instanceOf(parent, at, opts.NewID()))
	}
	return out
}

func instanceOf(parent *domain.Ride, at time.Time, id string) *domain.Ride {
	r := parent.Clone()
	r.ID = id
	r.DepartureAt = at
	r.IsRecurring = false
	r.Recurrence = nil
	r.IsRecurringInstance = true
	r.ParentRideID = parent.ID
	r.Version = 0
	return r
}

// dateOf drops the clock, keeping the calendar date in t's own location.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
