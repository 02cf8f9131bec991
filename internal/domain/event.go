package domain

import (
	"slices"
	"strings"
	"time"
)

// DayLayout is the partition key format.
const DayLayout = "2006-01-02"

// StatusEvent records a vehicle entering a state.
type StatusEvent struct {
	VehicleID string
	Timestamp int64
	Status    State
	Cycle     int
	Weight    float64
	// Fallback marks events whose caller-supplied timestamp was unreadable and replaced by the clock.
	Fallback bool
}

// Time returns the event timestamp as a UTC time.
func (e StatusEvent) Time() time.Time {
	return time.Unix(e.Timestamp, 0).UTC()
}

// Partition holds the events appended during one facility-local day.
type Partition struct {
	Day    string
	Events map[string][]StatusEvent
}

// NewPartition returns an empty partition for day.
func NewPartition(day string) Partition {
	return Partition{Day: day, Events: map[string][]StatusEvent{}}
}

// Append adds an event under its vehicle and keeps that vehicle's sequence ordered.
func (p *Partition) Append(event StatusEvent) {
	if p.Events == nil {
		p.Events = map[string][]StatusEvent{}
	}
	events := append(p.Events[event.VehicleID], event)
	SortEvents(events)
	p.Events[event.VehicleID] = events
}

// Empty reports whether the partition has no events.
func (p Partition) Empty() bool {
	for _, events := range p.Events {
		if len(events) > 0 {
			return false
		}
	}
	return true
}

// VehicleIDs returns the vehicles that have events, sorted.
func (p Partition) VehicleIDs() []string {
	out := make([]string, 0, len(p.Events))
	for id, events := range p.Events {
		if len(events) > 0 {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// SortEvents orders events by timestamp, keeping insertion order for ties.
func SortEvents(events []StatusEvent) {
	slices.SortStableFunc(events, func(a, b StatusEvent) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		default:
			return 0
		}
	})
}

// DayOf returns the partition key for t in the facility location.
func DayOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}

// ParseDay validates and normalizes a partition key.
func ParseDay(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	day, err := time.Parse(DayLayout, raw)
	if err != nil {
		return "", ErrInvalidDay
	}
	return day.Format(DayLayout), nil
}

// DaySpan counts the days from start to end inclusive without expanding them.
func DaySpan(start, end string) (int, error) {
	from, to, err := parseDayRange(start, end)
	if err != nil {
		return 0, err
	}
	// Unix seconds avoid the ~292 year ceiling of time.Duration.
	return int((to.Unix()-from.Unix())/(24*60*60)) + 1, nil
}

// DaysBetween returns every partition key from start to end inclusive.
func DaysBetween(start, end string) ([]string, error) {
	from, to, err := parseDayRange(start, end)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(DayLayout))
	}
	return out, nil
}

func parseDayRange(start, end string) (time.Time, time.Time, error) {
	from, err := time.Parse(DayLayout, strings.TrimSpace(start))
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidDay
	}
	to, err := time.Parse(DayLayout, strings.TrimSpace(end))
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidDay
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, ErrInvalidDay
	}
	return from, to, nil
}
