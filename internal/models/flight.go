package models

import (
	"math"
	"time"
)

// FlightStatus represents the lifecycle state of a tracked flight
type FlightStatus string

const (
	FlightStatusInAir  FlightStatus = "in_air"
	FlightStatusLanded FlightStatus = "landed"
)

// UnknownValue is stored for airline, origin and destination when a report omits them
const UnknownValue = "Unknown"

// LocationUpdate is a single timestamped position report
type LocationUpdate struct {
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Latitude  float64   `json:"latitude" bson:"latitude"`
	Longitude float64   `json:"longitude" bson:"longitude"`
	Altitude  float64   `json:"altitude" bson:"altitude"`
	Speed     float64   `json:"speed" bson:"speed"`
}

// Flight is a tracked aircraft session. Active flights carry only the first
// block of fields; logged flights also carry the completion summary.
type Flight struct {
	FlightID    string           `json:"flight_id" bson:"flight_id"`
	Airline     string           `json:"airline" bson:"airline"`
	Origin      string           `json:"origin" bson:"origin"`
	Destination string           `json:"destination" bson:"destination"`
	Status      FlightStatus     `json:"status" bson:"status"`
	LastUpdate  time.Time        `json:"last_update" bson:"last_update"`
	CreatedAt   time.Time        `json:"created_at" bson:"created_at"`
	Updates     []LocationUpdate `json:"updates" bson:"updates"`

	CompletedAt    *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	TotalUpdates   *int       `json:"total_updates,omitempty" bson:"total_updates,omitempty"`
	FlightDuration *float64   `json:"flight_duration,omitempty" bson:"flight_duration,omitempty"`
}

// NewFlight builds the document stored for the first report of a flight
func NewFlight(flightID, airline, origin, destination string, first LocationUpdate, now time.Time) *Flight {
	return &Flight{
		FlightID:    flightID,
		Airline:     orUnknown(airline),
		Origin:      orUnknown(origin),
		Destination: orUnknown(destination),
		Status:      FlightStatusInAir,
		LastUpdate:  first.Timestamp,
		CreatedAt:   now.UTC(),
		Updates:     []LocationUpdate{first},
	}
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}

// Clone returns a deep copy so callers can't mutate stored state
func (f *Flight) Clone() *Flight {
	if f == nil {
		return nil
	}
	c := *f
	c.Updates = append([]LocationUpdate(nil), f.Updates...)
	if f.CompletedAt != nil {
		t := *f.CompletedAt
		c.CompletedAt = &t
	}
	if f.TotalUpdates != nil {
		n := *f.TotalUpdates
		c.TotalUpdates = &n
	}
	if f.FlightDuration != nil {
		d := *f.FlightDuration
		c.FlightDuration = &d
	}
	return &c
}

// Route formats origin and destination the way the API reports it
func (f *Flight) Route() string {
	return f.Origin + " → " + f.Destination
}

// HasUpdates reports whether at least one position was recorded
func (f *Flight) HasUpdates() bool {
	return len(f.Updates) > 0
}

// First returns the earliest inserted update
func (f *Flight) First() (LocationUpdate, bool) {
	if len(f.Updates) == 0 {
		return LocationUpdate{}, false
	}
	return f.Updates[0], true
}

// Latest returns the most recently inserted update
func (f *Flight) Latest() (LocationUpdate, bool) {
	if len(f.Updates) == 0 {
		return LocationUpdate{}, false
	}
	return f.Updates[len(f.Updates)-1], true
}

// ClosestUpdate returns the update whose timestamp is nearest to target.
// Updates are not guaranteed to be sorted, so this is a linear scan; on a
// tie the first one in stored order wins.
func (f *Flight) ClosestUpdate(target time.Time) (LocationUpdate, time.Duration, bool) {
	if len(f.Updates) == 0 {
		return LocationUpdate{}, 0, false
	}

	best := f.Updates[0]
	bestDiff := absDuration(best.Timestamp.Sub(target))
	for _, u := range f.Updates[1:] {
		diff := absDuration(u.Timestamp.Sub(target))
		if diff < bestDiff {
			best = u
			bestDiff = diff
		}
	}
	return best, bestDiff, true
}

// Duration is the time between the first and last inserted updates.
// Out-of-order reports can make it negative.
func (f *Flight) Duration() time.Duration {
	first, ok := f.First()
	if !ok {
		return 0
	}
	last, _ := f.Latest()
	return last.Timestamp.Sub(first.Timestamp)
}

// Complete turns an active flight into its logged form
func (f *Flight) Complete(now time.Time) {
	completedAt := now.UTC()
	total := len(f.Updates)
	hours := f.Duration().Hours()

	f.Status = FlightStatusLanded
	f.CompletedAt = &completedAt
	f.TotalUpdates = &total
	f.FlightDuration = &hours
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		if d == math.MinInt64 {
			return math.MaxInt64
		}
		return -d
	}
	return d
}
