package models

import "encoding/json"

// LocationView is a LocationUpdate with its timestamp rendered for output
type LocationView struct {
	Timestamp string  `json:"timestamp"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Speed     float64 `json:"speed"`
}

// NewLocationView formats a stored update for a response
func NewLocationView(u LocationUpdate) LocationView {
	return LocationView{
		Timestamp: FormatTimestamp(u.Timestamp),
		Latitude:  u.Latitude,
		Longitude: u.Longitude,
		Altitude:  u.Altitude,
		Speed:     u.Speed,
	}
}

// FlightView is a flight document with every datetime serialized to ISO-8601
type FlightView struct {
	FlightID       string         `json:"flight_id"`
	Airline        string         `json:"airline"`
	Origin         string         `json:"origin"`
	Destination    string         `json:"destination"`
	Status         FlightStatus   `json:"status"`
	LastUpdate     string         `json:"last_update,omitempty"`
	CreatedAt      string         `json:"created_at,omitempty"`
	Updates        []LocationView `json:"updates"`
	CompletedAt    string         `json:"completed_at,omitempty"`
	TotalUpdates   *int           `json:"total_updates,omitempty"`
	FlightDuration *float64       `json:"flight_duration,omitempty"`
}

// NewFlightView formats a stored flight for a response
func NewFlightView(f *Flight) FlightView {
	v := FlightView{
		FlightID:       f.FlightID,
		Airline:        f.Airline,
		Origin:         f.Origin,
		Destination:    f.Destination,
		Status:         f.Status,
		Updates:        make([]LocationView, 0, len(f.Updates)),
		TotalUpdates:   f.TotalUpdates,
		FlightDuration: f.FlightDuration,
	}
	if !f.LastUpdate.IsZero() {
		v.LastUpdate = FormatTimestamp(f.LastUpdate)
	}
	if !f.CreatedAt.IsZero() {
		v.CreatedAt = FormatTimestamp(f.CreatedAt)
	}
	if f.CompletedAt != nil {
		v.CompletedAt = FormatTimestamp(*f.CompletedAt)
	}
	for _, u := range f.Updates {
		v.Updates = append(v.Updates, NewLocationView(u))
	}
	return v
}

// UpdateLocationEcho repeats the raw coordinates a client posted
type UpdateLocationEcho struct {
	Latitude  json.RawMessage `json:"latitude"`
	Longitude json.RawMessage `json:"longitude"`
	Altitude  json.RawMessage `json:"altitude"`
}

// UpdateFlightResponse is returned by POST /api/flights/update
type UpdateFlightResponse struct {
	Success   bool               `json:"success"`
	Message   string             `json:"message"`
	FlightID  string             `json:"flight_id"`
	Timestamp string             `json:"timestamp"`
	Location  UpdateLocationEcho `json:"location"`
}

// FlightListResponse is returned by GET /api/flights/flights
type FlightListResponse struct {
	Success bool         `json:"success"`
	Count   int          `json:"count"`
	Flights []FlightView `json:"flights"`
}

// TrackingDuration is the first/last update window of a flight
type TrackingDuration struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// LatestLocationResponse is returned by GET /api/flights/{id} without a timestamp
type LatestLocationResponse struct {
	Success          bool             `json:"success"`
	FlightID         string           `json:"flight_id"`
	Airline          string           `json:"airline"`
	Route            string           `json:"route"`
	Status           FlightStatus     `json:"status"`
	LatestLocation   LocationView     `json:"latest_location"`
	TotalUpdates     int              `json:"total_updates"`
	TrackingDuration TrackingDuration `json:"tracking_duration"`
}

// ClosestLocationResponse is returned by GET /api/flights/{id}?timestamp=...
type ClosestLocationResponse struct {
	Success               bool         `json:"success"`
	FlightID              string       `json:"flight_id"`
	Airline               string       `json:"airline"`
	Route                 string       `json:"route"`
	RequestedTime         string       `json:"requested_time"`
	Location              LocationView `json:"location"`
	TimeDifferenceSeconds float64      `json:"time_difference_seconds"`
}

// CompleteFlightResponse is returned by PUT /api/flights/complete/{id}
type CompleteFlightResponse struct {
	Success             bool    `json:"success"`
	Message             string  `json:"message"`
	TotalUpdates        int     `json:"total_updates"`
	FlightDurationHours float64 `json:"flight_duration_hours"`
	CompletedAt         string  `json:"completed_at"`
}

// FlightLogResponse is returned by GET /api/flights/logs/{id}
type FlightLogResponse struct {
	Success bool       `json:"success"`
	Flight  FlightView `json:"flight"`
}

// MessageResponse is a plain success/message payload
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
