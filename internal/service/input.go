package service

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/cx-tal-miterani/flight-tracker/internal/models"
)

var requiredFields = []string{"timestamp", "latitude", "longitude", "altitude", "speed"}

// updateInput is a validated position report
type updateInput struct {
	flightID    string
	airline     string
	origin      string
	destination string
	update      models.LocationUpdate
}

// parseUpdate validates a raw report. Field presence is checked on the keys,
// so an explicit null counts as present and then fails format validation.
func parseUpdate(raw map[string]json.RawMessage) (*updateInput, error) {
	flightID, ok := identifier(raw["flight_id"])
	if !ok {
		return nil, invalid("Flight ID is required")
	}

	var missing []string
	for _, field := range requiredFields {
		if _, ok := raw[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, invalid("Missing required fields: %s", strings.Join(missing, ", "))
	}

	lat, latErr := number(raw["latitude"])
	lon, lonErr := number(raw["longitude"])
	if latErr || lonErr {
		return nil, invalid("Invalid latitude or longitude format")
	}
	if !(lat >= -90 && lat <= 90) {
		return nil, invalid("Latitude must be between -90 and 90")
	}
	if !(lon >= -180 && lon <= 180) {
		return nil, invalid("Longitude must be between -180 and 180")
	}

	var tsText string
	if err := json.Unmarshal(raw["timestamp"], &tsText); err != nil {
		return nil, invalid(invalidTimestampMessage)
	}
	ts, err := models.ParseTimestamp(tsText)
	if err != nil {
		return nil, invalid(invalidTimestampMessage)
	}

	alt, altErr := number(raw["altitude"])
	speed, speedErr := number(raw["speed"])
	if altErr || speedErr || !finite(alt) || !finite(speed) {
		return nil, invalid("Invalid altitude or speed format")
	}

	return &updateInput{
		flightID:    flightID,
		airline:     optionalText(raw["airline"]),
		origin:      optionalText(raw["origin"]),
		destination: optionalText(raw["destination"]),
		update: models.LocationUpdate{
			Timestamp: ts,
			Latitude:  lat,
			Longitude: lon,
			Altitude:  alt,
			Speed:     speed,
		},
	}, nil
}

const invalidTimestampMessage = "Invalid timestamp format. Use ISO format (e.g., 2025-10-17T12:30:45)"

// identifier accepts a non-empty string or a number, using the number's literal text
func identifier(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if f, err := n.Float64(); err == nil && f != 0 {
			return n.String(), true
		}
	}
	return "", false
}

// number accepts a JSON number or a numeric string. The second result reports a format error.
func number(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil && !isNull(raw) {
		return f, false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, true
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, true
	}
	return f, false
}

// optionalText returns a string value as is, other scalars by their literal
// text, and "" when the field is absent or null
func optionalText(raw json.RawMessage) string {
	if len(raw) == 0 || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
