package inventory

import (
	"time"

	"github.com/nerrad567/fsanet/internal/fsa"
)

// Actuator is one inventory row.
type Actuator struct {
	Address      string    `json:"address"`
	Type         string    `json:"type,omitempty"`
	SerialNumber string    `json:"serial_number,omitempty"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	SeenCount    int       `json:"seen_count"`
}

// Sighting is one observation of a device. Empty Type and SerialNumber
// leave the stored values unchanged.
type Sighting struct {
	Address      string
	Type         string
	SerialNumber string
	At           time.Time
}

// SightingsFromFound converts discovery results into sightings at time at.
func SightingsFromFound(found []fsa.Found, at time.Time) []Sighting {
	out := make([]Sighting, 0, len(found))
	for _, f := range found {
		out = append(out, Sighting{
			Address:      f.Address,
			Type:         f.Type,
			SerialNumber: f.SerialNumber,
			At:           at,
		})
	}
	return out
}
