package common

import "github.com/google/uuid"

// NewJobID generates a new unique Job.ID.
func NewJobID() string {
	return uuid.NewString()
}

// NewLinkID generates a new unique Link.ID.
func NewLinkID() string {
	return uuid.NewString()
}

// NewSatelliteID generates a satellite instance identifier, used as the
// owner_satellite_id claimed on job pop and as the heartbeat key.
func NewSatelliteID() string {
	return "satellite-" + uuid.NewString()
}
