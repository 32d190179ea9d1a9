// Package correlation generates the identifiers that tie a radar detection
// to its downstream consolidated event and persisted rows.
package correlation

import (
	crand "crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewRadarID returns an 8-byte random hex-encoded identifier assigned at the
// moment a radar frame is classified as a motion event. Short and
// log-friendly, matching the scheme the serial multiplexer already uses for
// its subscription IDs.
func NewRadarID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// NewConsolidationID returns a UUID identifying one consolidated event
// (radar detection + any camera/weather snapshots composed with it).
func NewConsolidationID() string {
	return uuid.NewString()
}
