// Package pids holds the OBD-II payload types understood by the dashboard.
// Each type carries its PID, an optional mode override and a decoder for
// the hex payload that follows the PID in an adapter reply.
package pids

import (
	"encoding/hex"
	"fmt"

	"github.com/shaunagostinho/goobd/internal/obd"
)

// Reading is a decoded payload that can be shown on the dashboard.
type Reading interface {
	obd.Data
	Name() string
	Unit() string
	Value() any
	String() string
}

// decodeBytes parses a hex payload and checks it carries at least n bytes.
// Trailing bytes (padding from the adapter) are kept but ignored.
func decodeBytes(payload string, n int) ([]byte, error) {
	if len(payload)%2 == 1 {
		payload = payload[:len(payload)-1]
	}
	b, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("pids: bad payload %q: %w", payload, err)
	}
	if len(b) < n {
		return nil, fmt.Errorf("pids: payload %q: want %d bytes, got %d", payload, n, len(b))
	}
	return b, nil
}

func word(b []byte) int { return int(b[0])<<8 | int(b[1]) }

// percent converts a 0-255 byte to 0-100%.
func percent(b byte) float64 { return float64(b) * 100 / 255 }
