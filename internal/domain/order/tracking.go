package order

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// trackingPrefix precedes the random token in every tracking number.
const trackingPrefix = "TRK-"

// trackingTokenBytes is the random token length; 8 bytes yields 16 hex
// characters, making accidental collision practically impossible. The
// orders table still carries a unique constraint, and generation is
// retried on collision.
const trackingTokenBytes = 8

// GenerateTrackingNumber returns a fresh tracking number of the form
// TRK-<16 uppercase hex chars>.
func GenerateTrackingNumber() string {
	buf := make([]byte, trackingTokenBytes)
	// rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(buf)
	return trackingPrefix + strings.ToUpper(hex.EncodeToString(buf))
}
