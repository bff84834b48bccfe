package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Millis is a moment in time expressed as epoch milliseconds.
//
// The zero value means "unset". The NeverExpires sentinel marks a record
// that never expires; on every JSON boundary it is encoded as the reserved
// marker string "__Infinity__" and inverted back on read, because plain JSON
// has no infinite number.
type Millis int64

// NeverExpires marks a record without an expiry instant.
const NeverExpires Millis = -1

const neverExpiresMarker = "__Infinity__"

// MillisFromTime converts a time.Time to Millis.
func MillisFromTime(t time.Time) Millis {
	return Millis(t.UnixMilli())
}

// Time converts m back to a time.Time. Calling it on NeverExpires is a
// caller bug; the result is meaningless.
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m))
}

// IsNever reports whether m is the never-expire sentinel.
func (m Millis) IsNever() bool {
	return m == NeverExpires
}

// After reports whether m is strictly after the given instant.
// NeverExpires is after every instant.
func (m Millis) After(t time.Time) bool {
	return m.IsNever() || int64(m) > t.UnixMilli()
}

// MarshalJSON encodes the never-expire sentinel as the reserved marker
// string and every other value as a plain number.
func (m Millis) MarshalJSON() ([]byte, error) {
	if m.IsNever() {
		return json.Marshal(neverExpiresMarker)
	}

	return json.Marshal(int64(m))
}

// UnmarshalJSON accepts either a number or the reserved marker string.
func (m *Millis) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if asString != neverExpiresMarker {
			return fmt.Errorf(
				"in internal/models/millis.go/UnmarshalJSON(): unexpected string value %q",
				asString,
			)
		}
		*m = NeverExpires

		return nil
	}

	var asNumber int64
	if err := json.Unmarshal(data, &asNumber); err != nil {
		return fmt.Errorf(
			"in internal/models/millis.go/UnmarshalJSON(): error while `json.Unmarshal()` calling: %w",
			err,
		)
	}
	*m = Millis(asNumber)

	return nil
}
