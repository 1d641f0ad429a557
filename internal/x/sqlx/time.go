package sqlx

import "time"

// MarshalTime marshals a time to an integer number of nanoseconds since the
// Unix epoch, for products without a native timestamp type.
//
// The zero time is marshaled to zero.
func MarshalTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

// UnmarshalTime unmarshals a time from the representation produced by
// MarshalTime().
func UnmarshalTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}

	return time.Unix(0, ns)
}
