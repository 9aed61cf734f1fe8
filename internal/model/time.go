package model

import (
	"encoding/json"
	"math"
	"time"
)

// ISOLayout is the timestamp layout used in every outbound payload
// (UTC, millisecond precision, trailing Z).
const ISOLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in ISOLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// EpochSecondsToTime converts an epoch-seconds value (possibly fractional)
// into a time. ok is false when n is not a finite number.
func EpochSecondsToTime(n json.Number) (t time.Time, ok bool) {
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))), true
}
