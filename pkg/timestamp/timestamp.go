// Package timestamp provides timestamp handling shared by the view and the
// level-log records.
//
// Two conventions meet here. The reconciled view reports instants as int64
// milliseconds since the Unix epoch, with 0 meaning "never". Level records
// carry whatever the firmware wrote into "timestamp": RFC3339, a local
// "2006-01-02 15:04:05" form, or Unix seconds/milliseconds as text. Parse
// accepts all of them.
package timestamp

import (
	"strconv"
	"strings"
	"time"
)

// layouts tried by Parse, most specific first. Layouts without a zone are
// interpreted as UTC.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"02/01/2006 15:04:05",
}

// ToUnixMs converts a time.Time to Unix milliseconds. The zero time maps to 0.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time. 0 maps to the zero time.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Parse interprets a firmware timestamp. Numeric input larger than 1e12 is
// taken as milliseconds, otherwise as seconds.
func Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		return fromEpoch(float64(n)), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return fromEpoch(f), true
	}

	return time.Time{}, false
}

func fromEpoch(v float64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(int64(v)).UTC()
	}
	sec := int64(v)
	nsec := int64((v - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// Max returns the later of two instants. Used to keep lastUpdatedAt monotonic.
func Max(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
