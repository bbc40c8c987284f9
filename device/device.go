// Package device holds the wire-level vocabulary owned by the pump controller
// firmware: the six discrete-state domains and the level-log record.
package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/Suhridx/pump-dashboard/pkg/timestamp"
)

// Domain names one category of discrete device state.
type Domain string

// The six domains the controller reports. The set is closed; unknown keys
// in a state fragment are ignored.
const (
	DomainWireless Domain = "wireless"
	DomainPump     Domain = "pump"
	DomainSettings Domain = "settings"
	DomainTimer    Domain = "timer"
	DomainSchedule Domain = "schedule"
	DomainRoutine  Domain = "routine"
)

var domains = []Domain{
	DomainWireless,
	DomainPump,
	DomainSettings,
	DomainTimer,
	DomainSchedule,
	DomainRoutine,
}

// Domains returns the known domains in a stable order.
func Domains() []Domain {
	out := make([]Domain, len(domains))
	copy(out, domains)
	return out
}

// ParseDomain reports whether s names a known domain.
func ParseDomain(s string) (Domain, bool) {
	for _, d := range domains {
		if string(d) == s {
			return d, true
		}
	}
	return "", false
}

// LevelRecord is one sample of the level-log stream. The firmware owns the
// shape, so the record keeps the object exactly as received and re-encodes it
// byte for byte (whitespace aside). The accessors read the known fields
// leniently: numbers may arrive as strings and pump state as "ON"/"OFF".
type LevelRecord struct {
	raw    json.RawMessage
	fields map[string]json.RawMessage
}

var errNotObject = errors.New("level record is not a JSON object")

// Known level record keys.
const (
	KeyTimestamp = "timestamp"
	KeyTankLevel = "tank_level"
	KeyResLevel  = "res_level"
	KeyPumpState = "pump_state"
)

// ParseLevelRecord decodes one record. Only malformed JSON and non-objects
// are rejected; field types are not checked.
func ParseLevelRecord(data []byte) (LevelRecord, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, bytes.TrimSpace(data)); err != nil {
		return LevelRecord{}, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &fields); err != nil {
		return LevelRecord{}, err
	}
	if fields == nil {
		return LevelRecord{}, errNotObject
	}
	return LevelRecord{raw: buf.Bytes(), fields: fields}, nil
}

// Field returns the raw value stored under key.
func (r LevelRecord) Field(key string) (json.RawMessage, bool) {
	v, ok := r.fields[key]
	if !ok || isNull(v) {
		return nil, false
	}
	return v, true
}

// Timestamp returns the timestamp as text. Numeric timestamps are returned
// in their JSON form.
func (r LevelRecord) Timestamp() string {
	v, ok := r.Field(KeyTimestamp)
	if !ok {
		return ""
	}
	if s, ok := asString(v); ok {
		return s
	}
	return string(v)
}

// Time parses Timestamp. The second result is false when the firmware value
// is missing or in an unrecognised format.
func (r LevelRecord) Time() (time.Time, bool) {
	return timestamp.Parse(r.Timestamp())
}

// TankLevel returns tank_level as a number.
func (r LevelRecord) TankLevel() (float64, bool) {
	return r.number(KeyTankLevel)
}

// ResLevel returns res_level as a number.
func (r LevelRecord) ResLevel() (float64, bool) {
	return r.number(KeyResLevel)
}

// PumpOn reports pump_state. Booleans, "ON"/"OFF", "true"/"false" and
// numbers are understood; the second result is false for anything else.
func (r LevelRecord) PumpOn() (on bool, ok bool) {
	v, ok := r.Field(KeyPumpState)
	if !ok {
		return false, false
	}
	var b bool
	if json.Unmarshal(v, &b) == nil {
		return b, true
	}
	if s, ok := asString(v); ok {
		switch strings.ToUpper(strings.TrimSpace(s)) {
		case "ON", "TRUE", "1":
			return true, true
		case "OFF", "FALSE", "0":
			return false, true
		}
		return false, false
	}
	var n float64
	if json.Unmarshal(v, &n) == nil {
		return n != 0, true
	}
	return false, false
}

func (r LevelRecord) number(key string) (float64, bool) {
	v, ok := r.Field(key)
	if !ok {
		return 0, false
	}
	var n float64
	if json.Unmarshal(v, &n) == nil {
		return n, true
	}
	if s, ok := asString(v); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return n, err == nil
	}
	return 0, false
}

// MarshalJSON writes the record as received. The zero record encodes as {}.
func (r LevelRecord) MarshalJSON() ([]byte, error) {
	if len(r.raw) == 0 {
		return []byte("{}"), nil
	}
	return r.raw, nil
}

// UnmarshalJSON accepts any JSON object.
func (r *LevelRecord) UnmarshalJSON(data []byte) error {
	rec, err := ParseLevelRecord(data)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

func asString(v json.RawMessage) (string, bool) {
	var s string
	if json.Unmarshal(v, &s) != nil {
		return "", false
	}
	return s, true
}

func isNull(v json.RawMessage) bool {
	return string(bytes.TrimSpace(v)) == "null"
}
