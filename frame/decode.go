package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Suhridx/pump-dashboard/device"
	"github.com/Suhridx/pump-dashboard/errors"
)

// Inbound keys
const (
	KeyLogStatus   = "log_status"
	KeyLogData     = "log_data"
	KeyLevelStatus = "level_status"
	KeyLevelData   = "level_data"
)

// Decode classifies one transport payload. Errors are classified Invalid and
// wrap errors.ErrParsingFailed, errors.ErrInvalidData or errors.ErrUnknownControl;
// they are per-message and never affect the link.
func Decode(payload []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(payload)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"frame", "Decode", "decode message")
	}
	if fields == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: message is not a JSON object", errors.ErrInvalidData),
			"frame", "Decode", "decode message")
	}

	if raw, ok := fields[KeyLogStatus]; ok {
		ctrl, err := decodeControl(raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "frame", "Decode", "decode log_status")
		}
		return LogControl{Control: ctrl}, nil
	}

	if raw, ok := fields[KeyLogData]; ok {
		text, err := decodeString(raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "frame", "Decode", "decode log_data")
		}
		return LogChunk{Text: text}, nil
	}

	if raw, ok := fields[KeyLevelStatus]; ok {
		ctrl, err := decodeControl(raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "frame", "Decode", "decode level_status")
		}
		return LevelControl{Control: ctrl}, nil
	}

	if raw, ok := fields[KeyLevelData]; ok {
		rec, err := decodeLevelData(raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "frame", "Decode", "decode level_data")
		}
		return LevelChunk{Record: rec}, nil
	}

	state := make(map[device.Domain]json.RawMessage)
	for key, raw := range fields {
		if d, ok := device.ParseDomain(key); ok {
			state[d] = raw
		}
	}
	if len(state) > 0 {
		return StateFragment{Domains: state}, nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Unrecognized{Keys: keys}, nil
}

// ParseControl maps "start" and "end" to a Control.
func ParseControl(s string) (Control, error) {
	switch s {
	case "start":
		return ControlStart, nil
	case "end":
		return ControlEnd, nil
	default:
		return 0, fmt.Errorf("%w: %q", errors.ErrUnknownControl, s)
	}
}

func decodeControl(raw json.RawMessage) (Control, error) {
	s, err := decodeString(raw)
	if err != nil {
		return 0, err
	}
	return ParseControl(s)
}

func decodeString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: expected a string, got %s", errors.ErrInvalidData, abbreviate(raw))
	}
	return s, nil
}

// decodeLevelData unwraps the string-encoded record carried by level_data.
func decodeLevelData(raw json.RawMessage) (device.LevelRecord, error) {
	inner, err := decodeString(raw)
	if err != nil {
		return device.LevelRecord{}, err
	}

	rec, err := device.ParseLevelRecord([]byte(strings.TrimSpace(inner)))
	if err != nil {
		return device.LevelRecord{}, fmt.Errorf("%w: nested record: %v", errors.ErrParsingFailed, err)
	}
	return rec, nil
}

func abbreviate(raw json.RawMessage) string {
	const limit = 32
	if len(raw) <= limit {
		return string(raw)
	}
	return string(raw[:limit]) + "..."
}
