// Package frame classifies inbound device messages.
//
// Every payload the transport delivers is decoded once, at the boundary, into
// exactly one Frame variant. Classification order is fixed and the first match
// wins: log_status, log_data, level_status, level_data, then the domain keys.
package frame

import (
	"encoding/json"

	"github.com/Suhridx/pump-dashboard/device"
)

// Class identifies the variant of a Frame.
type Class int

// Frame classes
const (
	ClassUnrecognized Class = iota
	ClassLogControl
	ClassLogData
	ClassLevelControl
	ClassLevelData
	ClassState
)

// String returns the label used in logs and metrics.
func (c Class) String() string {
	switch c {
	case ClassLogControl:
		return "log_control"
	case ClassLogData:
		return "log_data"
	case ClassLevelControl:
		return "level_control"
	case ClassLevelData:
		return "level_data"
	case ClassState:
		return "state"
	default:
		return "unrecognized"
	}
}

// Control is the value of a stream control frame.
type Control int

// Stream controls
const (
	ControlStart Control = iota + 1
	ControlEnd
)

func (c Control) String() string {
	switch c {
	case ControlStart:
		return "start"
	case ControlEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Frame is the decoded form of one inbound message.
type Frame interface {
	Class() Class
}

// LogControl starts or ends the text-log stream.
type LogControl struct {
	Control Control
}

// LogChunk carries one line of the text-log stream, without separator.
type LogChunk struct {
	Text string
}

// LevelControl starts or ends the level-log stream.
type LevelControl struct {
	Control Control
}

// LevelChunk carries one decoded level-log record.
type LevelChunk struct {
	Record device.LevelRecord
}

// StateFragment carries wholesale replacements for one or more domains.
// A JSON null value asks for the domain to be cleared.
type StateFragment struct {
	Domains map[device.Domain]json.RawMessage
}

// Unrecognized is a well-formed object carrying none of the known keys.
type Unrecognized struct {
	Keys []string
}

func (LogControl) Class() Class    { return ClassLogControl }
func (LogChunk) Class() Class      { return ClassLogData }
func (LevelControl) Class() Class  { return ClassLevelControl }
func (LevelChunk) Class() Class    { return ClassLevelData }
func (StateFragment) Class() Class { return ClassState }
func (Unrecognized) Class() Class  { return ClassUnrecognized }
