package stream

import (
	"strings"

	"github.com/Suhridx/pump-dashboard/device"
)

// EndOfLogMarker is appended to the text log when the device ends the transfer.
const EndOfLogMarker = "--- End of Log File ---"

// TextLog accumulates log_data chunks. Each chunk is stored with its newline
// separator so Text reproduces the transfer verbatim.
type TextLog struct {
	*Accumulator[string]
}

// NewTextLog returns an empty text log.
func NewTextLog() *TextLog {
	return &TextLog{New(WithTrailer("\n\n" + EndOfLogMarker))}
}

// AppendLine stores chunk followed by a newline.
func (t *TextLog) AppendLine(chunk string) bool {
	return t.Append(chunk + "\n")
}

// Text joins a text-log snapshot into the buffer contents.
func Text(s Snapshot[string]) string {
	return strings.Join(s.Items, "")
}

// LevelLog accumulates decoded level_data records. It has no trailer.
type LevelLog struct {
	*Accumulator[device.LevelRecord]
}

// NewLevelLog returns an empty level log.
func NewLevelLog() *LevelLog {
	return &LevelLog{New[device.LevelRecord]()}
}
