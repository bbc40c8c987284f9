// Package view defines the reconciled view and fans it out to readers.
//
// A View is an immutable aggregate of link state, the six domains and both
// streams. The session dispatcher builds a new View after every mutation and
// hands it to a Publisher; subscribers always see whole views, never a
// partially applied frame.
package view

import (
	"encoding/json"
	"time"

	"github.com/Suhridx/pump-dashboard/device"
	"github.com/Suhridx/pump-dashboard/pkg/timestamp"
	"github.com/Suhridx/pump-dashboard/stream"
)

// LogView is the text-log stream as seen by readers.
type LogView struct {
	Status stream.Status `json:"status"`
	Lines  []string      `json:"lines"`
}

// Text joins the buffered lines.
func (l LogView) Text() string {
	return stream.Text(stream.Snapshot[string]{Status: l.Status, Items: l.Lines})
}

// Complete reports whether the log may be treated as final.
func (l LogView) Complete() bool {
	return l.Status.Final()
}

// LevelView is the level-log stream as seen by readers.
type LevelView struct {
	Status  stream.Status        `json:"status"`
	Records []device.LevelRecord `json:"records"`
}

// Complete reports whether the level log may be treated as final.
func (l LevelView) Complete() bool {
	return l.Status.Final()
}

// View is one consistent snapshot of everything the session knows.
// Fields are shared with the dispatcher and must be treated as read-only.
type View struct {
	Seq           uint64
	Connected     bool
	LastUpdatedAt time.Time
	Domains       map[device.Domain]json.RawMessage
	Log           LogView
	Levels        LevelView
}

// Domain returns the snapshot for d.
func (v *View) Domain(d device.Domain) (json.RawMessage, bool) {
	if v == nil {
		return nil, false
	}
	raw, ok := v.Domains[d]
	return raw, ok
}

type viewJSON struct {
	Seq           uint64                     `json:"seq"`
	Connected     bool                       `json:"connected"`
	LastUpdatedAt *int64                     `json:"last_updated_at"`
	Domains       map[string]json.RawMessage `json:"domains"`
	Log           LogView                    `json:"log"`
	Levels        LevelView                  `json:"levels"`
}

// MarshalJSON writes every known domain, with null for those not yet seen.
// last_updated_at is unix milliseconds, or null before the first update.
func (v View) MarshalJSON() ([]byte, error) {
	out := viewJSON{
		Seq:       v.Seq,
		Connected: v.Connected,
		Domains:   make(map[string]json.RawMessage, len(device.Domains())),
		Log:       v.Log,
		Levels:    v.Levels,
	}
	if !v.LastUpdatedAt.IsZero() {
		ms := timestamp.ToUnixMs(v.LastUpdatedAt)
		out.LastUpdatedAt = &ms
	}
	for _, d := range device.Domains() {
		if raw, ok := v.Domains[d]; ok {
			out.Domains[string(d)] = raw
		} else {
			out.Domains[string(d)] = json.RawMessage("null")
		}
	}
	if out.Log.Lines == nil {
		out.Log.Lines = []string{}
	}
	if out.Levels.Records == nil {
		out.Levels.Records = []device.LevelRecord{}
	}
	return json.Marshal(out)
}

// Empty returns the view before any session has started.
func Empty() *View {
	return &View{
		Domains: map[device.Domain]json.RawMessage{},
		Log:     LogView{Status: stream.StatusEmpty, Lines: []string{}},
		Levels:  LevelView{Status: stream.StatusEmpty, Records: []device.LevelRecord{}},
	}
}
