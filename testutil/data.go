package testutil

import "encoding/json"

// Device payloads as they appear on the wire.
const (
	LogStart = `{"log_status":"start"}`
	LogEnd   = `{"log_status":"end"}`

	LevelStart = `{"level_status":"start"}`
	LevelEnd   = `{"level_status":"end"}`

	PumpState     = `{"pump":{"pump1":"on","pump2":"off"}}`
	SettingsState = `{"settings":{"name":"tank","value":80}}`
	TimerState    = `{"timer":[{"index":0,"time":"06:30","duration":15,"enabled":true}]}`
	FullState     = `{"wireless":{"rssi":-61},"pump":{"pump1":"on"},"settings":{"mode":"auto"},` +
		`"timer":[],"schedule":{"days":[1,3,5]},"routine":{"active":false}}`
)

// LogLine wraps text as a log_data frame.
func LogLine(text string) string {
	return `{"log_data":` + quote(text) + `}`
}

// LevelLine wraps a level record, given as JSON text, as a level_data frame.
func LevelLine(record string) string {
	return `{"level_data":` + quote(record) + `}`
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
