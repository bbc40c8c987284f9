package gate

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Request kinds understood by the controller firmware.
const (
	KindPump                 = "pump"
	KindSettings             = "settings"
	KindTimerUpdate          = "timer_update"
	KindUpdate               = "update"
	KindUpdateServer         = "updateServer"
	KindUpdateResController  = "updateResController"
	KindUpdateTankController = "updateTankController"
	KindSendLog              = "sendlog"
	KindSendLevelLog         = "sendLevelLog"
	KindGetState             = "getState"
)

const keyOnlySchema = `{
	"type": "object",
	"required": ["key"],
	"properties": {"key": {"type": "string"}}
}`

var kindSchemas = map[string]string{
	KindPump: `{
		"type": "object",
		"required": ["key", "name"],
		"properties": {
			"key":  {"const": "pump"},
			"name": {"type": "string", "minLength": 1}
		}
	}`,
	KindSettings: `{
		"type": "object",
		"required": ["key", "name"],
		"properties": {
			"key":  {"const": "settings"},
			"name": {"type": "string", "minLength": 1}
		}
	}`,
	KindTimerUpdate: `{
		"type": "object",
		"required": ["key", "index", "time", "duration", "enabled"],
		"properties": {
			"key":      {"const": "timer_update"},
			"index":    {"type": "integer", "minimum": 0},
			"time":     {"type": "string", "pattern": "^([01]?[0-9]|2[0-3]):[0-5][0-9]$"},
			"duration": {"type": "number", "minimum": 0},
			"enabled":  {"type": "boolean"}
		}
	}`,
	KindUpdate:               keyOnlySchema,
	KindUpdateServer:         keyOnlySchema,
	KindUpdateResController:  keyOnlySchema,
	KindUpdateTankController: keyOnlySchema,
	KindSendLog:              keyOnlySchema,
	KindSendLevelLog:         keyOnlySchema,
	KindGetState:             keyOnlySchema,
}

// compileSchemas loads the schema for every known kind.
func compileSchemas() (map[string]*gojsonschema.Schema, error) {
	out := make(map[string]*gojsonschema.Schema, len(kindSchemas))
	for kind, src := range kindSchemas {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", kind, err)
		}
		out[kind] = s
	}
	return out, nil
}

func validateAgainst(schema *gojsonschema.Schema, payload []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
