package archive

import (
	"bufio"
	"encoding/json"
	"strings"

	"github.com/Suhridx/pump-dashboard/device"
	"github.com/Suhridx/pump-dashboard/frame"
)

// ParseLevelLog decodes an archived level-log file, one record per line.
// Status markers such as {'log_status': 'end'} and lines that do not decode
// are skipped; skipped reports how many.
//
// A line may be a bare record or a wrapped {"level_data": "..."} frame as
// captured from the live stream.
func ParseLevelLog(text string) (records []device.LevelRecord, skipped int) {
	records = []device.LevelRecord{}

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if isStatusMarker(line) {
			skipped++
			continue
		}

		rec, ok := parseLevelLine(line)
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped
}

func parseLevelLine(line string) (device.LevelRecord, bool) {
	if strings.Contains(line, `"`+frame.KeyLevelData+`"`) {
		f, err := frame.Decode([]byte(line))
		if err != nil {
			return device.LevelRecord{}, false
		}
		chunk, ok := f.(frame.LevelChunk)
		return chunk.Record, ok
	}

	rec, err := device.ParseLevelRecord([]byte(line))
	return rec, err == nil
}

// isStatusMarker matches stream control lines in either quote style.
func isStatusMarker(line string) bool {
	if !strings.HasPrefix(line, "{") {
		return false
	}
	normalized := strings.ReplaceAll(line, "'", `"`)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(normalized), &fields); err != nil || len(fields) != 1 {
		return false
	}
	for _, key := range []string{frame.KeyLogStatus, frame.KeyLevelStatus} {
		if _, ok := fields[key]; ok {
			return true
		}
	}
	return false
}
