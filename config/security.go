package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Suhridx/pump-dashboard/errors"
)

// Limits on what a layer file or a PUMPVIEW_* override may carry.
const (
	maxLayerBytes    = 1 << 20
	maxLayerDepth    = 32
	maxOverrideBytes = 4096
)

type fileFormat int

const (
	formatJSON fileFormat = iota
	formatYAML
	formatTOML
)

func (f fileFormat) String() string {
	switch f {
	case formatYAML:
		return "yaml"
	case formatTOML:
		return "toml"
	default:
		return "json"
	}
}

// formatOf picks the decoder for a layer from its extension.
func formatOf(path string) (fileFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	case ".toml":
		return formatTOML, nil
	default:
		return 0, fmt.Errorf("%w: unsupported config file type %q (want .json, .yaml, .yml or .toml)",
			errors.ErrInvalidConfig, filepath.Base(path))
	}
}

// readLayer returns the format and contents of one layer file. Only regular
// files of at most maxLayerBytes are read.
func readLayer(path string) (fileFormat, []byte, error) {
	if strings.TrimSpace(path) == "" {
		return 0, nil, fmt.Errorf("%w: empty config path", errors.ErrMissingConfig)
	}
	format, err := formatOf(path)
	if err != nil {
		return 0, nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, nil, err
	}
	if !info.Mode().IsRegular() {
		return 0, nil, fmt.Errorf("%w: %s is not a regular file", errors.ErrInvalidConfig, path)
	}
	if info.Size() > maxLayerBytes {
		return 0, nil, fmt.Errorf("%w: %s is %d bytes, limit %d", errors.ErrInvalidConfig, path, info.Size(), maxLayerBytes)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxLayerBytes+1))
	if err != nil {
		return 0, nil, err
	}
	if len(data) > maxLayerBytes {
		return 0, nil, fmt.Errorf("%w: %s grew past %d bytes while reading", errors.ErrInvalidConfig, path, maxLayerBytes)
	}
	return format, data, nil
}

// checkLayerDepth walks a decoded layer. JSON, YAML and TOML all decode to
// the same map/slice tree, so one limit applies to every format.
func checkLayerDepth(v any, depth int) error {
	if depth > maxLayerDepth {
		return fmt.Errorf("%w: nesting deeper than %d levels", errors.ErrInvalidConfig, maxLayerDepth)
	}
	switch node := v.(type) {
	case map[string]any:
		for _, child := range node {
			if err := checkLayerDepth(child, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range node {
			if err := checkLayerDepth(child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// override reads PUMPVIEW_<name>. Values must be a single line of at most
// maxOverrideBytes.
func (l *Loader) override(name string) (key, value string, err error) {
	key = l.envPrefix + "_" + name
	value = l.getenv(key)
	switch {
	case value == "":
		return key, "", nil
	case len(value) > maxOverrideBytes:
		err = fmt.Errorf("%w: %s is %d bytes, limit %d", errors.ErrInvalidConfig, key, len(value), maxOverrideBytes)
	case strings.ContainsAny(value, "\x00\r\n"):
		err = fmt.Errorf("%w: %s contains control characters", errors.ErrInvalidConfig, key)
	}
	if err != nil {
		return key, "", errors.WrapFatal(err, "Loader", "override", "read "+key)
	}
	return key, value, nil
}
