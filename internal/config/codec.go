package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type format int

const (
	formatYAML format = iota
	formatJSON
	formatTOML
)

// formatFor picks the codec from the file extension.
// Supports: .yaml/.yml, .json, .toml
func formatFor(path string) (format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return formatYAML, nil
	case ".json":
		return formatJSON, nil
	case ".toml":
		return formatTOML, nil
	default:
		return 0, fmt.Errorf("unsupported config extension: %s", ext)
	}
}

// decodeInto unmarshals b over dst. Fields absent from b keep whatever dst
// already holds, which is how defaults get backfilled.
func decodeInto(f format, b []byte, dst *Config) error {
	switch f {
	case formatYAML:
		return yaml.Unmarshal(b, dst)
	case formatJSON:
		return json.Unmarshal(b, dst)
	case formatTOML:
		return toml.Unmarshal(b, dst)
	}
	return fmt.Errorf("unknown format %d", f)
}

// presentKeys returns the top-level keys of the document.
func presentKeys(f format, b []byte) (map[string]bool, error) {
	raw := map[string]any{}
	var err error
	switch f {
	case formatYAML:
		err = yaml.Unmarshal(b, &raw)
	case formatJSON:
		err = json.Unmarshal(b, &raw)
	case formatTOML:
		err = toml.Unmarshal(b, &raw)
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(raw))
	for k := range raw {
		out[k] = true
	}
	return out, nil
}

func encode(f format, cfg Config) ([]byte, error) {
	switch f {
	case formatYAML:
		return yaml.Marshal(cfg)
	case formatJSON:
		b, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	case formatTOML:
		return toml.Marshal(cfg)
	}
	return nil, fmt.Errorf("unknown format %d", f)
}
