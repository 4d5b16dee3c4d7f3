// Package catalog loads the static list of models a node can serve.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"petalsmon/internal/common/fsutil"
	"petalsmon/pkg/types"
)

// Load reads a YAML list of models. A missing file yields an empty catalog;
// a malformed one is an error. Entries without a name are skipped.
func Load(path string) ([]types.Model, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return []types.Model{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(b)
}

// Parse decodes catalog bytes.
func Parse(b []byte) ([]types.Model, error) {
	var raw []types.Model
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	out := make([]types.Model, 0, len(raw))
	for _, m := range raw {
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			continue
		}
		m.TokenRequired = m.RequiresToken()
		m.LegacyToken = false
		out = append(out, m)
	}
	return out, nil
}

// At returns the model at index i, as the persisted model_id refers to.
func At(models []types.Model, i int) (types.Model, bool) {
	if i < 0 || i >= len(models) {
		return types.Model{}, false
	}
	return models[i], true
}

// Find returns the model with the given name.
func Find(models []types.Model, name string) (types.Model, bool) {
	for _, m := range models {
		if m.Name == name {
			return m, true
		}
	}
	return types.Model{}, false
}
