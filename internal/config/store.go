package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"petalsmon/internal/common/fsutil"
)

// Store persists a Config at a fixed path.
type Store struct {
	path string
	f    format
	log  zerolog.Logger
}

// NewStore returns a store for path. The format follows the extension.
func NewStore(path string, log zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty config path")
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	f, err := formatFor(p)
	if err != nil {
		return nil, err
	}
	return &Store{path: p, f: f, log: log.With().Str("component", "config").Logger()}, nil
}

// Path returns the resolved file path.
func (s *Store) Path() string { return s.path }

// Load returns the persisted config merged over Defaults. A missing file is
// created with the defaults. An unparsable file yields a *CorruptionError.
func (s *Store) Load() (Config, error) {
	cfg := Defaults()
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.write(cfg); err != nil {
			return cfg, err
		}
		s.log.Info().Str("path", s.path).Msg("config created with defaults")
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	present, err := presentKeys(s.f, b)
	if err != nil {
		return Defaults(), &CorruptionError{Path: s.path, Err: err}
	}
	if err := decodeInto(s.f, b, &cfg); err != nil {
		return Defaults(), &CorruptionError{Path: s.path, Err: err}
	}
	if missing := MissingKeys(present); len(missing) > 0 {
		s.log.Info().Str("path", s.path).Strs("backfilled", missing).Msg("config loaded from older schema")
	} else {
		s.log.Debug().Str("path", s.path).Msg("config loaded")
	}
	return cfg, nil
}

// Save validates cfg and atomically overwrites the persisted record.
func (s *Store) Save(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.write(cfg); err != nil {
		return err
	}
	s.log.Info().Str("path", s.path).Msg("config saved")
	return nil
}

func (s *Store) write(cfg Config) error {
	b, err := encode(s.f, cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// MissingKeys returns the current-schema keys absent from present, sorted.
func MissingKeys(present map[string]bool) []string {
	var out []string
	for _, k := range Keys {
		if !present[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
