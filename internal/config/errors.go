package config

import (
	"errors"
	"fmt"
)

// CorruptionError reports a persisted config that exists but cannot be
// parsed. Callers treat it as fatal; the file is never rewritten over it.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("config %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// IsCorruption reports whether err indicates an unparsable config file.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}
