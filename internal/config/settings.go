package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/kirsle/configdir"
)

// EnvPrefix namespaces every process setting, e.g. PETALSMON_ADDR.
const EnvPrefix = "PETALSMON"

// AppName is the per-user config directory name.
const AppName = "petalsmon"

// Settings are process-level knobs, as opposed to the node Config the user
// edits. Zero values are replaced by defaults in LoadSettings.
type Settings struct {
	ConfigPath  string `envconfig:"CONFIG"`
	CatalogPath string `envconfig:"CATALOG"`
	HistoryPath string `envconfig:"HISTORY"`

	Python   string `envconfig:"PYTHON" default:"python3"`
	Addr     string `envconfig:"ADDR" default:"127.0.0.1:8765"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	GracePeriod  time.Duration `envconfig:"GRACE_PERIOD" default:"5s"`
	DrainTimeout time.Duration `envconfig:"DRAIN_TIMEOUT" default:"1s"`
	MaxLines     int           `envconfig:"MAX_LINES" default:"5000"`

	ChatURL     string        `envconfig:"CHAT_URL" default:"https://chat.petals.dev"`
	ChatTimeout time.Duration `envconfig:"CHAT_TIMEOUT" default:"5m"`
	// ChatEchoesPrompt is for generate endpoints that return the prompt too.
	ChatEchoesPrompt bool `envconfig:"CHAT_ECHOES_PROMPT"`

	CORSEnabled bool     `envconfig:"CORS_ENABLED"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// LoadSettings reads an optional dotenv file, then PETALSMON_* variables.
// A missing envFile is not an error.
func LoadSettings(envFile string) (Settings, error) {
	var s Settings
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return s, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return s, fmt.Errorf("env settings: %w", err)
	}
	dir := DefaultDir()
	if s.ConfigPath == "" {
		s.ConfigPath = filepath.Join(dir, "config.yaml")
	}
	if s.CatalogPath == "" {
		s.CatalogPath = filepath.Join(dir, "models.yaml")
	}
	if s.HistoryPath == "" {
		s.HistoryPath = filepath.Join(dir, "history.db")
	}
	return s, nil
}

// DefaultDir is the per-user configuration directory.
func DefaultDir() string { return configdir.LocalConfig(AppName) }
