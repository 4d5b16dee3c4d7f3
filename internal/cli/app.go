package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"petalsmon/internal/catalog"
	"petalsmon/internal/chat"
	"petalsmon/internal/common/fsutil"
	"petalsmon/internal/config"
	"petalsmon/internal/history"
	"petalsmon/internal/monitor"
	"petalsmon/internal/resources"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	envFile  string
	settings config.Settings
	log      zerolog.Logger
	stdout   io.Writer
	stderr   io.Writer
}

func (a *app) store() (*config.Store, error) {
	return config.NewStore(a.settings.ConfigPath, a.log)
}

func (a *app) sampler() *resources.Sampler {
	return resources.New(resources.Options{Logger: a.log})
}

// controller assembles a Controller from settings. The returned cleanup
// closes the controller and then the history store.
func (a *app) controller(console io.Writer) (*monitor.Controller, func(), error) {
	store, err := a.store()
	if err != nil {
		return nil, nil, err
	}
	models, err := catalog.Load(a.settings.CatalogPath)
	if err != nil {
		return nil, nil, err
	}
	if len(models) == 0 {
		a.log.Warn().Str("path", a.settings.CatalogPath).Msg("model catalog is empty")
	}
	histPath, err := fsutil.ExpandHome(a.settings.HistoryPath)
	if err != nil {
		return nil, nil, err
	}
	hist, err := history.Open(histPath)
	if err != nil {
		return nil, nil, err
	}
	ctl, err := monitor.New(store, models, monitor.Options{
		Python:           a.settings.Python,
		MaxLines:         a.settings.MaxLines,
		GracePeriod:      a.settings.GracePeriod,
		DrainTimeout:     a.settings.DrainTimeout,
		Console:          console,
		ChatBackend:      chat.NewHTTPBackend(a.settings.ChatURL, 10*time.Second),
		ChatTimeout:      a.settings.ChatTimeout,
		ChatEchoesPrompt: a.settings.ChatEchoesPrompt,
		Sampler:          a.sampler(),
		History:          hist,
		Logger:           a.log,
	})
	if err != nil {
		_ = hist.Close()
		return nil, nil, err
	}
	cleanup := func() {
		if err := ctl.Close(); err != nil {
			a.log.Warn().Err(err).Msg("controller close")
		}
		_ = hist.Close()
	}
	return ctl, cleanup, nil
}

// fileLogger redirects logging to a file in the config directory, used
// while the terminal UI owns the screen.
func (a *app) fileLogger() (func(), error) {
	path := filepath.Join(config.DefaultDir(), config.AppName+".log")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	a.log = newLogger(a.settings.LogLevel, f)
	return func() { _ = f.Close() }, nil
}
