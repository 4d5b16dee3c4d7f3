package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"petalsmon/internal/httpapi"
	"petalsmon/internal/tui"
)

const shutdownTimeout = 5 * time.Second

func serveCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Serve the control API over HTTP",
		Example: "  petalsmon serve --addr 127.0.0.1:8765",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.settings.Addr = addr
			}
			ctl, cleanup, err := a.controller(nil)
			if err != nil {
				return err
			}
			defer cleanup()
			ln, err := net.Listen("tcp", a.settings.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", a.settings.Addr, err)
			}
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(stop)
			httpapi.SetLogger(a.log)
			httpapi.Configure(httpapi.Options{
				GenerateTimeout: a.settings.ChatTimeout,
				CORS:            httpapi.CORSOptions{Enabled: a.settings.CORSEnabled, Origins: a.settings.CORSOrigins},
			})
			return a.serve(httpapi.NewMux(ctl), ln, stop)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address; defaults PETALSMON_ADDR or 127.0.0.1:8765")
	return cmd
}

// serve runs the API on ln until a signal arrives on stop, then shuts down
// gracefully.
func (a *app) serve(h http.Handler, ln net.Listener, stop <-chan os.Signal) error {
	base, cancel := context.WithCancel(context.Background())
	defer cancel()
	httpapi.SetShutdownContext(base)
	defer httpapi.SetShutdownContext(nil)

	srv := httpapi.NewServer(ln.Addr().String(), h)
	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", ln.Addr().String()).Msg("control API listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-stop:
		a.log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	cancel()
	ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}

func monitorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Open the terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			closeLog, err := a.fileLogger()
			if err != nil {
				return err
			}
			defer closeLog()
			ctl, cleanup, err := a.controller(nil)
			if err != nil {
				return err
			}
			defer cleanup()
			return tui.Run(ctl)
		},
	}
}
