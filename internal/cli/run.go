package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"petalsmon/internal/supervisor"
	"petalsmon/pkg/types"
)

const runPollInterval = 200 * time.Millisecond

// runner is the part of the controller the headless run needs.
type runner interface {
	StartServer(ctx context.Context) (supervisor.Handle, error)
	StopServer() error
	Status() types.StatusResponse
}

func runCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the server with the saved config and stream its output",
		Long:  "Start the server with the saved config and stream its console to stdout.\nCtrl+C stops the server and waits for it to exit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, cleanup, err := a.controller(a.stdout)
			if err != nil {
				return err
			}
			defer cleanup()
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(stop)
			return a.runUntilExit(cmd.Context(), ctl, stop, runPollInterval)
		},
	}
}

// runUntilExit starts the server and blocks until it exits. A signal on stop
// requests a graceful stop first. An unrequested non-zero exit is returned
// as an error.
func (a *app) runUntilExit(ctx context.Context, ctl runner, stop <-chan os.Signal, poll time.Duration) error {
	h, err := ctl.StartServer(ctx)
	if err != nil {
		return err
	}
	a.log.Info().Int("pid", h.PID).Msg("server running, ctrl+c to stop")
	tick := time.NewTicker(poll)
	defer tick.Stop()
	for {
		select {
		case sig := <-stop:
			a.log.Info().Str("signal", sig.String()).Msg("stopping server")
			var ue *supervisor.UsageError
			if err := ctl.StopServer(); err != nil && !errors.As(err, &ue) {
				return err
			}
			stop = nil
		case <-tick.C:
		}
		st := ctl.Status()
		if st.LastExit == nil || st.State != supervisor.StateIdle.String() {
			continue
		}
		if st.LastExit.Error != "" {
			return fmt.Errorf("server exited: %s", st.LastExit.Error)
		}
		return nil
	}
}
