package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"petalsmon/internal/command"
	"petalsmon/internal/common/fsutil"
	"petalsmon/internal/config"
	"petalsmon/internal/history"
)

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect or create the node config", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("config requires a subcommand: show|init|path")
	}}

	var format string
	show := &cobra.Command{Use: "show", Short: "Print the node config, creating it with defaults if missing", Args: cobra.NoArgs, RunE: func(cmd *cobra.Command, args []string) error {
		store, err := a.store()
		if err != nil {
			return err
		}
		cfg, err := store.Load()
		if err != nil {
			return err
		}
		switch strings.ToLower(format) {
		case "yaml", "yml":
			enc := yaml.NewEncoder(a.stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		case "json":
			return writeJSON(a.stdout, cfg)
		default:
			return fmt.Errorf("unknown format %q (want yaml or json)", format)
		}
	}}
	show.Flags().StringVarP(&format, "output", "o", "yaml", "Output format: yaml|json")

	var force bool
	initCmd := &cobra.Command{Use: "init", Short: "Write the default node config", Args: cobra.NoArgs, RunE: func(cmd *cobra.Command, args []string) error {
		store, err := a.store()
		if err != nil {
			return err
		}
		if fsutil.PathExists(store.Path()) && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", store.Path())
		}
		if err := store.Save(config.Defaults()); err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, store.Path())
		return nil
	}}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")

	path := &cobra.Command{Use: "path", Short: "Print the resolved config path", Args: cobra.NoArgs, RunE: func(cmd *cobra.Command, args []string) error {
		store, err := a.store()
		if err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, store.Path())
		return nil
	}}

	cmd.AddCommand(show, initCmd, path)
	return cmd
}

func resourcesCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{Use: "resources", Short: "Print CPU, memory and GPU usage", Args: cobra.NoArgs, RunE: func(cmd *cobra.Command, args []string) error {
		snap := a.sampler().Sample(cmd.Context())
		if asJSON {
			return writeJSON(a.stdout, snap.Response())
		}
		_, err := io.WriteString(a.stdout, snap.Text())
		return err
	}}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func devicesCmd(a *app) *cobra.Command {
	return &cobra.Command{Use: "devices", Short: "List device choices for the config", Args: cobra.NoArgs, RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := a.sampler().ListDevices(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DEVICE\tINDEX\tNAME")
		fmt.Fprintf(tw, "%s\t-\tCPU\n", config.DeviceCPU)
		for _, d := range devices {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", command.StableRef(d), d.Index, d.Name)
		}
		return tw.Flush()
	}}
}

func historyCmd(a *app) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{Use: "history", Short: "List recorded server runs, newest first", Args: cobra.NoArgs, RunE: func(cmd *cobra.Command, args []string) error {
		path, err := fsutil.ExpandHome(a.settings.HistoryPath)
		if err != nil {
			return err
		}
		store, err := history.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()
		runs, err := store.List(limit)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(a.stdout, runs)
		}
		writeRuns(a.stdout, runs)
		return nil
	}}
	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultLimit, "Maximum runs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func writeRuns(w io.Writer, runs []history.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tEXIT\tPID\tCOMMAND")
	for _, r := range runs {
		dur, code := "running", "-"
		if r.Ended != nil {
			dur = r.Ended.Sub(r.Started).Round(time.Second).String()
		}
		if r.ExitCode != nil {
			code = fmt.Sprint(*r.ExitCode)
			switch {
			case r.Killed:
				code += " (killed)"
			case r.Requested:
				code += " (stopped)"
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n", r.ID, r.Started.Local().Format(time.DateTime), dur, code, r.PID, strings.Join(r.Argv, " "))
	}
	_ = tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
