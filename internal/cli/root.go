// Package cli is the petalsmon command tree.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"petalsmon/internal/config"
)

// Version is stamped at build time with -ldflags "-X petalsmon/internal/cli.Version=...".
var Version = "dev"

// Main returns an exit code for use by cmd/petalsmon.
func Main() int { return MainWithArgs(os.Args[1:]) }

// MainWithArgs runs the command tree against args.
func MainWithArgs(args []string) int { return execute(args, os.Stdout, os.Stderr) }

func execute(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := buildRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "error:", err.Error())
		return 1
	}
	return 0
}

// buildRootCmd wires persistent flags over env settings and registers every
// subcommand.
func buildRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "petalsmon",
		Short:         "Run and watch a Petals swarm node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "Node config file (.yaml, .json, .toml); defaults PETALSMON_CONFIG")
	pf.String("catalog", "", "Model catalog YAML; defaults PETALSMON_CATALOG")
	pf.String("log-level", "", "Log level: debug|info|warn|error (defaults PETALSMON_LOG_LEVEL or info)")
	pf.StringVar(&a.envFile, "env-file", ".env", "Optional dotenv file read before PETALSMON_* variables")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		s, err := config.LoadSettings(a.envFile)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("config") {
			s.ConfigPath, _ = flags.GetString("config")
		}
		if flags.Changed("catalog") {
			s.CatalogPath, _ = flags.GetString("catalog")
		}
		if flags.Changed("log-level") {
			s.LogLevel, _ = flags.GetString("log-level")
		}
		a.settings = s
		a.log = newLogger(s.LogLevel, a.stderr)
		return nil
	}

	root.AddCommand(
		serveCmd(a),
		monitorCmd(a),
		runCmd(a),
		configCmd(a),
		resourcesCmd(a),
		devicesCmd(a),
		historyCmd(a),
		&cobra.Command{Use: "version", Short: "Print the version", Args: cobra.NoArgs, RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(a.stdout, "%s %s\n", config.AppName, Version)
			return nil
		}},
	)

	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(a.stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(a.stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(a.stdout, true) }})
	root.AddCommand(completionCmd)
	return root
}
