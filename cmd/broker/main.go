// Package main implements the broker CLI, which drives the NoC build
// pipeline: project lifecycle, graph/Verilog generation, FPGA compilation
// and the database write.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/nocbroker/internal/config"
	"github.com/fyrsmithlabs/nocbroker/internal/logging"
)

// version information
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "broker",
		Short: "Orchestrates the NoC build pipeline",
		Long: `broker drives the NoC build pipeline for one project at a time.

Stages run in a fixed order: project management, graph/Verilog generation,
FPGA compilation and the database write. Each project keeps its progress in
<location>/<name>_metadata.json; re-running a stage invalidates every stage
after it.

Examples:
  # Create a project and build it end to end
  broker run -l ~/noc -n mesh4x4 --create --graph --compile --database

  # Recompile for another device
  broker run -l ~/noc -n mesh4x4 --compile --device 5CSEMA5F31C6

  # Show progress
  broker status -l ~/noc -n mesh4x4`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "No command given. Run 'broker --help' for usage.")
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: ~/.config/nocbroker/config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: console or json")

	root.AddCommand(
		newRunCmd(opts),
		newProjectCmd(opts),
		newStatusCmd(opts),
		newResetCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the broker version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "broker %s\n", version)
		},
	}
}

// env is what a command needs once configuration is loaded.
type env struct {
	cfg    *config.Config
	logger *logging.Logger
}

// load reads configuration, applies flag overrides and builds the logger.
func (o *globalOptions) load() (*env, error) {
	cfg, err := config.LoadWithFile(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return &env{cfg: cfg, logger: logger}, nil
}

// context attaches the logger to ctx.
func (e *env) context(ctx context.Context) context.Context {
	return logging.WithLogger(ctx, e.logger)
}

func (e *env) close() {
	_ = e.logger.Close()
}

// addProjectFlags registers the -l/-n pair every project command takes.
func addProjectFlags(cmd *cobra.Command, location, name *string, persistent bool) {
	if persistent {
		cmd.PersistentFlags().StringVarP(location, "location", "l", "", "project location (directory)")
		cmd.PersistentFlags().StringVarP(name, "name", "n", "", "project name")
		_ = cmd.MarkPersistentFlagRequired("location")
		_ = cmd.MarkPersistentFlagRequired("name")
		return
	}
	cmd.Flags().StringVarP(location, "location", "l", "", "project location (directory)")
	cmd.Flags().StringVarP(name, "name", "n", "", "project name")
	_ = cmd.MarkFlagRequired("location")
	_ = cmd.MarkFlagRequired("name")
}
