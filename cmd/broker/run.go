package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nocbroker/internal/config"
	"github.com/fyrsmithlabs/nocbroker/internal/metadata"
	"github.com/fyrsmithlabs/nocbroker/internal/metrics"
	"github.com/fyrsmithlabs/nocbroker/internal/orchestrator"
	"github.com/fyrsmithlabs/nocbroker/internal/project"
	"github.com/fyrsmithlabs/nocbroker/internal/runner"
	"github.com/fyrsmithlabs/nocbroker/internal/telemetry"
)

type runOptions struct {
	location string
	name     string

	create bool
	open   bool
	erase  bool
	rename string

	graph     bool
	graphArgs []string

	compile     bool
	device      string
	compileArgs []string

	database   bool
	dbHost     string
	dbPort     int
	dbUser     string
	dbPassword string
	dbName     string
	dbArgs     []string
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run pipeline stages for a project",
		Long: `Run the requested stages for one project, in pipeline order:
project action, graph, compile, database. The run stops at the first stage
that fails.

Examples:
  # Create a project and run every stage
  broker run -l ~/noc -n mesh4x4 --create --graph --compile --database

  # Regenerate the graph, passing options through to the generator
  broker run -l ~/noc -n mesh4x4 --graph --graph-arg=--topology --graph-arg=mesh

  # Write results to a database
  broker run -l ~/noc -n mesh4x4 --database --db-host 10.0.0.5 --db-port 5432 \
    --db-user noc --db-password "$DB_PASSWORD" --db-name results`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, g, o)
		},
	}

	addProjectFlags(cmd, &o.location, &o.name, false)

	f := cmd.Flags()
	f.BoolVar(&o.create, "create", false, "create the project first")
	f.BoolVar(&o.open, "open", false, "open (check) the project first")
	f.BoolVar(&o.erase, "erase", false, "erase the project")
	f.StringVar(&o.rename, "rename", "", "rename the project before any other stage")
	cmd.MarkFlagsMutuallyExclusive("create", "open", "erase", "rename")

	f.BoolVar(&o.graph, "graph", false, "run graph and Verilog generation")
	f.StringArrayVar(&o.graphArgs, "graph-arg", nil, "argument passed to the graph generator (repeatable)")

	f.BoolVar(&o.compile, "compile", false, "run the FPGA compilation")
	f.StringVar(&o.device, "device", "", "target device for compilation")
	f.StringArrayVar(&o.compileArgs, "compile-arg", nil, "argument passed to the compiler (repeatable)")

	f.BoolVar(&o.database, "database", false, "write results to the database")
	f.StringVar(&o.dbHost, "db-host", "", "database host")
	f.IntVar(&o.dbPort, "db-port", 0, "database port")
	f.StringVar(&o.dbUser, "db-user", "", "database user")
	f.StringVar(&o.dbPassword, "db-password", "", "database password")
	f.StringVar(&o.dbName, "db-name", "", "database name")
	f.StringArrayVar(&o.dbArgs, "db-arg", nil, "argument passed to the database writer (repeatable)")

	return cmd
}

// request turns the flags into a pipeline request.
func (o *runOptions) request() (orchestrator.Request, error) {
	req := orchestrator.Request{Location: o.location, Name: o.name}

	actions := 0
	for _, set := range []bool{o.create, o.open, o.erase, o.rename != ""} {
		if set {
			actions++
		}
	}
	if actions > 1 {
		return req, errors.New("only one of --create, --open, --erase and --rename may be given")
	}
	switch {
	case o.create:
		req.Action = project.ActionCreate
	case o.open:
		req.Action = project.ActionOpen
	case o.erase:
		req.Action = project.ActionErase
	case o.rename != "":
		req.Action = project.ActionRename
		req.NewName = o.rename
	}

	if len(o.graphArgs) > 0 && !o.graph {
		return req, errors.New("--graph-arg requires --graph")
	}
	if (o.device != "" || len(o.compileArgs) > 0) && !o.compile {
		return req, errors.New("--device and --compile-arg require --compile")
	}
	dbSettings := o.dbHost != "" || o.dbPort != 0 || o.dbUser != "" || o.dbPassword != "" || o.dbName != "" || len(o.dbArgs) > 0
	if dbSettings && !o.database {
		return req, errors.New("database settings require --database")
	}

	if o.graph {
		req.Graph = &orchestrator.GraphArgs{Extra: o.graphArgs}
	}
	if o.compile {
		req.Compile = &orchestrator.CompileArgs{Device: o.device, Extra: o.compileArgs}
	}
	if o.database {
		req.Database = &orchestrator.DatabaseArgs{
			Host:     o.dbHost,
			User:     o.dbUser,
			Password: config.Secret(o.dbPassword),
			Name:     o.dbName,
			Port:     o.dbPort,
			Extra:    o.dbArgs,
		}
	}

	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

func runPipeline(cmd *cobra.Command, g *globalOptions, o *runOptions) error {
	req, err := o.request()
	if err != nil {
		return err
	}

	e, err := g.load()
	if err != nil {
		return err
	}
	defer e.close()
	ctx := e.context(cmd.Context())

	store := metadata.NewStore()
	r := runner.NewExecRunner()

	executor := orchestrator.NewExecutor(store, r, newProjectManager(e.cfg.Tools, store, r), e.cfg.Tools)
	executor.SetLocker(metadata.FileLocker{Wait: e.cfg.Pipeline.LockTimeout.Duration()})
	rec := metrics.NewRecorder()
	executor.SetRecorder(rec)
	executor.OnProgress(printProgress(cmd.OutOrStdout()))

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(e.cfg.Telemetry, version))
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn(ctx, "failed to flush traces", zap.Error(err))
		}
	}()
	if degraded, reason := tel.Degraded(); degraded {
		e.logger.Warn(ctx, "tracing disabled", zap.String("reason", reason))
	}
	executor.SetTracer(tel.Tracer(telemetry.InstrumentationName))

	state, runErr := executor.Execute(ctx, req)

	if path := e.cfg.Metrics.Textfile; path != "" {
		if err := rec.WriteTextfile(path); err != nil {
			e.logger.Warn(ctx, "failed to write metrics", zap.Error(err))
		}
	}

	if runErr != nil {
		return runErr
	}
	e.logger.Debug(ctx, "run finished", zap.String("run.id", state.RunID), zap.Int("stages", len(state.Results)))
	return nil
}

// newProjectManager selects the external project manager when one is
// configured and the built-in one otherwise.
func newProjectManager(tools config.ToolsConfig, store *metadata.Store, r runner.Runner) project.Manager {
	if tools.ProjectManager != "" {
		return &project.External{Path: tools.ProjectManager, Dir: tools.WorkDir, Runner: r}
	}
	return project.NewLocal(store)
}

// printProgress prints the per-tool "<Tool> success." and "<Tool> failure."
// lines.
func printProgress(w io.Writer) orchestrator.ProgressCallback {
	return func(p orchestrator.StageProgress) {
		switch p.Status {
		case orchestrator.StatusCompleted, orchestrator.StatusFailed:
			fmt.Fprintln(w, p.Message)
		}
	}
}
