package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/nocbroker/internal/config"
	"github.com/fyrsmithlabs/nocbroker/internal/logging"
	"github.com/fyrsmithlabs/nocbroker/internal/metadata"
	"github.com/fyrsmithlabs/nocbroker/internal/metrics"
	"github.com/fyrsmithlabs/nocbroker/internal/project"
	"github.com/fyrsmithlabs/nocbroker/internal/runner"
	"github.com/fyrsmithlabs/nocbroker/internal/stage"
	"github.com/fyrsmithlabs/nocbroker/internal/telemetry"
)

var testTools = config.ToolsConfig{
	GraphGenerator: "Graph_verilog_generator",
	Compiler:       "Quartus_compiler",
	DatabaseWriter: "Database_writer",
}

// fakeRunner records invocations and answers with configured exit codes.
type fakeRunner struct {
	calls []runner.Command
	exit  map[string]int
	err   map[string]error
	hooks map[string]func(cmd runner.Command)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		exit:  make(map[string]int),
		err:   make(map[string]error),
		hooks: make(map[string]func(runner.Command)),
	}
}

func (f *fakeRunner) Run(_ context.Context, cmd runner.Command) (runner.ExitStatus, error) {
	f.calls = append(f.calls, cmd)
	if hook := f.hooks[cmd.Path]; hook != nil {
		hook(cmd)
	}
	if err := f.err[cmd.Path]; err != nil {
		return runner.ExitStatus{}, err
	}
	return runner.ExitStatus{Code: f.exit[cmd.Path], Duration: time.Millisecond}, nil
}

func (f *fakeRunner) paths() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Path)
	}
	return out
}

// failingStore fails the nth SaveProject call (1-based).
type failingStore struct {
	*metadata.Store
	failOn int
	saves  int
}

func (s *failingStore) SaveProject(location string, m *metadata.Metadata) error {
	s.saves++
	if s.saves == s.failOn {
		return errors.New("disk full")
	}
	return s.Store.SaveProject(location, m)
}

// MockStageGate is a mock implementation of StageGate
type MockStageGate struct {
	mock.Mock
	name string
}

func NewMockStageGate(name string) *MockStageGate {
	return &MockStageGate{name: name}
}

func (m *MockStageGate) Name() string {
	return m.name
}

func (m *MockStageGate) Check(ctx context.Context, s stage.Stage, md *metadata.Metadata) error {
	args := m.Called(ctx, s, md)
	return args.Error(0)
}

type fixture struct {
	dir      string
	store    *metadata.Store
	runner   *fakeRunner
	executor *Executor
	events   []StageProgress
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dir:    t.TempDir(),
		store:  metadata.NewStore(),
		runner: newFakeRunner(),
	}
	f.executor = NewExecutor(f.store, f.runner, project.NewLocal(f.store), testTools)
	f.executor.OnProgress(func(p StageProgress) { f.events = append(f.events, p) })
	return f
}

// seed creates a project with the given progress.
func (f *fixture) seed(t *testing.T, name string, p stage.Progress) {
	t.Helper()
	m := metadata.New(name)
	m.Progress = p
	require.NoError(t, f.store.SaveProject(f.dir, m))
}

func (f *fixture) progress(t *testing.T, name string) stage.Progress {
	t.Helper()
	m, err := f.store.LoadProject(f.dir, name)
	require.NoError(t, err)
	return m.Progress
}

func (f *fixture) messages() []string {
	var out []string
	for _, e := range f.events {
		if e.Status != StatusInProgress {
			out = append(out, e.Message)
		}
	}
	return out
}

func TestNewExecutor(t *testing.T) {
	f := newFixture(t)

	require.NotNil(t, f.executor)
	assert.Len(t, f.executor.gates[stage.StageGraph], 1)
	assert.Len(t, f.executor.gates[stage.StageCompile], 1)
	assert.Len(t, f.executor.gates[stage.StageDatabase], 1)
	assert.Empty(t, f.executor.gates[stage.StageProject])
}

func TestExecute_FreshProjectFullPipeline(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mesh", stage.ProgressNone)

	state, err := f.executor.Execute(context.Background(), Request{
		Location: f.dir,
		Name:     "mesh",
		Graph:    &GraphArgs{Extra: []string{"--size", "4"}},
		Compile:  &CompileArgs{},
		Database: &DatabaseArgs{
			Host:     "10.0.0.5",
			Port:     5432,
			User:     "noc",
			Password: "hunter2",
			Name:     "results",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, state.Status)
	assert.NotEmpty(t, state.RunID)
	assert.Len(t, state.Results, 3)

	assert.Equal(t, stage.ProgressComplete, f.progress(t, "mesh"))

	require.Len(t, f.runner.calls, 3)
	assert.Equal(t, []string{"-l", f.dir, "-n", "mesh", "--size", "4"}, f.runner.calls[0].Args)
	assert.Equal(t, []string{"-l", f.dir, "-n", "mesh", "--device", metadata.DefaultDevice}, f.runner.calls[1].Args)
	assert.Equal(t, []string{
		"-l", f.dir, "-n", "mesh",
		"--ip", "10.0.0.5", "--port", "5432", "--user", "noc", "--password", "hunter2", "--db", "results",
	}, f.runner.calls[2].Args)

	m, err := f.store.LoadProject(f.dir, "mesh")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", m.Database.Host)
	assert.Equal(t, 5432, m.Database.Port)
	assert.Equal(t, "hunter2", m.Database.Password.Value())

	assert.Equal(t, []string{
		"Graph_verilog_generator success.",
		"Quartus_compiler success.",
		"Database_writer success.",
	}, f.messages())
}

func TestExecute_GraphRerunInvalidatesDownstream(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mesh", stage.ProgressComplete)

	// While the generator runs the record already shows the reset.
	f.runner.hooks["Graph_verilog_generator"] = func(runner.Command) {
		assert.Equal(t, stage.ProgressNone, f.progress(t, "mesh"))
	}

	_, err := f.executor.Execute(context.Background(), Request{Location: f.dir, Name: "mesh", Graph: &GraphArgs{}})
	require.NoError(t, err)

	assert.Equal(t, [stage.NumFlags]bool{true, true, false, false}, f.progress(t, "mesh").Flags())
}

func TestExecute_CompileWithoutVerilog(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mesh", stage.ProgressNone)

	state, err := f.executor.Execute(context.Background(), Request{Location: f.dir, Name: "mesh", Compile: &CompileArgs{}})
	require.ErrorIs(t, err, ErrPrecondition)

	assert.Equal(t, RunAborted, state.Status)
	assert.Equal(t, stage.StageCompile, state.AbortedAt)
	assert.Empty(t, f.runner.calls)
	assert.False(t, f.progress(t, "mesh").Completed(stage.FlagQuartusCompiled))
}

func TestExecute_CompilerFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mesh", stage.ProgressNone)
	f.runner.exit["Quartus_compiler"] = 2

	state, err := f.executor.Execute(context.Background(), Request{
		Location: f.dir,
		Name:     "mesh",
		Graph:    &GraphArgs{},
		Compile:  &CompileArgs{},
		Database: &DatabaseArgs{},
	})
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, stage.StageCompile, stageErr.Stage)
	var exitErr *runner.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)

	assert.Equal(t, RunAborted, state.Status)
	assert.Equal(t, stage.StageCompile, state.AbortedAt)
	assert.Equal(t, StatusCompleted, state.Result(stage.StageGraph).Status)
	assert.Equal(t, StatusFailed, state.Result(stage.StageCompile).Status)
	assert.Nil(t, state.Result(stage.StageDatabase))

	assert.Equal(t, []string{"Graph_verilog_generator", "Quartus_compiler"}, f.runner.paths())
	assert.Equal(t, stage.Progress(2), f.progress(t, "mesh"))
	assert.Equal(t, []string{"Graph_verilog_generator success.", "Quartus_compiler failure."}, f.messages())
}

func TestExecute_SpawnFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mesh", stage.ProgressNone)
	spawn := &runner.SpawnError{Path: "Graph_verilog_generator", Err: errors.New("executable file not found")}
	f.runner.err["Graph_verilog_generator"] = spawn

	_, err := f.executor.Execute(context.Background(), Request{Location: f.dir, Name: "mesh", Graph: &GraphArgs{}})
	assert.ErrorIs(t, err, spawn)
	assert.Equal(t, stage.ProgressNone, f.progress(t, "mesh"))
}

func TestExecute_MissingProject(t *testing.T) {
	f := newFixture(t)

	_, err := f.executor.Execute(context.Background(), Request{Location: f.dir, Name: "ghost", Graph: &GraphArgs{}})
	require.ErrorIs(t, err, ErrMissingProject)
	assert.ErrorIs(t, err, metadata.ErrNotFound)
	assert.Empty(t, f.runner.calls)

	exists, err := f.store.Exists(f.dir, "ghost")
	require.NoError(t, err)
	assert.False(t, exists, "a missing project is never created implicitly")
}

func TestExecute_InvalidRequestTouchesNothing(t *testing.T) {
	f := newFixture(t)

	state, err := f.executor.Execute(context.Background(), Request{
		Location: f.dir,
		Name:     "mesh",
		Action:   project.ActionErase,
		Graph:    &GraphArgs{},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, RunAborted, state.Status)
	assert.Empty(t, f.runner.calls)
}

func TestExecute_CreateThenBuild(t *testing.T) {
	f := newFixture(t)
	location := filepath.Join(f.dir, "new")

	_, err := f.executor.Execute(context.Background(), Request{
		Location: location,
		Name:     "mesh",
		Action:   project.ActionCreate,
		Graph:    &GraphArgs{},
	})
	require.NoError(t, err)

	m, err := f.store.LoadProject(location, "mesh")
	require.NoError(t, err)
	assert.Equal(t, stage.Progress(2), m.Progress)
	assert.Equal(t, metadata.UnsetPort, m.Database.Port)
	assert.Equal(t, []string{"Project_manager success.", "Graph_verilog_generator success."}, f.messages())
}

func TestExecute_CreateExistingAborts(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mesh", 3)

	state, err := f.executor.Execute(context.Background(), Request{
		Location: f.dir,
		Name:     "mesh",
		Action:   project.ActionCreate,
		Graph:    &GraphArgs{},
	})
	require.ErrorIs(t, err, project.ErrProjectExists)
	assert.Equal(t, stage.StageProject, state.AbortedAt)
	assert.Empty(t, f.runner.calls)
	assert.Equal(t, stage.Progress(3), f.progress(t, "mesh"))
}

func TestExecute_RenameRetargetsLaterStages(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mesh", 2)

	state, err := f.executor.Execute(context.Background(), Request{
		Location: f.dir,
		Name:     "mesh",
		Action:   project.ActionRename,
		NewName:  "ring",
		Compile:  &CompileArgs{Device: "5CSEMA5F31C6"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ring", state.Project.Name)

	require.Len(t, f.runner.calls, 1)
	assert.Equal(t, []string{"-l", f.dir, "-n", "ring", "--device", "5CSEMA5F31C6"}, f.runner.calls[0].Args)

	m, err := f.store.LoadProject(f.dir, "ring")
	require.NoError(t, err)
	assert.Equal(t, stage.Progress(3), m.Progress)
	assert.Equal(t, "5CSEMA5F31C6", m.Device)

	exists, err := f.store.Exists(f.dir, "mesh")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExecute_RenameThenFailureReportsNewName(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mesh", 2)
	f.runner.exit["Quartus_compiler"] = 1

	state, err := f.executor.Execute(context.Background(), Request{
		Location: f.dir,
		Name:     "mesh",
		Action:   project.ActionRename,
		NewName:  "ring",
		Compile:  &CompileArgs{},
	})
	require.Error(t, err)
	assert.Equal(t, RunAborted, state.Status)
	assert.Equal(t, stage.StageCompile, state.AbortedAt)
	assert.Equal(t, project.Project{Location: f.dir, Name: "ring"}, state.Project)

	exists, err := f.store.Exists(f.dir, "ring")
	require.NoError(t, err)
	assert.True(t, exists)
	if runtime.GOOS != "windows" {
		_, err = os.Stat(metadata.PathsFor(f.dir, "mesh").Lock)
		assert.True(t, os.IsNotExist(err), "lock file of the old name should be removed")
	}
}

func TestExecute_EraseOnly(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mesh", 4)

	_, err := f.executor.Execute(context.Background(), Request{Location: f.dir, Name: "mesh", Action: project.ActionErase})
	require.NoError(t, err)

	exists, err := f.store.Exists(f.dir, "mesh")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExecute_ExternalProjectManager(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mesh", stage.ProgressNone)

	tools := testTools
	tools.ProjectManager = "Project_manager.exe"
	ext := &project.External{Path: tools.ProjectManager, Runner: f.runner}
	e := NewExecutor(f.store, f.runner, ext, tools)
	e.OnProgress(func(p StageProgress) { f.events = append(f.events, p) })

	_, err := e.Execute(context.Background(), Request{Location: f.dir, Name: "mesh", Action: project.ActionOpen, Graph: &GraphArgs{}})
	require.NoError(t, err)

	require.Len(t, f.runner.calls, 2)
	assert.Equal(t, []string{"-l", f.dir, "-n", "mesh", "-o"}, f.runner.calls[0].Args)
	assert.Equal(t, "Project_manager success.", f.messages()[0])
}

func TestExecute_ToolUpdatesSidecar(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mesh", 2)

	f.runner.hooks["Quartus_compiler"] = func(runner.Command) {
		m, err := f.store.LoadProject(f.dir, "mesh")
		require.NoError(t, err)
		m.Device = "5CEBA4F23C7"
		require.NoError(t, f.store.SaveProject(f.dir, m))
	}

	_, err := f.executor.Execute(context.Background(), Request{Location: f.dir, Name: "mesh", Compile: &CompileArgs{}})
	require.NoError(t, err)

	m, err := f.store.LoadProject(f.dir, "mesh")
	require.NoError(t, err)
	assert.Equal(t, "5CEBA4F23C7", m.Device)
	assert.Equal(t, stage.Progress(3), m.Progress)
}

func TestExecute_SaveFailureStopsRun(t *testing.T) {
	dir := t.TempDir()
	base := metadata.NewStore()
	m := metadata.New("mesh")
	require.NoError(t, base.SaveProject(dir, m))

	// Save 1 records the graph reset, save 2 its completion.
	store := &failingStore{Store: base, failOn: 2}
	r := newFakeRunner()
	e := NewExecutor(store, r, project.NewLocal(store), testTools)

	state, err := e.Execute(context.Background(), Request{
		Location: dir,
		Name:     "mesh",
		Graph:    &GraphArgs{},
		Compile:  &CompileArgs{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, stage.StageGraph, state.AbortedAt)
	assert.Equal(t, []string{"Graph_verilog_generator"}, r.paths())

	got, err := base.LoadProject(dir, "mesh")
	require.NoError(t, err)
	assert.Equal(t, stage.ProgressNone, got.Progress)
}

func TestExecute_GateRejects(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mesh", stage.ProgressNone)

	gate := NewMockStageGate("device-gate")
	rejected := errors.New("device not licensed")
	gate.On("Check", mock.Anything, stage.StageGraph, mock.AnythingOfType("*metadata.Metadata")).Return(rejected).Once()
	f.executor.RegisterGate(stage.StageGraph, gate)

	state, err := f.executor.Execute(context.Background(), Request{Location: f.dir, Name: "mesh", Graph: &GraphArgs{}})
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, StatusFailed, state.Result(stage.StageGraph).Status)
	assert.Empty(t, f.runner.calls)
	gate.AssertExpectations(t)
}

func TestExecute_ProjectLocked(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mesh", stage.ProgressNone)

	held, err := metadata.FileLocker{}.Acquire(context.Background(), f.dir, "mesh")
	require.NoError(t, err)

	_, err = f.executor.Execute(context.Background(), Request{Location: f.dir, Name: "mesh", Graph: &GraphArgs{}})
	assert.ErrorIs(t, err, ErrProjectLocked)
	assert.ErrorIs(t, err, metadata.ErrLocked)
	assert.Empty(t, f.runner.calls)

	require.NoError(t, held.Close())
	_, err = f.executor.Execute(context.Background(), Request{Location: f.dir, Name: "mesh", Graph: &GraphArgs{}})
	assert.NoError(t, err)
}

func TestExecute_CancelledBeforeStage(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mesh", stage.ProgressNone)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := f.executor.Execute(ctx, Request{Location: f.dir, Name: "mesh", Graph: &GraphArgs{}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, RunAborted, state.Status)
	assert.Empty(t, f.runner.calls)
}

func TestExecute_RecordsMetrics(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mesh", stage.ProgressNone)
	f.runner.exit["Quartus_compiler"] = 1

	rec := metrics.NewRecorder()
	f.executor.SetRecorder(rec)

	_, err := f.executor.Execute(context.Background(), Request{
		Location: f.dir,
		Name:     "mesh",
		Graph:    &GraphArgs{},
		Compile:  &CompileArgs{},
	})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.StageRuns.WithLabelValues("graph", metrics.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.StageRuns.WithLabelValues("compile", metrics.OutcomeFailure)))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.LastRun))
}

func TestExecute_LogsRunContext(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mesh", stage.ProgressNone)

	tl := logging.NewTestLogger()
	ctx := logging.WithLogger(context.Background(), tl.Logger)

	state, err := f.executor.Execute(ctx, Request{
		Location: f.dir,
		Name:     "mesh",
		Graph:    &GraphArgs{},
		Compile:  &CompileArgs{},
		Database: &DatabaseArgs{Password: "hunter2"},
	})
	require.NoError(t, err)

	tl.AssertLogged(t, zapcore.InfoLevel, "pipeline completed")
	tl.AssertField(t, "pipeline completed", "run.id", state.RunID)
	tl.AssertProject(t, "stage completed", "mesh")
	tl.AssertNoSecrets(t, "hunter2")
}

func TestExecute_TracesRunAndStages(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mesh", stage.ProgressNone)

	tel := telemetry.NewTestTelemetry()
	f.executor.SetTracer(tel.Tracer("test"))

	state, err := f.executor.Execute(context.Background(), Request{
		Location: f.dir,
		Name:     "mesh",
		Graph:    &GraphArgs{},
		Compile:  &CompileArgs{},
	})
	require.NoError(t, err)

	tel.AssertSpanExists(t, "pipeline.run")
	tel.AssertSpanAttribute(t, "pipeline.run", "run.id", state.RunID)
	tel.AssertSpanAttribute(t, "pipeline.run", "project.name", "mesh")
	tel.AssertSpanAttribute(t, "stage.graph", "tool", "Graph_verilog_generator")
	tel.AssertSpanAttribute(t, "stage.compile", "stage", "compile")
	assert.Len(t, tel.Spans(), 3)

	run := tel.SpanByName("pipeline.run")
	graph := tel.SpanByName("stage.graph")
	assert.Equal(t, run.SpanContext().SpanID(), graph.Parent().SpanID())
}

func TestExecute_TracesFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "mesh", stage.ProgressNone)
	f.runner.exit["Quartus_compiler"] = 2

	tel := telemetry.NewTestTelemetry()
	f.executor.SetTracer(tel.Tracer("test"))

	_, err := f.executor.Execute(context.Background(), Request{
		Location: f.dir,
		Name:     "mesh",
		Graph:    &GraphArgs{},
		Compile:  &CompileArgs{},
	})
	require.Error(t, err)

	tel.AssertSpanError(t, "stage.compile")
	tel.AssertSpanAttribute(t, "stage.compile", "tool.exit_code", int64(2))
	tel.AssertSpanError(t, "pipeline.run")
	tel.AssertSpanAttribute(t, "pipeline.run", "pipeline.aborted_at", "compile")
}
