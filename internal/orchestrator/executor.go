package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nocbroker/internal/config"
	"github.com/fyrsmithlabs/nocbroker/internal/logging"
	"github.com/fyrsmithlabs/nocbroker/internal/metadata"
	"github.com/fyrsmithlabs/nocbroker/internal/metrics"
	"github.com/fyrsmithlabs/nocbroker/internal/project"
	"github.com/fyrsmithlabs/nocbroker/internal/runner"
	"github.com/fyrsmithlabs/nocbroker/internal/stage"
)

// defaultProjectManager names the project stage when no external project
// manager is configured.
const defaultProjectManager = "Project_manager"

// Store is the metadata access the executor needs.
type Store interface {
	LoadProject(location, name string) (*metadata.Metadata, error)
	SaveProject(location string, m *metadata.Metadata) error
}

// Recorder receives run measurements.
type Recorder interface {
	ObserveStage(stage, outcome string, d time.Duration)
	ObserveRun(outcome string, at time.Time)
}

// StageProgress reports progress during execution
type StageProgress struct {
	Stage      stage.Stage `json:"-"`
	Tool       string      `json:"tool"`
	Status     StageStatus `json:"status"`
	Message    string      `json:"message"`
	Percentage int         `json:"percentage"`
	Err        error       `json:"-"`
}

// ProgressCallback receives progress updates during execution
type ProgressCallback func(progress StageProgress)

// Executor runs pipeline requests stage by stage.
type Executor struct {
	store            Store
	runner           runner.Runner
	projects         project.Manager
	tools            config.ToolsConfig
	locker           metadata.Locker
	recorder         Recorder
	tracer           trace.Tracer
	gates            map[stage.Stage][]StageGate
	progressCallback ProgressCallback
	now              func() time.Time
}

// NewExecutor creates an executor. Every build stage is guarded by the
// precondition gate.
func NewExecutor(store Store, r runner.Runner, projects project.Manager, tools config.ToolsConfig) *Executor {
	e := &Executor{
		store:    store,
		runner:   r,
		projects: projects,
		tools:    tools,
		locker:   metadata.FileLocker{},
		tracer:   noop.NewTracerProvider().Tracer(""),
		gates:    make(map[stage.Stage][]StageGate),
		now:      time.Now,
	}
	for _, s := range []stage.Stage{stage.StageGraph, stage.StageCompile, stage.StageDatabase} {
		e.RegisterGate(s, NewPreconditionGate())
	}
	return e
}

// RegisterGate registers a gate for a stage
func (e *Executor) RegisterGate(s stage.Stage, gate StageGate) {
	e.gates[s] = append(e.gates[s], gate)
}

// OnProgress sets the progress callback
func (e *Executor) OnProgress(callback ProgressCallback) {
	e.progressCallback = callback
}

// SetRecorder sets where run metrics go.
func (e *Executor) SetRecorder(r Recorder) {
	e.recorder = r
}

// SetTracer sets the tracer for run and stage spans.
func (e *Executor) SetTracer(t trace.Tracer) {
	e.tracer = t
}

// SetLocker replaces the project lock implementation.
func (e *Executor) SetLocker(l metadata.Locker) {
	e.locker = l
}

// Execute runs req. It stops at the first failing stage; the returned state
// records how far the run got. Metadata written before the failure stays.
func (e *Executor) Execute(ctx context.Context, req Request) (*RunState, error) {
	state := &RunState{
		RunID:     uuid.NewString(),
		Project:   req.Project(),
		StartedAt: e.now(),
	}

	if err := req.Validate(); err != nil {
		state.Status = RunAborted
		return state, err
	}

	stages := req.Stages()
	ctx, span := e.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", state.RunID),
		attribute.String("project.location", req.Location),
		attribute.String("project.name", req.Name),
		attribute.StringSlice("pipeline.stages", stageNames(stages)),
	))
	defer span.End()

	ctx = logging.WithRunID(ctx, state.RunID)
	ctx = logging.WithProject(ctx, req.Location, req.Name)
	log := logging.FromContext(ctx)

	log.Info(ctx, "pipeline started", zap.Stringers("stages", stages))

	unlock, err := e.lock(ctx, req.Location, req.Name)
	if err != nil {
		state.Status = RunAborted
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return state, err
	}
	defer unlock()

	target := req.Project()
	for i, s := range stages {
		select {
		case <-ctx.Done():
			return e.abort(ctx, span, state, s, ctx.Err())
		default:
		}

		sctx := logging.WithStage(logging.WithProject(ctx, target.Location, target.Name), s.String())
		tool := e.toolName(s)

		e.reportProgress(StageProgress{
			Stage:      s,
			Tool:       tool,
			Status:     StatusInProgress,
			Message:    fmt.Sprintf("Starting stage: %s", s),
			Percentage: (i * 100) / len(stages),
		})

		result := &StageResult{Stage: s, StageName: s.String(), Tool: tool, Status: StatusInProgress, StartedAt: e.now()}
		state.Results = append(state.Results, result)

		stageErr := e.runStage(sctx, s, tool, target, req)
		result.CompletedAt = e.now()
		duration := result.CompletedAt.Sub(result.StartedAt)

		if stageErr != nil {
			result.Status = StatusFailed
			result.Error = stageErr.Error()
			e.observeStage(s, metrics.OutcomeFailure, duration)
			e.reportProgress(StageProgress{
				Stage:   s,
				Tool:    tool,
				Status:  StatusFailed,
				Message: fmt.Sprintf("%s failure.", tool),
				Err:     stageErr,
			})
			return e.abort(sctx, span, state, s, stageErr)
		}

		result.Status = StatusCompleted
		e.observeStage(s, metrics.OutcomeSuccess, duration)
		log.Info(sctx, "stage completed", zap.Duration("duration", duration))
		e.reportProgress(StageProgress{
			Stage:      s,
			Tool:       tool,
			Status:     StatusCompleted,
			Message:    fmt.Sprintf("%s success.", tool),
			Percentage: ((i + 1) * 100) / len(stages),
		})

		if s == stage.StageProject && req.Action == project.ActionRename {
			target = req.ProjectRequest().Target()
			state.Project = target
			unlockNew, err := e.lock(ctx, target.Location, target.Name)
			if err != nil {
				return e.abort(sctx, span, state, s, err)
			}
			defer unlockNew()
		}
	}

	state.Status = RunCompleted
	e.observeRun(metrics.OutcomeSuccess)
	span.SetStatus(codes.Ok, "")
	log.Info(ctx, "pipeline completed")
	return state, nil
}

func (e *Executor) abort(ctx context.Context, span trace.Span, state *RunState, s stage.Stage, err error) (*RunState, error) {
	state.Status = RunAborted
	state.AbortedAt = s
	e.observeRun(metrics.OutcomeAborted)
	span.SetAttributes(attribute.String("pipeline.aborted_at", s.String()))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logging.FromContext(ctx).Error(ctx, "pipeline aborted", zap.Stringer("aborted_at", s), zap.Error(err))
	return state, err
}

// runStage runs one stage inside its own span.
func (e *Executor) runStage(ctx context.Context, s stage.Stage, tool string, target project.Project, req Request) error {
	ctx, span := e.tracer.Start(ctx, "stage."+s.String(), trace.WithAttributes(
		attribute.String("stage", s.String()),
		attribute.String("tool", tool),
	))
	defer span.End()

	var err error
	if s == stage.StageProject {
		err = e.runProjectStage(ctx, req)
	} else {
		err = e.runBuildStage(ctx, s, target, req)
	}

	if err != nil {
		var exitErr *runner.ExitError
		if errors.As(err, &exitErr) {
			span.SetAttributes(attribute.Int("tool.exit_code", exitErr.Code))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// runProjectStage applies the lifecycle action through the project manager.
func (e *Executor) runProjectStage(ctx context.Context, req Request) error {
	if err := e.projects.Apply(ctx, req.ProjectRequest()); err != nil {
		return &StageError{Stage: stage.StageProject, Tool: e.toolName(stage.StageProject), Err: err}
	}
	return nil
}

// runBuildStage runs one metadata-tracked stage against p.
func (e *Executor) runBuildStage(ctx context.Context, s stage.Stage, p project.Project, req Request) error {
	log := logging.FromContext(ctx)

	m, err := e.store.LoadProject(p.Location, p.Name)
	if errors.Is(err, metadata.ErrNotFound) {
		return fmt.Errorf("%w: %s: %w", ErrMissingProject, p, err)
	}
	if err != nil {
		return err
	}

	for _, gate := range e.gates[s] {
		if err := gate.Check(ctx, s, m); err != nil {
			log.Warn(ctx, "stage gate rejected run", zap.String("gate", gate.Name()), zap.Error(err))
			return err
		}
	}

	m.ResetFor(s)
	mergeArgs(m, s, req)
	if err := e.store.SaveProject(p.Location, m); err != nil {
		return fmt.Errorf("failed to record %s stage start: %w", s, err)
	}

	cmd := runner.Command{
		Path: e.toolPath(s),
		Args: append([]string{"-l", p.Location, "-n", p.Name}, stageArgs(m, s, req)...),
		Dir:  e.tools.WorkDir,
	}
	status, err := e.runner.Run(ctx, cmd)
	if err := runner.Check(cmd, status, err); err != nil {
		return &StageError{Stage: s, Tool: e.toolName(s), Err: err}
	}

	// The tool may have written its own fields to the sidecar.
	m, err = e.store.LoadProject(p.Location, p.Name)
	if err != nil {
		return fmt.Errorf("failed to reload metadata after %s stage: %w", s, err)
	}
	next, err := stage.Advance(m.Progress, s)
	if err != nil {
		return err
	}
	m.Progress = next
	if err := e.store.SaveProject(p.Location, m); err != nil {
		return fmt.Errorf("failed to record %s stage completion: %w", s, err)
	}
	return nil
}

// mergeArgs copies the stage's typed arguments into the record.
func mergeArgs(m *metadata.Metadata, s stage.Stage, req Request) {
	switch s {
	case stage.StageCompile:
		if req.Compile.Device != "" {
			m.Device = req.Compile.Device
		}
	case stage.StageDatabase:
		db := req.Database
		if db.Host != "" {
			m.Database.Host = db.Host
		}
		if db.User != "" {
			m.Database.User = db.User
		}
		if db.Password.IsSet() {
			m.Database.Password = db.Password
		}
		if db.Name != "" {
			m.Database.Name = db.Name
		}
		if db.Port != 0 {
			m.Database.Port = db.Port
		}
	}
}

// stageArgs renders the arguments following -l/-n for s.
func stageArgs(m *metadata.Metadata, s stage.Stage, req Request) []string {
	var args []string
	switch s {
	case stage.StageGraph:
		args = append(args, req.Graph.Extra...)
	case stage.StageCompile:
		if m.Device != "" {
			args = append(args, "--device", m.Device)
		}
		args = append(args, req.Compile.Extra...)
	case stage.StageDatabase:
		db := m.Database
		if db.Host != "" {
			args = append(args, "--ip", db.Host)
		}
		if db.Port != metadata.UnsetPort {
			args = append(args, "--port", strconv.Itoa(db.Port))
		}
		if db.User != "" {
			args = append(args, "--user", db.User)
		}
		if db.Password.IsSet() {
			args = append(args, "--password", db.Password.Value())
		}
		if db.Name != "" {
			args = append(args, "--db", db.Name)
		}
		args = append(args, req.Database.Extra...)
	}
	return args
}

func (e *Executor) toolPath(s stage.Stage) string {
	switch s {
	case stage.StageProject:
		return e.tools.ProjectManager
	case stage.StageGraph:
		return e.tools.GraphGenerator
	case stage.StageCompile:
		return e.tools.Compiler
	case stage.StageDatabase:
		return e.tools.DatabaseWriter
	}
	return ""
}

// toolName is the tool's display name, as printed in progress lines.
func (e *Executor) toolName(s stage.Stage) string {
	path := e.toolPath(s)
	if path == "" && s == stage.StageProject {
		return defaultProjectManager
	}
	base := filepath.Base(path)
	if ext := filepath.Ext(base); ext == ".exe" || ext == ".bat" || ext == ".cmd" {
		base = base[:len(base)-len(ext)]
	}
	return base
}

func (e *Executor) lock(ctx context.Context, location, name string) (func(), error) {
	closer, err := e.locker.Acquire(ctx, location, name)
	if errors.Is(err, metadata.ErrLocked) {
		return nil, fmt.Errorf("%w: %w", ErrProjectLocked, err)
	}
	if err != nil {
		return nil, err
	}
	return func() { closeQuietly(ctx, closer) }, nil
}

func closeQuietly(ctx context.Context, c io.Closer) {
	if err := c.Close(); err != nil {
		logging.FromContext(ctx).Warn(ctx, "failed to release project lock", zap.Error(err))
	}
}

func stageNames(stages []stage.Stage) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.String()
	}
	return names
}

// reportProgress sends progress updates to the callback
func (e *Executor) reportProgress(progress StageProgress) {
	if e.progressCallback != nil {
		e.progressCallback(progress)
	}
}

func (e *Executor) observeStage(s stage.Stage, outcome string, d time.Duration) {
	if e.recorder != nil {
		e.recorder.ObserveStage(s.String(), outcome, d)
	}
}

func (e *Executor) observeRun(outcome string) {
	if e.recorder != nil {
		e.recorder.ObserveRun(outcome, e.now())
	}
}
