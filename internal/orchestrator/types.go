package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/nocbroker/internal/config"
	"github.com/fyrsmithlabs/nocbroker/internal/project"
	"github.com/fyrsmithlabs/nocbroker/internal/stage"
)

// Errors returned by Execute.
var (
	ErrInvalidRequest = errors.New("invalid pipeline request")
	ErrMissingProject = errors.New("project does not exist")
	ErrPrecondition   = errors.New("stage precondition not met")
	ErrProjectLocked  = errors.New("project is being built by another run")
)

// GraphArgs configures the graph/Verilog generation stage.
type GraphArgs struct {
	// Extra is passed to the generator verbatim.
	Extra []string
}

// CompileArgs configures the compile stage.
type CompileArgs struct {
	// Device overrides the target device recorded for the project.
	Device string
	Extra  []string
}

// DatabaseArgs configures the database write stage. Empty fields keep the
// settings recorded for the project.
type DatabaseArgs struct {
	Host     string
	User     string
	Password config.Secret
	Name     string
	// Port 0 keeps the recorded port.
	Port  int
	Extra []string
}

// Request describes one pipeline run.
type Request struct {
	Location string
	Name     string

	// Action is the project lifecycle action run before any build stage.
	Action  project.Action
	NewName string

	// A nil stage argument means the stage is not requested.
	Graph    *GraphArgs
	Compile  *CompileArgs
	Database *DatabaseArgs
}

// Stages returns the requested stages in execution order.
func (r Request) Stages() []stage.Stage {
	var out []stage.Stage
	if r.Action != project.ActionNone {
		out = append(out, stage.StageProject)
	}
	if r.Graph != nil {
		out = append(out, stage.StageGraph)
	}
	if r.Compile != nil {
		out = append(out, stage.StageCompile)
	}
	if r.Database != nil {
		out = append(out, stage.StageDatabase)
	}
	return out
}

// Project returns the project the run starts on.
func (r Request) Project() project.Project {
	return project.Project{Location: r.Location, Name: r.Name}
}

// ProjectRequest is the lifecycle request handed to the project manager.
func (r Request) ProjectRequest() project.Request {
	return project.Request{Project: r.Project(), Action: r.Action, NewName: r.NewName}
}

// reservedFlags are set by the broker on every tool invocation.
var reservedFlags = []string{"-l", "--location", "-n", "--name"}

// Validate checks the request before anything is touched on disk.
func (r Request) Validate() error {
	if _, err := project.New(r.Location, r.Name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	stages := r.Stages()
	if len(stages) == 0 {
		return fmt.Errorf("%w: no stage requested", ErrInvalidRequest)
	}

	if r.Action != project.ActionNone {
		if err := r.ProjectRequest().Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		if r.Action == project.ActionErase && len(stages) > 1 {
			return fmt.Errorf("%w: erase cannot be combined with other stages", ErrInvalidRequest)
		}
	} else if r.NewName != "" {
		return fmt.Errorf("%w: new name given without rename", ErrInvalidRequest)
	}

	if r.Graph != nil {
		if err := checkExtra(stage.StageGraph, r.Graph.Extra); err != nil {
			return err
		}
	}
	if r.Compile != nil {
		if err := checkExtra(stage.StageCompile, r.Compile.Extra); err != nil {
			return err
		}
	}
	if r.Database != nil {
		if p := r.Database.Port; p != 0 && (p < 1 || p > 65535) {
			return fmt.Errorf("%w: database port %d out of range 1-65535", ErrInvalidRequest, p)
		}
		if err := checkExtra(stage.StageDatabase, r.Database.Extra); err != nil {
			return err
		}
	}
	return nil
}

// checkExtra rejects pass-through arguments that would override the
// project the broker selected.
func checkExtra(s stage.Stage, extra []string) error {
	for _, arg := range extra {
		for _, flag := range reservedFlags {
			if arg == flag || strings.HasPrefix(arg, flag+"=") {
				return fmt.Errorf("%w: %s argument %q is reserved", ErrInvalidRequest, s, arg)
			}
		}
	}
	return nil
}

// StageStatus is the state of one stage within a run.
type StageStatus string

const (
	StatusPending    StageStatus = "pending"
	StatusInProgress StageStatus = "in_progress"
	StatusCompleted  StageStatus = "completed"
	StatusFailed     StageStatus = "failed"
)

// StageResult captures the outcome of one stage.
type StageResult struct {
	Stage       stage.Stage `json:"-"`
	StageName   string      `json:"stage"`
	Tool        string      `json:"tool"`
	Status      StageStatus `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// RunStatus is the terminal state of a run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
)

// RunState is the record of one pipeline run.
type RunState struct {
	RunID     string          `json:"run_id"`
	Project   project.Project `json:"-"`
	Status    RunStatus       `json:"status"`
	StartedAt time.Time       `json:"started_at"`
	Results   []*StageResult  `json:"results"`

	// AbortedAt is the failing stage of an aborted run.
	AbortedAt stage.Stage `json:"-"`
}

// Result returns the result recorded for s, or nil.
func (s *RunState) Result(st stage.Stage) *StageResult {
	for _, r := range s.Results {
		if r.Stage == st {
			return r
		}
	}
	return nil
}

// StageError reports the stage that aborted a run.
type StageError struct {
	Stage stage.Stage
	Tool  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage (%s) failed: %v", e.Stage, e.Tool, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
