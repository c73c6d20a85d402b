package orchestrator

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/nocbroker/internal/metadata"
	"github.com/fyrsmithlabs/nocbroker/internal/stage"
)

// StageGate validates that a stage may run against the current record.
// Gates run after the record is loaded and before anything is reset.
type StageGate interface {
	// Name returns the gate identifier
	Name() string

	// Check returns an error when the stage must not run.
	Check(ctx context.Context, s stage.Stage, m *metadata.Metadata) error
}

// PreconditionGate requires every upstream flag of the stage to be set:
// compile needs generated Verilog, the database write needs a compiled
// design.
type PreconditionGate struct{}

// NewPreconditionGate creates the upstream-progress gate.
func NewPreconditionGate() *PreconditionGate {
	return &PreconditionGate{}
}

// Name returns the gate identifier
func (g *PreconditionGate) Name() string {
	return "precondition-gate"
}

// Check validates upstream progress.
func (g *PreconditionGate) Check(_ context.Context, s stage.Stage, m *metadata.Metadata) error {
	if err := stage.Ready(m.Progress, s); err != nil {
		return fmt.Errorf("%w: %w", ErrPrecondition, err)
	}
	return nil
}
