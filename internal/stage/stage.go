// Package stage models the ordered stages of the NoC build pipeline and the
// transitions that keep per-project progress monotonic.
//
// A project tracks four completion flags, in pipeline order:
//
//	graphSerialized -> verilogGenerated -> quartusCompiled -> writtenToDB
//
// Progress is stored as the number of leading completed flags, so a state in
// which a later flag is complete while an earlier one is not cannot be
// represented.
package stage

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by stage transitions.
var (
	ErrNonMonotonic = errors.New("completion flags are not monotonic")
	ErrNotReady     = errors.New("upstream stage not completed")
	ErrOutOfOrder   = errors.New("stage completed out of order")
	ErrUnknownStage = errors.New("unknown stage")
)

// Flag identifies one completion flag of a project's metadata.
type Flag int

const (
	FlagGraphSerialized Flag = iota
	FlagVerilogGenerated
	FlagQuartusCompiled
	FlagWrittenToDB
)

// NumFlags is the number of completion flags tracked per project.
const NumFlags = 4

var flagNames = [NumFlags]string{
	"graphSerialized",
	"verilogGenerated",
	"quartusCompiled",
	"writtenToDB",
}

// Valid reports whether f names one of the tracked flags.
func (f Flag) Valid() bool {
	return f >= 0 && f < NumFlags
}

func (f Flag) String() string {
	if !f.Valid() {
		return fmt.Sprintf("Flag(%d)", int(f))
	}
	return flagNames[f]
}

// Progress is the number of leading completed flags (0..NumFlags).
type Progress int

const (
	ProgressNone     Progress = 0
	ProgressComplete Progress = NumFlags
)

// Valid reports whether p is within 0..NumFlags.
func (p Progress) Valid() bool {
	return p >= ProgressNone && p <= ProgressComplete
}

// Completed reports whether flag f is complete.
func (p Progress) Completed(f Flag) bool {
	return f.Valid() && int(f) < int(p)
}

// Flags expands progress into the per-flag booleans of the wire format.
func (p Progress) Flags() [NumFlags]bool {
	var flags [NumFlags]bool
	for i := range flags {
		flags[i] = p.Completed(Flag(i))
	}
	return flags
}

func (p Progress) String() string {
	if p == ProgressNone {
		return "none"
	}
	if !p.Valid() {
		return fmt.Sprintf("Progress(%d)", int(p))
	}
	return Flag(p-1).String()
}

// FromFlags converts wire booleans into Progress. A complete flag that follows
// an incomplete one is rejected.
func FromFlags(flags [NumFlags]bool) (Progress, error) {
	p := ProgressNone
	for i, done := range flags {
		if !done {
			break
		}
		p = Progress(i + 1)
	}
	for i := int(p); i < NumFlags; i++ {
		if flags[i] {
			return ProgressNone, fmt.Errorf("%w: %s is set but %s is not", ErrNonMonotonic, Flag(i), Flag(p))
		}
	}
	return p, nil
}

// Reset clears flag f and every flag after it. Flags before f are untouched.
func Reset(p Progress, f Flag) Progress {
	limit := Progress(f)
	if limit < ProgressNone {
		limit = ProgressNone
	}
	if p > limit {
		return limit
	}
	return p
}

// Stage is a requested pipeline step. The numeric order is execution order.
type Stage int

const (
	StageProject Stage = iota
	StageGraph
	StageCompile
	StageDatabase
)

var stageNames = map[Stage]string{
	StageProject:  "project",
	StageGraph:    "graph",
	StageCompile:  "compile",
	StageDatabase: "database",
}

// span is the range of flags a stage owns.
type span struct {
	first, last Flag
}

var stageSpans = map[Stage]span{
	StageGraph:    {FlagGraphSerialized, FlagVerilogGenerated},
	StageCompile:  {FlagQuartusCompiled, FlagQuartusCompiled},
	StageDatabase: {FlagWrittenToDB, FlagWrittenToDB},
}

// All returns every stage in execution order.
func All() []Stage {
	return []Stage{StageProject, StageGraph, StageCompile, StageDatabase}
}

// Parse resolves a stage by name. "quartus" is accepted for the compile stage.
func Parse(name string) (Stage, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "quartus" {
		return StageCompile, nil
	}
	for s, sn := range stageNames {
		if sn == n {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Flags returns the first and last completion flag the stage owns. ok is
// false for stages that do not touch metadata flags.
func (s Stage) Flags() (first, last Flag, ok bool) {
	sp, ok := stageSpans[s]
	return sp.first, sp.last, ok
}

// AffectsMetadata reports whether running s resets and advances flags.
func (s Stage) AffectsMetadata() bool {
	_, ok := stageSpans[s]
	return ok
}

// ResetFor returns the progress that must be recorded before s runs.
func ResetFor(p Progress, s Stage) Progress {
	first, _, ok := s.Flags()
	if !ok {
		return p
	}
	return Reset(p, first)
}

// Ready checks that every flag upstream of s is complete.
func Ready(p Progress, s Stage) error {
	first, _, ok := s.Flags()
	if !ok {
		return nil
	}
	if p < Progress(first) {
		return fmt.Errorf("%w: %s stage requires %s", ErrNotReady, s, Flag(first-1))
	}
	return nil
}

// Advance is the success transition for s: it marks every flag s owns as
// complete. It fails rather than produce a non-monotonic state.
func Advance(p Progress, s Stage) (Progress, error) {
	_, last, ok := s.Flags()
	if !ok {
		return p, nil
	}
	if Ready(p, s) != nil {
		return p, fmt.Errorf("%w: %s cannot complete at progress %s", ErrOutOfOrder, s, p)
	}
	if next := Progress(last + 1); next > p {
		return next, nil
	}
	return p, nil
}
