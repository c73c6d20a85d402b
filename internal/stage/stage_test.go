package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allProgress() []Progress {
	out := make([]Progress, 0, NumFlags+1)
	for p := ProgressNone; p <= ProgressComplete; p++ {
		out = append(out, p)
	}
	return out
}

func allFlags() []Flag {
	return []Flag{FlagGraphSerialized, FlagVerilogGenerated, FlagQuartusCompiled, FlagWrittenToDB}
}

func isMonotonic(flags [NumFlags]bool) bool {
	for i := 1; i < NumFlags; i++ {
		if flags[i] && !flags[i-1] {
			return false
		}
	}
	return true
}

func TestFromFlags(t *testing.T) {
	tests := []struct {
		name    string
		flags   [NumFlags]bool
		want    Progress
		wantErr bool
	}{
		{name: "none", flags: [NumFlags]bool{}, want: ProgressNone},
		{name: "graph only", flags: [NumFlags]bool{true}, want: 1},
		{name: "verilog", flags: [NumFlags]bool{true, true}, want: 2},
		{name: "compiled", flags: [NumFlags]bool{true, true, true}, want: 3},
		{name: "all", flags: [NumFlags]bool{true, true, true, true}, want: ProgressComplete},
		{name: "compiled without graph", flags: [NumFlags]bool{false, false, true, false}, wantErr: true},
		{name: "written gap", flags: [NumFlags]bool{true, true, false, true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromFlags(tt.flags)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrNonMonotonic)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.flags, got.Flags())
		})
	}
}

func TestFromFlags_Exhaustive(t *testing.T) {
	for bits := 0; bits < 1<<NumFlags; bits++ {
		var flags [NumFlags]bool
		for i := range flags {
			flags[i] = bits&(1<<i) != 0
		}
		p, err := FromFlags(flags)
		if isMonotonic(flags) {
			require.NoError(t, err, "flags %v", flags)
			assert.Equal(t, flags, p.Flags())
		} else {
			assert.ErrorIs(t, err, ErrNonMonotonic, "flags %v", flags)
		}
	}
}

func TestReset_Monotonic(t *testing.T) {
	// Every state reachable through any sequence of resets stays monotonic.
	var walk func(p Progress, depth int)
	walk = func(p Progress, depth int) {
		require.True(t, isMonotonic(p.Flags()))
		if depth == 0 {
			return
		}
		for _, f := range allFlags() {
			walk(Reset(p, f), depth-1)
		}
	}
	for _, p := range allProgress() {
		walk(p, 3)
	}
}

func TestReset_Idempotent(t *testing.T) {
	for _, p := range allProgress() {
		for _, f := range allFlags() {
			once := Reset(p, f)
			assert.Equal(t, once, Reset(once, f), "progress %s flag %s", p, f)
		}
	}
}

func TestReset_Scope(t *testing.T) {
	for _, p := range allProgress() {
		for _, f := range allFlags() {
			got := Reset(p, f)
			for j := range allFlags() {
				flag := Flag(j)
				if flag < f {
					assert.Equal(t, p.Completed(flag), got.Completed(flag), "upstream %s changed", flag)
				} else {
					assert.False(t, got.Completed(flag), "downstream %s still set", flag)
				}
			}
		}
	}
}

func TestResetFor_Stages(t *testing.T) {
	tests := []struct {
		stage Stage
		from  Progress
		want  [NumFlags]bool
	}{
		{StageGraph, ProgressComplete, [NumFlags]bool{false, false, false, false}},
		{StageCompile, ProgressComplete, [NumFlags]bool{true, true, false, false}},
		{StageDatabase, ProgressComplete, [NumFlags]bool{true, true, true, false}},
		{StageProject, ProgressComplete, [NumFlags]bool{true, true, true, true}},
		{StageCompile, 1, [NumFlags]bool{true, false, false, false}},
	}

	for _, tt := range tests {
		t.Run(tt.stage.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, ResetFor(tt.from, tt.stage).Flags())
		})
	}
}

func TestAdvance(t *testing.T) {
	p, err := Advance(ResetFor(ProgressComplete, StageGraph), StageGraph)
	require.NoError(t, err)
	assert.Equal(t, [NumFlags]bool{true, true, false, false}, p.Flags())

	p, err = Advance(p, StageCompile)
	require.NoError(t, err)
	assert.Equal(t, Progress(3), p)

	p, err = Advance(p, StageDatabase)
	require.NoError(t, err)
	assert.Equal(t, ProgressComplete, p)
}

func TestAdvance_RequiresUpstream(t *testing.T) {
	p, err := Advance(ProgressNone, StageCompile)
	require.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, ProgressNone, p)

	_, err = Advance(2, StageDatabase)
	require.ErrorIs(t, err, ErrOutOfOrder)
}

func TestReady(t *testing.T) {
	assert.NoError(t, Ready(ProgressNone, StageGraph))
	assert.NoError(t, Ready(ProgressNone, StageProject))
	assert.ErrorIs(t, Ready(1, StageCompile), ErrNotReady)
	assert.NoError(t, Ready(2, StageCompile))
	assert.ErrorIs(t, Ready(2, StageDatabase), ErrNotReady)
	assert.NoError(t, Ready(3, StageDatabase))
}

func TestParse(t *testing.T) {
	for _, s := range All() {
		got, err := Parse(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	got, err := Parse("Quartus")
	require.NoError(t, err)
	assert.Equal(t, StageCompile, got)

	_, err = Parse("synthesis")
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestAll_Order(t *testing.T) {
	stages := All()
	for i := 1; i < len(stages); i++ {
		assert.Less(t, int(stages[i-1]), int(stages[i]))
	}
	assert.False(t, StageProject.AffectsMetadata())
	assert.True(t, StageGraph.AffectsMetadata())
}
