package project

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"simple", "mesh4x4", nil},
		{"with separators", "ring_8-v1.2", nil},
		{"empty", "", ErrInvalidName},
		{"dot", ".", ErrPathTraversal},
		{"dotdot", "..", ErrPathTraversal},
		{"slash", "a/b", ErrPathTraversal},
		{"backslash", `a\b`, ErrPathTraversal},
		{"nul", "a\x00b", ErrPathTraversal},
		{"leading dot", ".hidden", ErrInvalidName},
		{"leading dash", "-c", ErrInvalidName},
		{"space", "my project", ErrInvalidName},
		{"too long", strings.Repeat("a", maxNameLen+1), ErrInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNew(t *testing.T) {
	p, err := New("/work/noc", "mesh")
	require.NoError(t, err)
	assert.Equal(t, "/work/noc", p.Location)
	assert.Equal(t, "mesh", p.Name)

	_, err = New("", "mesh")
	assert.ErrorIs(t, err, ErrEmptyLocation)

	_, err = New("/work", "../etc")
	assert.Error(t, err)
}

func TestParseAction(t *testing.T) {
	for _, a := range []Action{ActionOpen, ActionCreate, ActionErase, ActionRename} {
		got, err := ParseAction(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}

	_, err := ParseAction("none")
	assert.ErrorIs(t, err, ErrInvalidAction)

	_, err = ParseAction("delete")
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestRequest_Validate(t *testing.T) {
	p := Project{Location: "/work", Name: "mesh"}

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"open", Request{Project: p, Action: ActionOpen}, nil},
		{"create", Request{Project: p, Action: ActionCreate}, nil},
		{"erase", Request{Project: p, Action: ActionErase}, nil},
		{"rename", Request{Project: p, Action: ActionRename, NewName: "ring"}, nil},
		{"rename without name", Request{Project: p, Action: ActionRename}, ErrMissingNewName},
		{"rename to same", Request{Project: p, Action: ActionRename, NewName: "mesh"}, ErrRenameToSameName},
		{"rename to bad name", Request{Project: p, Action: ActionRename, NewName: "a/b"}, ErrPathTraversal},
		{"no action", Request{Project: p}, ErrInvalidAction},
		{"no location", Request{Project: Project{Name: "mesh"}, Action: ActionOpen}, ErrEmptyLocation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRequest_Args(t *testing.T) {
	p := Project{Location: "/work", Name: "mesh"}

	assert.Equal(t, []string{"-l", "/work", "-n", "mesh", "-c"}, Request{Project: p, Action: ActionCreate}.Args())
	assert.Equal(t, []string{"-l", "/work", "-n", "mesh", "-o"}, Request{Project: p, Action: ActionOpen}.Args())
	assert.Equal(t, []string{"-l", "/work", "-n", "mesh", "-e"}, Request{Project: p, Action: ActionErase}.Args())
	assert.Equal(t, []string{"-l", "/work", "-n", "mesh", "-r", "ring"},
		Request{Project: p, Action: ActionRename, NewName: "ring"}.Args())
}

func TestRequest_Target(t *testing.T) {
	p := Project{Location: "/work", Name: "mesh"}

	assert.Equal(t, p, Request{Project: p, Action: ActionOpen}.Target())
	assert.Equal(t, Project{Location: "/work", Name: "ring"},
		Request{Project: p, Action: ActionRename, NewName: "ring"}.Target())
}
