package project

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/nocbroker/internal/metadata"
)

// Common errors.
var (
	ErrProjectNotFound  = errors.New("project not found")
	ErrProjectExists    = errors.New("project already exists")
	ErrInvalidName      = errors.New("invalid project name: must be alphanumeric with dots, hyphens or underscores")
	ErrPathTraversal    = errors.New("path traversal detected")
	ErrEmptyLocation    = errors.New("project location cannot be empty")
	ErrInvalidAction    = errors.New("invalid project action")
	ErrLocationNotDir   = errors.New("project location is not a directory")
	ErrMissingNewName   = errors.New("rename requires a new project name")
	ErrRenameToSameName = errors.New("new project name equals the current one")
)

// namePattern allows alphanumerics, dots, hyphens and underscores, starting
// with an alphanumeric.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// maxNameLen leaves room for the longest derived file name suffix within a
// 255-byte file name limit.
const maxNameLen = 255 - len("_graph_object_serialized.json")

// ValidateName checks that a project name is safe to embed in file names.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("%w: name too long (max %d)", ErrInvalidName, maxNameLen)
	}
	if name == "." || name == ".." {
		return ErrPathTraversal
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return ErrPathTraversal
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if filepath.Clean(name) != name {
		return ErrPathTraversal
	}
	return nil
}

// Project identifies one project.
type Project struct {
	Location string
	Name     string
}

// New validates and returns a project reference.
func New(location, name string) (Project, error) {
	if location == "" {
		return Project{}, ErrEmptyLocation
	}
	if err := ValidateName(name); err != nil {
		return Project{}, err
	}
	return Project{Location: location, Name: name}, nil
}

// Paths returns the project's file paths.
func (p Project) Paths() metadata.Paths {
	return metadata.PathsFor(p.Location, p.Name)
}

func (p Project) String() string {
	return filepath.Join(p.Location, p.Name)
}

// Action is a project lifecycle operation.
type Action int

const (
	ActionNone Action = iota
	ActionOpen
	ActionCreate
	ActionErase
	ActionRename
)

var actionNames = map[Action]string{
	ActionNone:   "none",
	ActionOpen:   "open",
	ActionCreate: "create",
	ActionErase:  "erase",
	ActionRename: "rename",
}

func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Flag is the project-manager command-line flag selecting the action.
func (a Action) Flag() string {
	switch a {
	case ActionOpen:
		return "-o"
	case ActionCreate:
		return "-c"
	case ActionErase:
		return "-e"
	case ActionRename:
		return "-r"
	default:
		return ""
	}
}

// ParseAction resolves an action by name.
func ParseAction(name string) (Action, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for a, an := range actionNames {
		if a != ActionNone && an == n {
			return a, nil
		}
	}
	return ActionNone, fmt.Errorf("%w: %q", ErrInvalidAction, name)
}

// Request asks a Manager to apply one action.
type Request struct {
	Project Project
	Action  Action
	// NewName is the target name of a rename.
	NewName string
}

// Validate checks the request is complete.
func (r Request) Validate() error {
	if _, err := New(r.Project.Location, r.Project.Name); err != nil {
		return err
	}
	switch r.Action {
	case ActionOpen, ActionCreate, ActionErase:
		return nil
	case ActionRename:
		if r.NewName == "" {
			return ErrMissingNewName
		}
		if r.NewName == r.Project.Name {
			return ErrRenameToSameName
		}
		return ValidateName(r.NewName)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidAction, r.Action)
	}
}

// Args renders the action flags for an external project manager.
func (r Request) Args() []string {
	args := []string{"-l", r.Project.Location, "-n", r.Project.Name, r.Action.Flag()}
	if r.Action == ActionRename {
		args = append(args, r.NewName)
	}
	return args
}

// Target is the project the request leaves behind: the renamed project for
// a rename, the same project otherwise.
func (r Request) Target() Project {
	if r.Action == ActionRename {
		return Project{Location: r.Project.Location, Name: r.NewName}
	}
	return r.Project
}
