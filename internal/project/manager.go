package project

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nocbroker/internal/logging"
	"github.com/fyrsmithlabs/nocbroker/internal/metadata"
	"github.com/fyrsmithlabs/nocbroker/internal/runner"
)

// Manager applies project lifecycle actions.
type Manager interface {
	Apply(ctx context.Context, req Request) error
}

// MetadataStore is the subset of the metadata store Local needs.
type MetadataStore interface {
	LoadProject(location, name string) (*metadata.Metadata, error)
	SaveProject(location string, m *metadata.Metadata) error
}

// Local manages projects directly on the file system.
type Local struct {
	store MetadataStore
}

// NewLocal creates a file-system project manager.
func NewLocal(store MetadataStore) *Local {
	return &Local{store: store}
}

// Apply dispatches req to the matching operation.
func (l *Local) Apply(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	switch req.Action {
	case ActionCreate:
		_, err := l.Create(ctx, req.Project)
		return err
	case ActionOpen:
		_, err := l.Open(ctx, req.Project)
		return err
	case ActionErase:
		return l.Erase(ctx, req.Project)
	case ActionRename:
		_, err := l.Rename(ctx, req.Project, req.NewName)
		return err
	default:
		return fmt.Errorf("%w: %s", ErrInvalidAction, req.Action)
	}
}

// Create makes the location if needed and writes a fresh record. It fails
// if the project already has a sidecar.
func (l *Local) Create(ctx context.Context, p Project) (*metadata.Metadata, error) {
	if err := os.MkdirAll(p.Location, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create project directory: %w", err)
	}
	if err := checkDir(p.Location); err != nil {
		return nil, err
	}

	exists, err := pathExists(p.Paths().Metadata)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrProjectExists, p)
	}

	m := metadata.New(p.Name)
	if err := l.store.SaveProject(p.Location, m); err != nil {
		return nil, fmt.Errorf("failed to create project metadata: %w", err)
	}

	logging.FromContext(ctx).Info(ctx, "project created", zap.String("metadata", p.Paths().Metadata))
	return m, nil
}

// Open checks the project exists and its record is readable and belongs to it.
func (l *Local) Open(ctx context.Context, p Project) (*metadata.Metadata, error) {
	if err := checkDir(p.Location); err != nil {
		return nil, err
	}

	m, err := l.store.LoadProject(p.Location, p.Name)
	if errors.Is(err, metadata.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s: %w", ErrProjectNotFound, p, err)
	}
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Debug(ctx, "project opened", zap.Stringer("progress", m.Progress))
	return m, nil
}

// Erase removes the project's graph file, sidecar and NoC description.
// Erasing a project that does not exist succeeds.
func (l *Local) Erase(ctx context.Context, p Project) error {
	log := logging.FromContext(ctx)
	paths := p.Paths()

	exists, err := pathExists(paths.Metadata)
	if err != nil {
		return err
	}
	if !exists {
		log.Info(ctx, "project does not exist, nothing to erase")
		return nil
	}

	for _, path := range []string{paths.Graph, paths.Metadata} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to erase project: %w", err)
		}
	}
	if err := os.RemoveAll(paths.NoC); err != nil {
		return fmt.Errorf("failed to erase project: %w", err)
	}
	removeLockFile(ctx, p)

	log.Info(ctx, "project erased")
	return nil
}

// Rename moves the project to newName within its location. The record is
// written under the new name before the old sidecar is removed, so a
// failure part way leaves at least one loadable sidecar.
func (l *Local) Rename(ctx context.Context, p Project, newName string) (*metadata.Metadata, error) {
	if err := ValidateName(newName); err != nil {
		return nil, err
	}
	if newName == p.Name {
		return nil, ErrRenameToSameName
	}

	m, err := l.Open(ctx, p)
	if err != nil {
		return nil, err
	}

	target := Project{Location: p.Location, Name: newName}
	from, to := p.Paths(), target.Paths()

	for _, path := range []string{to.Metadata, to.Graph, to.NoC} {
		exists, err := pathExists(path)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrProjectExists, path)
		}
	}

	renamed := m.WithName(newName)
	if err := l.store.SaveProject(p.Location, renamed); err != nil {
		return nil, fmt.Errorf("failed to rename project: %w", err)
	}
	if err := os.Remove(from.Metadata); err != nil {
		return nil, fmt.Errorf("failed to rename project: %w", err)
	}

	for _, mv := range [][2]string{{from.Graph, to.Graph}, {from.NoC, to.NoC}} {
		if err := os.Rename(mv[0], mv[1]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to rename project: %w", err)
		}
	}
	removeLockFile(ctx, p)

	logging.FromContext(ctx).Info(ctx, "project renamed", zap.String("new_name", newName))
	return renamed, nil
}

// removeLockFile drops the lock file left under a name the project no longer
// has. A failure only leaves a stale hidden file behind.
func removeLockFile(ctx context.Context, p Project) {
	if err := metadata.RemoveLockFile(p.Location, p.Name); err != nil {
		logging.FromContext(ctx).Debug(ctx, "lock file not removed", zap.Error(err))
	}
}

func checkDir(location string) error {
	info, err := os.Stat(location)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: directory %s does not exist", ErrProjectNotFound, location)
	}
	if err != nil {
		return fmt.Errorf("failed to stat project directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrLocationNotDir, location)
	}
	return nil
}

func pathExists(path string) (bool, error) {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
}

// External delegates actions to a project-manager executable.
type External struct {
	Path   string
	Dir    string
	Runner runner.Runner
}

// Apply runs the external project manager for req.
func (e *External) Apply(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	cmd := runner.Command{Path: e.Path, Args: req.Args(), Dir: e.Dir}
	status, err := e.Runner.Run(ctx, cmd)
	return runner.Check(cmd, status, err)
}
