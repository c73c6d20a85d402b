package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/nocbroker/internal/metadata"
	"github.com/fyrsmithlabs/nocbroker/internal/project"
)

type projectOptions struct {
	location string
	name     string

	// Tool-style action flags, so the command can stand in for the external
	// project manager: broker project -l LOC -n NAME -c|-o|-e|-r NEW.
	// That form runs under the lock of the invoking pipeline run and does
	// not take it again.
	create bool
	open   bool
	erase  bool
	rename string
}

func newProjectCmd(g *globalOptions) *cobra.Command {
	o := &projectOptions{}

	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create, open, erase or rename a project",
		Long: `Manage project files directly, without running any build stage.

A project is the sidecar <location>/<name>_metadata.json together with the
graph file <name>_graph_object_serialized.json and the NoC description
directory <name>_NoC_description.

Examples:
  broker project create -l ~/noc -n mesh4x4
  broker project rename ring8 -l ~/noc -n mesh4x4

  # Project-manager tool form
  broker project -l ~/noc -n mesh4x4 -e`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			action, err := o.action()
			if err != nil {
				return err
			}
			return applyProject(cmd, g, o, action, o.rename, false)
		},
	}

	addProjectFlags(cmd, &o.location, &o.name, true)

	f := cmd.Flags()
	f.BoolVarP(&o.create, "create", "c", false, "create the project")
	f.BoolVarP(&o.open, "open", "o", false, "open (check) the project")
	f.BoolVarP(&o.erase, "erase", "e", false, "erase the project")
	f.StringVarP(&o.rename, "rename", "r", "", "rename the project")
	cmd.MarkFlagsMutuallyExclusive("create", "open", "erase", "rename")
	cmd.MarkFlagsOneRequired("create", "open", "erase", "rename")

	for _, a := range []project.Action{project.ActionCreate, project.ActionOpen, project.ActionErase} {
		cmd.AddCommand(newProjectActionCmd(g, o, a))
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "rename NEW_NAME",
		Short: "Rename the project and its companion files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return applyProject(cmd, g, o, project.ActionRename, args[0], true)
		},
	})

	return cmd
}

func newProjectActionCmd(g *globalOptions, o *projectOptions, a project.Action) *cobra.Command {
	short := map[project.Action]string{
		project.ActionCreate: "Create the project location and a fresh sidecar",
		project.ActionOpen:   "Check that the project exists and its sidecar is valid",
		project.ActionErase:  "Remove the project's sidecar, graph file and NoC description",
	}
	return &cobra.Command{
		Use:   a.String(),
		Short: short[a],
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return applyProject(cmd, g, o, a, "", true)
		},
	}
}

// action resolves the tool-style flags.
func (o *projectOptions) action() (project.Action, error) {
	switch {
	case o.create:
		return project.ActionCreate, nil
	case o.open:
		return project.ActionOpen, nil
	case o.erase:
		return project.ActionErase, nil
	case o.rename != "":
		return project.ActionRename, nil
	}
	return project.ActionNone, errors.New("one of -c, -o, -e or -r is required")
}

func applyProject(cmd *cobra.Command, g *globalOptions, o *projectOptions, action project.Action, newName string, lock bool) error {
	req := project.Request{
		Project: project.Project{Location: o.location, Name: o.name},
		Action:  action,
		NewName: newName,
	}
	if err := req.Validate(); err != nil {
		return err
	}

	e, err := g.load()
	if err != nil {
		return err
	}
	defer e.close()
	ctx := e.context(cmd.Context())

	if lock {
		unlock, err := lockProject(ctx, e, req.Project)
		if err != nil {
			return err
		}
		defer unlock()
	}

	if err := project.NewLocal(metadata.NewStore()).Apply(ctx, req); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch action {
	case project.ActionCreate:
		fmt.Fprintf(out, "Project %s created in %s.\n", o.name, o.location)
	case project.ActionOpen:
		fmt.Fprintf(out, "Project %s opened.\n", o.name)
	case project.ActionErase:
		fmt.Fprintf(out, "Project %s erased.\n", o.name)
	case project.ActionRename:
		fmt.Fprintf(out, "Project %s renamed to %s.\n", o.name, newName)
	}
	return nil
}

// lockProject takes the project lock with the configured wait.
func lockProject(ctx context.Context, e *env, p project.Project) (func(), error) {
	locker := metadata.FileLocker{Wait: e.cfg.Pipeline.LockTimeout.Duration()}
	closer, err := locker.Acquire(ctx, p.Location, p.Name)
	if err != nil {
		return nil, err
	}
	return func() { _ = closer.Close() }, nil
}
