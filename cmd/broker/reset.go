package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nocbroker/internal/metadata"
	"github.com/fyrsmithlabs/nocbroker/internal/project"
	"github.com/fyrsmithlabs/nocbroker/internal/stage"
)

type resetOptions struct {
	location string
	name     string
	stage    string
}

func newResetCmd(g *globalOptions) *cobra.Command {
	o := &resetOptions{}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Mark a stage and everything after it as not completed",
		Long: `Clear a stage's completion flags and those of every later stage, exactly
as running the stage would before invoking its tool. Use it after changing
project files by hand.

Examples:
  broker reset -l ~/noc -n mesh4x4 --stage compile`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReset(cmd, g, o)
		},
	}

	addProjectFlags(cmd, &o.location, &o.name, false)
	cmd.Flags().StringVar(&o.stage, "stage", "", "stage to reset: graph, compile or database")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

func runReset(cmd *cobra.Command, g *globalOptions, o *resetOptions) error {
	p, err := project.New(o.location, o.name)
	if err != nil {
		return err
	}
	s, err := stage.Parse(o.stage)
	if err != nil {
		return err
	}
	if !s.AffectsMetadata() {
		return fmt.Errorf("%w: %s has no progress to reset", stage.ErrUnknownStage, s)
	}

	e, err := g.load()
	if err != nil {
		return err
	}
	defer e.close()
	ctx := e.context(cmd.Context())

	unlock, err := lockProject(ctx, e, p)
	if err != nil {
		return err
	}
	defer unlock()

	store := metadata.NewStore()
	m, err := store.LoadProject(p.Location, p.Name)
	if err != nil {
		return err
	}
	before := m.Progress
	m.ResetFor(s)
	if err := store.SaveProject(p.Location, m); err != nil {
		return err
	}

	e.logger.Info(ctx, "progress reset",
		zap.Stringer("stage", s),
		zap.Stringer("from", before),
		zap.Stringer("to", m.Progress),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Reset %s stage of %s: progress %s -> %s.\n", s, p.Name, before, m.Progress)
	return nil
}
