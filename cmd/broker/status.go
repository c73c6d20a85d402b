package main

import (
	"encoding/json"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/nocbroker/internal/config"
	"github.com/fyrsmithlabs/nocbroker/internal/metadata"
	"github.com/fyrsmithlabs/nocbroker/internal/monitor"
	"github.com/fyrsmithlabs/nocbroker/internal/project"
	"github.com/fyrsmithlabs/nocbroker/internal/stage"
)

type statusOptions struct {
	location string
	name     string
	watch    bool
	tui      bool
	json     bool
}

func newStatusCmd(g *globalOptions) *cobra.Command {
	o := &statusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a project's pipeline progress",
		Long: `Show which pipeline stages a project has completed and the settings
recorded for later stages. The database password is never printed.

Examples:
  broker status -l ~/noc -n mesh4x4
  broker status -l ~/noc -n mesh4x4 --json

  # Re-render whenever the sidecar changes
  broker status -l ~/noc -n mesh4x4 --watch

  # Live dashboard
  broker status -l ~/noc -n mesh4x4 --tui`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, g, o)
		},
	}

	addProjectFlags(cmd, &o.location, &o.name, false)
	cmd.Flags().BoolVarP(&o.watch, "watch", "w", false, "keep running and re-render on every change")
	cmd.Flags().BoolVar(&o.tui, "tui", false, "show a live dashboard (q to quit)")
	cmd.Flags().BoolVar(&o.json, "json", false, "print the status as JSON")
	cmd.MarkFlagsMutuallyExclusive("tui", "json")
	cmd.MarkFlagsMutuallyExclusive("tui", "watch")
	return cmd
}

func runStatus(cmd *cobra.Command, g *globalOptions, o *statusOptions) error {
	p, err := project.New(o.location, o.name)
	if err != nil {
		return err
	}

	e, err := g.load()
	if err != nil {
		return err
	}
	defer e.close()
	ctx := e.context(cmd.Context())

	out := cmd.OutOrStdout()
	store := metadata.NewStore()

	if o.tui {
		load := func() (*metadata.Metadata, error) { return store.LoadProject(p.Location, p.Name) }
		return monitor.Run(ctx, p, load, monitor.DefaultInterval,
			tea.WithOutput(out), tea.WithInput(cmd.InOrStdin()))
	}

	if !o.watch {
		m, err := store.LoadProject(p.Location, p.Name)
		if err != nil {
			return err
		}
		return printStatus(out, p, m, o.json)
	}

	return store.Watch(ctx, p.Location, p.Name, func(m *metadata.Metadata, err error) {
		if err != nil {
			fmt.Fprintln(out, monitor.RenderError(err))
			return
		}
		if err := printStatus(out, p, m, o.json); err != nil {
			fmt.Fprintln(out, monitor.RenderError(err))
		}
	})
}

func printStatus(w io.Writer, p project.Project, m *metadata.Metadata, asJSON bool) error {
	if asJSON {
		data, err := statusJSON(p, m)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err := fmt.Fprintln(w, monitor.Render(p, m))
	return err
}

type statusView struct {
	Name     string          `json:"name"`
	Location string          `json:"location"`
	Progress string          `json:"progress"`
	Flags    map[string]bool `json:"flags"`
	Device   string          `json:"device"`
	Database databaseView    `json:"database"`
}

type databaseView struct {
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	User     string        `json:"user"`
	Password config.Secret `json:"password"`
	Name     string        `json:"name"`
}

// statusJSON renders the record for machines. config.Secret marshals the
// password as [REDACTED].
func statusJSON(p project.Project, m *metadata.Metadata) ([]byte, error) {
	flags := make(map[string]bool, stage.NumFlags)
	for i := 0; i < stage.NumFlags; i++ {
		flags[stage.Flag(i).String()] = m.Completed(stage.Flag(i))
	}
	view := statusView{
		Name:     m.Name,
		Location: p.Location,
		Progress: m.Progress.String(),
		Flags:    flags,
		Device:   m.Device,
		Database: databaseView{
			Host:     m.Database.Host,
			Port:     m.Database.Port,
			User:     m.Database.User,
			Password: m.Database.Password,
			Name:     m.Database.Name,
		},
	}
	return json.MarshalIndent(view, "", "  ")
}
