// Package metadata persists the per-project state record of the NoC build
// pipeline.
//
// Each project owns one JSON sidecar, <location>/<name>_metadata.json, shared
// with the external tools. The record tracks pipeline progress and the
// settings later stages need (target device, database connection). Fields
// this package does not know about are preserved across a load/save cycle so
// tools can keep their own keys in the document.
package metadata

import (
	"fmt"

	"github.com/fyrsmithlabs/nocbroker/internal/config"
	"github.com/fyrsmithlabs/nocbroker/internal/stage"
)

// UnsetPort is the database port of a record that has none configured.
const UnsetPort = -1

const maxPort = 65535

// DefaultDevice is the FPGA part a new project compiles for.
const DefaultDevice = "5CGXFC9E7F35C8"

// DatabaseSettings is the connection the database writer uses.
type DatabaseSettings struct {
	Host     string
	User     string
	Password config.Secret
	Name     string
	Port     int
}

// Metadata is the in-memory project record.
type Metadata struct {
	Name     string
	Progress stage.Progress
	Device   string
	Database DatabaseSettings

	// doc is the decoded document, kept for fields the broker does not own.
	doc map[string]any
}

// New returns the record of a freshly created project.
func New(name string) *Metadata {
	return &Metadata{
		Name:     name,
		Progress: stage.ProgressNone,
		Device:   DefaultDevice,
		Database: DatabaseSettings{Port: UnsetPort},
	}
}

// Completed reports whether flag f is set.
func (m *Metadata) Completed(f stage.Flag) bool {
	return m.Progress.Completed(f)
}

// ResetFor clears the flags s owns and every downstream flag.
func (m *Metadata) ResetFor(s stage.Stage) {
	m.Progress = stage.ResetFor(m.Progress, s)
}

// Validate checks the record can be persisted.
func (m *Metadata) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: empty project name", ErrInvalidMetadata)
	}
	if !m.Progress.Valid() {
		return fmt.Errorf("%w: progress %d out of range", ErrInvalidMetadata, int(m.Progress))
	}
	if m.Database.Port != UnsetPort && (m.Database.Port < 0 || m.Database.Port > maxPort) {
		return fmt.Errorf("%w: database port %d out of range", ErrInvalidMetadata, m.Database.Port)
	}
	return nil
}

// Clone returns a deep copy, including preserved document fields.
func (m *Metadata) Clone() *Metadata {
	c := *m
	c.doc = cloneDoc(m.doc)
	return &c
}

// WithName returns a copy of the record under a new project name.
func (m *Metadata) WithName(name string) *Metadata {
	c := m.Clone()
	c.Name = name
	return c
}
