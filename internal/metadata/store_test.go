package metadata

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/nocbroker/internal/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathsFor(t *testing.T) {
	p := PathsFor("/work/noc", "mesh")

	assert.Equal(t, filepath.Join("/work/noc", "mesh_metadata.json"), p.Metadata)
	assert.Equal(t, filepath.Join("/work/noc", "mesh_graph_object_serialized.json"), p.Graph)
	assert.Equal(t, filepath.Join("/work/noc", "mesh_NoC_description"), p.NoC)
	assert.Equal(t, filepath.Join("/work/noc", ".mesh_metadata.lock"), p.Lock)
}

func TestStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()

	m := New("mesh")
	m.Progress = 2
	m.Database.Host = "db.local"
	m.Database.Port = 3306
	require.NoError(t, s.SaveProject(dir, m))

	got, err := s.LoadProject(dir, "mesh")
	require.NoError(t, err)
	assert.Equal(t, m.Name, got.Name)
	assert.Equal(t, stage.Progress(2), got.Progress)
	assert.Equal(t, "db.local", got.Database.Host)
	assert.Equal(t, 3306, got.Database.Port)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(PathsFor(dir, "mesh").Metadata)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestStore_RoundTripIsNoOp(t *testing.T) {
	dir := t.TempDir()
	path := PathsFor(dir, "mesh4x4").Metadata
	require.NoError(t, os.WriteFile(path, []byte(sampleDoc), 0o600))

	s := NewStore()
	m, err := s.Load(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(path, m))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleDoc, string(data))
}

func TestStore_RoundTripMinimalIsNoOp(t *testing.T) {
	dir := t.TempDir()
	path := PathsFor(dir, "ring").Metadata
	require.NoError(t, os.WriteFile(path, []byte(minimalDoc), 0o600))

	s := NewStore()
	m, err := s.Load(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(path, m))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, minimalDoc, string(data))
}

func TestStore_LoadPortOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := PathsFor(dir, "mesh4x4").Metadata
	doc := strings.Replace(sampleDoc, `"dbPort": 5432`, `"dbPort": 70000`, 1)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	_, err := NewStore().Load(path)
	assert.ErrorIs(t, err, ErrCorruptMetadata)
	assert.NotErrorIs(t, err, ErrInvalidMetadata)
}

func TestStore_LoadNotFound(t *testing.T) {
	_, err := NewStore().LoadProject(t.TempDir(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := PathsFor(dir, "mesh").Metadata
	require.NoError(t, os.WriteFile(path, []byte(`{"projectMetadata":`), 0o600))

	_, err := NewStore().Load(path)
	assert.ErrorIs(t, err, ErrCorruptMetadata)
	assert.Contains(t, err.Error(), path)
}

func TestStore_LoadProjectNameMismatch(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()

	// A sidecar copied under another project's file name.
	require.NoError(t, s.Save(PathsFor(dir, "copy").Metadata, New("original")))

	_, err := s.LoadProject(dir, "copy")
	assert.ErrorIs(t, err, ErrNameMismatch)
}

func TestStore_SaveRefusesInvalidAndKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()

	m := New("mesh")
	m.Progress = 3
	require.NoError(t, s.SaveProject(dir, m))

	bad := m.Clone()
	bad.Progress = 9
	require.ErrorIs(t, s.SaveProject(dir, bad), ErrInvalidMetadata)

	got, err := s.LoadProject(dir, "mesh")
	require.NoError(t, err)
	assert.Equal(t, stage.Progress(3), got.Progress)
}

func TestStore_SaveFailureLeavesNoTempFiles(t *testing.T) {
	if runtime.GOOS == "windows" || os.Getuid() == 0 {
		t.Skip("requires unix permissions enforcement")
	}

	dir := t.TempDir()
	s := NewStore()
	require.NoError(t, s.SaveProject(dir, New("mesh")))

	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	m := New("mesh")
	m.Progress = 1
	require.Error(t, s.SaveProject(dir, m))

	require.NoError(t, os.Chmod(dir, 0o700))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got, err := s.LoadProject(dir, "mesh")
	require.NoError(t, err)
	assert.Equal(t, stage.ProgressNone, got.Progress)
}

func TestStore_Exists(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()

	ok, err := s.Exists(dir, "mesh")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveProject(dir, New("mesh")))

	ok, err = s.Exists(dir, "mesh")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMetadata_ResetForAndWithName(t *testing.T) {
	m := New("mesh")
	m.Progress = stage.ProgressComplete

	m.ResetFor(stage.StageCompile)
	assert.True(t, m.Completed(stage.FlagVerilogGenerated))
	assert.False(t, m.Completed(stage.FlagQuartusCompiled))

	renamed := m.WithName("ring")
	assert.Equal(t, "ring", renamed.Name)
	assert.Equal(t, "mesh", m.Name)
	assert.Equal(t, m.Progress, renamed.Progress)
}
