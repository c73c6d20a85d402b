package metadata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/nocbroker/internal/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Watch(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()
	require.NoError(t, s.SaveProject(dir, New("mesh")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []stage.Progress
	progressed := make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, dir, "mesh", func(m *Metadata, err error) {
			if err != nil {
				return
			}
			mu.Lock()
			seen = append(seen, m.Progress)
			mu.Unlock()
			if m.Progress == 2 {
				select {
				case progressed <- struct{}{}:
				default:
				}
			}
		})
	}()

	// The initial callback reports the current state.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 2*time.Second, 10*time.Millisecond)

	m := New("mesh")
	m.Progress = 2
	require.NoError(t, s.SaveProject(dir, m))

	select {
	case <-progressed:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not observe the save")
	}

	cancel()
	assert.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, stage.ProgressNone, seen[0])
}

func TestStore_WatchMissingLocation(t *testing.T) {
	err := NewStore().Watch(context.Background(), "/nonexistent/nocbroker/dir", "mesh", func(*Metadata, error) {})
	assert.Error(t, err)
}

func TestStore_WatchBurstEndsOnLatest(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()
	require.NoError(t, s.SaveProject(dir, New("mesh")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var last stage.Progress
	var calls int

	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, dir, "mesh", func(m *Metadata, err error) {
			if err != nil {
				return
			}
			mu.Lock()
			last = m.Progress
			calls++
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls > 0
	}, 2*time.Second, 10*time.Millisecond)

	for p := stage.Progress(1); p <= stage.ProgressComplete; p++ {
		m := New("mesh")
		m.Progress = p
		require.NoError(t, s.SaveProject(dir, m))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last == stage.ProgressComplete
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
