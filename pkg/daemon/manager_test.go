package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/chainsafe/cubist/internal/ui"
	"github.com/chainsafe/cubist/pkg/app"
	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
)

func init() { ui.SetQuiet(true) }

// signals records the signals a Manager sends; listed pids are alive.
type signals struct {
	mu    sync.Mutex
	alive map[int]bool
	sent  []string
}

func (s *signals) send(pid int, sig unix.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sig != 0 {
		s.sent = append(s.sent, fmt.Sprintf("%d:%d", pid, sig))
	}
	if !s.alive[pid] {
		return unix.ESRCH
	}
	return nil
}

func newTestManager(t *testing.T, alive ...int) (*Manager, *signals) {
	t.Helper()
	sig := &signals{alive: map[int]bool{}}
	for _, pid := range alive {
		sig.alive[pid] = true
	}
	m := NewManager(t.TempDir())
	m.signal = sig.send
	return m, sig
}

func manifest(pid int, kind Kind, config string) Manifest {
	return Manifest{PID: pid, Info: Info{Kind: kind, Config: config}}
}

func TestManager_ListFilters(t *testing.T) {
	m, _ := newTestManager(t)
	all := []Manifest{
		manifest(1, KindChains, "/a/cubist-config.json"),
		manifest(2, KindRelayer, "/a/cubist-config.json"),
		manifest(3, KindChains, "/b/cubist-config.json"),
	}
	for _, man := range all {
		require.NoError(t, m.Save(man))
	}
	// garbage is skipped
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), "junk.json"), []byte("{"), 0o644))

	got, err := m.List(Filter{})
	require.NoError(t, err)
	assert.ElementsMatch(t, all, got)

	got, err = m.List(Filter{Config: "/a/cubist-config.json"})
	require.NoError(t, err)
	assert.ElementsMatch(t, all[:2], got)

	got, err = m.List(Filter{Kind: KindChains, PID: 3})
	require.NoError(t, err)
	assert.Equal(t, all[2:], got)

	got, err = m.List(Filter{Kind: KindRelayer, Config: "/b/cubist-config.json"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestManager_ListEmptyDir(t *testing.T) {
	m, _ := newTestManager(t)
	got, err := m.List(Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestManager_StopSignalsAndDeletes(t *testing.T) {
	m, sig := newTestManager(t, 10, 11)
	a := manifest(10, KindChains, "/a/cubist-config.json")
	b := manifest(11, KindRelayer, "/a/cubist-config.json")
	gone := manifest(12, KindChains, "/b/cubist-config.json")
	for _, man := range []Manifest{a, b, gone} {
		require.NoError(t, m.Save(man))
	}
	require.NoError(t, m.NotifyReady(a))

	require.NoError(t, m.Stop(Filter{Config: "/a/cubist-config.json", Kind: KindChains}))
	assert.Equal(t, []string{fmt.Sprintf("10:%d", unix.SIGINT)}, sig.sent)
	assert.NoFileExists(t, m.Path(a))
	assert.NoFileExists(t, m.ReadyPath(a))
	assert.FileExists(t, m.Path(b))

	// a process that no longer exists is cleaned up as well
	require.NoError(t, m.Stop(Filter{}))
	left, err := m.List(Filter{})
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestManager_StatusJSON(t *testing.T) {
	m, _ := newTestManager(t)
	var buf bytes.Buffer
	n, err := m.Status(&buf, Filter{}, true)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "[]\n", buf.String())

	require.NoError(t, m.Save(manifest(5, KindChains, "/p/cubist-config.json")))
	buf.Reset()
	n, err = m.Status(&buf, Filter{}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, float64(5), out[0]["cubist_pid"])
	assert.Equal(t, map[string]any{"kind": "chains", "cubist_config": "/p/cubist-config.json"}, out[0]["info"])
}

func TestManager_StatusText(t *testing.T) {
	m, _ := newTestManager(t, 5)
	live := manifest(5, KindChains, "/p/cubist-config.json")
	require.NoError(t, m.Save(live))
	require.NoError(t, m.NotifyReady(live))
	require.NoError(t, m.Save(manifest(6, KindRelayer, "/p/cubist-config.json")))

	var buf bytes.Buffer
	n, err := m.Status(&buf, Filter{}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "cubist:")
	assert.Contains(t, buf.String(), "stale")
}

func TestManager_StartForeground(t *testing.T) {
	m, _ := newTestManager(t)
	info := Info{Kind: KindChains, Config: "/p/cubist-config.json"}
	self := Manifest{PID: os.Getpid(), Info: info}

	ctx, cancel := context.WithCancel(context.Background())
	service := app.RunnerFunc(func(ctx context.Context, ready func()) error {
		assert.FileExists(t, m.Path(self))
		ready()
		assert.True(t, m.IsReady(self))
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, m.Start(ctx, StartRequest{Info: info, Service: service}))
	assert.NoFileExists(t, m.Path(self))
	assert.NoFileExists(t, m.ReadyPath(self))
}

func TestManager_StartForegroundFailure(t *testing.T) {
	m, _ := newTestManager(t)
	info := Info{Kind: KindRelayer, Config: "/p/cubist-config.json"}
	service := app.RunnerFunc(func(context.Context, func()) error { return errors.New("no chains") })
	require.EqualError(t, m.Start(context.Background(), StartRequest{Info: info, Service: service}), "no chains")
	left, err := m.List(Filter{})
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestManager_StartAlreadyRunning(t *testing.T) {
	m, _ := newTestManager(t, 99)
	info := Info{Kind: KindChains, Config: "/p/cubist-config.json"}
	require.NoError(t, m.Save(Manifest{PID: 99, Info: info}))

	called := false
	service := app.RunnerFunc(func(context.Context, func()) error {
		called = true
		return nil
	})
	require.NoError(t, m.Start(context.Background(), StartRequest{Info: info, Service: service}))
	assert.False(t, called)

	list, err := m.List(Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestManager_StartReplacesStaleManifest(t *testing.T) {
	m, _ := newTestManager(t)
	info := Info{Kind: KindChains, Config: "/p/cubist-config.json"}
	stale := Manifest{PID: 99, Info: info}
	require.NoError(t, m.Save(stale))

	called := false
	service := app.RunnerFunc(func(context.Context, func()) error {
		called = true
		return nil
	})
	require.NoError(t, m.Start(context.Background(), StartRequest{Info: info, Service: service}))
	assert.True(t, called)
	assert.NoFileExists(t, m.Path(stale))
}

// fakeCubist writes a script standing in for "cubist start --mode=foreground":
// it records its manifest and ready file, then sleeps until interrupted.
func fakeCubist(t *testing.T, m *Manager, info Info, ready bool) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := projectDir(m.Dir(), info.Config)
	script := fmt.Sprintf(`#!/bin/sh
mkdir -p %[1]q
printf '{"cubist_pid":%%d,"info":{"kind":"%[2]s","cubist_config":"%[3]s"}}' $$ > %[1]q/%[2]s-$$.json
`, dir, info.Kind, info.Config)
	if ready {
		script += fmt.Sprintf(": > %q/%s-$$.ready\nexec sleep 30\n", dir, info.Kind)
	} else {
		script += "exit 4\n"
	}
	exe := filepath.Join(t.TempDir(), "cubist")
	require.NoError(t, os.WriteFile(exe, []byte(script), 0o755))
	return exe
}

func TestManager_StartBackground(t *testing.T) {
	m := NewManager(t.TempDir())
	info := Info{Kind: KindChains, Config: "/p/cubist-config.json"}
	exe := fakeCubist(t, m, info, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, m.Start(ctx, StartRequest{Info: info, Background: true, Exe: exe, Args: []string{"chains"}}))

	list, err := m.List(Filter{Kind: KindChains})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, m.IsReady(list[0]))

	// a second start is a no-op while the first one runs
	require.NoError(t, m.Start(ctx, StartRequest{Info: info, Background: true, Exe: exe, Args: []string{"chains"}}))
	list, err = m.List(Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, m.Stop(Filter{}))
	list, err = m.List(Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestManager_StartBackgroundChildExits(t *testing.T) {
	m := NewManager(t.TempDir())
	info := Info{Kind: KindRelayer, Config: "/p/cubist-config.json"}
	exe := fakeCubist(t, m, info, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := m.Start(ctx, StartRequest{Info: info, Background: true, Exe: exe})
	assert.True(t, apperrors.Is(err, apperrors.KindSupervision), "got %v", err)
}
