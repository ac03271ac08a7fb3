package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/agent-updater/internal/domain/artifact"
	"github.com/oshokin/agent-updater/internal/repository/manifest"
	"github.com/oshokin/agent-updater/internal/service/download"
	"github.com/oshokin/agent-updater/internal/service/packager"
	"github.com/oshokin/agent-updater/internal/service/supervisor"
	"github.com/oshokin/agent-updater/internal/service/updater"
)

// pipeline wires the packager output, an HTTP store, supervisorctl and the reconciler.
type pipeline struct {
	root       string
	storeDir   string
	calls      string
	repo       *manifest.FileRepository
	reconciler *updater.Reconciler
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("supervisorctl stand-in requires a POSIX shell")
	}

	root := t.TempDir()
	p := &pipeline{
		root:     root,
		storeDir: filepath.Join(root, "store"),
		calls:    filepath.Join(root, "supervisorctl.log"),
		repo:     manifest.NewFileRepository(filepath.Join(root, "state", "artifacts.json")),
	}

	ctl := filepath.Join(root, "supervisorctl")
	script := "#!/bin/sh\necho \"$@\" >> " + p.calls + "\n"
	require.NoError(t, os.WriteFile(ctl, []byte(script), 0o700))

	require.NoError(t, os.MkdirAll(p.storeDir, 0o755))

	server := httptest.NewServer(http.FileServer(http.Dir(p.storeDir)))
	t.Cleanup(server.Close)

	reconciler, err := updater.New(&updater.Params{
		StoreURL:        server.URL,
		Interval:        time.Hour,
		RetryMin:        time.Millisecond,
		RetryMax:        5 * time.Millisecond,
		ManifestRetries: 1,
		HTTPClient:      server.Client(),
		Repository:      p.repo,
		Downloader: download.New(
			download.WithHTTPClient(server.Client()),
			download.WithDirectory(filepath.Join(root, "downloads")),
			download.WithChunkSize(1024),
			download.WithRetry(time.Millisecond, 5*time.Millisecond),
		),
		Controller: supervisor.NewSupervisorctl(ctl, supervisor.WithTimeout(5*time.Second)),
	})
	require.NoError(t, err)

	p.reconciler = reconciler

	return p
}

// publish packages the given payloads into the store.
func (p *pipeline) publish(t *testing.T, version string, payloads map[string][]byte, services map[string]string) artifact.Manifest {
	t.Helper()

	sources := filepath.Join(p.root, "build", version)
	require.NoError(t, os.MkdirAll(sources, 0o755))

	plan := &packager.Plan{Output: p.storeDir, Artifacts: make(map[string]*packager.Entry, len(payloads))}

	for name, data := range payloads {
		source := filepath.Join(sources, name)
		require.NoError(t, os.WriteFile(source, data, 0o600))

		plan.Artifacts[name] = &packager.Entry{
			Source:      source,
			Version:     version,
			Destination: p.installed(name),
			Service:     services[name],
		}
	}

	published, err := packager.Package(context.Background(), plan)
	require.NoError(t, err)

	return published
}

func (p *pipeline) installed(name string) string {
	return filepath.Join(p.root, "opt", name)
}

func (p *pipeline) supervisorCalls(t *testing.T) []string {
	t.Helper()

	data, err := os.ReadFile(p.calls)
	if os.IsNotExist(err) {
		return nil
	}

	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")

	require.NoError(t, os.Remove(p.calls))

	return lines
}

func states(outcomes []*updater.Outcome) map[string]updater.State {
	result := make(map[string]updater.State, len(outcomes))
	for _, outcome := range outcomes {
		result[outcome.Name] = outcome.State
	}

	return result
}

// TestPipeline_InstallThenUpgrade packages, installs, idles and upgrades artifacts end to end.
func TestPipeline_InstallThenUpgrade(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	large := make([]byte, 64<<10)
	for i := range large {
		large[i] = byte(i * 31)
	}

	first := p.publish(t, "v1.0.0", map[string][]byte{
		"agent":       large,
		"supervisord": []byte("supervisor build 1"),
	}, map[string]string{"agent": "agent", "supervisord": artifact.SupervisorService})

	// First boot: no local manifest, everything is installed.
	outcomes, err := p.reconciler.Cycle(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]updater.State{
		"agent":       updater.StateApplied,
		"supervisord": updater.StateApplied,
	}, states(outcomes))

	got, err := os.ReadFile(p.installed("agent"))
	require.NoError(t, err)
	require.Equal(t, large, got)

	calls := p.supervisorCalls(t)
	require.ElementsMatch(t, []string{"stop agent", "start agent", "stop supervisord", "reread", "update"}, calls)

	local, err := p.repo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, first, local)

	// Nothing changed in the store.
	outcomes, err = p.reconciler.Cycle(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]updater.State{
		"agent":       updater.StateUpToDate,
		"supervisord": updater.StateUpToDate,
	}, states(outcomes))
	require.Empty(t, p.supervisorCalls(t))

	// A new agent build is published; supervisord stays put.
	second := p.publish(t, "v1.1.0", map[string][]byte{"agent": []byte("agent build 2")}, map[string]string{"agent": "agent"})
	second["supervisord"] = first["supervisord"]

	published, err := manifest.Encode(second)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(p.storeDir, updater.ManifestFilename), published, 0o644))

	outcomes, err = p.reconciler.Cycle(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]updater.State{
		"agent":       updater.StateApplied,
		"supervisord": updater.StateUpToDate,
	}, states(outcomes))

	got, err = os.ReadFile(p.installed("agent"))
	require.NoError(t, err)
	require.Equal(t, "agent build 2", string(got))
	require.Equal(t, []string{"stop agent", "start agent"}, p.supervisorCalls(t))

	local, err = p.repo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, second, local)
}
