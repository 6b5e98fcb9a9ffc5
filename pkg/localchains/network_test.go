package localchains

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{CacheDir: t.TempDir(), Resources: ResourceManifest{}}
}

func TestStartProviders_RecordsHistoryAndStops(t *testing.T) {
	opts := testOptions(t)
	eth := &MockServer{}
	poly := &MockServer{}
	providers := []Provider{
		&MockProvider{NameValue: "ethereum", ETA: 200 * time.Millisecond, StartFunc: func(context.Context) (Server, error) { return eth, nil }},
		&MockProvider{NameValue: "polygon", ETA: 200 * time.Millisecond, StartFunc: func(context.Context) (Server, error) { return poly, nil }},
	}

	n, err := StartProviders(context.Background(), providers, opts)
	if err != nil {
		t.Fatalf("StartProviders: %v", err)
	}
	names := n.Names()
	if len(names) != 2 || names[0] != "ethereum" || names[1] != "polygon" {
		t.Fatalf("Names = %v", names)
	}
	if pids := n.PIDs(); len(pids) != 0 {
		t.Fatalf("PIDs = %v", pids)
	}

	hist := LoadHistory(opts.CacheDir)
	for _, name := range names {
		if _, ok := hist.BootstrapDuration(name); !ok {
			t.Fatalf("no bootstrap time recorded for %s", name)
		}
	}

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !eth.Killed() || !poly.Killed() {
		t.Fatalf("servers not killed")
	}
	if err := n.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStartProviders_UnavailableChainStopsAll(t *testing.T) {
	ok := &MockServer{}
	bad := &MockServer{AvailableFunc: func(context.Context) error {
		return apperrors.SupervisionError(nil, "server polygon did not become available")
	}}
	providers := []Provider{
		&MockProvider{NameValue: "ethereum", StartFunc: func(context.Context) (Server, error) { return ok, nil }},
		&MockProvider{NameValue: "polygon", StartFunc: func(context.Context) (Server, error) { return bad, nil }},
	}
	_, err := StartProviders(context.Background(), providers, testOptions(t))
	if !apperrors.Is(err, apperrors.KindSupervision) {
		t.Fatalf("expected supervision error, got %v", err)
	}
	if !ok.Killed() || !bad.Killed() {
		t.Fatalf("servers not stopped after failure")
	}
}

func TestStartProviders_StartFailureKillsStarted(t *testing.T) {
	first := &MockServer{}
	providers := []Provider{
		&MockProvider{NameValue: "ethereum", StartFunc: func(context.Context) (Server, error) { return first, nil }},
		&MockProvider{NameValue: "polygon", StartFunc: func(context.Context) (Server, error) {
			return nil, errors.New("no binary")
		}},
	}
	if _, err := StartProviders(context.Background(), providers, testOptions(t)); err == nil {
		t.Fatalf("expected error")
	}
	if !first.Killed() {
		t.Fatalf("started server not killed")
	}
}

func TestNetwork_StopJoinsErrors(t *testing.T) {
	providers := []Provider{
		&MockProvider{NameValue: "ethereum", StartFunc: func(context.Context) (Server, error) {
			return &MockServer{KillFunc: func() error { return errors.New("boom") }}, nil
		}},
	}
	n, err := StartProviders(context.Background(), providers, testOptions(t))
	if err != nil {
		t.Fatalf("StartProviders: %v", err)
	}
	if err := n.Stop(); err == nil {
		t.Fatalf("expected stop error")
	}
}

func TestNetwork_WaitReportsExit(t *testing.T) {
	exited := make(chan struct{})
	providers := []Provider{
		&MockProvider{NameValue: "ethereum", StartFunc: func(context.Context) (Server, error) {
			return &MockServer{ExitedCh: exited}, nil
		}},
		&MockProvider{NameValue: "(remote) stellar"},
	}
	n, err := StartProviders(context.Background(), providers, testOptions(t))
	if err != nil {
		t.Fatalf("StartProviders: %v", err)
	}
	defer n.Stop()

	close(exited)
	err = n.Wait(context.Background())
	if !apperrors.Is(err, apperrors.KindSupervision) {
		t.Fatalf("expected supervision error, got %v", err)
	}
}

func TestNetwork_WaitReturnsOnCancel(t *testing.T) {
	providers := []Provider{
		&MockProvider{NameValue: "ethereum", StartFunc: func(context.Context) (Server, error) {
			return &MockServer{ExitedCh: make(chan struct{})}, nil
		}},
	}
	n, err := StartProviders(context.Background(), providers, testOptions(t))
	if err != nil {
		t.Fatalf("StartProviders: %v", err)
	}
	defer n.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := n.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestInstall_DownloadsMissingOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("#!/bin/sh\necho anvil\n"))
	}))
	defer srv.Close()

	opts := testOptions(t)
	opts.Resources = ResourceManifest{
		"anvil": {runtime.GOOS: {runtime.GOARCH: {URL: srv.URL + "/anvil", Binaries: []string{"anvil"}}}},
	}
	d, err := opts.Resources.ForCurrentMachine("anvil", opts.CacheDir)
	if err != nil {
		t.Fatalf("ForCurrentMachine: %v", err)
	}
	p := &MockProvider{NameValue: "ethereum", PreflightFunc: func() ([]*Downloadable, error) {
		return []*Downloadable{d}, nil
	}}

	for i := 0; i < 2; i++ {
		if err := Install(context.Background(), []Provider{p}, opts); err != nil {
			t.Fatalf("Install #%d: %v", i, err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("downloaded %d times", got)
	}
	if err := d.Exists(); err != nil {
		t.Fatalf("Exists: %v", err)
	}
}
