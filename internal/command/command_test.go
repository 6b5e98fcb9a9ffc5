package command

import (
	"context"
	"strings"
	"testing"

	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
)

func TestExec_Run(t *testing.T) {
	if !Available("sh") {
		t.Skip("sh not available")
	}
	e := &Exec{Env: []string{"CUBIST_TEST_VALUE=42"}}
	e.Logger = NewExec(nil).Logger

	out, err := e.Run(context.Background(), t.TempDir(), "sh", "-c", "echo $CUBIST_TEST_VALUE; pwd")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 2 || lines[0] != "42" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestExec_RunFailure(t *testing.T) {
	if !Available("sh") {
		t.Skip("sh not available")
	}
	_, err := NewExec(nil).Run(context.Background(), "", "sh", "-c", "echo broken >&2; exit 2")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !apperrors.Is(err, apperrors.KindExternalTool) {
		t.Fatalf("expected an external tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "sh failed: broken") {
		t.Fatalf("stderr missing from %q", err)
	}
}

func TestRunnerFunc(t *testing.T) {
	var got []string
	r := RunnerFunc(func(_ context.Context, dir, name string, args ...string) ([]byte, error) {
		got = append([]string{dir, name}, args...)
		return []byte("ok"), nil
	})
	out, err := r.Run(context.Background(), "/tmp", "git", "status")
	if err != nil || string(out) != "ok" {
		t.Fatalf("unexpected result %q, %v", out, err)
	}
	if strings.Join(got, " ") != "/tmp git status" {
		t.Fatalf("unexpected call %v", got)
	}
}
