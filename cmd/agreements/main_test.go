package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agreementexport/test/infra"
)

func startServer(t *testing.T, envelopes []infra.Envelope) *infra.ESignServer {
	t.Helper()
	srv := infra.StartESign(envelopes)
	t.Cleanup(srv.Close)
	keyPath, _, key := infra.WriteKey(t)
	srv.PublicKey = &key.PublicKey
	infra.SetEnv(t, srv, keyPath)
	return srv
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Success(t *testing.T) {
	startServer(t, infra.Envelopes(2, 1))
	out := filepath.Join(t.TempDir(), "out")

	code, stdout, stderr := runCLI(t, "download", "--from-date", "2024-01-01", "--out", out, "--page-size", "1")
	if code != ExitSuccess {
		t.Fatalf("exit = %d, stderr:\n%s", code, stderr)
	}

	var s summary
	if err := json.Unmarshal([]byte(stdout), &s); err != nil {
		t.Fatalf("decode summary %q: %v", stdout, err)
	}
	if s.Status != "ok" || s.Agreements != 2 || s.Exported != 2 || s.Failures != 0 {
		t.Errorf("summary = %+v", s)
	}
	if s.RunID == "" || s.OutDir != out {
		t.Errorf("run id %q, out dir %q", s.RunID, s.OutDir)
	}
	if s.FinishedAt.Before(s.StartedAt) {
		t.Errorf("finished before started")
	}
	if _, err := os.Stat(filepath.Join(out, "e-002", "documents", "1_Document_1.pdf")); err != nil {
		t.Errorf("document missing: %v", err)
	}
	if strings.Contains(stderr, "Failures:") {
		t.Errorf("no failures expected:\n%s", stderr)
	}
}

func TestRun_PartialExitsOne(t *testing.T) {
	srv := startServer(t, infra.Envelopes(2, 1))
	srv.Fail(srv.DocumentsPath("e-001"), http.StatusNotFound, -1)

	code, stdout, stderr := runCLI(t, "download", "--from-date", "2024-01-01T00:00:00Z", "--out", t.TempDir())
	if code != ExitFailures {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(stdout, `"status": "partial"`) {
		t.Errorf("stdout = %s", stdout)
	}
	if !strings.Contains(stderr, "Failures:\n- envelope e-001 failed:") {
		t.Errorf("stderr = %s", stderr)
	}
}

func TestRun_AuthFailureExitsOne(t *testing.T) {
	srv := startServer(t, nil)
	srv.Fail("/oauth/token", http.StatusBadRequest, -1)
	out := filepath.Join(t.TempDir(), "out")

	code, stdout, stderr := runCLI(t, "download", "--from-date", "2024-01-01", "--out", out)
	if code != ExitFailures {
		t.Fatalf("exit = %d", code)
	}
	if stdout != "" {
		t.Errorf("no summary expected, got %s", stdout)
	}
	if !strings.Contains(stderr, "auth:") {
		t.Errorf("stderr = %s", stderr)
	}
	if _, err := os.Stat(filepath.Join(out, "index.json")); !os.IsNotExist(err) {
		t.Errorf("index.json should not be written, stat err = %v", err)
	}
}

func TestRun_EmptyRunExitsZero(t *testing.T) {
	startServer(t, nil)

	code, stdout, _ := runCLI(t, "download", "--from-date", "2024-01-01", "--out", t.TempDir())
	if code != ExitSuccess {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(stdout, `"status": "failed"`) {
		t.Errorf("stdout = %s", stdout)
	}
}

func TestRun_ConfigErrorExitsTwo(t *testing.T) {
	for _, k := range []string{"DS_AUTH_SERVER", "DS_INTEGRATION_KEY", "DS_USER_ID", "DS_PRIVATE_KEY_PEM_PATH"} {
		t.Setenv(k, "")
	}
	code, _, stderr := runCLI(t, "download", "--from-date", "2024-01-01", "--out", t.TempDir())
	if code != ExitInvalidArgs {
		t.Fatalf("exit = %d, stderr = %s", code, stderr)
	}
}

func TestRun_ConfigFile(t *testing.T) {
	srv := startServer(t, infra.Envelopes(1, 1))
	t.Setenv("DS_AUTH_SERVER", "")

	cfgPath := filepath.Join(t.TempDir(), "agreements.yaml")
	yaml := fmt.Sprintf("auth_server: %s\nworkers: 2\n", srv.URL)
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	code, _, stderr := runCLI(t, "download", "--from-date", "2024-01-01", "--out", t.TempDir(), "--config", cfgPath)
	if code != ExitSuccess {
		t.Fatalf("exit = %d, stderr = %s", code, stderr)
	}
}

func TestRun_InvalidArgumentsExitTwo(t *testing.T) {
	startServer(t, nil)
	tests := []struct {
		name string
		args []string
	}{
		{"missing from-date", []string{"download"}},
		{"bad from-date", []string{"download", "--from-date", "yesterday"}},
		{"bad to-date", []string{"download", "--from-date", "2024-01-01", "--to-date", "01/02/2024"}},
		{"page size zero", []string{"download", "--from-date", "2024-01-01", "--page-size", "0"}},
		{"page size too large", []string{"download", "--from-date", "2024-01-01", "--page-size", "1001"}},
		{"unknown flag", []string{"download", "--from-date", "2024-01-01", "--nope"}},
		{"unknown command", []string{"upload"}},
		{"missing config file", []string{"download", "--from-date", "2024-01-01", "--config", "/does/not/exist.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := runCLI(t, tt.args...)
			if code != ExitInvalidArgs {
				t.Errorf("exit = %d, want %d", code, ExitInvalidArgs)
			}
		})
	}
}

func TestPrintFailuresCapsOutput(t *testing.T) {
	var failures []string
	for i := 0; i < 60; i++ {
		failures = append(failures, fmt.Sprintf("envelope e%d failed: boom", i))
	}
	var buf bytes.Buffer
	printFailures(&buf, failures)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 52 {
		t.Fatalf("lines = %d", len(lines))
	}
	if lines[0] != "Failures:" || lines[51] != "... and 10 more" {
		t.Errorf("first %q, last %q", lines[0], lines[51])
	}
}
