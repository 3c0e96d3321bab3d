package main

import (
	"bytes"
	"encoding/hex"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/internal/lifecycle"
	"github.com/Klingon-tech/klingnet-node/internal/rest"
	"github.com/Klingon-tech/klingnet-node/internal/shutdown"
	"github.com/Klingon-tech/klingnet-node/pkg/crypto"
)

func startAPI(t *testing.T) (string, *shutdown.Token) {
	t.Helper()
	token := shutdown.NewToken()
	h := rest.NewHandlers(lifecycle.New(), token, "0.0.1")
	srv := httptest.NewServer(rest.NewRouter(h, nil, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv.URL, token
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no args", nil, 1},
		{"only globals", []string{"--rest", "http://x"}, 1},
		{"unknown", []string{"frobnicate"}, 1},
		{"send without payload", []string{"send"}, 1},
		{"key without verb", []string{"key"}, 1},
		{"help", []string{"help"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr); code != tt.code {
				t.Errorf("exit code = %d, want %d", code, tt.code)
			}
			if !strings.Contains(stdout.String()+stderr.String(), "Usage:") {
				t.Error("usage not printed")
			}
		})
	}
}

func TestRun_Status(t *testing.T) {
	url, _ := startAPI(t)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--rest", url, "status"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "Version: 0.0.1") || !strings.Contains(out, "State:   PreparingStorage") {
		t.Errorf("status output:\n%s", out)
	}
}

func TestRun_StatusJSON(t *testing.T) {
	url, _ := startAPI(t)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--rest=" + url, "--json", "status"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"state": "PreparingStorage"`) {
		t.Errorf("json output:\n%s", stdout.String())
	}
}

func TestRun_NotAvailable(t *testing.T) {
	url, _ := startAPI(t)

	for _, cmd := range []string{"peers", "leaders", "fragments"} {
		var stdout, stderr bytes.Buffer
		if code := run([]string{"--rest", url, cmd}, &stdout, &stderr); code != 1 {
			t.Errorf("%s: exit code = %d, want 1", cmd, code)
		}
		if !strings.Contains(stderr.String(), "503") {
			t.Errorf("%s: stderr = %q", cmd, stderr.String())
		}
	}
}

func TestRun_SendBadHex(t *testing.T) {
	url, _ := startAPI(t)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--rest", url, "send", "zz"}, &stdout, &stderr); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "hex") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRun_Shutdown(t *testing.T) {
	url, token := startAPI(t)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--rest", url, "shutdown"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	if !token.IsCancelled() {
		t.Error("token should be cancelled")
	}
}

func TestRun_KeyDerive(t *testing.T) {
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "leader.key")
	if err := os.WriteFile(path, []byte(hex.EncodeToString(k.Serialize())+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	if code := run([]string{"key", "derive", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	want := "pubkey=" + hex.EncodeToString(k.PublicKey())
	if strings.TrimSpace(stdout.String()) != want {
		t.Errorf("stdout = %q, want %q", stdout.String(), want)
	}
}

func TestRun_KeyGenerate(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"key", "generate"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "secret=") || !strings.HasPrefix(lines[1], "pubkey=") {
		t.Fatalf("stdout = %q", stdout.String())
	}
	k, err := crypto.PrivateKeyFromHex(strings.TrimPrefix(lines[0], "secret="))
	if err != nil {
		t.Fatalf("generated secret does not parse: %v", err)
	}
	if got := "pubkey=" + hex.EncodeToString(k.PublicKey()); got != lines[1] {
		t.Errorf("pubkey mismatch: %s vs %s", got, lines[1])
	}
}
