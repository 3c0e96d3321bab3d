package rest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-node/internal/lifecycle"
	"github.com/Klingon-tech/klingnet-node/internal/shutdown"
)

func TestServer_RunAndStop(t *testing.T) {
	srv := New(Config{
		Listen:  "127.0.0.1:0",
		Version: "test",
		Status:  lifecycle.New(),
		Token:   shutdown.NewToken(),
		Logger:  zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	addr, err := srv.Addr(waitCtx)
	if err != nil {
		t.Fatalf("Addr() error: %v", err)
	}

	resp, err := http.Get("http://" + addr + "/api/v0/node/stats")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_ListenError(t *testing.T) {
	srv := New(Config{Listen: "256.0.0.1:0", Status: lifecycle.New(), Token: shutdown.NewToken(), Logger: zerolog.Nop()})
	if err := srv.Run(context.Background()); err == nil {
		t.Error("Run() should fail on an invalid address")
	}
}
