package webdav

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestStartStop(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "photo_1.jpg"), []byte("jpeg"), 0600); err != nil {
		t.Fatal(err)
	}

	w := New(context.Background(), 0, dir, zap.NewNop().Sugar())
	addr, err := w.Start()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if again, _ := w.Start(); again != addr {
		t.Fatalf("second start addr = %s, want %s", again, addr)
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Get("http://127.0.0.1:" + port + "/photo_1.jpg")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(data) != "jpeg" {
		t.Fatalf("body = %q", data)
	}

	if !w.Stop() || w.Running() {
		t.Fatal("expected the server to stop")
	}
	if w.Stop() {
		t.Fatal("second stop must report nothing stopped")
	}
}
