package images

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amishk599/idlewatch/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDownload_SavesAndReuses(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Referer") == "" || r.Header.Get("User-Agent") == "" {
			t.Errorf("missing browser headers: %v", r.Header)
		}
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client(), discardLogger())
	urls := []string{srv.URL + "/a.jpg", "", srv.URL + "/b.jpg"}

	paths, err := f.Download(context.Background(), "sony cams", "1001", urls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %v", paths)
	}
	want := filepath.Join(f.TaskDir("sony cams"), "product_1001_1.jpg")
	if paths[0] != want {
		t.Errorf("path = %q, want %q", paths[0], want)
	}
	data, err := os.ReadFile(paths[0])
	if err != nil || string(data) != "jpeg-bytes" {
		t.Fatalf("unexpected file content %q, %v", data, err)
	}

	if _, err := f.Download(context.Background(), "sony cams", "1001", urls); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Errorf("existing files should be reused, got %d requests", hits.Load())
	}
}

func TestDownload_PartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client(), discardLogger())
	paths, err := f.Download(context.Background(), "t", "9", []string{srv.URL + "/missing.jpg", srv.URL + "/ok.jpg"})

	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusTooManyRequests || httpErr.RetryAfter != 3*time.Second {
		t.Errorf("unexpected HTTPError %+v", httpErr)
	}
	if len(paths) != 1 {
		t.Fatalf("expected the successful image to be returned, got %v", paths)
	}
}

func TestRemoveAndCleanup(t *testing.T) {
	f := NewFetcher(t.TempDir(), http.DefaultClient, discardLogger())
	dir := f.TaskDir("t")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, "product_1_1.jpg")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	f.Remove([]string{p, filepath.Join(dir, "gone.jpg")})
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatal("expected file removed")
	}

	if err := f.CleanupTask("t"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("expected task dir removed")
	}
}

func TestNormalizeURLAndSanitize(t *testing.T) {
	if got := normalizeURL("//img.alicdn.com/x.jpg"); got != "https://img.alicdn.com/x.jpg" {
		t.Errorf("normalizeURL = %q", got)
	}
	if got := sanitize(" a/b:c "); got != "a_b_c" {
		t.Errorf("sanitize = %q", got)
	}
	if got := sanitize("  "); got != "untitled" {
		t.Errorf("sanitize blank = %q", got)
	}
}
