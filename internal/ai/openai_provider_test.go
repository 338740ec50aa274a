package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/amishk599/idlewatch/internal/model"
)

func makeTestServer(t *testing.T, statusCode int, body any, captured *[]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			*captured, _ = io.ReadAll(r.Body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(body); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func chatCompletion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test-model",
		"choices": []map[string]any{
			{"index": 0, "finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": content}},
		},
	}
}

func TestComplete_Success(t *testing.T) {
	srv := makeTestServer(t, http.StatusOK, chatCompletion(`{"is_recommended":true}`), nil)

	provider := NewOpenAIProvider(srv.URL, "test-key", "test-model", srv.Client())
	got, err := provider.Complete(context.Background(), "analyze this", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"is_recommended":true}` {
		t.Errorf("got %q, want json string", got)
	}
}

func TestComplete_SendsImagesInline(t *testing.T) {
	var body []byte
	srv := makeTestServer(t, http.StatusOK, chatCompletion(`{}`), &body)

	img := filepath.Join(t.TempDir(), "a.png")
	if err := os.WriteFile(img, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	provider := NewOpenAIProvider(srv.URL, "test-key", "test-model", srv.Client())
	if _, err := provider.Complete(context.Background(), "look", []string{img}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(body), "data:image/png;base64,") {
		t.Errorf("expected inline png data URL in request, got %s", body)
	}
	if !strings.Contains(string(body), `"json_object"`) {
		t.Errorf("expected JSON response format in request, got %s", body)
	}
}

func TestComplete_MissingImage(t *testing.T) {
	srv := makeTestServer(t, http.StatusOK, chatCompletion(`{}`), nil)
	provider := NewOpenAIProvider(srv.URL, "k", "m", srv.Client())
	if _, err := provider.Complete(context.Background(), "x", []string{"/does/not/exist.jpg"}); err == nil {
		t.Fatal("expected error for unreadable image")
	}
}

func TestComplete_HTTPErrorCarriesStatus(t *testing.T) {
	srv := makeTestServer(t, http.StatusTooManyRequests, map[string]any{
		"error": map[string]any{"message": "rate limited", "type": "rate_limit"},
	}, nil)

	provider := NewOpenAIProvider(srv.URL, "k", "m", srv.Client())
	_, err := provider.Complete(context.Background(), "x", nil)
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected HTTP 429 error, got %v", err)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	srv := makeTestServer(t, http.StatusOK, map[string]any{"id": "x", "choices": []any{}}, nil)
	provider := NewOpenAIProvider(srv.URL, "k", "m", srv.Client())
	if _, err := provider.Complete(context.Background(), "x", nil); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
