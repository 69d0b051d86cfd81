package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxdial/voxdial/internal/model/call"
)

func testMessages() []call.Message {
	return []call.Message{
		{Role: call.RoleSystem, Content: "be brief"},
		{Role: call.RoleUser, Content: "How are you?"},
	}
}

func TestCompleteSuccess(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("expected bearer auth, got %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "  I'm doing well  "}},
			},
		})
	}))
	defer srv.Close()

	client, err := New(&Config{Endpoint: srv.URL, APIKey: "sk-test", Model: "test-model"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	reply, err := client.Complete(context.Background(), testMessages())
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if reply != "I'm doing well" {
		t.Fatalf("expected trimmed reply, got %q", reply)
	}

	if gotBody["model"] != "test-model" {
		t.Errorf("expected model in body, got %v", gotBody["model"])
	}
	if gotBody["stream"] != false {
		t.Errorf("streaming must be disabled, got %v", gotBody["stream"])
	}
	if _, ok := gotBody["max_output_tokens"]; !ok {
		t.Errorf("expected max_output_tokens in body")
	}
	if _, ok := gotBody["presence_penalty"]; !ok {
		t.Errorf("expected presence_penalty in body")
	}
}

func TestCompleteNon2xxIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, _ := New(&Config{Endpoint: srv.URL, Model: "test-model"})

	_, err := client.Complete(context.Background(), testMessages())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", apiErr.StatusCode)
	}
}

func TestCompleteEmptyContentIsError(t *testing.T) {
	responses := []string{
		`{"choices":[]}`,
		`{"choices":[{"message":{"content":""}}]}`,
		`{"choices":[{"message":{"content":"   "}}]}`,
		`{}`,
	}

	for _, body := range responses {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))

		client, _ := New(&Config{Endpoint: srv.URL, Model: "test-model"})
		_, err := client.Complete(context.Background(), testMessages())
		if !errors.Is(err, ErrEmptyCompletion) {
			t.Errorf("body %q: expected ErrEmptyCompletion, got %v", body, err)
		}
		srv.Close()
	}
}

func TestNewRequiresEndpointAndModel(t *testing.T) {
	if _, err := New(&Config{Model: "m"}); err == nil {
		t.Fatalf("expected error for missing endpoint")
	}
	if _, err := New(&Config{Endpoint: "https://api.example.com"}); err == nil {
		t.Fatalf("expected error for missing model")
	}
}
