package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewClientTrimsTrailingSlash(t *testing.T) {
	client := NewClient(Config{BaseURL: "https://api.example.com/v1//"})
	if client.BaseURL() != "https://api.example.com/v1" {
		t.Fatalf("expected trimmed base URL, got %s", client.BaseURL())
	}
	if client.HasAPIKey() {
		t.Fatal("expected no API key")
	}
}

func TestDoSendsBearerAndContentType(t *testing.T) {
	var gotAuth, gotContentType, gotPath, gotExtra string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotExtra = r.Header.Get("X-Request-Source")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/", APIKey: "sk-test"})
	raw, err := client.Do(context.Background(), http.MethodPost, "/chat/completions",
		map[string]any{"model": "m"},
		RequestOptions{ExtraHeaders: map[string]string{"X-Request-Source": "probe"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", raw.StatusCode)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("expected JSON content type, got %q", gotContentType)
	}
	if gotExtra != "probe" {
		t.Fatalf("expected extra header, got %q", gotExtra)
	}
	if gotPath != "/chat/completions" {
		t.Fatalf("expected path /chat/completions, got %s", gotPath)
	}
	if raw.Header("Content-Type") != "application/json" {
		t.Fatalf("expected response header captured, got %q", raw.Header("Content-Type"))
	}
}

func TestDoWithoutKeyOmitsAuth(t *testing.T) {
	var gotAuth string
	sawAuth := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, sawAuth = r.Header["Authorization"]
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	if _, err := client.Do(context.Background(), http.MethodGet, "/models", nil, RequestOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sawAuth || gotAuth != "" {
		t.Fatalf("expected no auth header, got %q", gotAuth)
	}
}

func TestDoReturnsValueOnErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	raw, err := client.Do(context.Background(), http.MethodPost, "/embeddings", map[string]any{"model": "m"}, RequestOptions{})
	if err != nil {
		t.Fatalf("non-2xx must not be an error, got %v", err)
	}
	if raw.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", raw.StatusCode)
	}
	if got := ExtractErrorMessage(raw.Body); got != "boom" {
		t.Fatalf("expected envelope message, got %q", got)
	}
}

func TestDoTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	_, err := client.Do(context.Background(), http.MethodGet, "/models", nil, RequestOptions{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	te, ok := IsTransportError(err)
	if !ok {
		t.Fatalf("expected transport error, got %T", err)
	}
	if !te.Timeout {
		t.Fatalf("expected timeout flag, got %+v", te)
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("expected message mentioning timeout, got %q", err.Error())
	}
}

func TestDoConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client := NewClient(Config{BaseURL: baseURL})
	_, err := client.Do(context.Background(), http.MethodGet, "/models", nil, RequestOptions{})
	if err == nil {
		t.Fatal("expected connection error")
	}
	te, ok := IsTransportError(err)
	if !ok {
		t.Fatalf("expected transport error, got %T", err)
	}
	if te.Timeout {
		t.Fatalf("connection refusal must not be flagged as timeout: %+v", te)
	}
}

func TestExtractErrorMessage(t *testing.T) {
	if got := ExtractErrorMessage([]byte(`{"error":{"message":"bad key"}}`)); got != "bad key" {
		t.Fatalf("expected bad key, got %q", got)
	}
	if got := ExtractErrorMessage([]byte(`{"detail":"other format"}`)); got != "" {
		t.Fatalf("expected empty for foreign format, got %q", got)
	}
	if got := ExtractErrorMessage(nil); got != "" {
		t.Fatalf("expected empty for empty body, got %q", got)
	}
	if got := ExtractErrorMessage([]byte("plain text")); got != "" {
		t.Fatalf("expected empty for non-JSON, got %q", got)
	}
}
