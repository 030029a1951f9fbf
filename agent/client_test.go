package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateParsesCompletion(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("unable to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"anthropic/claude-3-haiku","choices":[{"message":{"content":"Wired up the parser."}}]}`))
	}))
	defer srv.Close()

	c := New("secret", "", WithBaseURL(srv.URL))
	output, model, err := c.Generate(context.Background(), "Build the parser")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output != "Wired up the parser." {
		t.Fatalf("unexpected output %q", output)
	}
	if model != "anthropic/claude-3-haiku" {
		t.Fatalf("unexpected model %q", model)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected authorization header %q", gotAuth)
	}
	if gotReq.Model != defaultModel {
		t.Fatalf("expected default model in request, got %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages %#v", gotReq.Messages)
	}
	if !strings.Contains(gotReq.Messages[1].Content, "Build the parser") {
		t.Fatalf("expected task title in user prompt, got %q", gotReq.Messages[1].Content)
	}
}

func TestGenerateFallsBackToConfiguredModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := New("secret", "custom/model", WithBaseURL(srv.URL))
	_, model, err := c.Generate(context.Background(), "anything")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "custom/model" {
		t.Fatalf("expected configured model fallback, got %q", model)
	}
}

func TestGenerateReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New("secret", "", WithBaseURL(srv.URL))
	_, _, err := c.Generate(context.Background(), "anything")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusTooManyRequests {
		t.Fatalf("unexpected status %d", statusErr.Code)
	}
}

func TestGenerateRejectsEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"m","choices":[]}`))
	}))
	defer srv.Close()

	c := New("secret", "", WithBaseURL(srv.URL))
	if _, _, err := c.Generate(context.Background(), "anything"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestGenerateRequiresAPIKey(t *testing.T) {
	c := New("", "")
	if _, _, err := c.Generate(context.Background(), "anything"); err == nil {
		t.Fatal("expected error when api key is missing")
	}
}
