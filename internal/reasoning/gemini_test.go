package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func TestGeminiInfer_SendsDocumentAndParsesOutput(t *testing.T) {
	const envKey = "PLANCHECK_GEMINI_TEST_KEY"
	t.Setenv(envKey, "test-api-key")

	var gotKey, gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-goog-api-key")
		gotPath = r.URL.Path

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read request body: %v", err)
		}
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Fatalf("unmarshal request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [
				{"content": {"role": "model", "parts": [{"text": "{\"totalPages\":3}"}]}}
			],
			"usageMetadata": {"promptTokenCount": 120, "candidatesTokenCount": 7}
		}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewGeminiClient(context.Background(), Config{
		Model:     "gemini-test",
		BaseURL:   srv.URL,
		APIKeyEnv: envKey,
	}, srv.Client())
	if err != nil {
		t.Fatalf("NewGeminiClient returned error: %v", err)
	}

	out, err := client.Infer(context.Background(), Request{
		Label:       "manifest",
		Document:    []byte("%PDF-1.4 fake"),
		Instruction: "Classify every page.",
		MaxTokens:   4096,
	})
	if err != nil {
		t.Fatalf("Infer returned error: %v", err)
	}
	if out.Text != `{"totalPages":3}` {
		t.Fatalf("output text = %q, want %q", out.Text, `{"totalPages":3}`)
	}
	if out.Usage.InputTokens != 120 || out.Usage.OutputTokens != 7 {
		t.Fatalf("usage = %+v, want 120/7", out.Usage)
	}
	if gotKey != "test-api-key" {
		t.Fatalf("api key header = %q, want %q", gotKey, "test-api-key")
	}
	if !strings.HasSuffix(gotPath, "models/gemini-test:generateContent") {
		t.Fatalf("path = %q, want generateContent for gemini-test", gotPath)
	}

	raw, _ := json.Marshal(gotBody["contents"])
	if !strings.Contains(string(raw), MimePDF) {
		t.Fatalf("contents = %s, want inline %s part", raw, MimePDF)
	}
	if !strings.Contains(string(raw), "Classify every page.") {
		t.Fatalf("contents = %s, want instruction text", raw)
	}
}

func TestNewGeminiClient_ReturnsErrorWhenAPIKeyMissing(t *testing.T) {
	const envKey = "PLANCHECK_GEMINI_MISSING_KEY"
	if err := os.Unsetenv(envKey); err != nil {
		t.Fatalf("unset env: %v", err)
	}

	_, err := NewGeminiClient(context.Background(), Config{
		Model:     "gemini-test",
		BaseURL:   "http://127.0.0.1",
		APIKeyEnv: envKey,
	}, nil)
	if err == nil {
		t.Fatal("NewGeminiClient returned nil error, want error")
	}
}

func TestGeminiInfer_ReturnsErrorWhenOutputTextMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": []}}],
			"usageMetadata": {"promptTokenCount": 4200, "candidatesTokenCount": 0}
		}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewGeminiClient(context.Background(), Config{
		Model:   "gemini-test",
		BaseURL: srv.URL,
		APIKey:  "test-api-key",
	}, srv.Client())
	if err != nil {
		t.Fatalf("NewGeminiClient returned error: %v", err)
	}

	out, err := client.Infer(context.Background(), Request{Instruction: "Output JSON"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("error = %v, want ErrEmptyResponse", err)
	}
	if out.Usage.InputTokens != 4200 {
		t.Fatalf("usage = %+v, want the billed 4200 input tokens", out.Usage)
	}
}
