package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"

	"callqa-backend/internal/llm"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(Config{Provider: "test", APIKey: "sk-test", BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	c.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	}
	return c
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Config{Provider: "groq"}); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func TestChatSendsZeroTemperatureAndJSONMode(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" {\"q1_1\": true} "}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out, err := c.Chat(context.Background(), llm.ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []llm.Message{{Role: "system", Content: "grade"}},
		JSON:     true,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out != `{"q1_1": true}` {
		t.Fatalf("unexpected content %q", out)
	}

	temp, ok := captured["temperature"]
	if !ok || temp.(float64) != 0 {
		t.Fatalf("expected explicit zero temperature, got %v", captured["temperature"])
	}
	rf, _ := captured["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %v", captured["response_format"])
	}
}

func TestChatOmitsResponseFormatForText(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"привет"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if _, err := c.Chat(context.Background(), llm.ChatRequest{Model: "m"}); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if _, ok := captured["response_format"]; ok {
		t.Fatalf("response_format should be omitted")
	}
}

func TestChatRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out, err := c.Chat(context.Background(), llm.ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out != "ok" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected success on second attempt, out=%q calls=%d", out, calls)
	}
}

func TestChatAuthErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), llm.ChatRequest{Model: "m"})
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !apiErr.IsAuth() || apiErr.Code != "invalid_api_key" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestTranscribeSendsMultipartFields(t *testing.T) {
	audioPath := filepath.Join(t.TempDir(), "chunk_00000.mp3")
	if err := os.WriteFile(audioPath, []byte("ID3audio"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		for key, want := range map[string]string{
			"model":           "whisper-large-v3",
			"language":        "ka",
			"prompt":          "previous words",
			"response_format": "text",
		} {
			if got := r.FormValue(key); got != want {
				t.Errorf("field %s = %q, want %q", key, got, want)
			}
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			data, _ := io.ReadAll(file)
			if string(data) != "ID3audio" || header.Filename != "chunk_00000.mp3" {
				t.Errorf("unexpected file %s %q", header.Filename, data)
			}
		}
		_, _ = w.Write([]byte("  გამარჯობა\n"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out, err := c.Transcribe(context.Background(), llm.AudioRequest{
		Model:    "whisper-large-v3",
		FilePath: audioPath,
		Language: "ka",
		Prompt:   "previous words",
	})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if out != "გამარჯობა" {
		t.Fatalf("unexpected text %q", out)
	}
}

func TestTranslateOmitsLanguage(t *testing.T) {
	audioPath := filepath.Join(t.TempDir(), "call.mp3")
	if err := os.WriteFile(audioPath, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/translations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = r.ParseMultipartForm(1 << 20)
		if _, ok := r.MultipartForm.Value["language"]; ok {
			t.Errorf("translation must not send language")
		}
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out, err := c.Translate(context.Background(), llm.AudioRequest{Model: "whisper-1", FilePath: audioPath, Language: "xx"})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if out != "hello" {
		t.Fatalf("unexpected text %q", out)
	}
}
