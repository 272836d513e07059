package genai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_GeneratePitch(t *testing.T) {
	var gotPath, gotKey string
	var gotBody generateRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "  Hey @alice, "}, {"text": "quick question?  "}]}}],
			"usageMetadata": {"promptTokenCount": 120, "candidatesTokenCount": 30, "totalTokenCount": 150}
		}`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Model: "gemini-test", APIKey: "secret"})
	out, err := c.GeneratePitch(context.Background(), PitchRequest{
		LeadName:  "alice",
		TweetText: "looking for a designer",
		Tone:      "casual",
	})
	if err != nil {
		t.Fatalf("GeneratePitch: %v", err)
	}

	if gotPath != "/v1beta/models/gemini-test:generateContent" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("api key header not sent")
	}
	if gotBody.GenerationConfig.MaxOutputTokens != DefaultMaxTokens {
		t.Errorf("max tokens = %d", gotBody.GenerationConfig.MaxOutputTokens)
	}
	if len(gotBody.Contents) != 1 || !strings.Contains(gotBody.Contents[0].Parts[0].Text, "looking for a designer") {
		t.Errorf("prompt does not carry the tweet: %+v", gotBody.Contents)
	}
	if out.Text != "Hey @alice, quick question?" {
		t.Errorf("text = %q", out.Text)
	}
	if out.TotalTokens != 150 || out.PromptTokens != 120 || out.CompletionTokens != 30 {
		t.Errorf("usage = %+v", out)
	}
}

func TestClient_BearerToken(t *testing.T) {
	var auth, key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		key = r.Header.Get("x-goog-api-key")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, APIKey: "ignored", AccessToken: "tok"})
	if _, err := c.Generate(context.Background(), "hi"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if auth != "Bearer tok" {
		t.Errorf("Authorization = %q", auth)
	}
	if key != "" {
		t.Errorf("api key should not be sent with a bearer token")
	}
}

func TestClient_Errors(t *testing.T) {
	quota := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"quota"}}`))
	}))
	defer quota.Close()

	_, err := NewClient(Options{BaseURL: quota.URL}).Generate(context.Background(), "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected APIError 429, got %v", err)
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer empty.Close()

	if _, err := NewClient(Options{BaseURL: empty.URL}).Generate(context.Background(), "hi"); !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestBuildPitchPrompt_Defaults(t *testing.T) {
	p := BuildPitchPrompt(PitchRequest{TweetText: "need help"})
	for _, want := range []string{defaultBio, "Tone: professional.", "no emojis", "need help"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
