package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseUrgency(t *testing.T) {
	tests := []struct {
		text    string
		want    Urgency
		wantErr bool
	}{
		{"High", UrgencyHigh, false},
		{"urgency: medium", UrgencyMedium, false},
		{"LOW", UrgencyLow, false},
		{"This looks low risk, not high.", UrgencyLow, false},
		{"Medium. Could become High.", UrgencyMedium, false},
		{"I cannot determine the urgency.", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := ParseUrgency(tt.text)
			if tt.wantErr {
				if !errors.Is(err, ErrClassifierUnparseable) {
					t.Fatalf("expected ErrClassifierUnparseable, got %v", err)
				}
				if !errors.Is(err, ErrClassifier) {
					t.Error("expected error to wrap ErrClassifier")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseUrgency(%q) = %s, want %s", tt.text, got, tt.want)
			}
		})
	}
}

func geminiServer(t *testing.T, status int, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("expected api key in x-goog-api-key header")
		}
		if r.URL.Query().Get("key") != "" {
			t.Errorf("api key must not be sent in the query string")
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "hospital triage assistant") {
			t.Errorf("expected prompt in request body")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		resp := map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{
					"parts": []map[string]string{{"text": text}},
				}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestAIClassifier(t *testing.T, cfg AIConfig) *AIClassifier {
	t.Helper()
	c, err := NewAIClassifier(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new ai classifier: %v", err)
	}
	return c
}

func TestNewAIClassifier_RequiresKey(t *testing.T) {
	if _, err := NewAIClassifier(context.Background(), AIConfig{Endpoint: "http://127.0.0.1:1"}); err == nil {
		t.Error("expected error without api key")
	}
}

func TestAIClassifier_Classify(t *testing.T) {
	srv := geminiServer(t, http.StatusOK, "  High\n")
	defer srv.Close()

	c := newTestAIClassifier(t, AIConfig{Endpoint: srv.URL, APIKey: "test-key", Timeout: time.Second})
	a := validAnswers()
	res, err := c.Classify(context.Background(), &a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Urgency != UrgencyHigh || res.Source != SourceAI {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestAIClassifier_Unparseable(t *testing.T) {
	srv := geminiServer(t, http.StatusOK, "I am not sure")
	defer srv.Close()

	c := newTestAIClassifier(t, AIConfig{Endpoint: srv.URL, APIKey: "test-key", Timeout: time.Second})
	a := validAnswers()
	_, err := c.Classify(context.Background(), &a)
	if !errors.Is(err, ErrClassifierUnparseable) {
		t.Fatalf("expected ErrClassifierUnparseable, got %v", err)
	}
}

func TestAIClassifier_ServerError(t *testing.T) {
	srv := geminiServer(t, http.StatusInternalServerError, "")
	defer srv.Close()

	c := newTestAIClassifier(t, AIConfig{Endpoint: srv.URL, APIKey: "test-key", Timeout: time.Second})
	a := validAnswers()
	_, err := c.Classify(context.Background(), &a)
	if !errors.Is(err, ErrClassifierUnavailable) {
		t.Fatalf("expected ErrClassifierUnavailable, got %v", err)
	}
}

func TestAIClassifier_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestAIClassifier(t, AIConfig{Endpoint: srv.URL, APIKey: "test-key", Timeout: 50 * time.Millisecond})
	a := validAnswers()
	_, err := c.Classify(context.Background(), &a)
	if !errors.Is(err, ErrClassifierUnavailable) {
		t.Fatalf("expected ErrClassifierUnavailable on timeout, got %v", err)
	}
}

func TestFallbackClassifier_LogOmitsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	const key = "SUPERSECRETKEY"
	ai := newTestAIClassifier(t, AIConfig{Endpoint: endpoint, APIKey: key, Timeout: time.Second})
	var buf bytes.Buffer
	f := NewFallbackClassifier(ai, FallbackRules, zerolog.New(&buf))

	a := validAnswers()
	res, err := f.Classify(context.Background(), &a)
	if err != nil {
		t.Fatalf("fallback classifier must not fail: %v", err)
	}
	if res.Source != SourceFallback {
		t.Errorf("expected fallback source, got %s", res.Source)
	}
	if !strings.Contains(buf.String(), "service unavailable") {
		t.Errorf("expected unavailable error logged, got %s", buf.String())
	}
	if strings.Contains(buf.String(), key) {
		t.Errorf("api key written to log: %s", buf.String())
	}
	if strings.Contains(buf.String(), endpoint) {
		t.Errorf("endpoint URL written to log: %s", buf.String())
	}
}

type stubClassifier struct {
	res Result
	err error
}

func (s stubClassifier) Classify(context.Context, *Answers) (Result, error) {
	return s.res, s.err
}

func TestFallbackClassifier(t *testing.T) {
	high := Answers{Age: 70, PainLevel: 9, Symptoms: []string{"chest pain"}, Duration: "hours"}

	tests := []struct {
		name       string
		primary    Classifier
		policy     FallbackPolicy
		want       Urgency
		wantSource Source
	}{
		{"primary succeeds", stubClassifier{res: Result{Urgency: UrgencyMedium, Source: SourceAI}}, FallbackRules, UrgencyMedium, SourceAI},
		{"unavailable uses rules", stubClassifier{err: ErrClassifierUnavailable}, FallbackRules, UrgencyHigh, SourceFallback},
		{"unparseable uses fixed level", stubClassifier{err: ErrClassifierUnparseable}, FallbackPolicy("low"), UrgencyLow, SourceFallback},
		{"invalid level from primary", stubClassifier{res: Result{Urgency: "Unknown", Source: SourceAI}}, FallbackRules, UrgencyHigh, SourceFallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFallbackClassifier(tt.primary, tt.policy, zerolog.Nop())
			res, err := f.Classify(context.Background(), &high)
			if err != nil {
				t.Fatalf("fallback classifier must not fail: %v", err)
			}
			if res.Urgency != tt.want || res.Source != tt.wantSource {
				t.Errorf("got %+v, want %s/%s", res, tt.want, tt.wantSource)
			}
		})
	}
}

func TestParseFallbackPolicy(t *testing.T) {
	for _, ok := range []string{"", "rules", "HIGH", "medium", "low"} {
		if _, err := ParseFallbackPolicy(ok); err != nil {
			t.Errorf("ParseFallbackPolicy(%q): unexpected error %v", ok, err)
		}
	}
	if _, err := ParseFallbackPolicy("unknown"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
