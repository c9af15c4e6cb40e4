package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Classifier collaborator errors. Both specific errors wrap ErrClassifier.
var (
	ErrClassifier            = errors.New("classifier error")
	ErrClassifierUnavailable = fmt.Errorf("%w: service unavailable", ErrClassifier)
	ErrClassifierUnparseable = fmt.Errorf("%w: no urgency level in response", ErrClassifier)
)

// ParseUrgency extracts the first of "High", "Medium" or "Low" (any case)
// from free text. Text without any of them yields ErrClassifierUnparseable.
func ParseUrgency(text string) (Urgency, error) {
	lower := strings.ToLower(text)
	best := -1
	var found Urgency
	for _, u := range []Urgency{UrgencyHigh, UrgencyMedium, UrgencyLow} {
		i := strings.Index(lower, strings.ToLower(string(u)))
		if i >= 0 && (best < 0 || i < best) {
			best = i
			found = u
		}
	}
	if best < 0 {
		return "", fmt.Errorf("%w: %q", ErrClassifierUnparseable, truncate(text, 80))
	}
	return found, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// AIConfig configures the generative-model classifier.
type AIConfig struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// DefaultGeminiEndpoint is the public generative language API base URL.
const DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com"

const geminiAPIVersion = "v1beta"

// AIClassifier asks a Gemini model for an urgency level and parses the
// free-text answer.
type AIClassifier struct {
	cfg    AIConfig
	client *genai.Client
}

// NewAIClassifier creates an AIClassifier. A zero timeout defaults to 10s.
// The API key travels in the x-goog-api-key header, never in the URL.
func NewAIClassifier(ctx context.Context, cfg AIConfig) (*AIClassifier, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultGeminiEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-pro"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    strings.TrimRight(cfg.Endpoint, "/") + "/",
			APIVersion: geminiAPIVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &AIClassifier{cfg: cfg, client: client}, nil
}

const promptTemplate = `You are a hospital triage assistant. Classify the urgency as High, Medium, or Low.

Examples:
{ "age": 70, "symptoms": ["Chest pain"], "temperature": 103.5 } -> High
{ "age": 25, "symptoms": ["Cough"], "temperature": 97.7 } -> Low

Now classify:
%s
`

// Prompt renders the classification prompt for a.
func Prompt(a *Answers) (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("marshal triage answers: %w", err)
	}
	return fmt.Sprintf(promptTemplate, data), nil
}

// Classify implements Classifier.
func (c *AIClassifier) Classify(ctx context.Context, a *Answers) (Result, error) {
	prompt, err := Prompt(a)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, genai.Text(prompt), nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrClassifierUnavailable, withoutURL(err))
	}

	u, err := ParseUrgency(strings.TrimSpace(resp.Text()))
	if err != nil {
		return Result{}, err
	}
	return Result{Urgency: u, Source: SourceAI}, nil
}

// withoutURL drops the request URL from transport errors so endpoint
// details stay out of logs.
func withoutURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s request: %w", strings.ToLower(uerr.Op), uerr.Err)
	}
	return err
}
