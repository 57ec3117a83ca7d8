package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Refiner turns an evidence payload into candidate explanation lines. It is
// best-effort by contract: any failure leaves the deterministic fallback in
// place.
type Refiner interface {
	Refine(ctx context.Context, payload Payload) ([]string, error)
}

// RefinerConfig holds provider settings for the generative refiner.
type RefinerConfig struct {
	Host    string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// LLMRefiner implements Refiner against an OpenAI-compatible chat API.
type LLMRefiner struct {
	llm     llms.Model
	timeout time.Duration
}

// NewLLMRefiner creates a new LLMRefiner.
func NewLLMRefiner(cfg RefinerConfig) (*LLMRefiner, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "none"
	}
	llm, err := openai.New(
		openai.WithBaseURL(cfg.Host),
		openai.WithToken(apiKey),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refiner client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &LLMRefiner{llm: llm, timeout: timeout}, nil
}

// Refine implements Refiner.
func (r *LLMRefiner) Refine(ctx context.Context, payload Payload) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prompt, err := buildPrompt(payload)
	if err != nil {
		return nil, err
	}
	completion, err := llms.GenerateFromSinglePrompt(ctx, r.llm, prompt)
	if err != nil {
		return nil, fmt.Errorf("refiner call failed: %w", err)
	}
	return parseReasons(completion)
}

func buildPrompt(payload Payload) (string, error) {
	evidence, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode refiner payload: %w", err)
	}
	return fmt.Sprintf(`You write short reasons why a person matches a recruiter search.
Given the evidence below, answer with a JSON array of 1 to 3 strings.
Each string is one concrete reason, at most %d characters, grounded only in the evidence.
No markdown, no commentary, JSON array only.

Evidence:
%s`, MaxReasonLength, evidence), nil
}

// parseReasons extracts the JSON array from a completion, tolerating code
// fences around it.
func parseReasons(completion string) ([]string, error) {
	trimmed := strings.TrimSpace(completion)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var reasons []string
	if err := json.Unmarshal([]byte(trimmed), &reasons); err != nil {
		return nil, fmt.Errorf("refiner returned unparseable output: %w", err)
	}
	return reasons, nil
}

// StaticRefiner returns fixed reasons, for tests.
type StaticRefiner struct {
	Reasons []string
	Err     error
}

// Refine implements Refiner.
func (s *StaticRefiner) Refine(ctx context.Context, payload Payload) ([]string, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]string{}, s.Reasons...), nil
}
