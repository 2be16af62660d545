// Package judge provides the rule judge consumed by the classification tree.
//
// A judge answers one question: given a text fragment and a natural-language
// check instruction, was the rule violated? The production implementation
// calls an OpenAI-compatible LLM endpoint via langchaingo; tests use
// ScriptedJudge.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrEmptyInput indicates an empty text or check instruction.
var ErrEmptyInput = errors.New("empty text or check instruction")

// Verdict is the judge's answer for one rule check.
type Verdict struct {
	Violated    bool   `json:"violated"`
	Explanation string `json:"explanation,omitempty"`
}

// RuleJudge evaluates a check instruction against a text fragment.
// Implementations must be safe for concurrent use; a specialist issues one
// call per enabled rule in parallel.
type RuleJudge interface {
	CheckRule(ctx context.Context, text, check, contextJSON string) (Verdict, error)
}

// Config configures the LLM judge.
type Config struct {
	// BaseURL is an OpenAI-compatible endpoint. Works against OpenAI or
	// any local server speaking the same protocol.
	BaseURL string
	Model   string
	APIKey  string

	// Timeout bounds a single judge call.
	Timeout time.Duration

	// RequestsPerSecond throttles outbound calls. Zero disables throttling.
	RequestsPerSecond float64
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base URL is required")
	}
	if c.Model == "" {
		return errors.New("model is required")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}

// LLMJudge implements RuleJudge on top of langchaingo's OpenAI client.
type LLMJudge struct {
	llm     *openai.LLM
	config  Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewLLMJudge creates a judge from config.
func NewLLMJudge(cfg Config, logger *zap.Logger) (*LLMJudge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token; local endpoints ignore it.
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &LLMJudge{
		llm:     llm,
		config:  cfg,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// CheckRule asks the model whether the text violates the check instruction.
func (j *LLMJudge) CheckRule(ctx context.Context, text, check, contextJSON string) (Verdict, error) {
	if strings.TrimSpace(text) == "" || strings.TrimSpace(check) == "" {
		return Verdict{}, ErrEmptyInput
	}

	if j.limiter != nil {
		if err := j.limiter.Wait(ctx); err != nil {
			return Verdict{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	prompt := buildPrompt(text, check, contextJSON)

	start := time.Now()
	raw, err := llms.GenerateFromSinglePrompt(ctx, j.llm, prompt,
		llms.WithTemperature(0),
		llms.WithMaxTokens(512),
	)
	if err != nil {
		return Verdict{}, fmt.Errorf("judge call failed: %w", err)
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		j.logger.Warn("unparseable judge response",
			zap.String("model", j.config.Model),
			zap.String("response_prefix", truncate(raw, 120)),
			zap.Error(err))
		return Verdict{}, err
	}

	j.logger.Debug("rule checked",
		zap.Bool("violated", verdict.Violated),
		zap.Duration("duration", time.Since(start)))

	return verdict, nil
}

func buildPrompt(text, check, contextJSON string) string {
	var b strings.Builder
	b.WriteString("You review a coding agent's reasoning output against a rule.\n\n")
	b.WriteString("Rule to check:\n")
	b.WriteString(check)
	b.WriteString("\n\nText under review:\n\"\"\"\n")
	b.WriteString(text)
	b.WriteString("\n\"\"\"\n")
	if contextJSON != "" {
		b.WriteString("\nAdditional context (JSON):\n")
		b.WriteString(contextJSON)
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with ONLY a JSON object: ")
	b.WriteString(`{"violated": true|false, "explanation": "<one sentence, only when violated>"}`)
	return b.String()
}

// parseVerdict extracts a Verdict from a model response. Models frequently
// wrap JSON in code fences or prose; accept anything with one JSON object.
func parseVerdict(raw string) (Verdict, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end <= start {
		return Verdict{}, fmt.Errorf("no JSON object in judge response")
	}

	var v Verdict
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &v); err != nil {
		return Verdict{}, fmt.Errorf("malformed judge response: %w", err)
	}
	return v, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
