package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/avolkov/document-intel-engine/internal/core/domain"
	"github.com/avolkov/document-intel-engine/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	// MaxRetries counts extra attempts after the first call.
	MaxRetries int
	BaseDelay  time.Duration
	Timeout    time.Duration

	// RequestsPerSecond <= 0 disables client-side rate limiting.
	RequestsPerSecond float64
	Burst             int
}

// FallbackClient calls the external semantic classification service
// used when keyword confidence is below threshold. Malformed responses
// and transport failures are both retried; a response naming a category
// outside the provided valid set counts as malformed.
type FallbackClient struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	exec       *resilience.Executor
}

func NewFallbackClient(cfg Config) *FallbackClient {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if burst <= 0 {
			burst = 1
		}
	}

	execCfg := resilience.DefaultConfig()
	execCfg.MaxRetries = cfg.MaxRetries
	execCfg.InitialBackoff = cfg.BaseDelay

	return &FallbackClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		exec:       resilience.NewExecutor(execCfg),
	}
}

func (c *FallbackClient) ClassifyText(ctx context.Context, req domain.FallbackRequest) (domain.FallbackResult, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return domain.FallbackResult{}, domain.WrapError(domain.ErrFallbackUnavailable, "classify text",
			errors.New("api key not configured"))
	}
	if len(req.ValidCategories) == 0 {
		return domain.FallbackResult{}, domain.WrapError(domain.ErrFallbackUnavailable, "classify text",
			errors.New("no valid categories to choose from"))
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.FallbackResult{}, fmt.Errorf("rate limiter: %w", err)
	}

	var result domain.FallbackResult
	err := c.exec.Execute(ctx, "fallback_classify", func(ctx context.Context) error {
		attempt, err := c.classifyOnce(ctx, req)
		if err != nil {
			return err
		}
		result = attempt
		return nil
	}, func(err error) resilience.ErrorClassification {
		return classifyFallbackError(ctx, err)
	})
	if err != nil {
		return domain.FallbackResult{}, domain.WrapError(domain.ErrFallbackUnavailable, "classify text", err)
	}

	result.Confidence = domain.RoundConfidence(domain.ClampConfidence(result.Confidence))
	return result, nil
}

func (c *FallbackClient) classifyOnce(ctx context.Context, req domain.FallbackRequest) (domain.FallbackResult, error) {
	reqBody := map[string]any{
		"model":       c.cfg.Model,
		"prompt":      buildFallbackPrompt(req),
		"max_tokens":  256,
		"temperature": 0,
	}

	var response struct {
		Completion string `json:"completion"`
	}
	if err := c.postJSON(ctx, "/v1/complete", reqBody, &response, "classify"); err != nil {
		return domain.FallbackResult{}, err
	}

	var result domain.FallbackResult
	raw := extractJSONObject(response.Completion)
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return domain.FallbackResult{}, &ResponseParseError{
			Operation: "classify",
			Reason:    fmt.Sprintf("invalid json: %v", err),
		}
	}

	result.Category = strings.ToLower(strings.TrimSpace(result.Category))
	if result.Category == "" {
		return domain.FallbackResult{}, &ResponseParseError{Operation: "classify", Reason: "empty category"}
	}
	if !containsCategory(req.ValidCategories, result.Category) {
		return domain.FallbackResult{}, &ResponseParseError{
			Operation: "classify",
			Reason:    fmt.Sprintf("category %q not in valid set", result.Category),
		}
	}
	return result, nil
}

func containsCategory(valid []string, category string) bool {
	for _, v := range valid {
		if strings.EqualFold(v, category) {
			return true
		}
	}
	return false
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
