// Package delegate talks to an optional external compute cluster that can
// take over rule evaluation and cross-type correlation. Every call degrades
// gracefully: an unreachable delegate means local evaluation, never a
// dropped alert.
package delegate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"alertflow/internal/config"
	"alertflow/internal/model"
	"alertflow/internal/rules"
)

// Client is an HTTP client for the compute delegate API. Implements
// rules.Delegate and correlation.Delegate.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	probeTimeout time.Duration
	probeCache   time.Duration

	mu          sync.Mutex
	lastProbe   time.Time
	lastHealthy bool

	logger *slog.Logger
}

// NewClient creates a delegate client from config.
func NewClient(cfg config.DelegateConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		probeTimeout: cfg.ProbeTimeout,
		probeCache:   cfg.ProbeCache,
		logger:       logger,
	}
}

// IsAvailable probes the delegate's health endpoint with a short timeout.
// The result is cached so hot paths do not probe per alert.
func (c *Client) IsAvailable(ctx context.Context) bool {
	c.mu.Lock()
	if time.Since(c.lastProbe) < c.probeCache {
		healthy := c.lastHealthy
		c.mu.Unlock()
		return healthy
	}
	c.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return c.recordProbe(false)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.recordProbe(false)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return c.recordProbe(resp.StatusCode == http.StatusOK)
}

func (c *Client) recordProbe(healthy bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if healthy != c.lastHealthy {
		c.logger.Info("delegate availability changed", "healthy", healthy)
	}
	c.lastProbe = time.Now()
	c.lastHealthy = healthy
	return healthy
}

type filterRequest struct {
	Alert *model.Alert        `json:"alert"`
	Rules []*model.FilterRule `json:"rules"`
}

type filterResponse struct {
	Filtered bool   `json:"filtered"`
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
}

// EvaluateFilter asks the delegate to run filter rules against an alert.
func (c *Client) EvaluateFilter(ctx context.Context, alert *model.Alert, candidates []*model.FilterRule) (rules.FilterVerdict, error) {
	var resp filterResponse
	err := c.post(ctx, "/api/v1/evaluate/filter", filterRequest{Alert: alert, Rules: candidates}, &resp)
	if err != nil {
		return rules.FilterVerdict{}, err
	}
	return rules.FilterVerdict{
		Filtered: resp.Filtered,
		RuleID:   resp.RuleID,
		RuleName: resp.RuleName,
	}, nil
}

type tagRequest struct {
	Alert *model.Alert         `json:"alert"`
	Rules []*model.TaggingRule `json:"rules"`
}

type tagResponse struct {
	Tags []string `json:"tags"`
}

// EvaluateTags asks the delegate to run tagging rules against an alert.
func (c *Client) EvaluateTags(ctx context.Context, alert *model.Alert, candidates []*model.TaggingRule) ([]string, error) {
	var resp tagResponse
	err := c.post(ctx, "/api/v1/evaluate/tags", tagRequest{Alert: alert, Rules: candidates}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Tags, nil
}

type correlateRequest struct {
	Alert *model.Alert           `json:"alert"`
	Rule  *model.CorrelationRule `json:"rule"`
}

// CorrelateCrossType hands a cross-type correlation to the delegate. The
// delegate works asynchronously; a 202 means it accepted the job, nothing
// is awaited.
func (c *Client) CorrelateCrossType(ctx context.Context, alert *model.Alert, rule *model.CorrelationRule) error {
	return c.post(ctx, "/api/v1/correlate/cross-type", correlateRequest{Alert: alert, Rule: rule}, nil)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("delegate: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("delegate: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delegate: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("delegate: API error %d: %s", resp.StatusCode, string(raw))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("delegate: decode response: %w", err)
	}
	return nil
}
