// Package scoring is the HTTP client for the external compliance scoring
// service.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/time/rate"

	"github.com/mbd888/masumiguard/internal/circuitbreaker"
	"github.com/mbd888/masumiguard/internal/compliance"
	"github.com/mbd888/masumiguard/internal/metrics"
	"github.com/mbd888/masumiguard/internal/traces"
)

const (
	// DefaultTimeout bounds a single scoring call.
	DefaultTimeout = 15 * time.Second

	breakerKey       = "scoring"
	maxResponseBytes = 1 << 20
)

// Config configures the client.
type Config struct {
	BaseURL string        // e.g. http://localhost:8000/api
	Timeout time.Duration // per call; 0 means DefaultTimeout
	RPS     float64       // outbound call rate; 0 disables limiting
	Burst   int

	BreakerThreshold int
	BreakerOpen      time.Duration
}

// Client calls POST {BaseURL}/analyzeTransaction. Each Analyze issues at most
// one HTTP request.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.Breaker
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a scoring client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerOpen),
		logger:     slog.Default(),
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(math.Ceil(cfg.RPS)))
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured service URL.
func (c *Client) BaseURL() string { return c.baseURL }

type analyzeRequest struct {
	TxHash        string         `json:"txHash"`
	WalletAddress string         `json:"walletAddress"`
	Metadata      map[string]any `json:"metadata"`
}

type analyzeResponse struct {
	TxHash          string   `json:"txHash"`
	ComplianceScore *float64 `json:"complianceScore"`
	RiskLevel       string   `json:"riskLevel"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

// Analyze submits req for scoring. Every failure is a *Error.
func (c *Client) Analyze(ctx context.Context, req compliance.AnalysisRequest) (*compliance.AnalysisResult, error) {
	ctx, span := traces.StartSpan(ctx, "scoring.Analyze",
		traces.TxHash(req.TxHash),
		traces.WalletAddress(req.WalletAddress),
	)
	defer span.End()

	start := time.Now()
	result, err := c.analyze(ctx, req)

	outcome := "success"
	var serr *Error
	if errors.As(err, &serr) {
		outcome = string(serr.Kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(serr.Kind))
	} else if result != nil {
		span.SetAttributes(traces.Score(result.ComplianceScore), traces.RiskLevel(string(result.RiskLevel)))
	}
	metrics.ScoringRequestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return result, err
}

func (c *Client) analyze(ctx context.Context, req compliance.AnalysisRequest) (*compliance.AnalysisResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Kind: KindUnclassified, Detail: err.Error(), Err: err}
		}
	}
	if !c.breaker.Allow(breakerKey) {
		return nil, &Error{Kind: KindNetwork, URL: c.baseURL, Err: circuitbreaker.ErrOpen}
	}

	body, status, err := c.post(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation says nothing about the service.
			c.breaker.Release(breakerKey)
			return nil, &Error{Kind: KindUnclassified, Detail: ctx.Err().Error(), Err: err}
		}
		c.breaker.RecordFailure(breakerKey)
		c.logger.Warn("scoring service unreachable", "url", c.baseURL, "error", err)
		return nil, &Error{Kind: KindNetwork, URL: c.baseURL, Err: err}
	}
	c.breaker.RecordSuccess(breakerKey)

	if status < 200 || status > 299 {
		return nil, classifyStatus(status, body)
	}
	return decodeResult(body)
}

func (c *Client) post(ctx context.Context, req compliance.AnalysisRequest) ([]byte, int, error) {
	payload, err := json.Marshal(analyzeRequest{
		TxHash:        req.TxHash,
		WalletAddress: req.WalletAddress,
		Metadata:      map[string]any{},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyzeTransaction", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// classifyStatus maps a non-success response. A string "detail" field is
// surfaced verbatim.
func classifyStatus(status int, body []byte) *Error {
	if gjson.ValidBytes(body) {
		detail := gjson.GetBytes(body, "detail")
		if detail.Type == gjson.String && strings.TrimSpace(detail.Str) != "" {
			return &Error{Kind: KindServer, Status: status, Detail: detail.Str}
		}
	}
	return &Error{
		Kind:   KindUnclassified,
		Status: status,
		Detail: fmt.Sprintf("Scoring service returned %d %s.", status, http.StatusText(status)),
	}
}

func decodeResult(body []byte) (*compliance.AnalysisResult, error) {
	var wire analyzeResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &Error{Kind: KindUnclassified, Detail: "Scoring service returned an invalid response.", Err: err}
	}
	if wire.ComplianceScore == nil {
		return nil, &Error{Kind: KindUnclassified, Detail: "Scoring service response is missing complianceScore."}
	}
	if strings.TrimSpace(wire.RiskLevel) == "" {
		return nil, &Error{Kind: KindUnclassified, Detail: "Scoring service response is missing riskLevel."}
	}

	result := &compliance.AnalysisResult{
		TxHash:          wire.TxHash,
		ComplianceScore: int(math.Round(*wire.ComplianceScore)),
		RiskLevel:       compliance.RiskLevel(wire.RiskLevel),
		Issues:          wire.Issues,
		Recommendations: wire.Recommendations,
	}
	result.Normalize()
	metrics.ComplianceScores.Observe(float64(result.ComplianceScore))
	return result, nil
}

// Ping checks that the scoring service answers HTTP at all. Any response,
// whatever its status, counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scoring service unreachable: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}

// CircuitState reports the breaker state for the scoring service.
func (c *Client) CircuitState() circuitbreaker.State {
	return c.breaker.State(breakerKey)
}
