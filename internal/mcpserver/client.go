package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for connecting to the MasumiGuard console.
type Config struct {
	APIURL  string        // Base URL, e.g. "http://localhost:8080"
	Timeout time.Duration // Per-request timeout; zero means 60s
}

// ConsoleClient is a pure HTTP client for the console API.
type ConsoleClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewConsoleClient creates a new client for the console API.
func NewConsoleClient(cfg Config) *ConsoleClient {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		// Covers a full scoring call plus the simulated ledger delay.
		timeout = 60 * time.Second
	}
	return &ConsoleClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is an error response from the console.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Code)
}

// doRequest makes an HTTP request to the console and returns the response body.
func (c *ConsoleClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || (apiErr.Message == "" && apiErr.Code == "") {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return nil, apiErr
	}
	if len(respBody) == 0 {
		return json.RawMessage(`{}`), nil
	}

	return json.RawMessage(respBody), nil
}

// Analyze submits a transaction for compliance scoring.
func (c *ConsoleClient) Analyze(ctx context.Context, txHash, walletAddress string) (json.RawMessage, error) {
	body := map[string]string{
		"txHash":        txHash,
		"walletAddress": walletAddress,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/analyses", nil, body)
}

// GetAnalysis returns the orchestrator snapshot.
func (c *ConsoleClient) GetAnalysis(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/analysis", nil, nil)
}

// GetSummary returns the plain-text report for the latest result.
func (c *ConsoleClient) GetSummary(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/analysis/summary", nil, nil)
}

// ListWallets returns the discovered wallets, optionally re-running discovery.
func (c *ConsoleClient) ListWallets(ctx context.Context, refresh bool) (json.RawMessage, error) {
	var q url.Values
	if refresh {
		q = url.Values{"refresh": {"true"}}
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/wallets", q, nil)
}

// ConnectWallet asks the named wallet for consent.
func (c *ConsoleClient) ConnectWallet(ctx context.Context, key string) (json.RawMessage, error) {
	path := "/v1/wallets/" + url.PathEscape(key) + "/connect"
	return c.doRequest(ctx, http.MethodPost, path, nil, nil)
}

// SubmitAttestation attests the latest completed analysis.
func (c *ConsoleClient) SubmitAttestation(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/attestations", nil, nil)
}

// ListAttestations returns stored attestations, newest first.
func (c *ConsoleClient) ListAttestations(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/attestations", q, nil)
}

// GetProgress returns the gamification state.
func (c *ConsoleClient) GetProgress(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/progress", nil, nil)
}
