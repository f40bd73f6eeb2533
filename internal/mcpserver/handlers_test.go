package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewConsoleClient(Config{APIURL: ts.URL + "/"})
	return NewHandlers(client), ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

const resultBody = `{
	"result": {
		"txHash": "abc123",
		"complianceScore": 42,
		"riskLevel": "Medium",
		"issues": ["Interaction with mixer"],
		"recommendations": []
	},
	"progress": {"analysisCount": 3, "consecutiveSuccesses": 2, "achievements": []}
}`

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_APIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusPreconditionFailed, map[string]any{
			"error":   "no_wallet_connected",
			"message": "Connect a Cardano wallet first.",
		})
	}))
	defer ts.Close()

	client := NewConsoleClient(Config{APIURL: ts.URL})
	_, err := client.SubmitAttestation(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusPreconditionFailed, apiErr.Status)
	assert.Equal(t, "no_wallet_connected", apiErr.Code)
	assert.Contains(t, err.Error(), "412")
	assert.Contains(t, err.Error(), "Connect a Cardano wallet first.")
}

func TestClient_DoRequest_NonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewConsoleClient(Config{APIURL: ts.URL})
	_, err := client.GetProgress(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_DoRequest_ConnectionRefused(t *testing.T) {
	client := NewConsoleClient(Config{APIURL: "http://127.0.0.1:1"})
	_, err := client.GetAnalysis(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_Analyze_SendsBody(t *testing.T) {
	var got map[string]string
	var method, path string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(resultBody))
	}))
	defer ts.Close()

	client := NewConsoleClient(Config{APIURL: ts.URL})
	_, err := client.Analyze(context.Background(), "abc123", "addr1xyz")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/v1/analyses", path)
	assert.Equal(t, map[string]string{"txHash": "abc123", "walletAddress": "addr1xyz"}, got)
}

func TestClient_EmptyBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	raw, err := NewConsoleClient(Config{APIURL: ts.URL}).GetProgress(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleAnalyzeTransaction(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(resultBody))
	}))
	defer cleanup()

	result, err := h.HandleAnalyzeTransaction(context.Background(), makeRequest(map[string]any{
		"tx_hash":        "abc123",
		"wallet_address": "addr1xyz",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Compliance Score: 42/100")
	assert.Contains(t, text, "Risk Level: Medium")
	assert.Contains(t, text, "1. Interaction with mixer")
	assert.Contains(t, text, "Recommendations:\n  None")
	assert.Contains(t, text, "Analyses completed: 3")
}

func TestHandleAnalyzeTransaction_MissingArgs(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer cleanup()

	result, err := h.HandleAnalyzeTransaction(context.Background(), makeRequest(map[string]any{"tx_hash": "abc"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "wallet_address is required")

	result, err = h.HandleAnalyzeTransaction(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "tx_hash is required")
}

func TestHandleAnalyzeTransaction_Busy(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "analysis_in_progress",
			"message": "An analysis is already being submitted",
		})
	}))
	defer cleanup()

	result, err := h.HandleAnalyzeTransaction(context.Background(), makeRequest(map[string]any{
		"tx_hash": "abc", "wallet_address": "addr1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "get_analysis")
}

func TestHandleAnalyzeTransaction_ScoringUnreachable(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":   "network",
			"message": "Failed to analyze transaction. Scoring service not reachable. Is it running on http://localhost:8000/api?",
		})
	}))
	defer cleanup()

	result, err := h.HandleAnalyzeTransaction(context.Background(), makeRequest(map[string]any{
		"tx_hash": "abc", "wallet_address": "addr1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Scoring service not reachable")
}

func TestHandleGetAnalysis(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/analysis":
			_, _ = w.Write([]byte(`{"state":"submitting","busy":true,"phase":"Running AI models","request":{"txHash":"abc","walletAddress":"addr1"}}`))
		case "/v1/analysis/summary":
			_, _ = w.Write([]byte(`{"summary":"Based on the analysis of transaction abc..."}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer cleanup()

	result, err := h.HandleGetAnalysis(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "State: submitting")
	assert.Contains(t, text, "Phase: Running AI models")
	assert.Contains(t, text, "Request: abc / addr1")

	result, err = h.HandleGetAnalysis(context.Background(), makeRequest(map[string]any{"summary": true}))
	require.NoError(t, err)
	assert.Equal(t, "Based on the analysis of transaction abc...", resultText(t, result))
}

func TestHandleListWallets(t *testing.T) {
	var refresh string
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh = r.URL.Query().Get("refresh")
		_, _ = w.Write([]byte(`{"wallets":[{"key":"nami","label":"Nami"},{"key":"eternl","label":"Eternl"}],"count":2}`))
	}))
	defer cleanup()

	result, err := h.HandleListWallets(context.Background(), makeRequest(map[string]any{"refresh": true}))
	require.NoError(t, err)
	assert.Equal(t, "true", refresh)
	text := resultText(t, result)
	assert.Contains(t, text, "Found 2 wallet(s)")
	assert.Contains(t, text, "Nami (nami)")
}

func TestHandleListWallets_None(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"wallets":[],"count":0}`))
	}))
	defer cleanup()

	result, err := h.HandleListWallets(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No Cardano wallets")
}

func TestHandleConnectWallet(t *testing.T) {
	var path string
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"wallet":{"key":"nami","label":"Nami","address":"0xabc"}}`))
	}))
	defer cleanup()

	result, err := h.HandleConnectWallet(context.Background(), makeRequest(map[string]any{"wallet": " Nami "}))
	require.NoError(t, err)
	assert.Equal(t, "/v1/wallets/nami/connect", path)
	assert.Contains(t, resultText(t, result), "Connected Nami")
	assert.Contains(t, resultText(t, result), "0xabc")
}

func TestHandleConnectWallet_Unavailable(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   "wallet_unavailable",
			"message": "Wallet lace is not available on this host",
		})
	}))
	defer cleanup()

	result, err := h.HandleConnectWallet(context.Background(), makeRequest(map[string]any{"wallet": "lace"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not available")
}

func TestHandleSubmitAttestation(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		writeJSON(w, http.StatusCreated, map[string]any{
			"status": "Stored on-chain. Transaction: simulated_onchain_tx_a1b2c3d4",
			"attestation": map[string]any{
				"simulatedTxId":   "simulated_onchain_tx_a1b2c3d4",
				"txHash":          "abc123",
				"complianceScore": 95,
				"riskLevel":       "Low",
				"walletKey":       "nami",
				"walletAddress":   "0xabc",
				"signature":       "0xsig",
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleSubmitAttestation(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Stored on-chain. Transaction: simulated_onchain_tx_a1b2c3d4")
	assert.Contains(t, text, "Score: 95 (Low)")
	assert.Contains(t, text, "Signed: yes")
}

func TestHandleListAttestations(t *testing.T) {
	var limit string
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit = r.URL.Query().Get("limit")
		_, _ = w.Write([]byte(`{"attestations":[{"simulatedTxId":"simulated_onchain_tx_1","txHash":"abc","complianceScore":80,"riskLevel":"Low"}],"count":1}`))
	}))
	defer cleanup()

	result, err := h.HandleListAttestations(context.Background(), makeRequest(map[string]any{"limit": float64(5)}))
	require.NoError(t, err)
	assert.Equal(t, "5", limit)
	text := resultText(t, result)
	assert.Contains(t, text, "Found 1 attestation(s)")
	assert.Contains(t, text, "simulated_onchain_tx_1")
	assert.NotContains(t, text, "Signed")
}

func TestHandleGetProgress(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"analysisCount":5,"consecutiveSuccesses":5,"achievements":[
			{"id":"perfect-score","label":"Perfect Score","unlocked":true},
			{"id":"five-analyses","label":"5 Analyses","unlocked":true},
			{"id":"ten-analyses","label":"Compliance Master","unlocked":false}]}`))
	}))
	defer cleanup()

	result, err := h.HandleGetProgress(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Analyses completed: 5")
	assert.Contains(t, text, "Success streak: 5")
	assert.Contains(t, text, "[x] Perfect Score")
	assert.Contains(t, text, "[ ] Compliance Master")
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:8080"})
	require.NotNil(t, s)
}
