package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tidwall/gjson"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *ConsoleClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *ConsoleClient) *Handlers {
	return &Handlers{client: client}
}

// HandleAnalyzeTransaction runs one analysis and reports the result.
func (h *Handlers) HandleAnalyzeTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	txHash := strings.TrimSpace(req.GetString("tx_hash", ""))
	if txHash == "" {
		return mcp.NewToolResultError("tx_hash is required"), nil
	}
	walletAddress := strings.TrimSpace(req.GetString("wallet_address", ""))
	if walletAddress == "" {
		return mcp.NewToolResultError("wallet_address is required"), nil
	}

	raw, err := h.client.Analyze(ctx, txHash, walletAddress)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == "analysis_in_progress" {
			return mcp.NewToolResultError("Another analysis is still running. Use get_analysis to follow it."), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Analysis failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatResult(gjson.GetBytes(raw, "result"), gjson.GetBytes(raw, "progress"))), nil
}

// HandleGetAnalysis returns the console state or the summary report.
func (h *Handlers) HandleGetAnalysis(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if req.GetBool("summary", false) {
		raw, err := h.client.GetSummary(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get summary: %v", err)), nil
		}
		return mcp.NewToolResultText(gjson.GetBytes(raw, "summary").String()), nil
	}

	raw, err := h.client.GetAnalysis(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get analysis: %v", err)), nil
	}
	return mcp.NewToolResultText(formatSnapshot(raw)), nil
}

// HandleListWallets lists discovered wallets and the connected one.
func (h *Handlers) HandleListWallets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListWallets(ctx, req.GetBool("refresh", false))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list wallets: %v", err)), nil
	}

	wallets := gjson.GetBytes(raw, "wallets").Array()
	if len(wallets) == 0 {
		return mcp.NewToolResultText("No Cardano wallets found on this host."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d wallet(s):\n", len(wallets))
	for _, w := range wallets {
		fmt.Fprintf(&sb, "  - %s (%s)\n", w.Get("label").String(), w.Get("key").String())
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleConnectWallet connects the named wallet.
func (h *Handlers) HandleConnectWallet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := strings.ToLower(strings.TrimSpace(req.GetString("wallet", "")))
	if key == "" {
		return mcp.NewToolResultError("wallet is required"), nil
	}

	raw, err := h.client.ConnectWallet(ctx, key)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to connect %s: %v", key, err)), nil
	}

	w := gjson.GetBytes(raw, "wallet")
	return mcp.NewToolResultText(fmt.Sprintf("Connected %s\n  Address: %s",
		w.Get("label").String(), w.Get("address").String())), nil
}

// HandleSubmitAttestation attests the latest completed analysis.
func (h *Handlers) HandleSubmitAttestation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.SubmitAttestation(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Attestation failed: %v", err)), nil
	}

	rec := gjson.GetBytes(raw, "attestation")
	var sb strings.Builder
	sb.WriteString(gjson.GetBytes(raw, "status").String())
	sb.WriteString("\n")
	writeAttestation(&sb, rec)
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListAttestations lists stored attestations.
func (h *Handlers) HandleListAttestations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListAttestations(ctx, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list attestations: %v", err)), nil
	}

	records := gjson.GetBytes(raw, "attestations").Array()
	if len(records) == 0 {
		return mcp.NewToolResultText("No attestations stored yet."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d attestation(s):\n", len(records))
	for i, rec := range records {
		fmt.Fprintf(&sb, "\n%d. %s\n", i+1, rec.Get("simulatedTxId").String())
		writeAttestation(&sb, rec)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetProgress reports analysis count, streak and achievements.
func (h *Handlers) HandleGetProgress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetProgress(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get progress: %v", err)), nil
	}
	return mcp.NewToolResultText(formatProgress(gjson.ParseBytes(raw))), nil
}

// -----------------------------------------------------------------------------
// Formatting
// -----------------------------------------------------------------------------

func formatResult(result, progress gjson.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Transaction: %s\n", result.Get("txHash").String())
	fmt.Fprintf(&sb, "Compliance Score: %d/100\n", result.Get("complianceScore").Int())
	fmt.Fprintf(&sb, "Risk Level: %s\n", result.Get("riskLevel").String())
	writeList(&sb, "Risk Factors", result.Get("issues"))
	writeList(&sb, "Recommendations", result.Get("recommendations"))
	if progress.Exists() {
		fmt.Fprintf(&sb, "\nAnalyses completed: %d\n", progress.Get("analysisCount").Int())
	}
	return sb.String()
}

func formatSnapshot(raw json.RawMessage) string {
	snap := gjson.ParseBytes(raw)

	var sb strings.Builder
	fmt.Fprintf(&sb, "State: %s\n", snap.Get("state").String())
	if snap.Get("busy").Bool() {
		if phase := snap.Get("phase").String(); phase != "" {
			fmt.Fprintf(&sb, "Phase: %s\n", phase)
		}
	}
	if req := snap.Get("request"); req.Exists() {
		fmt.Fprintf(&sb, "Request: %s / %s\n", req.Get("txHash").String(), req.Get("walletAddress").String())
	}
	if msg := snap.Get("errorMessage").String(); msg != "" {
		fmt.Fprintf(&sb, "Error: %s\n", msg)
	}
	if result := snap.Get("result"); result.Exists() {
		sb.WriteString("\n")
		sb.WriteString(formatResult(result, gjson.Result{}))
	}
	return sb.String()
}

func formatProgress(p gjson.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyses completed: %d\n", p.Get("analysisCount").Int())
	fmt.Fprintf(&sb, "Success streak: %d\n", p.Get("consecutiveSuccesses").Int())
	sb.WriteString("Achievements:\n")
	for _, a := range p.Get("achievements").Array() {
		mark := "[ ]"
		if a.Get("unlocked").Bool() {
			mark = "[x]"
		}
		fmt.Fprintf(&sb, "  %s %s\n", mark, a.Get("label").String())
	}
	return sb.String()
}

func writeAttestation(sb *strings.Builder, rec gjson.Result) {
	fmt.Fprintf(sb, "  Transaction: %s\n", rec.Get("txHash").String())
	fmt.Fprintf(sb, "  Score: %d (%s)\n", rec.Get("complianceScore").Int(), rec.Get("riskLevel").String())
	fmt.Fprintf(sb, "  Wallet: %s %s\n", rec.Get("walletKey").String(), rec.Get("walletAddress").String())
	if sig := rec.Get("signature").String(); sig != "" {
		sb.WriteString("  Signed: yes\n")
	}
}

func writeList(sb *strings.Builder, title string, items gjson.Result) {
	fmt.Fprintf(sb, "%s:\n", title)
	list := items.Array()
	if len(list) == 0 {
		sb.WriteString("  None\n")
		return
	}
	for i, item := range list {
		fmt.Fprintf(sb, "  %d. %s\n", i+1, item.String())
	}
}
