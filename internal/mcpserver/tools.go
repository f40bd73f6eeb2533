package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the MasumiGuard MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAnalyzeTransaction = mcp.NewTool("analyze_transaction",
	mcp.WithDescription(
		"Run an AI compliance analysis of a Cardano transaction. "+
			"Returns a compliance score from 0 to 100, a risk level (Low, Medium or High), "+
			"the risk factors found and recommendations. Only one analysis runs at a time."),
	mcp.WithString("tx_hash",
		mcp.Required(),
		mcp.Description("Transaction hash to analyze")),
	mcp.WithString("wallet_address",
		mcp.Required(),
		mcp.Description("Wallet address involved in the transaction (e.g. 'addr1...')")),
)

var ToolGetAnalysis = mcp.NewTool("get_analysis",
	mcp.WithDescription(
		"Show the state of the compliance console: whether an analysis is running, "+
			"its current phase, and the latest result or error. "+
			"Set summary to get the plain-text compliance report for the latest result."),
	mcp.WithBoolean("summary",
		mcp.Description("Return the plain-text compliance report instead of the state")),
)

var ToolListWallets = mcp.NewTool("list_wallets",
	mcp.WithDescription(
		"List the Cardano wallets available on this host and the one currently connected, if any."),
	mcp.WithBoolean("refresh",
		mcp.Description("Re-run wallet discovery before listing")),
)

var ToolConnectWallet = mcp.NewTool("connect_wallet",
	mcp.WithDescription(
		"Connect a Cardano wallet. The wallet must be listed by list_wallets. "+
			"A connected wallet is required before submitting an attestation."),
	mcp.WithString("wallet",
		mcp.Required(),
		mcp.Description("Wallet key, e.g. 'nami' or 'eternl'")),
)

var ToolSubmitAttestation = mcp.NewTool("submit_attestation",
	mcp.WithDescription(
		"Store the latest compliance result on-chain, signed by the connected wallet. "+
			"Each analysis can be attested once. Returns the transaction id."),
)

var ToolListAttestations = mcp.NewTool("list_attestations",
	mcp.WithDescription(
		"List stored compliance attestations, newest first."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of attestations to return (default 50)")),
)

var ToolGetProgress = mcp.NewTool("get_progress",
	mcp.WithDescription(
		"Show the analysis count, the current success streak and which achievements are unlocked."),
)
