package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// NewMCPServer creates a configured MCP server with all console tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("masumiguard", Version)
	client := NewConsoleClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolAnalyzeTransaction, h.HandleAnalyzeTransaction)
	s.AddTool(ToolGetAnalysis, h.HandleGetAnalysis)
	s.AddTool(ToolListWallets, h.HandleListWallets)
	s.AddTool(ToolConnectWallet, h.HandleConnectWallet)
	s.AddTool(ToolSubmitAttestation, h.HandleSubmitAttestation)
	s.AddTool(ToolListAttestations, h.HandleListAttestations)
	s.AddTool(ToolGetProgress, h.HandleGetProgress)

	return s
}
