// MasumiGuard MCP Server - Exposes the compliance console as MCP tools for LLMs
package main

import (
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/masumiguard/internal/logging"
	"github.com/mbd888/masumiguard/internal/mcpserver"
)

func main() {
	// stdout carries the MCP protocol; logs go to stderr.
	logger := logging.NewWithWriter(os.Stderr, envOrDefault("LOG_LEVEL", "info"), "text")

	cfg := mcpserver.Config{
		APIURL: envOrDefault("MASUMIGUARD_API_URL", "http://localhost:8080"),
	}
	if v := os.Getenv("MASUMIGUARD_API_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			logger.Error("invalid MASUMIGUARD_API_TIMEOUT", "value", v, "error", err)
			os.Exit(1)
		}
		cfg.Timeout = d
	}

	logger.Info("starting masumiguard mcp server", "api_url", cfg.APIURL, "version", mcpserver.Version)

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		logger.Error("MCP server error", "error", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
