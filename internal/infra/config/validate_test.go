package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad addr", func(c *Config) { c.Server.Addr = "nope" }, "server.addr"},
		{"zero rps", func(c *Config) { c.Server.RateLimit.RequestsPerSecond = 0 }, "requests_per_second"},
		{"rate limit off ignores rps", func(c *Config) {
			c.Server.RateLimit.Enabled = false
			c.Server.RateLimit.RequestsPerSecond = 0
		}, ""},
		{"zero concurrency", func(c *Config) { c.Dispatch.MaxConcurrentTools = 0 }, "max_concurrent_tools"},
		{"bad reap schedule", func(c *Config) { c.Dispatch.ReapSchedule = "every tuesday" }, "reap_schedule"},
		{"no reap when ttl off", func(c *Config) {
			c.Dispatch.SessionTTL = 0
			c.Dispatch.ReapSchedule = ""
		}, ""},
		{"cron reload", func(c *Config) { c.Registry.ReloadSchedule = "*/5 * * * *" }, ""},
		{"duration reload", func(c *Config) { c.Registry.ReloadSchedule = "90s" }, ""},
		{"disabled tools", func(c *Config) { c.Registry.Disabled = []string{"database"} }, ""},
		{"blank disabled name", func(c *Config) { c.Registry.Disabled = []string{" "} }, "registry.disabled[0]"},
		{"negative reload", func(c *Config) { c.Registry.ReloadSchedule = "-1m" }, "duration must be > 0"},
		{"bad search backend", func(c *Config) { c.Tools.WebSearch.Backend = "bing" }, "web_search.backend"},
		{"searxng without url", func(c *Config) {
			c.Tools.WebSearch.Backend = "searxng"
			c.Tools.WebSearch.SearXNGURL = ""
		}, "searxng_url"},
		{"disabled tool skips checks", func(c *Config) {
			c.Tools.CodeExecution.Enabled = false
			c.Tools.CodeExecution.Backend = "docker"
		}, ""},
		{"bad code backend", func(c *Config) { c.Tools.CodeExecution.Backend = "docker" }, "code_execution.backend"},
		{"no fs roots", func(c *Config) { c.Tools.Filesystem.Roots = nil }, "filesystem.roots"},
		{"mcp bad transport", func(c *Config) {
			c.MCP.Servers = []MCPServer{{Name: "x", Transport: "smoke"}}
		}, "transport"},
		{"mcp stdio without command", func(c *Config) {
			c.MCP.Servers = []MCPServer{{Name: "x", Transport: "stdio"}}
		}, "command is required"},
		{"mcp duplicate name", func(c *Config) {
			c.MCP.Servers = []MCPServer{
				{Name: "x", Transport: "http", URL: "http://a"},
				{Name: "x", Transport: "http", URL: "http://b"},
			}
		}, "duplicated"},
		{"mcp bad name", func(c *Config) {
			c.MCP.Servers = []MCPServer{{Name: "a b", Transport: "http", URL: "http://a"}}
		}, "must match"},
		{"bedrock without model", func(c *Config) {
			c.Synthesizer.Provider = "bedrock"
			c.Synthesizer.Region = "us-east-1"
		}, "synthesizer.model"},
		{"bad log level", func(c *Config) { c.Logger.Level = "loud" }, "logger.level"},
		{"bad exporter", func(c *Config) { c.Tracer.Exporter = "jaeger" }, "tracer.exporter"},
		{"bad metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("want *ValidationError, got %v", err)
			}
			if !strings.Contains(ve.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", ve.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidationErrorAccumulates(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Addr = ""
	cfg.Dispatch.Timeout = 0
	cfg.Logger.Format = "xml"

	err := Validate(cfg)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want *ValidationError, got %v", err)
	}
	if len(ve.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(ve.Errors), ve.Errors)
	}
}
