package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateDispatch(cfg, ve)
	validateTools(cfg, ve)
	validateRegistry(cfg, ve)
	validateMCP(cfg, ve)
	validateSynthesizer(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateMetrics(cfg, ve)
	validateAudit(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	s := cfg.Server
	if s.Addr == "" {
		ve.Add("server.addr is required")
	} else if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		ve.Add("server.addr %q is not a valid host:port", s.Addr)
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 {
		ve.Add("server timeouts must be >= 0")
	}
	if s.MaxBodyBytes <= 0 {
		ve.Add("server.max_body_bytes must be > 0")
	}
	if s.RateLimit.Enabled {
		if s.RateLimit.RequestsPerSecond <= 0 {
			ve.Add("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.Burst <= 0 {
			ve.Add("server.rate_limit.burst must be > 0 when rate limiting is enabled")
		}
	}
}

func validateDispatch(cfg *Config, ve *ValidationError) {
	d := cfg.Dispatch
	if d.Timeout <= 0 {
		ve.Add("dispatch.timeout must be > 0")
	}
	if d.MaxConcurrentTools <= 0 {
		ve.Add("dispatch.max_concurrent_tools must be > 0")
	}
	if d.SessionTTL < 0 {
		ve.Add("dispatch.session_ttl must be >= 0")
	}
	if d.SessionTTL > 0 {
		validateSchedule("dispatch.reap_schedule", d.ReapSchedule, ve)
	}
	if d.RecentLimit <= 0 {
		ve.Add("dispatch.recent_limit must be > 0")
	}
}

var (
	validSearchBackends = map[string]bool{"simulated": true, "searxng": true}
	validCodeBackends   = map[string]bool{"simulated": true, "local": true}
)

func validateTools(cfg *Config, ve *ValidationError) {
	t := cfg.Tools
	if t.Filesystem.Enabled {
		if len(t.Filesystem.Roots) == 0 {
			ve.Add("tools.filesystem.roots must not be empty when the filesystem tool is enabled")
		}
		if t.Filesystem.MaxReadSize <= 0 {
			ve.Add("tools.filesystem.max_read_size must be > 0")
		}
	}
	if t.WebSearch.Enabled {
		if !validSearchBackends[t.WebSearch.Backend] {
			ve.Add("tools.web_search.backend %q is invalid (valid: simulated, searxng)", t.WebSearch.Backend)
		}
		if t.WebSearch.Backend == "searxng" && t.WebSearch.SearXNGURL == "" {
			ve.Add("tools.web_search.searxng_url is required for the searxng backend")
		}
		if t.WebSearch.MaxResults <= 0 {
			ve.Add("tools.web_search.max_results must be > 0")
		}
	}
	if t.CodeExecution.Enabled {
		if !validCodeBackends[t.CodeExecution.Backend] {
			ve.Add("tools.code_execution.backend %q is invalid (valid: simulated, local)", t.CodeExecution.Backend)
		}
		if len(t.CodeExecution.Languages) == 0 {
			ve.Add("tools.code_execution.languages must not be empty")
		}
		if t.CodeExecution.Timeout <= 0 {
			ve.Add("tools.code_execution.timeout must be > 0")
		}
	}
	if t.Database.Enabled {
		if t.Database.DataDir == "" {
			ve.Add("tools.database.data_dir is required when the database tool is enabled")
		}
		if t.Database.MaxRows <= 0 {
			ve.Add("tools.database.max_rows must be > 0")
		}
	}
}

func validateRegistry(cfg *Config, ve *ValidationError) {
	if cfg.Registry.ReloadSchedule != "" {
		validateSchedule("registry.reload_schedule", cfg.Registry.ReloadSchedule, ve)
	}
	for i, name := range cfg.Registry.Disabled {
		if strings.TrimSpace(name) == "" {
			ve.Add("registry.disabled[%d] is empty", i)
		}
	}
}

var mcpServerName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validateMCP(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool)
	for i, srv := range cfg.MCP.Servers {
		if !mcpServerName.MatchString(srv.Name) {
			ve.Add("mcp.servers[%d].name %q must match [a-zA-Z0-9_-]+", i, srv.Name)
		}
		if seen[srv.Name] {
			ve.Add("mcp.servers[%d].name %q is duplicated", i, srv.Name)
		}
		seen[srv.Name] = true
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				ve.Add("mcp.servers[%d].command is required for stdio transport", i)
			}
		case "http":
			if srv.URL == "" {
				ve.Add("mcp.servers[%d].url is required for http transport", i)
			}
		default:
			ve.Add("mcp.servers[%d].transport %q is invalid (valid: stdio, http)", i, srv.Transport)
		}
	}
	if cfg.MCP.CallTimeout <= 0 {
		ve.Add("mcp.call_timeout must be > 0")
	}
	if cfg.MCP.Serve.HTTPEnabled && !strings.HasPrefix(cfg.MCP.Serve.Path, "/") {
		ve.Add("mcp.serve.path %q must start with /", cfg.MCP.Serve.Path)
	}
}

func validateSynthesizer(cfg *Config, ve *ValidationError) {
	s := cfg.Synthesizer
	switch s.Provider {
	case "template":
	case "bedrock":
		if s.Model == "" {
			ve.Add("synthesizer.model is required for the bedrock provider")
		}
		if s.Region == "" {
			ve.Add("synthesizer.region is required for the bedrock provider")
		}
	default:
		ve.Add("synthesizer.provider %q is invalid (valid: template, bedrock)", s.Provider)
	}
	if s.CircuitBreaker.Enabled && s.CircuitBreaker.MaxFailures == 0 {
		ve.Add("synthesizer.circuit_breaker.max_failures must be > 0 when enabled")
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
)

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (valid: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q is invalid (valid: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (valid: noop, stdout)", cfg.Tracer.Exporter)
	}
}

func validateMetrics(cfg *Config, ve *ValidationError) {
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		ve.Add("metrics.path %q must start with /", cfg.Metrics.Path)
	}
}

func validateAudit(cfg *Config, ve *ValidationError) {
	if !cfg.Audit.Enabled {
		return
	}
	if cfg.Audit.Path == "" {
		ve.Add("audit.path is required when audit is enabled")
	}
	if cfg.Audit.MaxAge < 0 {
		ve.Add("audit.max_age must be >= 0")
	}
	if cfg.Audit.MaxAge > 0 {
		validateSchedule("audit.retention_schedule", cfg.Audit.RetentionSchedule, ve)
	}
}

// validateSchedule accepts a cron expression, a descriptor such as
// "@every 5m", or a plain Go duration.
func validateSchedule(field, spec string, ve *ValidationError) {
	if spec == "" {
		ve.Add("%s is required", field)
		return
	}
	if d, err := time.ParseDuration(spec); err == nil {
		if d <= 0 {
			ve.Add("%s %q: duration must be > 0", field, spec)
		}
		return
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		ve.Add("%s %q: %v", field, spec, err)
	}
}
