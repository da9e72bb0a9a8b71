package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Tools       ToolsConfig       `yaml:"tools"`
	Registry    RegistryConfig    `yaml:"registry"`
	MCP         MCPConfig         `yaml:"mcp"`
	Synthesizer SynthesizerConfig `yaml:"synthesizer"`
	Logger      LoggerConfig      `yaml:"logger"`
	Tracer      TracerConfig      `yaml:"tracer"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Audit       AuditConfig       `yaml:"audit"`
	Includes    []string          `yaml:"includes,omitempty"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr           string          `yaml:"addr"`
	ReadTimeout    time.Duration   `yaml:"read_timeout"`
	WriteTimeout   time.Duration   `yaml:"write_timeout"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	MaxBodyBytes   int64           `yaml:"max_body_bytes"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	WebSocket      bool            `yaml:"websocket"`
}

// RateLimitConfig configures the per-client token bucket applied to /api.
type RateLimitConfig struct {
	Enabled           bool     `yaml:"enabled"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
	TrustedProxies    []string `yaml:"trusted_proxies,omitempty"`
}

// DispatchConfig tunes the dispatch coordinator.
type DispatchConfig struct {
	Timeout               time.Duration `yaml:"timeout"`
	FallbackOnToolFailure bool          `yaml:"fallback_on_tool_failure"`
	MaxConcurrentTools    int           `yaml:"max_concurrent_tools"`
	SessionTTL            time.Duration `yaml:"session_ttl"` // 0 = never reap
	ReapSchedule          string        `yaml:"reap_schedule"`
	RecentLimit           int           `yaml:"recent_limit"`
}

// ToolsConfig holds settings for the built-in tools.
type ToolsConfig struct {
	Filesystem    FilesystemToolConfig    `yaml:"filesystem"`
	WebSearch     WebSearchToolConfig     `yaml:"web_search"`
	CodeExecution CodeExecutionToolConfig `yaml:"code_execution"`
	Database      DatabaseToolConfig      `yaml:"database"`
}

// FilesystemToolConfig configures the sandboxed filesystem tool.
type FilesystemToolConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Roots       []string `yaml:"roots"`
	MaxReadSize int64    `yaml:"max_read_size"`
}

// WebSearchToolConfig configures the web search tool.
type WebSearchToolConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Backend    string        `yaml:"backend"` // "simulated" or "searxng"
	SearXNGURL string        `yaml:"searxng_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxResults int           `yaml:"max_results"`
}

// CodeExecutionToolConfig configures the code execution tool.
type CodeExecutionToolConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Backend   string        `yaml:"backend"` // "simulated" or "local"
	Languages []string      `yaml:"languages"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxOutput int           `yaml:"max_output"`
}

// DatabaseToolConfig configures the SQLite-backed database tool.
type DatabaseToolConfig struct {
	Enabled bool          `yaml:"enabled"`
	DataDir string        `yaml:"data_dir"`
	Timeout time.Duration `yaml:"timeout"`
	MaxRows int           `yaml:"max_rows"`
}

// RegistryConfig controls periodic registry rebuilds.
type RegistryConfig struct {
	ReloadSchedule string   `yaml:"reload_schedule"` // cron expression or duration, "" = off
	Disabled       []string `yaml:"disabled,omitempty"`
}

// MCPConfig holds MCP client and server settings.
type MCPConfig struct {
	Servers     []MCPServer    `yaml:"servers"`
	CallTimeout time.Duration  `yaml:"call_timeout"`
	Serve       MCPServeConfig `yaml:"serve"`
}

// MCPServer configures a remote MCP server whose tools are bridged into the registry.
type MCPServer struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "stdio" or "http"
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
}

// MCPServeConfig controls publishing the registry as an MCP server.
type MCPServeConfig struct {
	HTTPEnabled bool   `yaml:"http_enabled"`
	Path        string `yaml:"path"`
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
}

// SynthesizerConfig selects and tunes the reply synthesizer.
type SynthesizerConfig struct {
	Provider       string               `yaml:"provider"` // "template" or "bedrock"
	Region         string               `yaml:"region,omitempty"`
	Model          string               `yaml:"model,omitempty"`
	MaxTokens      int                  `yaml:"max_tokens,omitempty"`
	SystemPrompt   string               `yaml:"system_prompt,omitempty"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for the synthesizer.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AuditConfig controls the JSONL audit trail of tool calls and session
// lifecycle events.
type AuditConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Path              string        `yaml:"path"`
	MaxAge            time.Duration `yaml:"max_age"` // 0 = keep forever
	RetentionSchedule string        `yaml:"retention_schedule"`
}

// defaultDataDir returns the persistent data directory under $HOME/.mcpchat/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".mcpchat", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   60 * time.Second,
			AllowedOrigins: []string{"http://localhost:3000"},
			MaxBodyBytes:   1 << 20,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 10,
				Burst:             20,
			},
			WebSocket: true,
		},
		Dispatch: DispatchConfig{
			Timeout:            30 * time.Second,
			MaxConcurrentTools: 4,
			SessionTTL:         24 * time.Hour,
			ReapSchedule:       "@every 10m",
			RecentLimit:        10,
		},
		Tools: ToolsConfig{
			Filesystem: FilesystemToolConfig{
				Enabled:     true,
				Roots:       []string{".", os.TempDir()},
				MaxReadSize: 1 << 20,
			},
			WebSearch: WebSearchToolConfig{
				Enabled:    true,
				Backend:    "simulated",
				SearXNGURL: "http://localhost:6060",
				Timeout:    10 * time.Second,
				MaxResults: 5,
			},
			CodeExecution: CodeExecutionToolConfig{
				Enabled:   true,
				Backend:   "simulated",
				Languages: []string{"python", "javascript", "bash"},
				Timeout:   10 * time.Second,
				MaxOutput: 64 * 1024,
			},
			Database: DatabaseToolConfig{
				Enabled: true,
				DataDir: filepath.Join(dataDir, "db"),
				Timeout: 10 * time.Second,
				MaxRows: 100,
			},
		},
		MCP: MCPConfig{
			CallTimeout: 30 * time.Second,
			Serve: MCPServeConfig{
				HTTPEnabled: false,
				Path:        "/mcp",
				Name:        "mcpchat",
				Version:     "1.0.0",
			},
		},
		Synthesizer: SynthesizerConfig{
			Provider:  "template",
			MaxTokens: 1024,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Audit: AuditConfig{
			Enabled:           false,
			Path:              filepath.Join(dataDir, "audit.jsonl"),
			MaxAge:            30 * 24 * time.Hour,
			RetentionSchedule: "@daily",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}
		// The main file wins over anything it includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("MCPCHAT_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps MCPCHAT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MCPCHAT_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("MCPCHAT_SERVER_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitAndTrim(v, ",")
	}
	if v := os.Getenv("MCPCHAT_RATE_LIMIT_ENABLED"); v != "" {
		cfg.Server.RateLimit.Enabled = v == "true"
	}
	if v := os.Getenv("MCPCHAT_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Server.RateLimit.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("MCPCHAT_DISPATCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dispatch.Timeout = d
		}
	}
	if v := os.Getenv("MCPCHAT_DISPATCH_FALLBACK"); v != "" {
		cfg.Dispatch.FallbackOnToolFailure = v == "true"
	}
	if v := os.Getenv("MCPCHAT_DISPATCH_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dispatch.SessionTTL = d
		}
	}
	if v := os.Getenv("MCPCHAT_TOOLS_FS_ROOTS"); v != "" {
		cfg.Tools.Filesystem.Roots = splitAndTrim(v, string(os.PathListSeparator))
	}
	if v := os.Getenv("MCPCHAT_TOOLS_SEARCH_BACKEND"); v != "" {
		cfg.Tools.WebSearch.Backend = v
	}
	if v := os.Getenv("MCPCHAT_TOOLS_SEARXNG_URL"); v != "" {
		cfg.Tools.WebSearch.SearXNGURL = v
	}
	if v := os.Getenv("MCPCHAT_TOOLS_CODE_BACKEND"); v != "" {
		cfg.Tools.CodeExecution.Backend = v
	}
	if v := os.Getenv("MCPCHAT_TOOLS_DB_DATA_DIR"); v != "" {
		cfg.Tools.Database.DataDir = v
	}
	if v := os.Getenv("MCPCHAT_REGISTRY_RELOAD_SCHEDULE"); v != "" {
		cfg.Registry.ReloadSchedule = v
	}
	if v := os.Getenv("MCPCHAT_MCP_SERVE_HTTP"); v != "" {
		cfg.MCP.Serve.HTTPEnabled = v == "true"
	}
	if v := os.Getenv("MCPCHAT_SYNTH_PROVIDER"); v != "" {
		cfg.Synthesizer.Provider = v
	}
	if v := os.Getenv("MCPCHAT_SYNTH_REGION"); v != "" {
		cfg.Synthesizer.Region = v
	}
	if v := os.Getenv("MCPCHAT_SYNTH_MODEL"); v != "" {
		cfg.Synthesizer.Model = v
	}
	if v := os.Getenv("MCPCHAT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("MCPCHAT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("MCPCHAT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("MCPCHAT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("MCPCHAT_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true"
	}
	if v := os.Getenv("MCPCHAT_AUDIT_ENABLED"); v != "" {
		cfg.Audit.Enabled = v == "true"
	}
	if v := os.Getenv("MCPCHAT_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
}

// splitAndTrim splits s by sep, trims whitespace and drops empty elements.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets finds "enc:..." values in MCP server env and header maps and
// decrypts them in place.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.MCP.Servers {
		srv := &cfg.MCP.Servers[i]
		for _, m := range []map[string]string{srv.Env, srv.Headers} {
			for k, v := range m {
				if !strings.HasPrefix(v, "enc:") {
					continue
				}
				decrypted, err := DecryptValue(strings.TrimPrefix(v, "enc:"), passphrase)
				if err != nil {
					return fmt.Errorf("mcp server %s %s: %w", srv.Name, k, err)
				}
				m[k] = decrypted
			}
		}
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	// Argon2id, 64 MiB, 4 lanes.
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if info.Mode().Perm()&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, info.Mode().Perm())
	}
	return nil
}
