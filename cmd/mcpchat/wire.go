package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"mcpchat/internal/adapter/httpapi"
	"mcpchat/internal/adapter/mcpserver"
	"mcpchat/internal/adapter/synth"
	"mcpchat/internal/adapter/tool"
	"mcpchat/internal/domain"
	"mcpchat/internal/infra/config"
	"mcpchat/internal/infra/metrics"
	"mcpchat/internal/security"
	"mcpchat/internal/usecase"
	"mcpchat/internal/usecase/scheduling"
)

// app holds the wired core shared by the HTTP and stdio entry points.
type app struct {
	builtins    []domain.Tool
	bridge      *tool.MCPBridge // nil when no MCP servers are configured
	registry    *tool.Registry
	synth       domain.Synthesizer
	sessions    *usecase.SessionStore
	selections  *usecase.SelectionStore
	coordinator *usecase.Coordinator
	metrics     *metrics.Metrics
	mcp         *mcpserver.Server
	audit       *security.FileAuditLogger // nil when auditing is off
}

func (a *app) close() {
	if a.bridge != nil {
		a.bridge.Close()
	}
	if a.audit != nil {
		a.audit.Close()
	}
}

// tools returns the built-in tools followed by the bridged MCP tools.
func (a *app) tools() []domain.Tool {
	out := append([]domain.Tool(nil), a.builtins...)
	if a.bridge != nil {
		out = append(out, a.bridge.Tools()...)
	}
	return out
}

// reloadRegistry re-discovers bridged tools and rebuilds the registry.
func (a *app) reloadRegistry(ctx context.Context) error {
	if a.bridge != nil {
		if err := a.bridge.Discover(ctx); err != nil {
			return err
		}
	}
	if err := a.registry.Reload(a.tools()...); err != nil {
		return err
	}
	a.mcp.Refresh()
	return nil
}

func initApp(ctx context.Context, cfg *config.Config, bus domain.EventBus, log *slog.Logger) (*app, error) {
	a := &app{selections: usecase.NewSelectionStore()}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}
	a.sessions = usecase.NewSessionStore(bus, a.metrics)

	if cfg.Audit.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Audit.Path), 0o700); err != nil {
			return nil, fmt.Errorf("audit dir: %w", err)
		}
		audit, err := security.NewFileAuditLogger(cfg.Audit.Path, cfg.Audit.MaxAge)
		if err != nil {
			return nil, fmt.Errorf("audit: %w", err)
		}
		audit.Record(bus, log)
		a.audit = audit
	}

	builtins, err := initBuiltinTools(cfg.Tools, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("tools: %w", err)
	}
	a.builtins = builtins

	if len(cfg.MCP.Servers) > 0 {
		bridge, err := tool.NewMCPBridge(ctx, cfg.MCP, log)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("mcp bridge: %w", err)
		}
		a.bridge = bridge
	}

	a.registry = tool.NewRegistry(log,
		tool.WithEventBus(bus),
		tool.WithMetrics(a.metrics),
		tool.WithDisabled(cfg.Registry.Disabled...),
	)
	if err := a.registry.Reload(a.tools()...); err != nil {
		a.close()
		return nil, fmt.Errorf("registry: %w", err)
	}

	a.synth, err = initSynthesizer(ctx, cfg.Synthesizer, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("synthesizer: %w", err)
	}

	a.coordinator = usecase.NewCoordinator(usecase.CoordinatorDeps{
		Sessions:              a.sessions,
		Tools:                 a.registry,
		Synth:                 a.synth,
		Logger:                log,
		Bus:                   bus,
		Metrics:               a.metrics,
		Timeout:               cfg.Dispatch.Timeout,
		FallbackOnToolFailure: cfg.Dispatch.FallbackOnToolFailure,
		MaxConcurrentTools:    cfg.Dispatch.MaxConcurrentTools,
	})

	a.mcp = mcpserver.New(cfg.MCP.Serve.Name, cfg.MCP.Serve.Version, a.registry, log)
	return a, nil
}

func initBuiltinTools(cfg config.ToolsConfig, log *slog.Logger) ([]domain.Tool, error) {
	var tools []domain.Tool

	if cfg.Filesystem.Enabled {
		sandbox, err := security.NewSandbox(cfg.Filesystem.Roots...)
		if err != nil {
			return nil, fmt.Errorf("filesystem sandbox: %w", err)
		}
		tools = append(tools, tool.NewFilesystemTool(tool.NewLocalFilesystemBackend(), sandbox, cfg.Filesystem.MaxReadSize, log))
	}

	if cfg.WebSearch.Enabled {
		var backend tool.SearchBackend = tool.SimulatedSearchBackend{}
		if cfg.WebSearch.Backend == "searxng" {
			b, err := tool.NewSearXNGBackend(cfg.WebSearch.SearXNGURL, cfg.WebSearch.Timeout, log)
			if err != nil {
				return nil, fmt.Errorf("web search: %w", err)
			}
			backend = b
		}
		tools = append(tools, tool.NewWebSearchTool(backend, cfg.WebSearch.MaxResults, log))
	}

	if cfg.CodeExecution.Enabled {
		var backend tool.CodeBackend = tool.SimulatedCodeBackend{}
		if cfg.CodeExecution.Backend == "local" {
			workDir := filepath.Join(os.TempDir(), "mcpchat-code")
			if err := os.MkdirAll(workDir, 0o700); err != nil {
				return nil, fmt.Errorf("code execution workdir: %w", err)
			}
			backend = tool.NewLocalCodeBackend(cfg.CodeExecution.Languages, workDir, cfg.CodeExecution.Timeout, cfg.CodeExecution.MaxOutput)
		}
		tools = append(tools, tool.NewCodeExecutionTool(backend, log))
	}

	if cfg.Database.Enabled {
		db, err := tool.NewDatabaseTool(cfg.Database.DataDir, cfg.Database.Timeout, cfg.Database.MaxRows, log)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		tools = append(tools, db)
	}

	return tools, nil
}

func initSynthesizer(ctx context.Context, cfg config.SynthesizerConfig, log *slog.Logger) (domain.Synthesizer, error) {
	var s domain.Synthesizer
	switch cfg.Provider {
	case "", "template":
		return synth.NewTemplate(), nil
	case "bedrock":
		b, err := createBedrockSynthesizer(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		s = b
	default:
		return nil, fmt.Errorf("unknown synthesizer provider %q", cfg.Provider)
	}
	if cfg.CircuitBreaker.Enabled {
		s = synth.NewBreaker(s, cfg.CircuitBreaker, log)
	}
	return s, nil
}

func initScheduler(cfg *config.Config, a *app, log *slog.Logger) (*scheduling.Scheduler, error) {
	sched := scheduling.New(log)

	if cfg.Dispatch.SessionTTL > 0 && cfg.Dispatch.ReapSchedule != "" {
		ttl := cfg.Dispatch.SessionTTL
		sched.Handle(scheduling.ActionSessionReap, func(context.Context) error {
			reaped := a.sessions.ReapIdle(ttl)
			for _, id := range reaped {
				a.selections.Drop(id)
			}
			if len(reaped) > 0 {
				log.Info("idle sessions reaped", "count", len(reaped))
			}
			return nil
		})
		if err := sched.Add(scheduling.Job{
			Name:     "session-reaper",
			Schedule: cfg.Dispatch.ReapSchedule,
			Action:   scheduling.ActionSessionReap,
		}); err != nil {
			return nil, err
		}
	}

	if cfg.Registry.ReloadSchedule != "" {
		sched.Handle(scheduling.ActionRegistryReload, a.reloadRegistry)
		if err := sched.Add(scheduling.Job{
			Name:     "registry-reload",
			Schedule: cfg.Registry.ReloadSchedule,
			Action:   scheduling.ActionRegistryReload,
		}); err != nil {
			return nil, err
		}
	}

	if a.audit != nil && cfg.Audit.MaxAge > 0 {
		sched.Handle(scheduling.ActionAuditRetention, func(ctx context.Context) error {
			removed, err := a.audit.EnforceRetention(ctx)
			if removed > 0 {
				log.Info("audit entries expired", "count", removed)
			}
			return err
		})
		if err := sched.Add(scheduling.Job{
			Name:     "audit-retention",
			Schedule: cfg.Audit.RetentionSchedule,
			Action:   scheduling.ActionAuditRetention,
		}); err != nil {
			return nil, err
		}
	}

	return sched, nil
}

func initHTTP(cfg *config.Config, a *app, bus domain.EventBus, log *slog.Logger) *httpapi.Server {
	deps := httpapi.Deps{
		Config:      cfg.Server,
		Dispatcher:  a.coordinator,
		Sessions:    a.sessions,
		Selections:  a.selections,
		Registry:    a.registry,
		Bus:         bus,
		Metrics:     a.metrics,
		MetricsPath: cfg.Metrics.Path,
		RecentLimit: cfg.Dispatch.RecentLimit,
		Logger:      log,
	}
	if cfg.MCP.Serve.HTTPEnabled {
		deps.MCP = a.mcp.HTTPHandler(cfg.MCP.Serve.Path)
		deps.MCPPath = cfg.MCP.Serve.Path
	}
	return httpapi.New(deps)
}
