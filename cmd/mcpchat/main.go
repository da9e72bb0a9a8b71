package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"mcpchat/internal/infra/config"
	"mcpchat/internal/infra/logger"
	"mcpchat/internal/infra/tracer"
	"mcpchat/internal/usecase/eventbus"
)

func main() {
	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		showUsage()
	case "run":
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	case "mcp-serve":
		if err := runMCPServe(); err != nil {
			fmt.Fprintf(os.Stderr, "mcp-serve: %v\n", err)
			os.Exit(1)
		}
	case "encrypt":
		if err := runEncrypt(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'mcpchat --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`mcpchat - chat server with MCP tool dispatch

USAGE:
    mcpchat [COMMAND] [FLAGS]

COMMANDS:
    run         Serve the HTTP API (default)
    mcp-serve   Serve the tool registry as an MCP server on stdio
    encrypt     Encrypt a secret for use as an "enc:" config value
                (passphrase read from MCPCHAT_CONFIG_KEY)

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: MCPCHAT_* variables override config`)
}

// configPath returns --config PATH, MCPCHAT_CONFIG or ./config.yaml.
func configPath() string {
	for i := 1; i < len(os.Args); i++ {
		switch {
		case os.Args[i] == "--config" && i+1 < len(os.Args):
			return os.Args[i+1]
		case strings.HasPrefix(os.Args[i], "--config="):
			return strings.TrimPrefix(os.Args[i], "--config=")
		}
	}
	if p := os.Getenv("MCPCHAT_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// loadConfig reads an optional .env into the environment, then the config
// file with MCPCHAT_* overrides applied.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load(".env")
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func run() error {
	// 1. Config
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 3. Event bus
	bus := eventbus.New(log)
	defer bus.Close()

	// 4. Tools, synthesizer, coordinator
	app, err := initApp(ctx, cfg, bus, log)
	if err != nil {
		return err
	}
	defer app.close()

	// 5. Housekeeping
	sched, err := initScheduler(cfg, app, log)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	sched.Start(ctx)
	defer sched.Stop()

	// 6. HTTP API
	srv := initHTTP(cfg, app, bus, log)
	log.Info("mcpchat starting",
		"addr", cfg.Server.Addr,
		"tools", app.registry.Len(),
		"synthesizer", app.synth.Name(),
	)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// runMCPServe publishes the registry over stdio. Logs go to the configured
// output, which must not be stdout.
func runMCPServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Logger.Output == "stdout" {
		cfg.Logger.Output = "stderr"
	}
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := eventbus.New(log)
	defer bus.Close()

	app, err := initApp(ctx, cfg, bus, log)
	if err != nil {
		return err
	}
	defer app.close()

	log.Info("mcp stdio server starting", "tools", app.registry.Len())
	err = app.mcp.ServeStdio(ctx, os.Stdin, os.Stdout)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func runEncrypt(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: mcpchat encrypt VALUE")
	}
	passphrase := os.Getenv("MCPCHAT_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("MCPCHAT_CONFIG_KEY is not set")
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Printf("enc:%s\n", enc)
	return nil
}
