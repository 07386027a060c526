package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"shodhcode/internal/cli/config"
	httpclient "shodhcode/internal/cli/http"
	"shodhcode/internal/cli/repl"
	"shodhcode/internal/cli/state"
	"shodhcode/pkg/utils/logger"

	"github.com/spf13/pflag"
	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"
	"golang.org/x/term"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		baseURL    string
		timeout    time.Duration
		statePath  string
		logLevel   string
		noColor    bool
	)
	flagSet := pflag.NewFlagSet("shodh", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	flagSet.StringVar(&baseURL, "base", "", "override backend base URL")
	flagSet.DurationVar(&timeout, "timeout", 0, "override HTTP timeout (e.g. 10s)")
	flagSet.StringVar(&statePath, "state", "", "override participation state path")
	flagSet.StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	flagSet.BoolVar(&noColor, "no-color", false, "disable colored output")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	if statePath != "" {
		cfg.StatePath = statePath
	}
	if logLevel != "" {
		cfg.Logger.Level = logLevel
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
	if noColor || !interactive {
		off := false
		cfg.Color = &off
	}

	if err := logger.Init(cfg.Logger); err != nil {
		return fmt.Errorf("init logger failed: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	participation, err := state.Load(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("load participation state failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := httpclient.New(cfg.BaseURL, cfg.Timeout)
	if !interactive {
		session := repl.New(cfg, client, participation, repl.NewScanner(os.Stdin), os.Stdout)
		return session.Run(ctx)
	}

	// readline handles Ctrl-C itself while reading; the signal context only
	// ends the session on SIGTERM or a signal outside a read.
	rl, err := repl.NewTerminal("shodh> ", filepath.Join(filepath.Dir(cfg.StatePath), "cli_history"))
	if err != nil {
		return err
	}
	threading.GoSafe(func() {
		<-ctx.Done()
		_ = rl.Close()
	})
	logger.Debug(ctx, "session started", zap.String("base_url", cfg.BaseURL), zap.Bool("resume", participation.Joined()))
	session := repl.New(cfg, client, participation, rl, rl.Stdout())
	return session.Run(ctx)
}
