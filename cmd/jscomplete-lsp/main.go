package main

import (
	"errors"
	"io"
	stlog "log"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/shehackedyou/jscomplete"
)

// App version (set via linker flags -ldflags="-X main.appVersion=...")
var appVersion = "dev"

func main() {
	var (
		logLevelFlag string
		logPath      string
	)
	root := &cobra.Command{
		Use:          "jscomplete-lsp",
		Short:        "JavaScript content-assist language server (stdio)",
		Version:      appVersion,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(logLevelFlag, logPath)
		},
	}
	root.Flags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error) - overrides config")
	root.Flags().StringVar(&logPath, "log-file", "jscomplete-lsp.log", "File receiving a copy of the server log")
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(logLevelFlag, logPath string) error {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660)
	if err != nil {
		stlog.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()
	logWriter := io.MultiWriter(os.Stderr, logFile)

	tempLogger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: slog.LevelInfo}))

	engine, initErr := jscomplete.NewEngine(tempLogger)
	if initErr != nil {
		tempLogger.Error("Failed to initialize jscomplete engine", "error", initErr)
		if !errors.Is(initErr, jscomplete.ErrConfig) || engine == nil {
			return initErr
		}
	}
	defer func() {
		slog.Info("Closing jscomplete engine...")
		if err := engine.Close(); err != nil {
			slog.Error("Error closing engine", "error", err)
		}
	}()

	initialConfig := engine.GetCurrentConfig()
	levelStr := initialConfig.LogLevel
	if logLevelFlag != "" {
		levelStr = logLevelFlag
	}
	logLevel, parseLevelErr := jscomplete.ParseLogLevel(levelStr)
	if parseLevelErr != nil {
		logLevel = slog.LevelInfo
		tempLogger.Warn("Invalid log level, using default 'info'", "level", levelStr, "error", parseLevelErr)
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: logLevel, AddSource: true}))
	slog.SetDefault(logger)

	slog.Info("jscomplete LSP server starting...", "version", appVersion, "log_level", logLevel.String())
	if initErr != nil {
		slog.Warn("Engine initialized with configuration warnings", "error", initErr)
	}

	if initialConfig.DebugListenAddr != "" {
		runtime.SetBlockProfileRate(1)
		runtime.SetMutexProfileFraction(1)
		startDebugServer(initialConfig.DebugListenAddr)
	}

	lspServer := jscomplete.NewServer(engine, logger, appVersion)
	lspServer.Run(os.Stdin, os.Stdout)

	slog.Info("LSP server has shut down gracefully.")
	return nil
}

// startDebugServer serves pprof and Prometheus metrics on addr.
func startDebugServer(addr string) {
	go func() {
		slog.Info("Starting debug server for pprof/metrics", "addr", addr)
		debugMux := http.NewServeMux()
		debugMux.Handle("/debug/pprof/", http.DefaultServeMux)
		debugMux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, debugMux); err != nil {
			slog.Error("Debug server failed", "error", err)
		}
	}()
}
