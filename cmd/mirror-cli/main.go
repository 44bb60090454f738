package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/archivore/mirror/internal/config"
	"github.com/archivore/mirror/internal/logging"
	"github.com/archivore/mirror/internal/orchestrator"
	"github.com/archivore/mirror/internal/runid"
	"github.com/archivore/mirror/internal/telemetry"
)

func main() {
	configPath := flag.String("c", "mirror.yaml", "path to run configuration file")
	seedsFlag := flag.String("seeds", "", "comma-separated seed URLs, or a path to a file with one URL per line")
	outDir := flag.String("out", "", "run directory to write into")
	discoverOnly := flag.Bool("discover", false, "run discovery and write seeds.txt, skipping capture")
	stopDir := flag.String("stop", "", "drop a STOP sentinel in the given run directory and exit")
	flag.Parse()

	if *stopDir != "" {
		if err := requestStopByFile(*stopDir); err != nil {
			fmt.Fprintln(os.Stderr, "requesting stop:", err)
			os.Exit(1)
		}
		return
	}

	initialLogger, err := logging.NewDefaultLogger()
	if err != nil {
		panic(err)
	}

	absConfigPath, err := config.GetConfigPath(*configPath)
	if err != nil {
		initialLogger.Fatal("invalid config path", zap.Error(err))
	}

	mgr, err := config.NewManager(absConfigPath)
	if err != nil {
		initialLogger.Fatal("failed to load configuration", zap.Error(err))
	}
	cfg := mgr.GetConfig()

	dynamicLogger, err := logging.NewLoggerWithStartupOverride(cfg.Log)
	if err != nil {
		initialLogger.Fatal("failed to create configured logger", zap.Error(err))
	}
	logger := dynamicLogger.Logger

	seeds, err := resolveSeeds(*seedsFlag)
	if err != nil {
		logger.Fatal("failed to resolve seeds", zap.Error(err))
	}
	if len(seeds) == 0 {
		logger.Fatal("no seed URLs given; pass -seeds")
	}

	if *outDir == "" {
		hostname, _ := os.Hostname()
		*outDir = filepath.Join("runs", runid.New(hostname, time.Now()))
	}

	metricsCollector := telemetry.NewCollector(cfg.Metrics.Namespace, logger)
	metricsServer, err := telemetry.StartServer(cfg.Metrics.Enabled, cfg.Metrics.Listen, cfg.Metrics.Path, metricsCollector, logger)
	if err != nil {
		logger.Fatal("failed to start metrics server", zap.Error(err))
	}

	gate := &orchestrator.JobGate{}
	opts := orchestrator.Options{
		RunID:       filepath.Base(*outDir),
		OutDir:      *outDir,
		Seeds:       seeds,
		PrimarySeed: seeds[0],
		Config:      *cfg,
	}

	run, err := orchestrator.New(gate, metricsCollector, logger, opts)
	if err != nil {
		logger.Fatal("failed to build run", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopCh := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal, stopping run", zap.String("signal", sig.String()))
		_ = run.RequestStop()
		close(stopCh)
	}()

	logger.Info("starting run",
		zap.String("runID", opts.RunID),
		zap.String("outDir", opts.OutDir),
		zap.Int("seeds", len(seeds)))

	if *discoverOnly {
		discovered, err := run.DiscoverOnly(ctx, stopCh)
		if err != nil {
			logger.Error("discovery failed", zap.Error(err))
			shutdownMetrics(metricsServer, logger)
			os.Exit(1)
		}
		logger.Info("discovery complete", zap.Int("discovered", len(discovered)))
		shutdownMetrics(metricsServer, logger)
		return
	}

	manifest, err := run.Execute(ctx, stopCh)
	if err != nil {
		logger.Error("run failed", zap.Error(err))
		shutdownMetrics(metricsServer, logger)
		os.Exit(1)
	}

	logger.Info("run complete",
		zap.Int("pages", manifest.Stats.Pages),
		zap.Int("failures", manifest.Stats.Failures),
		zap.Int("assets", manifest.Stats.Assets),
		zap.Bool("stopped", manifest.Stopped))

	shutdownMetrics(metricsServer, logger)
}

// resolveSeeds accepts either a comma-separated list of URLs or a path to a
// file with one URL per line (blank lines and lines starting with # are
// skipped).
func resolveSeeds(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}

	if strings.Contains(raw, ",") || !looksLikeFilePath(raw) {
		var out []string
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	}

	data, err := os.ReadFile(raw)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

func looksLikeFilePath(raw string) bool {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return false
	}
	_, err := os.Stat(raw)
	return err == nil
}

func requestStopByFile(runDir string) error {
	sentinelDir := filepath.Join(runDir, "_crawl")
	if err := os.MkdirAll(sentinelDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(sentinelDir, "STOP"), []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644)
}

func shutdownMetrics(server *fasthttp.Server, logger *zap.Logger) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.ShutdownWithContext(ctx); err != nil {
		logger.Warn("metrics server shutdown error", zap.Error(err))
	}
}
