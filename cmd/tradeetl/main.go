package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"cbstrade/internal/browser"
	"cbstrade/internal/config"
	"cbstrade/internal/dataprocessing"
	"cbstrade/internal/download"
	apperrors "cbstrade/internal/errors"
	"cbstrade/internal/files"
	"cbstrade/internal/infrastructure"
	"cbstrade/internal/ingestion"
	"cbstrade/internal/store"
	transport "cbstrade/internal/transport/http"
	"cbstrade/pkg/contracts"
)

const resourceLogInterval = 30 * time.Second

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "PANIC RECOVERED: %v\nStack trace:\n%s\n", r, debug.Stack())
			infrastructure.GetLogger().Error("tradeetl panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stderr)
	stop()

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds the command line. Only flags the user actually set override
// the file and environment configuration.
type cliFlags struct {
	configPath  string
	filesType   string
	storeURI    string
	downloadDir string
	extractDir  string
	siteURL     string
	metricsAddr string
	logLevel    string
	headless    bool
	retryFailed bool
	version     bool

	set map[string]bool
}

func parseFlags(args []string, output io.Writer) (*cliFlags, error) {
	defaults := config.Default()
	f := &cliFlags{set: map[string]bool{}}

	fs := flag.NewFlagSet(config.AppName, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&f.filesType, "files-type", defaults.Site.FilesType, "category to scrape: import | export | both")
	fs.StringVar(&f.storeURI, "mongo-addr", defaults.Store.URI, "store URI (mongodb://, mongodb+srv://, sqlite://path or sqlite::memory:)")
	fs.StringVar(&f.downloadDir, "download-folder", defaults.Paths.DownloadDir, "directory for downloaded archives")
	fs.StringVar(&f.extractDir, "extracted-folder", defaults.Paths.ExtractDir, "directory for extracted files")
	fs.StringVar(&f.siteURL, "trade-site", defaults.Site.URL, "URL of the foreign trade files page")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "listen address of the status server, e.g. :9090 (disabled when empty)")
	fs.StringVar(&f.logLevel, "log-level", defaults.Logging.Level, "log level: debug | info | warn | error")
	fs.BoolVar(&f.headless, "headless", defaults.Browser.Headless, "run the browser headless")
	fs.BoolVar(&f.version, "version", false, "print the version and exit")
	fs.BoolVar(&f.retryFailed, "retry-failed", defaults.Ingestion.RetryFailed, "re-process files that failed to parse even if unchanged")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.version {
		fmt.Fprintln(output, contracts.GetFullVersionString())
		return nil, flag.ErrHelp
	}
	if fs.NArg() > 0 {
		return nil, apperrors.NewConfigError(fmt.Sprintf("unexpected arguments: %v", fs.Args()), nil)
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, nil
}

func (f *cliFlags) apply(cfg *config.Config) {
	if f.set["files-type"] {
		cfg.Site.FilesType = f.filesType
	}
	if f.set["mongo-addr"] {
		cfg.Store.URI = f.storeURI
	}
	if f.set["download-folder"] {
		cfg.Paths.DownloadDir = f.downloadDir
	}
	if f.set["extracted-folder"] {
		cfg.Paths.ExtractDir = f.extractDir
	}
	if f.set["trade-site"] {
		cfg.Site.URL = f.siteURL
	}
	if f.set["metrics-addr"] {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if f.set["log-level"] {
		cfg.Logging.Level = f.logLevel
	}
	if f.set["headless"] {
		cfg.Browser.Headless = f.headless
	}
	if f.set["retry-failed"] {
		cfg.Ingestion.RetryFailed = f.retryFailed
	}
}

// loadConfig resolves defaults, file, environment and flags, in that order.
func loadConfig(args []string, output io.Writer) (*config.Config, error) {
	flags, err := parseFlags(args, output)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, apperrors.NewConfigError("failed to load configuration", err)
	}
	flags.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewConfigError("invalid configuration", err)
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, output io.Writer) error {
	cfg, err := loadConfig(args, output)
	if err != nil {
		return err
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(output, "Warning: Failed to initialize logger, using default: %v\n", err)
		logger = slog.Default()
	}
	defer infrastructure.CloseLogFile()

	logger.Info("tradeetl starting",
		slog.String("version", contracts.Version),
		slog.String("files_type", cfg.Site.FilesType),
		slog.String("site", cfg.Site.URL),
		slog.Bool("headless", cfg.Browser.Headless),
		slog.Bool("retry_failed", cfg.Ingestion.RetryFailed))

	providers, err := infrastructure.InitializeOTel(infrastructure.OTelConfig{
		ServiceVersion: contracts.Version,
		EnableMetrics:  cfg.Metrics.Addr != "",
		EnableTracing:  cfg.Metrics.EnableTracing,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	metrics, err := infrastructure.NewPipelineMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("failed to create pipeline metrics: %w", err)
	}
	if err := infrastructure.RegisterRuntimeMetrics(providers.Meter); err != nil {
		logger.Warn("Runtime metrics unavailable", slog.String("error", err.Error()))
	}

	paths, err := cfg.GetPaths()
	if err != nil {
		return apperrors.NewConfigError("failed to resolve paths", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return apperrors.NewConfigError("failed to create working directories", err)
	}
	paths.LogPathResolution(logger)

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			logger.Warn("Store close failed", slog.String("error", err.Error()))
		}
	}()

	ctrl := browser.NewController(cfg.Browser, logger)
	defer ctrl.Close()

	fm := files.NewManager(paths, logger)
	state := ingestion.NewRunState()
	orch, err := ingestion.New(ingestion.OptionsFromConfig(cfg), ingestion.Dependencies{
		Renderer:   ctrl,
		Downloader: download.New(cfg.Download, logger),
		Processor:  dataprocessing.NewProcessor(fm, st, logger),
		Metadata:   st,
		Files:      fm,
		Metrics:    metrics,
		Tracer:     providers.Tracer,
		State:      state,
	}, logger)
	if err != nil {
		return err
	}

	runCtx, stopAux := context.WithCancel(ctx)
	defer stopAux()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Metrics.Addr != "" {
		status := transport.NewStatusHandler(contracts.Version, state, st,
			files.NewDiscovery(paths.DownloadsDir), logger)
		router := transport.NewRouter(status, providers.PrometheusHTTP, providers.Tracer, logger)
		srv := transport.NewServer(cfg.Metrics.Addr, router, logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	g.Go(func() error {
		infrastructure.LogResourceUsage(gctx, logger, resourceLogInterval)
		return nil
	})

	g.Go(func() error {
		defer stopAux()
		summary, err := orch.Run(gctx, cfg.Site.FilesType)
		if err != nil {
			return err
		}
		logger.Info("tradeetl finished", slog.Any("summary", summary))
		return nil
	})

	return g.Wait()
}
