package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/N283T/pdb-sync-sub001/internal/adapter/filesystem"
	"github.com/N283T/pdb-sync-sub001/internal/adapter/httpclient"
	"github.com/N283T/pdb-sync-sub001/internal/adapter/sqlite"
	"github.com/N283T/pdb-sync-sub001/internal/checksum"
	"github.com/N283T/pdb-sync-sub001/internal/config"
	"github.com/N283T/pdb-sync-sub001/internal/domain"
	"github.com/N283T/pdb-sync-sub001/internal/domain/event"
	"github.com/N283T/pdb-sync-sub001/internal/engine"
	"github.com/N283T/pdb-sync-sub001/internal/logger"
	"github.com/N283T/pdb-sync-sub001/internal/plan"
	"github.com/N283T/pdb-sync-sub001/internal/port"
	"github.com/N283T/pdb-sync-sub001/internal/service/maintenance"
	"github.com/N283T/pdb-sync-sub001/internal/service/syncer"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	planPath := flag.String("plan", "", "Path to the plan listing files to fetch")
	engineName := flag.String("engine", "", "Download engine (builtin, aria2c), overrides the config")
	retryFailed := flag.Bool("retry-failed", false, "Only fetch files that failed or were abandoned in the last pass")
	showProgress := flag.Bool("progress", false, "Print per-file progress to stderr")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("pdb-sync", version)
		return 0
	}
	if *planPath == "" {
		fmt.Fprintln(os.Stderr, "-plan is required")
		flag.Usage()
		return 2
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if *engineName != "" {
		cfg.Engine.Type = *engineName
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -engine: %v\n", err)
			return 2
		}
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	zapLogger := logger.GetZapLogger()
	zapLogger.Info("starting pdb-sync",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("plan", *planPath),
	)

	for _, w := range cfg.Warnings() {
		zapLogger.Warn("configuration warning", zap.String("detail", w))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load plan and manifest before touching the mirror
	p, err := plan.Load(*planPath)
	if err != nil {
		zapLogger.Error("failed to load plan", zap.Error(err))
		return 1
	}
	descriptors, err := p.Descriptors()
	if err != nil {
		zapLogger.Error("invalid plan", zap.Error(err))
		return 1
	}

	digests, err := loadManifest(cfg, p, zapLogger)
	if err != nil {
		zapLogger.Error("failed to load checksum manifest", zap.Error(err))
		return 1
	}

	// Initialize filesystem manager
	fsManager, err := filesystem.NewManager(cfg.Mirror.Root)
	if err != nil {
		zapLogger.Error("failed to create filesystem manager", zap.Error(err))
		return 1
	}

	// Open pass history
	var history port.HistoryRepository
	if cfg.Database.Path != "" {
		store, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			zapLogger.Error("failed to open database", zap.Error(err), zap.String("path", cfg.Database.Path))
			return 1
		}
		defer store.Close()
		history = store
	}

	var retrySubpaths []string
	if *retryFailed {
		if history == nil {
			zapLogger.Error("-retry-failed requires database.path")
			return 2
		}
		retrySubpaths, err = lastFailed(history)
		if err != nil {
			zapLogger.Error("failed to read pass history", zap.Error(err))
			return 1
		}
		if len(retrySubpaths) == 0 {
			zapLogger.Info("nothing to retry")
			return 0
		}
	}

	// Stale temp files and old history
	maintenanceSvc := maintenance.New(&maintenance.Config{
		CleanupInterval: cfg.Maintenance.GetInterval(),
		TempFileMaxAge:  cfg.Maintenance.GetTempFileMaxAge(),
		HistoryMaxAge:   cfg.Maintenance.GetHistoryMaxAge(),
		RemoveEmptyDirs: cfg.Maintenance.RemoveEmptyDirs,
	}, fsManager, history, logger.Component("maintenance"))
	if err := fsManager.EnsureRoot(); err == nil {
		maintenanceSvc.RunOnce()
	}

	// Event dispatcher
	dispatcher := event.NewInMemoryDispatcher(false)
	dispatcher.Subscribe(event.NewLoggingHandler(logger.Component("events")))
	if *showProgress {
		progress := event.NewChannelHandler(256, event.NameTransferProgress, event.NameFileFinished)
		dispatcher.Subscribe(progress)
		done := make(chan struct{})
		go func() {
			defer close(done)
			printProgress(os.Stderr, progress.Events())
		}()
		defer func() {
			progress.Close()
			<-done
		}()
	}

	// Download engine
	eng, err := engine.New(engine.Options{
		Type:       cfg.Engine.GetEngineType(),
		FileSystem: fsManager,
		HTTPClient: httpclient.NewClient(httpclient.Options{
			MaxIdleConnsPerHost:   httpclient.DefaultOptions().MaxIdleConnsPerHost,
			ResponseHeaderTimeout: httpclient.DefaultOptions().ResponseHeaderTimeout,
			UserAgent:             cfg.Engine.UserAgent,
		}),
		Resume:           cfg.Engine.Resume,
		BandwidthLimit:   cfg.Engine.GetBandwidthLimit(),
		ProgressInterval: cfg.Engine.GetProgressInterval(),
		Events:           dispatcher,
		Aria2c: engine.Aria2cOptions{
			Binary:       cfg.Aria2c.Binary,
			Connections:  cfg.Aria2c.Connections,
			Split:        cfg.Aria2c.Split,
			MinSplitSize: cfg.Aria2c.MinSplitSize,
			ExtraArgs:    cfg.Aria2c.ExtraArgs,
		},
		Logger: logger.Component("engine"),
	})
	if err != nil {
		zapLogger.Error("failed to create engine", zap.Error(err))
		return 1
	}

	baseURL := cfg.Mirror.BaseURL
	if p.BaseURL != "" {
		baseURL = p.BaseURL
	}

	orchestrator := syncer.New(&syncer.Config{
		BaseURL:         baseURL,
		Workers:         cfg.Engine.Workers,
		MaxRetries:      cfg.Engine.MaxRetries,
		RetryBackoff:    cfg.Engine.GetRetryBackoff(),
		RetryMaxBackoff: cfg.Engine.GetRetryMaxBackoff(),
		PerFileTimeout:  cfg.Engine.GetPerFileTimeout(),
	}, eng, fsManager, checksum.NewVerifier(checksum.DefaultChunkSize, logger.Component("verifier")),
		digests, dispatcher, logger.Component("syncer"))

	var report *domain.SyncReport
	if *retryFailed {
		report = orchestrator.RetrySubpaths(ctx, retrySubpaths, descriptors)
	} else {
		report = orchestrator.Run(ctx, descriptors)
	}

	if history != nil {
		if err := history.SaveReport(report); err != nil {
			zapLogger.Error("failed to save pass history", zap.Error(err))
		}
	}

	printSummary(os.Stdout, report)
	if !report.OK() {
		return 1
	}
	return 0
}

// loadManifest returns nil when neither the plan nor the config names a manifest
func loadManifest(cfg *config.Config, p *plan.Plan, log *zap.Logger) (syncer.DigestLookup, error) {
	path := cfg.Mirror.Manifest
	if p.Manifest != "" {
		path = p.Manifest
	}
	if path == "" {
		return nil, nil
	}

	algo := cfg.Mirror.GetAlgorithm()
	if planAlgo, err := p.DefaultAlgorithm(); err == nil && planAlgo != "" {
		algo = planAlgo
	}

	m, err := checksum.Load(path, checksum.ParseOptions{
		Algorithm:  algo,
		Duplicates: cfg.Mirror.GetDuplicatePolicy(),
	})
	if err != nil {
		return nil, err
	}

	log.Info("loaded checksum manifest",
		zap.String("path", path),
		zap.String("algorithm", string(m.Algorithm())),
		zap.Int("entries", m.Len()),
		zap.Int("duplicates", len(m.Duplicates)),
	)
	return m, nil
}

// lastFailed returns the subpaths that failed or were abandoned in the latest pass
func lastFailed(history port.HistoryRepository) ([]string, error) {
	last, err := history.LatestPass()
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, errors.New("no previous pass recorded")
	}
	return history.FailedSubpaths(last.PassID)
}

// printProgress renders events until the channel closes
func printProgress(w io.Writer, events <-chan event.DomainEvent) {
	for e := range events {
		switch e := e.(type) {
		case event.TransferProgress:
			if e.Total > 0 {
				fmt.Fprintf(w, "%s  %s / %s\n", e.Subpath, humanize.IBytes(uint64(e.Bytes)), humanize.IBytes(uint64(e.Total)))
			} else {
				fmt.Fprintf(w, "%s  %s\n", e.Subpath, humanize.IBytes(uint64(e.Bytes)))
			}
		case event.FileFinished:
			fmt.Fprintf(w, "%s  %s\n", e.Result.Subpath, e.Result.State)
		}
	}
}

func printSummary(w io.Writer, r *domain.SyncReport) {
	fmt.Fprintf(w, "pass %s (%s) finished in %s\n", r.PassID, r.Engine, r.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  attempted: %d  verified: %d  failed: %d  skipped: %d  resumed: %d  abandoned: %d\n",
		r.Totals.Attempted, r.Totals.VerifiedOK, r.Totals.Failed, r.Totals.Skipped, r.Totals.Resumed, len(r.Abandoned))
	fmt.Fprintf(w, "  transferred: %s\n", humanize.IBytes(uint64(r.Totals.BytesTransferred)))

	for _, res := range r.Entries() {
		if res.State != domain.StateFailed {
			continue
		}
		fmt.Fprintf(w, "  FAILED %s: %v\n", res.Subpath, res.Err)
	}
	if r.Aborted {
		fmt.Fprintf(w, "  aborted: %v\n", r.AbortReason)
	}
}
