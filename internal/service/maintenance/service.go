package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/N283T/pdb-sync-sub001/internal/port"
)

// Config contains maintenance service configuration
type Config struct {
	// CleanupInterval is how often the background loop runs cleanup
	CleanupInterval time.Duration

	// TempFileMaxAge is the maximum age of .downloading files before removal
	TempFileMaxAge time.Duration

	// HistoryMaxAge is the maximum age of pass history, 0 keeps everything
	HistoryMaxAge time.Duration

	// RemoveEmptyDirs removes empty directories below the mirror root
	RemoveEmptyDirs bool
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		CleanupInterval: time.Hour,
		TempFileMaxAge:  7 * 24 * time.Hour,
		HistoryMaxAge:   90 * 24 * time.Hour,
	}
}

// Result summarizes one cleanup run
type Result struct {
	TempFilesRemoved int
	PassesPruned     int
}

// Service removes stale temp files and prunes pass history
type Service struct {
	config  *Config
	fs      port.FileSystem
	history port.HistoryRepository
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service. history may be nil.
func New(cfg *Config, fs port.FileSystem, history port.HistoryRepository, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.TempFileMaxAge == 0 {
		cfg.TempFileMaxAge = 7 * 24 * time.Hour
	}

	return &Service{
		config:  cfg,
		fs:      fs,
		history: history,
		logger:  logger,
	}
}

// RunOnce performs every cleanup step once. Step failures are logged and
// do not stop later steps.
func (s *Service) RunOnce() Result {
	var res Result
	res.TempFilesRemoved = s.cleanupTempFiles()
	if s.config.RemoveEmptyDirs {
		s.cleanupEmptyDirs()
	}
	res.PassesPruned = s.pruneHistory()
	return res
}

// Start runs cleanup every CleanupInterval until ctx is done or Stop is called
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("cleanup_interval", s.config.CleanupInterval))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// cleanupTempFiles removes abandoned partial downloads
func (s *Service) cleanupTempFiles() int {
	count, err := s.fs.CleanOldTempFiles(s.config.TempFileMaxAge)
	if err != nil {
		s.logger.Error("failed to cleanup old temp files", zap.Error(err))
	} else if count > 0 {
		s.logger.Info("cleaned up old temp files", zap.Int("count", count))
	}
	return count
}

func (s *Service) cleanupEmptyDirs() {
	if err := s.fs.CleanEmptyDirs(); err != nil {
		s.logger.Error("failed to remove empty directories", zap.Error(err))
	}
}

// pruneHistory removes old pass records
func (s *Service) pruneHistory() int {
	if s.history == nil || s.config.HistoryMaxAge <= 0 {
		return 0
	}
	pruned, err := s.history.PrunePasses(s.config.HistoryMaxAge)
	if err != nil {
		s.logger.Error("failed to prune pass history", zap.Error(err))
	} else if pruned > 0 {
		s.logger.Info("pruned pass history", zap.Int("count", pruned))
	}
	return pruned
}
