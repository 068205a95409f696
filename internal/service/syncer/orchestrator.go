package syncer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/N283T/pdb-sync-sub001/internal/domain"
	"github.com/N283T/pdb-sync-sub001/internal/domain/event"
	"github.com/N283T/pdb-sync-sub001/internal/domain/vo"
	"github.com/N283T/pdb-sync-sub001/internal/engine"
	"github.com/N283T/pdb-sync-sub001/internal/port"
)

// Config contains orchestrator configuration
type Config struct {
	// BaseURL is joined with relative descriptor remotes
	BaseURL string
	// Workers is the pool size. 0 picks 4 for builtin and 1 for aria2c.
	Workers int
	// MaxRetries is the number of retries after the first attempt
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
	// PerFileTimeout bounds each transfer attempt and the verification, 0 disables it
	PerFileTimeout time.Duration
}

// DefaultConfig returns default orchestrator configuration
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:      3,
		RetryBackoff:    time.Second,
		RetryMaxBackoff: 30 * time.Second,
		PerFileTimeout:  30 * time.Minute,
	}
}

// Engine transfers one file. engine.Engine satisfies it.
type Engine interface {
	Type() domain.EngineType
	Transfer(ctx context.Context, item engine.WorkItem) domain.TransferOutcome
}

// Verifier checks a local file against an expected digest
type Verifier interface {
	Verify(ctx context.Context, path string, expected domain.ExpectedDigest) domain.VerifyResult
}

// DigestLookup supplies digests for descriptors that carry none
type DigestLookup interface {
	Lookup(subpath string) (domain.ExpectedDigest, bool)
}

// Orchestrator runs sync passes over a bounded worker pool
type Orchestrator struct {
	config   *Config
	engine   Engine
	fs       port.FileSystem
	verifier Verifier
	digests  DigestLookup
	events   event.EventDispatcher
	logger   *zap.Logger
}

// New creates a new Orchestrator. digests and events may be nil.
func New(cfg *Config, eng Engine, fs port.FileSystem, verifier Verifier, digests DigestLookup, events event.EventDispatcher, logger *zap.Logger) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if events == nil {
		events = event.NewNullDispatcher()
	}
	return &Orchestrator{
		config:   cfg,
		engine:   eng,
		fs:       fs,
		verifier: verifier,
		digests:  digests,
		events:   events,
		logger:   logger,
	}
}

// Run executes one pass over descriptors and returns its report.
//
// Cancelling ctx stops dispatch at once; transfers already in flight run to
// completion on a detached context bounded by PerFileTimeout. A fatal
// failure (disk write, engine unavailable) stops dispatch the same way.
// Descriptors never handed to a worker are listed in report.Abandoned.
func (o *Orchestrator) Run(ctx context.Context, descriptors []domain.FileDescriptor) *domain.SyncReport {
	descriptors = o.dedupe(descriptors)

	passID := uuid.NewString()
	report := domain.NewSyncReport(passID, o.engine.Type())
	workers := o.workerCount(len(descriptors))
	log := o.logger.With(zap.String("pass_id", passID))

	log.Info("sync pass started",
		zap.Stringer("engine", o.engine.Type()),
		zap.Int("files", len(descriptors)),
		zap.Int("workers", workers))
	o.events.Dispatch(event.NewPassStarted(passID, o.engine.Type(), len(descriptors), workers))

	if err := o.fs.EnsureRoot(); err != nil {
		log.Error("mirror root unavailable", zap.Error(err))
		report.Abort(domain.NewDiskWriteError(err))
		for _, d := range descriptors {
			report.Abandon(d.Subpath)
		}
		return o.finish(report, log)
	}

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()

	var mu sync.Mutex
	jobs := make(chan domain.FileDescriptor)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				// A send may win the race against an abort
				if dispatchCtx.Err() != nil {
					mu.Lock()
					report.Abandon(d.Subpath)
					mu.Unlock()
					continue
				}

				res := o.processFile(ctx, dispatchCtx, d, log)

				mu.Lock()
				report.Record(res)
				if te, ok := domain.AsTransferError(res.Err); ok && te.Fatal() {
					log.Error("fatal failure, stopping dispatch",
						zap.String("subpath", res.Subpath),
						zap.Error(te))
					report.Abort(te)
					stopDispatch()
				}
				mu.Unlock()

				o.events.Dispatch(event.NewFileFinished(res))
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, d := range descriptors {
			select {
			case jobs <- d:
			case <-dispatchCtx.Done():
				mu.Lock()
				for _, rest := range descriptors[i:] {
					report.Abandon(rest.Subpath)
				}
				mu.Unlock()
				return
			}
		}
	}()

	wg.Wait()

	if err := ctx.Err(); err != nil {
		report.Abort(fmt.Errorf("%w: %w", domain.ErrPassAborted, err))
	}
	return o.finish(report, log)
}

// Retry re-runs the descriptors whose subpaths failed or were abandoned in previous
func (o *Orchestrator) Retry(ctx context.Context, previous *domain.SyncReport, descriptors []domain.FileDescriptor) *domain.SyncReport {
	subpaths := append(previous.FailedSubpaths(), previous.Abandoned...)
	return o.RetrySubpaths(ctx, subpaths, descriptors)
}

// RetrySubpaths runs a pass over the descriptors whose subpath is listed
func (o *Orchestrator) RetrySubpaths(ctx context.Context, subpaths []string, descriptors []domain.FileDescriptor) *domain.SyncReport {
	wanted := make(map[string]bool, len(subpaths))
	for _, s := range subpaths {
		wanted[subpathKey(s)] = true
	}

	var subset []domain.FileDescriptor
	for _, d := range descriptors {
		if wanted[subpathKey(d.Subpath)] {
			subset = append(subset, d)
		}
	}

	o.logger.Info("retrying failed subset",
		zap.Int("requested", len(subpaths)),
		zap.Int("matched", len(subset)))
	return o.Run(ctx, subset)
}

func (o *Orchestrator) finish(report *domain.SyncReport, log *zap.Logger) *domain.SyncReport {
	report.Finish()

	fields := []zap.Field{
		zap.Int("attempted", report.Totals.Attempted),
		zap.Int("verified", report.Totals.VerifiedOK),
		zap.Int("failed", report.Totals.Failed),
		zap.Int("skipped", report.Totals.Skipped),
		zap.Int("resumed", report.Totals.Resumed),
		zap.Int("abandoned", len(report.Abandoned)),
		zap.Int64("bytes", report.Totals.BytesTransferred),
		zap.Duration("duration", report.Duration()),
	}
	if report.Aborted {
		log.Warn("sync pass aborted", append(fields, zap.Error(report.AbortReason))...)
	} else {
		log.Info("sync pass finished", fields...)
	}

	o.events.Dispatch(event.NewPassFinished(report))
	return report
}

// processFile drives one descriptor through the state machine
func (o *Orchestrator) processFile(passCtx, dispatchCtx context.Context, d domain.FileDescriptor, log *zap.Logger) domain.FileResult {
	start := time.Now()
	res := domain.FileResult{Subpath: d.Subpath, State: domain.StatePending}
	log = log.With(zap.String("subpath", d.Subpath))

	fail := func(err error) domain.FileResult {
		res.Err = err
		o.transition(&res, domain.StateFailed, log)
		res.Duration = time.Since(start)
		return res
	}

	o.transition(&res, domain.StateResolving, log)
	sub, err := vo.NewSubpath(d.Subpath)
	if err != nil {
		return fail(err)
	}
	if sub.IsRoot() {
		return fail(domain.NewInvalidDestinationError(
			fmt.Errorf("subpath %q resolves to the mirror root", d.Subpath)))
	}
	dest, err := o.fs.Resolve(d.Subpath)
	if err != nil {
		return fail(err)
	}
	res.Destination = dest

	// An existing directory can never be replaced by the file
	if _, _, err := o.fs.Stat(dest); err != nil {
		return fail(domain.NewInvalidDestinationError(err))
	}

	url, err := engine.ResolveURL(o.config.BaseURL, d.Remote)
	if err != nil {
		return fail(err)
	}

	o.transition(&res, domain.StateTransferring, log)
	item := engine.WorkItem{Descriptor: d, URL: url, Destination: dest}
	res.Outcome = o.transferWithRetry(passCtx, dispatchCtx, item, &res, log)
	if res.Outcome.Kind == domain.OutcomeFailed {
		return fail(res.Outcome.Err)
	}

	o.transition(&res, domain.StateVerifying, log)
	expected, ok := o.expectedDigest(d)
	if !ok {
		res.Verify = domain.Unverified("no expected digest")
		o.transition(&res, domain.StateVerified, log)
		res.Duration = time.Since(start)
		return res
	}

	vctx, cancel := o.fileContext(passCtx)
	res.Verify = o.verifier.Verify(vctx, dest, expected)
	cancel()
	if !res.Verify.OK() {
		return fail(fmt.Errorf("%w: %s", domain.ErrVerifyFailed, res.Verify))
	}

	o.transition(&res, domain.StateVerified, log)
	res.Duration = time.Since(start)
	return res
}

// transferWithRetry retries retryable failures with exponential backoff.
// Backoff waits end early when dispatch stops.
func (o *Orchestrator) transferWithRetry(passCtx, dispatchCtx context.Context, item engine.WorkItem, res *domain.FileResult, log *zap.Logger) domain.TransferOutcome {
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt

		tctx, cancel := o.fileContext(passCtx)
		out := o.engine.Transfer(tctx, item)
		cancel()

		if out.Kind != domain.OutcomeFailed || !out.Err.Retryable() || attempt > o.config.MaxRetries {
			return out
		}

		delay := o.backoff(attempt)
		log.Warn("transfer failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(out.Err))
		o.events.Dispatch(event.NewTransferRetry(item.Descriptor.Subpath, attempt, delay, out.Err))

		timer := time.NewTimer(delay)
		select {
		case <-dispatchCtx.Done():
			timer.Stop()
			return out
		case <-timer.C:
		}
	}
}

// fileContext detaches per-file work from caller cancellation and bounds it
// by PerFileTimeout
func (o *Orchestrator) fileContext(passCtx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(passCtx)
	if o.config.PerFileTimeout > 0 {
		return context.WithTimeout(detached, o.config.PerFileTimeout)
	}
	return context.WithCancel(detached)
}

// backoff returns base*2^(attempt-1), capped, with 0.5x to 1.5x jitter
func (o *Orchestrator) backoff(attempt int) time.Duration {
	backoff := o.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if o.config.RetryMaxBackoff > 0 && (backoff > o.config.RetryMaxBackoff || backoff <= 0) {
		backoff = o.config.RetryMaxBackoff
	}
	return time.Duration(float64(backoff) * (0.5 + rand.Float64()))
}

// expectedDigest prefers the descriptor's digest over the manifest
func (o *Orchestrator) expectedDigest(d domain.FileDescriptor) (domain.ExpectedDigest, bool) {
	if d.HasDigest() {
		return *d.Digest, true
	}
	if o.digests != nil {
		return o.digests.Lookup(d.Subpath)
	}
	return domain.ExpectedDigest{}, false
}

func (o *Orchestrator) transition(res *domain.FileResult, to domain.FileState, log *zap.Logger) {
	from := res.State
	res.State = to
	log.Debug("file state changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	o.events.Dispatch(event.NewFileStateChanged(res.Subpath, from, to))
}

func (o *Orchestrator) workerCount(files int) int {
	n := o.config.Workers
	if n <= 0 {
		n = 4
		if o.engine.Type() == domain.EngineAria2c {
			n = 1
		}
	}
	if files > 0 && n > files {
		n = files
	}
	if n < 1 {
		n = 1
	}
	return n
}

// dedupe keeps the first descriptor for each destination. Valid subpaths are
// rewritten to their normalized form so the report has one key per file.
func (o *Orchestrator) dedupe(descriptors []domain.FileDescriptor) []domain.FileDescriptor {
	seen := make(map[string]bool, len(descriptors))
	out := make([]domain.FileDescriptor, 0, len(descriptors))
	for _, d := range descriptors {
		key := subpathKey(d.Subpath)
		if seen[key] {
			o.logger.Warn("duplicate descriptor ignored",
				zap.String("subpath", d.Subpath),
				zap.String("normalized", key))
			continue
		}
		seen[key] = true
		d.Subpath = key
		out = append(out, d)
	}
	return out
}

// subpathKey returns the normalized subpath, or raw when it fails validation
func subpathKey(raw string) string {
	if s, err := vo.NewSubpath(raw); err == nil {
		return s.String()
	}
	return raw
}
