package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/N283T/pdb-sync-sub001/internal/adapter/httpclient"
	"github.com/N283T/pdb-sync-sub001/internal/domain"
	"github.com/N283T/pdb-sync-sub001/internal/domain/event"
	"github.com/N283T/pdb-sync-sub001/internal/domain/vo"
	"github.com/N283T/pdb-sync-sub001/internal/port"
	"github.com/N283T/pdb-sync-sub001/internal/util/ratelimiter"
)

const copyBufferSize = 256 * 1024

// Builtin downloads over a single HTTP stream with optional resume
type Builtin struct {
	fs        port.FileSystem
	client    *httpclient.Client
	resume    bool
	bandwidth *ratelimiter.Bandwidth
	opts      Options
	events    event.EventDispatcher
	logger    *zap.Logger
}

// NewBuiltin creates a builtin engine. Prefer New.
func NewBuiltin(opts Options) *Builtin {
	client := opts.HTTPClient
	if client == nil {
		client = httpclient.NewClient(httpclient.DefaultOptions())
	}
	return &Builtin{
		fs:        opts.FileSystem,
		client:    client,
		resume:    opts.Resume,
		bandwidth: ratelimiter.NewBandwidth(opts.BandwidthLimit),
		opts:      opts,
		events:    opts.Events,
		logger:    opts.Logger,
	}
}

// Type returns domain.EngineBuiltin
func (b *Builtin) Type() domain.EngineType { return domain.EngineBuiltin }

func (b *Builtin) sealed() {}

// Transfer downloads item into a temp sibling and renames it into place
func (b *Builtin) Transfer(ctx context.Context, item WorkItem) domain.TransferOutcome {
	dest := item.Destination
	expected := item.Descriptor.ExpectedSize
	log := b.logger.With(zap.String("subpath", item.Descriptor.Subpath))

	if expected > 0 {
		if size, exists, err := b.fs.Stat(dest); err == nil && exists && size == expected {
			log.Debug("file already present", zap.Int64("size", size))
			return domain.Skipped("already present")
		}
	}

	var offset int64
	if b.resume && expected > 0 {
		if size, exists, err := b.fs.Stat(b.fs.TempPath(dest)); err == nil && exists && size > 0 && size < expected {
			offset = size
		}
	}

	if expected > 0 {
		if err := b.fs.CheckSpace(expected - offset); err != nil {
			return domain.Failed(domain.NewDiskWriteError(err))
		}
	}

	resp, err := b.client.Get(ctx, item.URL, offset)
	if errors.Is(err, domain.ErrRangeNotSatisfied) {
		log.Info("range not satisfiable, starting fresh", zap.Int64("offset", offset))
		offset = 0
		resp, err = b.client.Get(ctx, item.URL, 0)
	}
	if err != nil {
		return domain.Failed(httpclient.ClassifyError(ctx, err))
	}
	defer resp.Body.Close()

	resume := offset > 0 && resp.Partial
	if offset > 0 && !resume {
		log.Info("server ignored range request, starting fresh", zap.Int64("offset", offset))
		offset = 0
	}
	if resume {
		log.Info("resuming download", zap.Int64("from_byte", offset))
	}

	f, start, err := b.fs.OpenTemp(dest, resume)
	if err != nil {
		return domain.Failed(fsError(err))
	}
	if start != offset {
		// The temp file changed between stat and open
		f.Close()
		b.fs.DiscardTemp(dest)
		return domain.Failed(domain.NewNetworkError(fmt.Errorf("temp file size changed: resumed at %d, have %d", offset, start)))
	}

	total := expected
	if total <= 0 && resp.Total > 0 {
		total = resp.Total
	}
	var body io.Reader = b.bandwidth.Reader(ctx, resp.Body)
	body = newProgressReader(body, item.Descriptor.Subpath, offset, total, b.events,
		ratelimiter.NewThrottle(b.opts.ProgressInterval))

	written, terr := copyBody(ctx, f, body)
	if terr != nil {
		f.Close()
		log.Warn("transfer interrupted",
			zap.Int64("written", written),
			zap.Stringer("cause", terr.Cause),
			zap.Error(terr))
		return domain.Failed(terr)
	}

	got := offset + written
	if total > 0 && got < total {
		f.Close()
		return domain.Failed(domain.NewNetworkError(
			fmt.Errorf("%w: got %d of %d bytes", domain.ErrShortBody, got, total)))
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return domain.Failed(domain.NewDiskWriteError(fmt.Errorf("sync temp file: %w", err)))
	}
	if err := f.Close(); err != nil {
		return domain.Failed(domain.NewDiskWriteError(fmt.Errorf("close temp file: %w", err)))
	}
	if err := b.fs.Commit(dest); err != nil {
		return domain.Failed(fsError(err))
	}

	if resume {
		log.Info("file downloaded (resumed)",
			zap.Int64("total_size", got),
			zap.Int64("resumed_from", offset))
		return domain.CompletedResumed(written, offset)
	}
	log.Info("file downloaded", zap.Int64("size", got))
	return domain.Completed(written)
}

// fsError keeps sandbox rejections to the one file; anything else is a disk failure
func fsError(err error) *domain.TransferError {
	if errors.Is(err, vo.ErrTraversal) {
		return domain.NewInvalidDestinationError(err)
	}
	return domain.NewDiskWriteError(err)
}

// copyBody copies r to w, classifying read failures as network errors and
// write failures as disk errors
func copyBody(ctx context.Context, w io.Writer, r io.Reader) (int64, *domain.TransferError) {
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr == nil && m != n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return written, domain.NewDiskWriteError(werr)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, httpclient.ClassifyError(ctx, rerr)
		}
	}
}
