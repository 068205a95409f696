// Package engine implements the download strategies used by a sync pass.
package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/N283T/pdb-sync-sub001/internal/adapter/httpclient"
	"github.com/N283T/pdb-sync-sub001/internal/domain"
	"github.com/N283T/pdb-sync-sub001/internal/domain/event"
	"github.com/N283T/pdb-sync-sub001/internal/port"
)

// WorkItem is one resolved transfer
type WorkItem struct {
	Descriptor  domain.FileDescriptor
	URL         string
	Destination string
}

// Engine transfers one file to its destination.
// The set of engines is closed: only *Builtin and *Aria2c implement it.
type Engine interface {
	// Type returns the engine kind
	Type() domain.EngineType

	// Transfer fetches item.URL into item.Destination.
	// Failures are reported in the outcome, never as a panic.
	Transfer(ctx context.Context, item WorkItem) domain.TransferOutcome

	sealed()
}

// Options configures engine construction
type Options struct {
	Type domain.EngineType

	// FileSystem is required by the builtin engine
	FileSystem port.FileSystem

	// HTTPClient is used by the builtin engine. Nil creates one with defaults.
	HTTPClient *httpclient.Client

	// Resume enables continuing partial downloads
	Resume bool

	// BandwidthLimit caps builtin throughput in bytes per second, 0 is unlimited
	BandwidthLimit int64

	// ProgressInterval throttles progress events, 0 uses one second
	ProgressInterval time.Duration

	// Events receives progress events. Nil disables them.
	Events event.EventDispatcher

	Aria2c Aria2cOptions

	Logger *zap.Logger
}

// New creates the engine selected by opts.Type
func New(opts Options) (Engine, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Events == nil {
		opts.Events = event.NewNullDispatcher()
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = time.Second
	}

	switch opts.Type {
	case domain.EngineBuiltin, "":
		if opts.FileSystem == nil {
			return nil, fmt.Errorf("%w: builtin engine requires a filesystem", domain.ErrInvalidInput)
		}
		return NewBuiltin(opts), nil
	case domain.EngineAria2c:
		return NewAria2c(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEngine, string(opts.Type))
	}
}

// ResolveURL returns remote when it is an absolute URL, otherwise base
// joined with remote.
func ResolveURL(base, remote string) (string, error) {
	if u, err := url.Parse(remote); err == nil && u.IsAbs() && u.Host != "" {
		return remote, nil
	}
	if base == "" {
		return "", fmt.Errorf("%w: relative remote %q without base URL", domain.ErrInvalidInput, remote)
	}
	joined, err := url.JoinPath(base, strings.ReplaceAll(remote, `\`, "/"))
	if err != nil {
		return "", fmt.Errorf("%w: join %q with %q: %v", domain.ErrInvalidInput, base, remote, err)
	}
	return joined, nil
}
