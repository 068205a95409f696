package event

import (
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// LoggingHandler logs per-file events. Pass lifecycle, state changes and
// retries are logged by the orchestrator itself.
type LoggingHandler struct {
	logger *zap.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// Handle logs the event
func (h *LoggingHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case TransferProgress:
		h.logger.Debug("transfer progress",
			zap.String("path", e.Subpath),
			zap.String("bytes", humanize.IBytes(uint64(e.Bytes))),
			zap.String("total", humanize.IBytes(uint64(e.Total))),
		)
	case FileFinished:
		fields := []zap.Field{
			zap.String("path", e.Result.Subpath),
			zap.String("state", string(e.Result.State)),
			zap.String("outcome", e.Result.Outcome.Kind.String()),
			zap.String("verify", e.Result.Verify.Kind.String()),
			zap.Int("attempts", e.Result.Attempts),
		}
		if e.Result.Err != nil {
			h.logger.Warn("file failed", append(fields, zap.Error(e.Result.Err))...)
		} else {
			h.logger.Info("file finished", fields...)
		}
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *LoggingHandler) HandledEvents() []string {
	return []string{NameTransferProgress, NameFileFinished}
}

// ChannelHandler forwards events to a buffered channel for a presentation layer.
// Events are dropped rather than blocking a worker when the buffer is full.
type ChannelHandler struct {
	ch      chan DomainEvent
	names   []string
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewChannelHandler creates a handler with the given buffer size.
// With no names it receives every event.
func NewChannelHandler(buffer int, names ...string) *ChannelHandler {
	if len(names) == 0 {
		names = []string{"*"}
	}
	return &ChannelHandler{
		ch:    make(chan DomainEvent, buffer),
		names: names,
	}
}

// Handle forwards the event without blocking
func (h *ChannelHandler) Handle(event DomainEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}

	select {
	case h.ch <- event:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *ChannelHandler) HandledEvents() []string {
	return h.names
}

// Events returns the receive side of the channel
func (h *ChannelHandler) Events() <-chan DomainEvent {
	return h.ch
}

// Dropped returns the number of events discarded because the buffer was full
func (h *ChannelHandler) Dropped() int64 {
	return h.dropped.Load()
}

// Close closes the channel. Later events are ignored.
func (h *ChannelHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.ch)
	}
}
