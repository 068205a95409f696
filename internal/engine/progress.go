package engine

import (
	"io"

	"github.com/N283T/pdb-sync-sub001/internal/domain/event"
	"github.com/N283T/pdb-sync-sub001/internal/util/ratelimiter"
)

// progressReader wraps a reader to report transfer progress
type progressReader struct {
	reader   io.Reader
	subpath  string
	current  int64
	total    int64
	events   event.EventDispatcher
	throttle *ratelimiter.Throttle
}

func newProgressReader(r io.Reader, subpath string, start, total int64, events event.EventDispatcher, throttle *ratelimiter.Throttle) *progressReader {
	return &progressReader{
		reader:   r,
		subpath:  subpath,
		current:  start,
		total:    total,
		events:   events,
		throttle: throttle,
	}
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.current += int64(n)

	if n > 0 && r.throttle.Allow() {
		r.events.Dispatch(event.NewTransferProgress(r.subpath, r.current, r.total))
	}
	if err == io.EOF {
		// Final update regardless of throttling
		r.events.Dispatch(event.NewTransferProgress(r.subpath, r.current, r.total))
	}
	return n, err
}
