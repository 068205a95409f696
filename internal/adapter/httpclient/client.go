package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/N283T/pdb-sync-sub001/internal/domain"
)

// Options configures the HTTP client
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// ResponseHeaderTimeout bounds the wait for response headers.
	// The body is bounded by the caller's context. Default: 30s
	ResponseHeaderTimeout time.Duration

	// UserAgent is sent with every request
	UserAgent string
}

// DefaultOptions returns options with sensible defaults
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost:   16,
		ResponseHeaderTimeout: 30 * time.Second,
		UserAgent:             "pdb-sync/1.0",
	}
}

// Response is an open GET response
type Response struct {
	Body       io.ReadCloser
	StatusCode int
	// ContentLength is the length of Body, or -1 if unknown
	ContentLength int64
	// Partial is true when Body continues from the requested offset
	Partial bool
	// Total is the full resource size if known, else -1
	Total int64
}

// Client performs single-attempt GET requests and classifies failures as
// *domain.TransferError. Retrying is left to the caller.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options
func NewClient(opts Options) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		DisableCompression:    true, // raw bytes so offsets match the file
	}

	return &Client{
		client: &http.Client{Transport: transport},
		opts:   opts,
	}
}

// Get requests url. When offset > 0 a Range request is sent; if the server
// ignores it the response has Partial false and carries the whole body.
// A 416 is returned as domain.ErrRangeNotSatisfied so the caller can restart.
func (c *Client) Get(ctx context.Context, url string, offset int64) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewNetworkError(fmt.Errorf("create request: %w", err))
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ClassifyError(ctx, err)
	}

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		start, _, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil || start != offset {
			// Unusable range: treat as unsupported so the caller restarts
			resp.Body.Close()
			return nil, fmt.Errorf("%w: content-range %q for offset %d",
				domain.ErrRangeNotSatisfied, resp.Header.Get("Content-Range"), offset)
		}
		return &Response{
			Body:          resp.Body,
			StatusCode:    resp.StatusCode,
			ContentLength: resp.ContentLength,
			Partial:       true,
			Total:         total,
		}, nil

	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		resp.Body.Close()
		return nil, domain.ErrRangeNotSatisfied

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Response{
			Body:          resp.Body,
			StatusCode:    resp.StatusCode,
			ContentLength: resp.ContentLength,
			Total:         resp.ContentLength,
		}, nil

	default:
		// Drain a little so the connection can be reused
		io.CopyN(io.Discard, resp.Body, 4096)
		resp.Body.Close()
		return nil, domain.NewHTTPStatusError(resp.StatusCode)
	}
}

// ClassifyError maps a transport or body read error to a TransferError.
// Caller cancellation is Canceled, everything else (deadline included) is
// a network error.
func ClassifyError(ctx context.Context, err error) *domain.TransferError {
	if te, ok := domain.AsTransferError(err); ok {
		return te
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return domain.NewCanceledError(err)
	}
	return domain.NewNetworkError(err)
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(header, "bytes ")
	rangePart, totalPart, ok := strings.Cut(header, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	startPart, endPart, ok := strings.Cut(rangePart, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(startPart, 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	end, err = strconv.ParseInt(endPart, 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if totalPart == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(totalPart, 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	return start, end, total, nil
}
