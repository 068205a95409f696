package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/N283T/pdb-sync-sub001/internal/domain"
)

// DefaultAria2cBinary is looked up on PATH when no binary is configured
const DefaultAria2cBinary = "aria2c"

// Aria2cOptions configures the external accelerator
type Aria2cOptions struct {
	// Binary is a name on PATH or a path to the executable
	Binary string
	// Connections maps to --max-connection-per-server
	Connections int
	// Split maps to --split
	Split int
	// MinSplitSize maps to --min-split-size, e.g. "1M"
	MinSplitSize string
	// ExtraArgs are passed before the URL
	ExtraArgs []string
}

// DefaultAria2cOptions returns the default accelerator settings
func DefaultAria2cOptions() Aria2cOptions {
	return Aria2cOptions{
		Binary:       DefaultAria2cBinary,
		Connections:  4,
		Split:        4,
		MinSplitSize: "1M",
	}
}

const outputTailLines = 20

// Aria2c delegates each transfer to an aria2c process. It only inspects
// the destination after the process exits and never writes files itself.
type Aria2c struct {
	opts   Aria2cOptions
	resume bool
	logger *zap.Logger
}

// NewAria2c creates an aria2c engine. Prefer New.
func NewAria2c(opts Options) *Aria2c {
	a := opts.Aria2c
	def := DefaultAria2cOptions()
	if a.Binary == "" {
		a.Binary = def.Binary
	}
	if a.Connections <= 0 {
		a.Connections = def.Connections
	}
	if a.Split <= 0 {
		a.Split = def.Split
	}
	if a.MinSplitSize == "" {
		a.MinSplitSize = def.MinSplitSize
	}
	return &Aria2c{opts: a, resume: opts.Resume, logger: opts.Logger}
}

// Type returns domain.EngineAria2c
func (a *Aria2c) Type() domain.EngineType { return domain.EngineAria2c }

func (a *Aria2c) sealed() {}

// Available reports whether the binary can be found
func (a *Aria2c) Available() error {
	if _, err := exec.LookPath(a.opts.Binary); err != nil {
		return domain.NewEngineUnavailableError(err)
	}
	return nil
}

// Args returns the command line for item, without the binary
func (a *Aria2c) Args(item WorkItem) []string {
	args := []string{
		"--dir=" + filepath.Dir(item.Destination),
		"--out=" + filepath.Base(item.Destination),
		"--max-connection-per-server=" + strconv.Itoa(a.opts.Connections),
		"--split=" + strconv.Itoa(a.opts.Split),
		"--min-split-size=" + a.opts.MinSplitSize,
	}
	if a.resume {
		args = append(args, "--continue=true")
	}
	args = append(args,
		"--allow-overwrite=true",
		"--auto-file-renaming=false",
		"--console-log-level=warn",
		"--summary-interval=0",
	)
	args = append(args, a.opts.ExtraArgs...)
	return append(args, item.URL)
}

// Transfer runs aria2c for item and inspects the result
func (a *Aria2c) Transfer(ctx context.Context, item WorkItem) domain.TransferOutcome {
	log := a.logger.With(zap.String("subpath", item.Descriptor.Subpath))

	bin, err := exec.LookPath(a.opts.Binary)
	if err != nil {
		return domain.Failed(domain.NewEngineUnavailableError(err))
	}

	args := a.Args(item)
	log.Debug("starting aria2c", zap.String("binary", bin), zap.Strings("args", args))

	cmd := exec.CommandContext(ctx, bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return domain.Failed(domain.NewEngineUnavailableError(err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return domain.Failed(domain.NewEngineUnavailableError(err))
	}
	if err := cmd.Start(); err != nil {
		return domain.Failed(domain.NewEngineUnavailableError(err))
	}

	tail := newLineTail(outputTailLines)
	var g errgroup.Group
	g.Go(func() error { return drain(stdout, "stdout", tail, log) })
	g.Go(func() error { return drain(stderr, "stderr", tail, log) })

	// Pipes must be fully read before Wait closes them
	drainErr := g.Wait()
	waitErr := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return domain.Failed(domain.NewNetworkError(fmt.Errorf("aria2c timed out: %w", ctxErr)))
		}
		return domain.Failed(domain.NewCanceledError(ctxErr))
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code := exitErr.ExitCode()
			log.Warn("aria2c failed",
				zap.Int("exit_code", code),
				zap.String("meaning", ExitCodeMeaning(code)))
			return domain.Failed(domain.NewProcessExitError(code, exitError(code, tail)))
		}
		return domain.Failed(domain.NewProcessExitError(-1, waitErr))
	}
	if drainErr != nil {
		log.Debug("aria2c output drain error", zap.Error(drainErr))
	}

	info, err := os.Stat(item.Destination)
	if err != nil || info.Size() == 0 || info.IsDir() {
		return domain.Failed(domain.NewProcessExitError(0,
			fmt.Errorf("%w: %s", domain.ErrDestinationMissing, item.Destination)))
	}

	log.Info("file downloaded", zap.Int64("size", info.Size()))
	return domain.Completed(info.Size())
}

func exitError(code int, tail *lineTail) error {
	msg := ExitCodeMeaning(code)
	if out := tail.String(); out != "" {
		msg += ": " + out
	}
	return errors.New(msg)
}

func drain(r io.Reader, stream string, tail *lineTail, log *zap.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tail.Add(line)
		log.Debug("aria2c output", zap.String("stream", stream), zap.String("line", line))
	}
	return scanner.Err()
}

// lineTail keeps the last n lines written by either stream
type lineTail struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newLineTail(n int) *lineTail {
	return &lineTail{n: n}
}

func (t *lineTail) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "; ")
}

var exitCodeMeanings = map[int]string{
	1:  "unknown error",
	2:  "timeout",
	3:  "resource not found",
	4:  "too many resources not found",
	5:  "download speed too slow",
	6:  "network problem",
	7:  "unfinished downloads at shutdown",
	8:  "server does not support resume",
	9:  "not enough disk space",
	10: "piece length differs from control file",
	11: "same file already being downloaded",
	12: "same info hash already being downloaded",
	13: "file already exists",
	14: "renaming file failed",
	15: "could not open existing file",
	16: "could not create or truncate file",
	17: "file I/O error",
	18: "could not create directory",
	19: "name resolution failed",
	20: "could not parse metalink document",
	21: "FTP command failed",
	22: "bad HTTP response header",
	23: "too many redirects",
	24: "HTTP authorization failed",
	25: "could not parse bencoded file",
	26: "torrent file corrupted",
	27: "bad magnet URI",
	28: "bad or unrecognized option",
	29: "remote server overloaded",
	30: "could not parse JSON-RPC request",
	32: "checksum validation failed",
}

// ExitCodeMeaning describes an aria2c exit status
func ExitCodeMeaning(code int) string {
	if m, ok := exitCodeMeanings[code]; ok {
		return m
	}
	return fmt.Sprintf("exit status %d", code)
}
