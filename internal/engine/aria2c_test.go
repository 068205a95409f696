package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/N283T/pdb-sync-sub001/internal/domain"
)

// fakeAria2c writes a shell script standing in for aria2c. The script
// records its arguments, then runs body with $dir and $out set.
func fakeAria2c(t *testing.T, body string) (binary, argsFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args.txt")
	script := `#!/bin/sh
printf '%s\n' "$@" > "` + argsFile + `"
for arg in "$@"; do
  case "$arg" in
    --dir=*) dir="${arg#--dir=}" ;;
    --out=*) out="${arg#--out=}" ;;
  esac
done
` + body + "\n"
	binary = filepath.Join(dir, "aria2c")
	if err := os.WriteFile(binary, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return binary, argsFile
}

func newTestAria2c(binary string, resume bool) *Aria2c {
	return NewAria2c(Options{
		Type:   domain.EngineAria2c,
		Resume: resume,
		Aria2c: Aria2cOptions{Binary: binary, ExtraArgs: []string{"--check-certificate=false"}},
		Logger: zap.NewNop(),
	})
}

func aria2cItem(t *testing.T) WorkItem {
	t.Helper()
	dest := filepath.Join(t.TempDir(), "mirror", "data", "1abc.cif.gz")
	return WorkItem{
		Descriptor:  domain.FileDescriptor{Subpath: "data/1abc.cif.gz"},
		URL:         "https://files.example.org/data/1abc.cif.gz",
		Destination: dest,
	}
}

func TestAria2c_Unavailable(t *testing.T) {
	e := newTestAria2c(filepath.Join(t.TempDir(), "no-such-aria2c"), false)

	out := e.Transfer(context.Background(), aria2cItem(t))
	if out.Kind != domain.OutcomeFailed || out.Err.Cause != domain.CauseEngineUnavailable {
		t.Fatalf("Transfer() = %+v, want engine_unavailable", out)
	}
	if !errors.Is(out.Err, domain.ErrEngineUnavailable) {
		t.Errorf("Err = %v, want ErrEngineUnavailable", out.Err)
	}
	if !out.Err.Fatal() {
		t.Error("engine unavailable must be fatal")
	}
	if err := e.Available(); err == nil {
		t.Error("Available() should fail")
	}
}

func TestAria2c_Success(t *testing.T) {
	binary, argsFile := fakeAria2c(t, `mkdir -p "$dir" && printf 'hello' > "$dir/$out"`)
	e := newTestAria2c(binary, true)
	item := aria2cItem(t)

	out := e.Transfer(context.Background(), item)
	if out.Kind != domain.OutcomeCompleted || out.BytesWritten != 5 {
		t.Fatalf("Transfer() = %+v, want completed with 5 bytes", out)
	}

	data, _ := os.ReadFile(argsFile)
	args := strings.Split(strings.TrimSpace(string(data)), "\n")
	want := []string{
		"--dir=" + filepath.Dir(item.Destination),
		"--out=1abc.cif.gz",
		"--max-connection-per-server=4",
		"--split=4",
		"--min-split-size=1M",
		"--continue=true",
		"--allow-overwrite=true",
		"--auto-file-renaming=false",
		"--console-log-level=warn",
		"--summary-interval=0",
		"--check-certificate=false",
		item.URL,
	}
	if strings.Join(args, " ") != strings.Join(want, " ") {
		t.Errorf("args =\n%v\nwant\n%v", args, want)
	}
}

func TestAria2c_NoContinueWithoutResume(t *testing.T) {
	e := newTestAria2c("aria2c", false)
	for _, arg := range e.Args(aria2cItem(t)) {
		if strings.HasPrefix(arg, "--continue") {
			t.Errorf("unexpected %s", arg)
		}
	}
}

func TestAria2c_NonZeroExit(t *testing.T) {
	binary, _ := fakeAria2c(t, `echo "errorCode=3 Resource not found" >&2; exit 3`)
	e := newTestAria2c(binary, false)

	out := e.Transfer(context.Background(), aria2cItem(t))
	if out.Kind != domain.OutcomeFailed || out.Err.Cause != domain.CauseProcessExit {
		t.Fatalf("Transfer() = %+v, want process_exit", out)
	}
	if out.Err.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", out.Err.ExitCode)
	}
	msg := out.Err.Error()
	if !strings.Contains(msg, "resource not found") || !strings.Contains(msg, "errorCode=3") {
		t.Errorf("Error() = %q, want meaning and output tail", msg)
	}
	if !out.Err.Retryable() {
		t.Error("process exit should be retryable")
	}
}

func TestAria2c_ZeroExitWithoutFile(t *testing.T) {
	binary, _ := fakeAria2c(t, `exit 0`)
	e := newTestAria2c(binary, false)

	out := e.Transfer(context.Background(), aria2cItem(t))
	if out.Kind != domain.OutcomeFailed || out.Err.Cause != domain.CauseProcessExit {
		t.Fatalf("Transfer() = %+v, want process_exit", out)
	}
	if !errors.Is(out.Err, domain.ErrDestinationMissing) {
		t.Errorf("Err = %v, want ErrDestinationMissing", out.Err)
	}
}

func TestAria2c_ZeroExitWithEmptyFile(t *testing.T) {
	binary, _ := fakeAria2c(t, `mkdir -p "$dir" && : > "$dir/$out"`)
	e := newTestAria2c(binary, false)

	out := e.Transfer(context.Background(), aria2cItem(t))
	if !errors.Is(out.Err, domain.ErrDestinationMissing) {
		t.Errorf("Transfer() = %+v, want ErrDestinationMissing", out)
	}
}

func TestAria2c_Timeout(t *testing.T) {
	// exec replaces the shell so killing it closes the pipes
	binary, _ := fakeAria2c(t, `exec sleep 10`)
	e := newTestAria2c(binary, false)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	out := e.Transfer(ctx, aria2cItem(t))
	if out.Kind != domain.OutcomeFailed || out.Err.Cause != domain.CauseNetwork {
		t.Fatalf("Transfer() = %+v, want network_error", out)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout did not stop the process")
	}
}

func TestExitCodeMeaning(t *testing.T) {
	if got := ExitCodeMeaning(9); got != "not enough disk space" {
		t.Errorf("ExitCodeMeaning(9) = %q", got)
	}
	if got := ExitCodeMeaning(99); got != "exit status 99" {
		t.Errorf("ExitCodeMeaning(99) = %q", got)
	}
}
