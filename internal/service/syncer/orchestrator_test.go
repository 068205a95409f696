package syncer

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/N283T/pdb-sync-sub001/internal/adapter/filesystem"
	"github.com/N283T/pdb-sync-sub001/internal/checksum"
	"github.com/N283T/pdb-sync-sub001/internal/domain"
	"github.com/N283T/pdb-sync-sub001/internal/domain/event"
	"github.com/N283T/pdb-sync-sub001/internal/domain/vo"
	"github.com/N283T/pdb-sync-sub001/internal/engine"
)

const (
	md5Hello = "5d41402abc4b2a76b9719d911017c592"
	md5World = "7d793037a0760186574b0282f2f435e7"
)

// mockEngine returns scripted outcomes per subpath
type mockEngine struct {
	mu       sync.Mutex
	typ      domain.EngineType
	outcomes map[string][]domain.TransferOutcome
	calls    map[string]int
	block    chan struct{}
	started  chan string
}

func newMockEngine() *mockEngine {
	return &mockEngine{
		typ:      domain.EngineBuiltin,
		outcomes: make(map[string][]domain.TransferOutcome),
		calls:    make(map[string]int),
	}
}

func (m *mockEngine) Type() domain.EngineType { return m.typ }

func (m *mockEngine) Transfer(ctx context.Context, item engine.WorkItem) domain.TransferOutcome {
	if m.started != nil {
		m.started <- item.Descriptor.Subpath
	}
	if m.block != nil {
		<-m.block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.calls[item.Descriptor.Subpath]
	m.calls[item.Descriptor.Subpath] = n + 1

	script := m.outcomes[item.Descriptor.Subpath]
	if len(script) == 0 {
		if ctx.Err() != nil {
			return domain.Failed(domain.NewCanceledError(ctx.Err()))
		}
		return domain.Completed(1)
	}
	if n >= len(script) {
		return script[len(script)-1]
	}
	return script[n]
}

func (m *mockEngine) Calls(subpath string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[subpath]
}

// stubVerifier matches every file
type stubVerifier struct{}

func (stubVerifier) Verify(ctx context.Context, path string, expected domain.ExpectedDigest) domain.VerifyResult {
	return domain.Match(expected.Hex)
}

func newTestFS(t *testing.T) *filesystem.Manager {
	t.Helper()
	fs, err := filesystem.NewManager(filepath.Join(t.TempDir(), "mirror"))
	if err != nil {
		t.Fatal(err)
	}
	return fs
}

func testConfig() *Config {
	return &Config{
		BaseURL:         "http://files.invalid/pub",
		MaxRetries:      3,
		RetryBackoff:    time.Millisecond,
		RetryMaxBackoff: 5 * time.Millisecond,
		PerFileTimeout:  10 * time.Second,
	}
}

func digest(t *testing.T, hex string) *domain.ExpectedDigest {
	t.Helper()
	d, err := domain.NewExpectedDigest(domain.AlgorithmMD5, hex)
	if err != nil {
		t.Fatal(err)
	}
	return &d
}

func descriptors(subpaths ...string) []domain.FileDescriptor {
	out := make([]domain.FileDescriptor, len(subpaths))
	for i, s := range subpaths {
		out[i] = domain.FileDescriptor{Remote: s, Subpath: s}
	}
	return out
}

// fileServer serves fixed bodies by URL path and counts requests
type fileServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newFileServer(t *testing.T, files map[string]string) *fileServer {
	t.Helper()
	fsrv := &fileServer{}
	fsrv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fsrv.hits.Add(1)
		body, ok := files[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, "f", time.Time{}, bytes.NewReader([]byte(body)))
	}))
	t.Cleanup(fsrv.Close)
	return fsrv
}

func newBuiltinOrchestrator(t *testing.T, serverURL string, manifest DigestLookup) (*Orchestrator, *filesystem.Manager) {
	t.Helper()
	fs := newTestFS(t)
	eng, err := engine.New(engine.Options{
		Type:       domain.EngineBuiltin,
		FileSystem: fs,
		Resume:     true,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.BaseURL = serverURL
	return New(cfg, eng, fs, checksum.NewVerifier(0, zap.NewNop()), manifest, nil, zap.NewNop()), fs
}

func TestRun_VerifiedAgainstManifest(t *testing.T) {
	server := newFileServer(t, map[string]string{
		"data/hello.txt": "hello",
		"data/world.txt": "world",
	})
	manifest, err := checksum.Parse(strings.NewReader(
		md5Hello+"  data/hello.txt\n"+md5World+"  data/world.txt\n"), checksum.ParseOptions{})
	if err != nil {
		t.Fatal(err)
	}

	o, fs := newBuiltinOrchestrator(t, server.URL, manifest)
	report := o.Run(context.Background(), descriptors("data/hello.txt", "data/world.txt"))

	if !report.OK() {
		t.Fatalf("report not OK: %+v", report.Totals)
	}
	if report.Totals.Attempted != 2 || report.Totals.VerifiedOK != 2 || report.Totals.BytesTransferred != 10 {
		t.Errorf("Totals = %+v", report.Totals)
	}
	for _, res := range report.Entries() {
		if res.State != domain.StateVerified || res.Verify.Kind != domain.VerifyMatch {
			t.Errorf("%s: state %s, verify %v", res.Subpath, res.State, res.Verify)
		}
	}
	data, _ := os.ReadFile(filepath.Join(fs.RootDir(), "data", "hello.txt"))
	if string(data) != "hello" {
		t.Errorf("content = %q", data)
	}
	if report.PassID == "" || report.FinishedAt.IsZero() {
		t.Error("report must carry a pass id and finish time")
	}
}

func TestRun_TruncatedFileFailsVerification(t *testing.T) {
	server := newFileServer(t, map[string]string{"hello.txt": "hell"})
	o, _ := newBuiltinOrchestrator(t, server.URL, nil)

	d := domain.FileDescriptor{Remote: "hello.txt", Subpath: "hello.txt", Digest: digest(t, md5Hello)}
	report := o.Run(context.Background(), []domain.FileDescriptor{d})

	res := report.Files["hello.txt"]
	if res.State != domain.StateFailed {
		t.Fatalf("state = %s, want failed", res.State)
	}
	if res.Verify.Kind != domain.VerifyMismatch {
		t.Fatalf("verify = %v, want mismatch", res.Verify)
	}
	if res.Verify.Expected != md5Hello || res.Verify.Actual == "" || res.Verify.Actual == md5Hello {
		t.Errorf("verify digests = %q / %q", res.Verify.Expected, res.Verify.Actual)
	}
	if !errors.Is(res.Err, domain.ErrVerifyFailed) {
		t.Errorf("Err = %v, want ErrVerifyFailed", res.Err)
	}
	if server.hits.Load() != 1 {
		t.Errorf("requests = %d, a mismatch must not be re-downloaded", server.hits.Load())
	}
	if report.OK() || report.Totals.Failed != 1 {
		t.Errorf("Totals = %+v", report.Totals)
	}
}

func TestRun_TraversalRejectedWithoutRequest(t *testing.T) {
	server := newFileServer(t, map[string]string{"secret": "x"})
	o, fs := newBuiltinOrchestrator(t, server.URL, nil)

	report := o.Run(context.Background(), descriptors("../secret"))

	res := report.Files["../secret"]
	if res.State != domain.StateFailed || !errors.Is(res.Err, vo.ErrTraversal) {
		t.Fatalf("result = %+v, want traversal failure", res)
	}
	if server.hits.Load() != 0 {
		t.Errorf("requests = %d, want 0", server.hits.Load())
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(fs.RootDir()), "secret")); !os.IsNotExist(err) {
		t.Error("nothing may be written outside the mirror root")
	}
	if report.Aborted {
		t.Error("a traversal rejection is not fatal")
	}
}

func TestRun_MissingAria2cAbortsPass(t *testing.T) {
	fs := newTestFS(t)
	eng, err := engine.New(engine.Options{
		Type:   domain.EngineAria2c,
		Aria2c: engine.Aria2cOptions{Binary: filepath.Join(t.TempDir(), "missing-aria2c")},
		Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	o := New(testConfig(), eng, fs, stubVerifier{}, nil, nil, zap.NewNop())

	report := o.Run(context.Background(), descriptors("a", "b", "c"))

	if !report.Aborted || !errors.Is(report.AbortReason, domain.ErrEngineUnavailable) {
		t.Fatalf("Aborted = %v, reason = %v", report.Aborted, report.AbortReason)
	}
	if report.Totals.Attempted != 1 || report.Totals.Failed != 1 {
		t.Errorf("Totals = %+v, want one attempted failure", report.Totals)
	}
	if got := strings.Join(report.Abandoned, ","); got != "b,c" {
		t.Errorf("Abandoned = %v, want [b c]", report.Abandoned)
	}
	res := report.Files["a"]
	te, ok := domain.AsTransferError(res.Err)
	if !ok || te.Cause != domain.CauseEngineUnavailable {
		t.Errorf("a: Err = %v, want engine_unavailable", res.Err)
	}
	if res.Attempts != 1 {
		t.Errorf("a: Attempts = %d, engine unavailable is not retried", res.Attempts)
	}
}

func TestRun_RetriesRetryableFailures(t *testing.T) {
	eng := newMockEngine()
	eng.outcomes["flaky"] = []domain.TransferOutcome{
		domain.Failed(domain.NewNetworkError(errors.New("connection reset"))),
		domain.Failed(domain.NewHTTPStatusError(http.StatusServiceUnavailable)),
		domain.Completed(5),
	}
	o := New(testConfig(), eng, newTestFS(t), stubVerifier{}, nil, nil, zap.NewNop())

	report := o.Run(context.Background(), descriptors("flaky"))

	res := report.Files["flaky"]
	if res.State != domain.StateVerified || res.Attempts != 3 {
		t.Errorf("state = %s, attempts = %d; want verified after 3", res.State, res.Attempts)
	}
	if res.Verify.Kind != domain.VerifyUnverified || res.Verify.Reason != "no expected digest" {
		t.Errorf("verify = %v, want unverified without digest", res.Verify)
	}
}

func TestRun_RetryExhaustion(t *testing.T) {
	eng := newMockEngine()
	eng.outcomes["down"] = []domain.TransferOutcome{
		domain.Failed(domain.NewHTTPStatusError(http.StatusBadGateway)),
	}
	cfg := testConfig()
	cfg.MaxRetries = 2
	o := New(cfg, eng, newTestFS(t), stubVerifier{}, nil, nil, zap.NewNop())

	report := o.Run(context.Background(), descriptors("down"))

	res := report.Files["down"]
	if res.State != domain.StateFailed || res.Attempts != 3 || eng.Calls("down") != 3 {
		t.Errorf("state = %s, attempts = %d, calls = %d; want failed after 3", res.State, res.Attempts, eng.Calls("down"))
	}
	if report.Aborted {
		t.Error("exhausted retries are not fatal")
	}
}

func TestRun_NonRetryableFailsOnce(t *testing.T) {
	eng := newMockEngine()
	eng.outcomes["gone"] = []domain.TransferOutcome{
		domain.Failed(domain.NewHTTPStatusError(http.StatusNotFound)),
	}
	o := New(testConfig(), eng, newTestFS(t), stubVerifier{}, nil, nil, zap.NewNop())

	report := o.Run(context.Background(), descriptors("gone", "ok"))

	if got := eng.Calls("gone"); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
	if report.Files["ok"].State != domain.StateVerified {
		t.Error("other files continue after a non-fatal failure")
	}
	if got := report.FailedSubpaths(); len(got) != 1 || got[0] != "gone" {
		t.Errorf("FailedSubpaths() = %v", got)
	}
}

func TestRun_DescriptorDigestBeatsManifest(t *testing.T) {
	server := newFileServer(t, map[string]string{"hello.txt": "hello"})
	manifest, _ := checksum.Parse(strings.NewReader(md5World+"  hello.txt\n"), checksum.ParseOptions{})
	o, _ := newBuiltinOrchestrator(t, server.URL, manifest)

	d := domain.FileDescriptor{Remote: "hello.txt", Subpath: "hello.txt", Digest: digest(t, md5Hello)}
	report := o.Run(context.Background(), []domain.FileDescriptor{d})

	if res := report.Files["hello.txt"]; res.State != domain.StateVerified || !res.Verify.OK() {
		t.Errorf("result = %+v, want verified by descriptor digest", res)
	}
}

func TestRun_SkippedFileStillVerified(t *testing.T) {
	server := newFileServer(t, map[string]string{"hello.txt": "hello"})
	o, fs := newBuiltinOrchestrator(t, server.URL, nil)
	fs.EnsureRoot()
	os.WriteFile(filepath.Join(fs.RootDir(), "hello.txt"), []byte("HELLO"), 0644)

	d := domain.FileDescriptor{Remote: "hello.txt", Subpath: "hello.txt", ExpectedSize: 5, Digest: digest(t, md5Hello)}
	report := o.Run(context.Background(), []domain.FileDescriptor{d})

	res := report.Files["hello.txt"]
	if res.Outcome.Kind != domain.OutcomeSkipped {
		t.Fatalf("outcome = %v, want skipped", res.Outcome.Kind)
	}
	// Same size, wrong bytes: verification still catches it
	if res.State != domain.StateFailed || res.Verify.Kind != domain.VerifyMismatch {
		t.Errorf("state = %s, verify = %v", res.State, res.Verify)
	}
	if report.Totals.Skipped != 1 || server.hits.Load() != 0 {
		t.Errorf("Totals = %+v, hits = %d", report.Totals, server.hits.Load())
	}
}

func TestRun_CanceledBeforeStart(t *testing.T) {
	eng := newMockEngine()
	o := New(testConfig(), eng, newTestFS(t), stubVerifier{}, nil, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := o.Run(ctx, descriptors("a", "b", "c"))

	if report.Totals.Attempted != 0 || len(report.Abandoned) != 3 {
		t.Errorf("Attempted = %d, Abandoned = %v", report.Totals.Attempted, report.Abandoned)
	}
	if !report.Aborted || !errors.Is(report.AbortReason, domain.ErrPassAborted) {
		t.Errorf("AbortReason = %v, want ErrPassAborted", report.AbortReason)
	}
}

func TestRun_CancelLetsInFlightFinish(t *testing.T) {
	eng := newMockEngine()
	eng.block = make(chan struct{})
	eng.started = make(chan string, 3)
	cfg := testConfig()
	cfg.Workers = 1
	o := New(cfg, eng, newTestFS(t), stubVerifier{}, nil, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *domain.SyncReport)
	go func() { done <- o.Run(ctx, descriptors("a", "b", "c")) }()

	if got := <-eng.started; got != "a" {
		t.Fatalf("first transfer = %q", got)
	}
	cancel()
	// Give the dispatcher time to observe the cancellation
	time.Sleep(20 * time.Millisecond)
	close(eng.block)

	report := <-done
	if res := report.Files["a"]; res.State != domain.StateVerified {
		t.Errorf("in-flight transfer state = %s, want verified", res.State)
	}
	if got := strings.Join(report.Abandoned, ","); got != "b,c" {
		t.Errorf("Abandoned = %v, want [b c]", report.Abandoned)
	}
	if !report.Aborted {
		t.Error("a canceled pass is aborted")
	}
}

func TestRun_UncreatableRootAbandonsAll(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "blocker")
	os.WriteFile(blocker, []byte("x"), 0644)
	fs, _ := filesystem.NewManager(filepath.Join(blocker, "mirror"))

	eng := newMockEngine()
	o := New(testConfig(), eng, fs, stubVerifier{}, nil, nil, zap.NewNop())
	report := o.Run(context.Background(), descriptors("a", "b"))

	if !report.Aborted || !domain.IsFatal(report.AbortReason) {
		t.Errorf("AbortReason = %v, want fatal disk error", report.AbortReason)
	}
	if len(report.Abandoned) != 2 || eng.Calls("a") != 0 {
		t.Errorf("Abandoned = %v, calls = %d", report.Abandoned, eng.Calls("a"))
	}
}

func TestRun_DeduplicatesDescriptors(t *testing.T) {
	eng := newMockEngine()
	o := New(testConfig(), eng, newTestFS(t), stubVerifier{}, nil, nil, zap.NewNop())

	report := o.Run(context.Background(), descriptors("a", "a", "b"))

	if report.Totals.Attempted != 2 || eng.Calls("a") != 1 {
		t.Errorf("Attempted = %d, calls(a) = %d", report.Totals.Attempted, eng.Calls("a"))
	}
}

func TestRun_DeterministicEntries(t *testing.T) {
	eng := newMockEngine()
	cfg := testConfig()
	cfg.Workers = 8
	o := New(cfg, eng, newTestFS(t), stubVerifier{}, nil, nil, zap.NewNop())

	subpaths := []string{"e", "c", "a", "d", "b", "f", "h", "g"}
	report := o.Run(context.Background(), descriptors(subpaths...))

	var got []string
	for _, res := range report.Entries() {
		got = append(got, res.Subpath)
	}
	if strings.Join(got, "") != "abcdefgh" {
		t.Errorf("Entries() order = %v", got)
	}
}

func TestRun_StateEvents(t *testing.T) {
	eng := newMockEngine()
	dispatcher := event.NewInMemoryDispatcher(false)
	handler := event.NewChannelHandler(64, event.NameFileStateChanged)
	dispatcher.Subscribe(handler)

	o := New(testConfig(), eng, newTestFS(t), stubVerifier{}, nil, dispatcher, zap.NewNop())
	o.Run(context.Background(), descriptors("a"))
	handler.Close()

	var states []string
	for ev := range handler.Events() {
		states = append(states, string(ev.(event.FileStateChanged).To))
	}
	want := "resolving,transferring,verifying,verified"
	if got := strings.Join(states, ","); got != want {
		t.Errorf("states = %s, want %s", got, want)
	}
}

func TestRetry_OnlyFailedSubset(t *testing.T) {
	eng := newMockEngine()
	eng.outcomes["b"] = []domain.TransferOutcome{
		domain.Failed(domain.NewHTTPStatusError(http.StatusNotFound)),
		domain.Completed(1),
	}
	o := New(testConfig(), eng, newTestFS(t), stubVerifier{}, nil, nil, zap.NewNop())
	all := descriptors("a", "b", "c")

	first := o.Run(context.Background(), all)
	if got := first.FailedSubpaths(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("FailedSubpaths() = %v", got)
	}

	second := o.Retry(context.Background(), first, all)
	if second.Totals.Attempted != 1 || !second.OK() {
		t.Errorf("retry Totals = %+v", second.Totals)
	}
	if eng.Calls("a") != 1 || eng.Calls("b") != 2 {
		t.Errorf("calls a=%d b=%d", eng.Calls("a"), eng.Calls("b"))
	}
	if second.PassID == first.PassID {
		t.Error("retry must be a new pass")
	}
}

func TestWorkerCount(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		typ     domain.EngineType
		files   int
		want    int
	}{
		{"builtin default", 0, domain.EngineBuiltin, 10, 4},
		{"aria2c default", 0, domain.EngineAria2c, 10, 1},
		{"explicit", 6, domain.EngineAria2c, 10, 6},
		{"capped by files", 8, domain.EngineBuiltin, 3, 3},
		{"no files", 0, domain.EngineBuiltin, 0, 4},
	}
	for _, tt := range tests {
		eng := newMockEngine()
		eng.typ = tt.typ
		cfg := testConfig()
		cfg.Workers = tt.workers
		o := New(cfg, eng, nil, nil, nil, nil, zap.NewNop())
		if got := o.workerCount(tt.files); got != tt.want {
			t.Errorf("%s: workerCount() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestBackoff(t *testing.T) {
	o := New(&Config{RetryBackoff: 100 * time.Millisecond, RetryMaxBackoff: time.Second}, newMockEngine(), nil, nil, nil, nil, zap.NewNop())

	for attempt, base := range map[int]time.Duration{1: 100 * time.Millisecond, 3: 400 * time.Millisecond, 10: time.Second} {
		for i := 0; i < 20; i++ {
			got := o.backoff(attempt)
			if got < base/2 || got > base*3/2 {
				t.Errorf("backoff(%d) = %v, want within [%v, %v]", attempt, got, base/2, base*3/2)
			}
		}
	}
}

func TestRun_RootSubpathFailsOnlyThatFile(t *testing.T) {
	server := newFileServer(t, map[string]string{"b.txt": "hello"})
	o, _ := newBuiltinOrchestrator(t, server.URL, nil)
	o.config.Workers = 1

	ds := []domain.FileDescriptor{
		{Remote: "index.html", Subpath: "."},
		{Remote: "b.txt", Subpath: "b.txt"},
	}
	report := o.Run(context.Background(), ds)

	res := report.Files[""]
	te, ok := domain.AsTransferError(res.Err)
	if res.State != domain.StateFailed || !ok || te.Cause != domain.CauseInvalidDestination {
		t.Fatalf("root result = %+v, want invalid_destination failure", res)
	}
	if report.Aborted || len(report.Abandoned) != 0 {
		t.Fatalf("pass aborted = %v, abandoned = %v", report.Aborted, report.Abandoned)
	}
	if report.Files["b.txt"].State != domain.StateVerified {
		t.Errorf("b.txt = %+v, want verified", report.Files["b.txt"])
	}
	if got := server.hits.Load(); got != 1 {
		t.Errorf("requests = %d, want 1 (only b.txt)", got)
	}
}

func TestRun_DirectoryDestinationFailsOnlyThatFile(t *testing.T) {
	server := newFileServer(t, map[string]string{"dir": "x", "b.txt": "hello"})
	o, fs := newBuiltinOrchestrator(t, server.URL, nil)
	o.config.Workers = 1
	if err := os.MkdirAll(filepath.Join(fs.RootDir(), "dir"), 0755); err != nil {
		t.Fatal(err)
	}

	report := o.Run(context.Background(), descriptors("dir", "b.txt"))

	res := report.Files["dir"]
	te, ok := domain.AsTransferError(res.Err)
	if res.State != domain.StateFailed || !ok || te.Cause != domain.CauseInvalidDestination {
		t.Fatalf("dir result = %+v, want invalid_destination failure", res)
	}
	if report.Aborted {
		t.Fatalf("pass aborted: %v", report.AbortReason)
	}
	if report.Files["b.txt"].State != domain.StateVerified {
		t.Errorf("b.txt = %+v, want verified", report.Files["b.txt"])
	}
	if got := server.hits.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestRun_DeduplicatesEquivalentSubpaths(t *testing.T) {
	eng := newMockEngine()
	cfg := testConfig()
	cfg.Workers = 4
	o := New(cfg, eng, newTestFS(t), stubVerifier{}, nil, nil, zap.NewNop())

	report := o.Run(context.Background(), descriptors("a.txt", "./a.txt", "a.txt/", `b\c.txt`, "b/c.txt"))

	if report.Totals.Attempted != 2 || !report.OK() {
		t.Fatalf("Totals = %+v, OK = %v", report.Totals, report.OK())
	}
	if eng.Calls("a.txt") != 1 || eng.Calls("b/c.txt") != 1 {
		t.Errorf("calls a.txt=%d b/c.txt=%d, want 1 each", eng.Calls("a.txt"), eng.Calls("b/c.txt"))
	}
	for _, key := range []string{"a.txt", "b/c.txt"} {
		if _, ok := report.Files[key]; !ok {
			t.Errorf("report missing normalized key %q: %v", key, report.Entries())
		}
	}
}

func TestRetrySubpaths_MatchesNormalizedSubpaths(t *testing.T) {
	eng := newMockEngine()
	o := New(testConfig(), eng, newTestFS(t), stubVerifier{}, nil, nil, zap.NewNop())

	report := o.RetrySubpaths(context.Background(), []string{"a.txt"}, descriptors("./a.txt", "b.txt"))

	if report.Totals.Attempted != 1 || eng.Calls("a.txt") != 1 || eng.Calls("b.txt") != 0 {
		t.Errorf("Totals = %+v, calls a.txt=%d b.txt=%d", report.Totals, eng.Calls("a.txt"), eng.Calls("b.txt"))
	}
}

// slowVerifier only returns once its context ends
type slowVerifier struct{}

func (slowVerifier) Verify(ctx context.Context, path string, expected domain.ExpectedDigest) domain.VerifyResult {
	select {
	case <-ctx.Done():
		return domain.Unverified(ctx.Err().Error())
	case <-time.After(10 * time.Second):
		return domain.Match(expected.Hex)
	}
}

func TestRun_VerificationBoundedByPerFileTimeout(t *testing.T) {
	eng := newMockEngine()
	cfg := testConfig()
	cfg.PerFileTimeout = 50 * time.Millisecond
	o := New(cfg, eng, newTestFS(t), slowVerifier{}, nil, nil, zap.NewNop())

	d := domain.FileDescriptor{Remote: "a.txt", Subpath: "a.txt", Digest: digest(t, md5Hello)}

	done := make(chan *domain.SyncReport, 1)
	go func() { done <- o.Run(context.Background(), []domain.FileDescriptor{d}) }()

	select {
	case report := <-done:
		res := report.Files["a.txt"]
		if res.State != domain.StateFailed || !errors.Is(res.Err, domain.ErrVerifyFailed) {
			t.Errorf("result = %+v, want verification failure", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("verification was not bounded by PerFileTimeout")
	}
}
