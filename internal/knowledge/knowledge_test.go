package knowledge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kaiseki/kaiseki/internal/chunker"
	"github.com/kaiseki/kaiseki/internal/deps"
	"github.com/kaiseki/kaiseki/internal/embedding"
	"github.com/kaiseki/kaiseki/internal/llm"
	"github.com/kaiseki/kaiseki/internal/models"
	"github.com/kaiseki/kaiseki/internal/rag"
	"github.com/kaiseki/kaiseki/internal/search"
	"github.com/kaiseki/kaiseki/internal/storage"
)

const sep = "================================================"

func section(path, content string) string {
	return fmt.Sprintf("%s\nFILE: %s\nSIZE: %d\n%s\n%s\n", sep, path, len(content), sep, content)
}

func sampleRepo() string {
	return section("app/main.py", "import flask\n\ndef main():\n    print(\"hello\")\n") +
		section("app/util.py", "def helper():\n    return 42\n") +
		section("notes.txt", "")
}

// flakyEmbedder permanently fails any batch containing failSubstring.
type flakyEmbedder struct {
	*embedding.MockEmbedder
	failSubstring string
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if f.failSubstring != "" && strings.Contains(t, f.failSubstring) {
			return nil, errors.New("permanent embedding failure")
		}
	}
	return f.MockEmbedder.EmbedBatch(ctx, texts)
}

// holeyEmbedder reports success but leaves nil vector slots for texts
// containing dropSubstring, as a garbled inference response would.
type holeyEmbedder struct {
	*embedding.MockEmbedder
	dropSubstring string
}

func (h *holeyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := h.MockEmbedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, t := range texts {
		if h.dropSubstring != "" && strings.Contains(t, h.dropSubstring) {
			vectors[i] = nil
		}
	}
	return vectors, nil
}

// slowEmbedder delays each batch to widen concurrency windows in tests.
type slowEmbedder struct {
	*embedding.MockEmbedder
	delay time.Duration
}

func (s *slowEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	time.Sleep(s.delay)
	return s.MockEmbedder.EmbedBatch(ctx, texts)
}

type serviceOpts struct {
	embedder embedding.Embedder
	llm      *llm.MockClient
	capacity int
	minScore float64
	store    storage.Store
}

func newTestService(t *testing.T, opts serviceOpts) (*Service, *Registry) {
	t.Helper()
	if opts.embedder == nil {
		opts.embedder = embedding.NewMockEmbedder(32)
	}
	if opts.llm == nil {
		opts.llm = llm.NewMockClient("answer")
	}
	if opts.capacity == 0 {
		opts.capacity = 16
	}
	builder := NewBuilder(chunker.NewChunker(200, 10, 0), opts.embedder, deps.DefaultRegistry(), 1, 2, nil)
	registry, err := NewRegistry(opts.capacity, builder, opts.store, nil)
	if err != nil {
		t.Fatal(err)
	}
	retriever := search.NewRetriever(opts.embedder, 8, opts.minScore)
	synth := rag.NewSynthesizer(opts.llm, 12000, nil)
	return NewService(registry, retriever, synth, nil), registry
}

func TestIngestThenQuery(t *testing.T) {
	mockLLM := llm.NewMockClient("It prints hello.\n\nSources:\napp/main.py:1-5\n")
	svc, _ := newTestService(t, serviceOpts{llm: mockLLM, minScore: 0.5})
	ctx := context.Background()

	res, err := svc.Ingest(ctx, "fp-a", sampleRepo())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.StateReady {
		t.Errorf("status = %s, want ready", res.Status)
	}
	if res.FileCount != 3 {
		t.Errorf("files = %d, want 3", res.FileCount)
	}
	// The empty notes.txt contributes no chunks.
	if res.ChunkCount != 2 {
		t.Errorf("chunks = %d, want 2", res.ChunkCount)
	}
	if res.Languages["python"] != 2 {
		t.Errorf("languages = %v", res.Languages)
	}

	// Querying with a chunk's exact text embeds to the identical vector, so
	// the top score is 1.
	ans, err := svc.Query(ctx, "fp-a", "import flask\n\ndef main():\n    print(\"hello\")\n", 0)
	if err != nil {
		t.Fatal(err)
	}
	if ans.NoContext {
		t.Fatal("expected grounded answer")
	}
	if ans.Confidence < 0.99 {
		t.Errorf("confidence = %f, want ~1", ans.Confidence)
	}
	if len(ans.CitedSources) != 1 || ans.CitedSources[0].Path != "app/main.py" {
		t.Errorf("sources = %+v", ans.CitedSources)
	}

	st := svc.Status(ctx, "fp-a")
	if st.State != models.StateReady || st.Progress != 1 || st.FileCount != 3 {
		t.Errorf("status = %+v", st)
	}
}

func TestReIngestIsNoOp(t *testing.T) {
	mock := embedding.NewMockEmbedder(32)
	svc, _ := newTestService(t, serviceOpts{embedder: mock})
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, "fp-a", sampleRepo()); err != nil {
		t.Fatal(err)
	}
	before := mock.TextsSeen()

	res, err := svc.Ingest(ctx, "fp-a", sampleRepo())
	if err != nil {
		t.Fatal(err)
	}
	if res.ChunkCount != 2 {
		t.Errorf("re-ingest result = %+v", res)
	}
	if got := mock.TextsSeen(); got != before {
		t.Errorf("re-ingest embedded %d new texts", got-before)
	}
}

func TestConcurrentIngestSharesOneBuild(t *testing.T) {
	mock := embedding.NewMockEmbedder(32)
	emb := &slowEmbedder{MockEmbedder: mock, delay: 10 * time.Millisecond}
	svc, _ := newTestService(t, serviceOpts{embedder: emb})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*models.IngestResult, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Ingest(ctx, "fp-shared", sampleRepo())
		}(i)
	}
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			t.Fatalf("ingest %d: %v", i, errs[i])
		}
		if results[i].ChunkCount != 2 {
			t.Errorf("ingest %d result = %+v", i, results[i])
		}
	}
	// One embedding pass over 2 chunks, regardless of caller count.
	if got := mock.TextsSeen(); got != 2 {
		t.Errorf("embedder saw %d texts, want 2", got)
	}
}

func TestFingerprintIsolation(t *testing.T) {
	svc, _ := newTestService(t, serviceOpts{minScore: -1})
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, "fp-1", section("alpha.py", "def alpha():\n    return 1\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Ingest(ctx, "fp-2", section("beta.py", "def beta():\n    return 2\n")); err != nil {
		t.Fatal(err)
	}

	// Query fp-1 with fp-2's exact chunk text. Even a perfect match in the
	// other repository must never surface here.
	snap, err := svcGet(svc, ctx, "fp-1")
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range snap.Chunks {
		if c.SourceFile != "alpha.py" {
			t.Errorf("fp-1 snapshot contains foreign chunk %s", c.SourceFile)
		}
	}
	ans, err := svc.Query(ctx, "fp-1", "def beta():\n    return 2\n", 5)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range ans.CitedSources {
		if s.Path != "alpha.py" {
			t.Errorf("query on fp-1 cited %s", s.Path)
		}
	}
}

// svcGet reaches the registry through the service for isolation checks.
func svcGet(s *Service, ctx context.Context, fingerprint string) (*Snapshot, error) {
	return s.registry.Get(ctx, fingerprint)
}

func TestQueryUnknownFingerprint(t *testing.T) {
	svc, _ := newTestService(t, serviceOpts{})
	_, err := svc.Query(context.Background(), "missing", "anything", 0)
	if !errors.Is(err, ErrNotIndexed) {
		t.Errorf("err = %v, want ErrNotIndexed", err)
	}
	st := svc.Status(context.Background(), "missing")
	if st.State != models.StateNotFound {
		t.Errorf("state = %s, want not_found", st.State)
	}
}

func TestZeroResultShortCircuit(t *testing.T) {
	mockLLM := llm.NewMockClient("should not run")
	svc, _ := newTestService(t, serviceOpts{llm: mockLLM, minScore: 0.999})
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, "fp-a", section("a.py", "def a():\n    pass\n")); err != nil {
		t.Fatal(err)
	}
	ans, err := svc.Query(ctx, "fp-a", "completely unrelated question text", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !ans.NoContext || ans.Confidence != 0 {
		t.Errorf("answer = %+v", ans)
	}
	if mockLLM.Calls() != 0 {
		t.Errorf("completion called %d times, want 0", mockLLM.Calls())
	}
}

func TestPartialIndexOnEmbeddingFailure(t *testing.T) {
	emb := &flakyEmbedder{MockEmbedder: embedding.NewMockEmbedder(32), failSubstring: "POISON"}
	mockLLM := llm.NewMockClient("answer\n\nSources:\ngood.py:1-2\n")
	svc, _ := newTestService(t, serviceOpts{embedder: emb, llm: mockLLM, minScore: 0.5})
	ctx := context.Background()

	raw := section("good.py", "def good():\n    return 1\n") +
		section("bad.py", "POISON = True\n")
	res, err := svc.Ingest(ctx, "fp-a", raw)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.StatePartial {
		t.Errorf("status = %s, want partial", res.Status)
	}
	if len(res.Warnings) == 0 {
		t.Error("expected warnings for failed batch")
	}
	if !strings.Contains(res.Warnings[0], "bad.py") {
		t.Errorf("warning does not name failed chunks: %q", res.Warnings[0])
	}

	// The surviving chunks are still queryable.
	ans, err := svc.Query(ctx, "fp-a", "def good():\n    return 1\n", 0)
	if err != nil {
		t.Fatal(err)
	}
	if ans.NoContext {
		t.Error("partial index should still answer from surviving chunks")
	}
	st := svc.Status(ctx, "fp-a")
	if st.State != models.StatePartial {
		t.Errorf("status = %s, want partial", st.State)
	}
}

func TestNilVectorFromEmbedderNeverPublishesReady(t *testing.T) {
	emb := &holeyEmbedder{MockEmbedder: embedding.NewMockEmbedder(32), dropSubstring: "HOLE"}
	svc, _ := newTestService(t, serviceOpts{embedder: emb, minScore: 0.5})
	ctx := context.Background()

	raw := section("good.py", "def good():\n    return 1\n") +
		section("bad.py", "HOLE = True\n")
	res, err := svc.Ingest(ctx, "fp-a", raw)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.StatePartial {
		t.Errorf("status = %s, want partial", res.Status)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("missing vector slot must surface as a warning")
	}
	if !strings.Contains(res.Warnings[0], "bad.py") {
		t.Errorf("warning does not name affected chunks: %q", res.Warnings[0])
	}

	ans, err := svc.Query(ctx, "fp-a", "def good():\n    return 1\n", 0)
	if err != nil {
		t.Fatal(err)
	}
	if ans.NoContext {
		t.Error("surviving chunks should still be retrievable")
	}
}

func TestParseErrorPublishesNothing(t *testing.T) {
	svc, _ := newTestService(t, serviceOpts{})
	ctx := context.Background()

	raw := sep + "\nFILE: a.py\nSIZE: 9999\n" + sep + "\nshort\n"
	if _, err := svc.Ingest(ctx, "fp-bad", raw); err == nil {
		t.Fatal("expected parse error")
	}
	st := svc.Status(ctx, "fp-bad")
	if st.State != models.StateNotFound {
		t.Errorf("state after failed ingest = %s, want not_found", st.State)
	}
}

func TestTimedOutBuildPublishesNothing(t *testing.T) {
	emb := &slowEmbedder{MockEmbedder: embedding.NewMockEmbedder(32), delay: 100 * time.Millisecond}
	svc, reg := newTestService(t, serviceOpts{embedder: emb})
	reg.buildTimeout = time.Millisecond

	if _, err := svc.Ingest(context.Background(), "fp-a", sampleRepo()); err == nil {
		t.Fatal("expected error from timed out build")
	}
	st := svc.Status(context.Background(), "fp-a")
	if st.State != models.StateNotFound {
		t.Errorf("state = %s, want not_found", st.State)
	}
}

func TestCallerCancelDoesNotCancelSharedBuild(t *testing.T) {
	emb := &slowEmbedder{MockEmbedder: embedding.NewMockEmbedder(32), delay: 50 * time.Millisecond}
	svc, _ := newTestService(t, serviceOpts{embedder: emb})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Ingest(ctx, "fp-a", sampleRepo())
		errCh <- err
	}()

	// Wait until the build is in flight, then drop the first caller.
	deadline := time.After(2 * time.Second)
	for {
		st := svc.Status(context.Background(), "fp-a")
		if st.State == models.StateBuilding || st.State == models.StateReady {
			break
		}
		select {
		case <-deadline:
			t.Fatal("build never started")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v", err)
	}

	// The shared build keeps running and publishes for everyone else.
	deadline = time.After(5 * time.Second)
	for {
		st := svc.Status(context.Background(), "fp-a")
		if st.State == models.StateReady {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("state = %s, never became ready after caller cancel", st.State)
		case <-time.After(5 * time.Millisecond):
		}
	}

	res, err := svc.Ingest(context.Background(), "fp-a", sampleRepo())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.StateReady {
		t.Errorf("status = %s, want ready", res.Status)
	}
}

func TestEvictionLeastRecentlyQueried(t *testing.T) {
	svc, reg := newTestService(t, serviceOpts{capacity: 2, minScore: -1})
	ctx := context.Background()

	svcMustIngest(t, svc, ctx, "fp-1", section("one.py", "def one():\n    pass\n"))
	svcMustIngest(t, svc, ctx, "fp-2", section("two.py", "def two():\n    pass\n"))

	// Touch fp-1 so fp-2 becomes the eviction candidate.
	if _, err := svc.Query(ctx, "fp-1", "def one", 1); err != nil {
		t.Fatal(err)
	}
	svcMustIngest(t, svc, ctx, "fp-3", section("three.py", "def three():\n    pass\n"))

	if reg.Len() != 2 {
		t.Errorf("registry holds %d snapshots, want 2", reg.Len())
	}
	st := svc.Status(ctx, "fp-2")
	if st.State != models.StateEvicted {
		t.Errorf("fp-2 state = %s, want evicted", st.State)
	}
	if _, err := svc.Query(ctx, "fp-2", "def two", 1); !errors.Is(err, ErrEvicted) {
		t.Errorf("query evicted = %v, want ErrEvicted", err)
	}
	// The survivors are untouched.
	if _, err := svc.Query(ctx, "fp-1", "def one", 1); err != nil {
		t.Errorf("fp-1 query after eviction: %v", err)
	}
}

func TestEvictedSnapshotRehydratesFromStore(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "snap.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	svc, _ := newTestService(t, serviceOpts{capacity: 1, minScore: -1, store: store})
	ctx := context.Background()

	svcMustIngest(t, svc, ctx, "fp-1", section("one.py", "def one():\n    pass\n"))
	svcMustIngest(t, svc, ctx, "fp-2", section("two.py", "def two():\n    pass\n"))

	// fp-1 was evicted, but the store still has it.
	ans, err := svc.Query(ctx, "fp-1", "def one():\n    pass\n", 1)
	if err != nil {
		t.Fatalf("query after eviction with store: %v", err)
	}
	if ans.NoContext {
		t.Error("rehydrated snapshot returned no context")
	}
	st := svc.Status(ctx, "fp-1")
	if st.State != models.StateReady {
		t.Errorf("state after rehydration = %s, want ready", st.State)
	}
}

func TestIngestStateWhileBuilding(t *testing.T) {
	mock := embedding.NewMockEmbedder(32)
	emb := &slowEmbedder{MockEmbedder: mock, delay: 100 * time.Millisecond}
	svc, _ := newTestService(t, serviceOpts{embedder: emb})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Ingest(ctx, "fp-slow", sampleRepo())
	}()

	// Poll until the build registers, then check the reported state.
	deadline := time.After(2 * time.Second)
	for {
		st := svc.Status(ctx, "fp-slow")
		if st.State == models.StateBuilding {
			if st.Progress < 0 || st.Progress > 1 {
				t.Errorf("progress = %f", st.Progress)
			}
			break
		}
		if st.State == models.StateReady {
			break // build finished before we sampled it
		}
		select {
		case <-deadline:
			t.Fatal("never observed building or ready state")
		case <-time.After(time.Millisecond):
		}
	}
	<-done

	st := svc.Status(ctx, "fp-slow")
	if st.State != models.StateReady {
		t.Errorf("final state = %s, want ready", st.State)
	}
}

func svcMustIngest(t *testing.T, svc *Service, ctx context.Context, fingerprint, raw string) {
	t.Helper()
	if _, err := svc.Ingest(ctx, fingerprint, raw); err != nil {
		t.Fatalf("ingest %s: %v", fingerprint, err)
	}
}
