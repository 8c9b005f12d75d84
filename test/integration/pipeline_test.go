// Package integration exercises the full ingest-query-graph pipeline through
// the HTTP API, backed by a real SQLite snapshot store.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/kaiseki/kaiseki/internal/chunker"
	"github.com/kaiseki/kaiseki/internal/config"
	"github.com/kaiseki/kaiseki/internal/deps"
	"github.com/kaiseki/kaiseki/internal/embedding"
	"github.com/kaiseki/kaiseki/internal/knowledge"
	"github.com/kaiseki/kaiseki/internal/llm"
	"github.com/kaiseki/kaiseki/internal/models"
	"github.com/kaiseki/kaiseki/internal/rag"
	"github.com/kaiseki/kaiseki/internal/search"
	"github.com/kaiseki/kaiseki/internal/server"
	"github.com/kaiseki/kaiseki/internal/storage"
	"go.uber.org/zap"
)

const sep = "================================================"

func section(path, content string) string {
	return fmt.Sprintf("%s\nFILE: %s\nSIZE: %d\n%s\n%s\n", sep, path, len(content), sep, content)
}

// Contents are small enough that each file becomes a single chunk, so a
// query matching a file's exact text retrieves that chunk with score ~1.
const (
	mainPy = "import flask\nimport app.util\n\n\ndef create_app():\n    app = flask.Flask(__name__)\n    return app\n"
	utilPy = "def add(a, b):\n    return a + b\n"
)

func repoText() string {
	return section("app/main.py", mainPy) + section("app/util.py", utilPy) + section("requirements.txt", "flask==2.0.1\n")
}

// newStack builds the whole service against a SQLite store at dbPath and
// returns the HTTP handler plus the mock completion client for steering.
func newStack(t *testing.T, dbPath string) (http.Handler, *llm.MockClient, func()) {
	t.Helper()
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}

	logger := zap.NewNop()
	embedder := embedding.NewMockEmbedder(32)
	mockLLM := llm.NewMockClient("The app is a Flask application.\n\nSources:\napp/main.py:5-7\n")

	builder := knowledge.NewBuilder(chunker.NewChunker(400, 10, 0), embedder, deps.DefaultRegistry(), 8, 2, logger)
	registry, err := knowledge.NewRegistry(4, builder, store, logger)
	if err != nil {
		store.Close()
		t.Fatal(err)
	}
	retriever := search.NewRetriever(embedder, 8, -1)
	synthesizer := rag.NewSynthesizer(mockLLM, 12000, logger)
	service := knowledge.NewService(registry, retriever, synthesizer, logger)

	srv := server.NewServer(service, &config.ServerConfig{Host: "localhost", Port: 0}, logger)
	return srv.Router(), mockLLM, func() { store.Close() }
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s: %v (body %s)", method, path, err, rec.Body.String())
		}
	}
	return rec.Code
}

func TestPipelineIngestQueryGraph(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "snapshots.db")
	handler, _, cleanup := newStack(t, dbPath)
	defer cleanup()

	var result models.IngestResult
	code := doJSON(t, handler, http.MethodPost, "/api/v1/repositories/fp-flask/ingest",
		map[string]string{"raw_text": repoText()}, &result)
	if code != http.StatusOK {
		t.Fatalf("ingest status = %d", code)
	}
	if result.Status != models.StateReady {
		t.Fatalf("status = %s, want ready", result.Status)
	}
	if result.FileCount != 3 {
		t.Errorf("file count = %d, want 3", result.FileCount)
	}
	if result.Languages["python"] != 2 {
		t.Errorf("python files = %d, want 2", result.Languages["python"])
	}

	var status models.StatusInfo
	code = doJSON(t, handler, http.MethodGet, "/api/v1/repositories/fp-flask/status", nil, &status)
	if code != http.StatusOK || status.State != models.StateReady {
		t.Fatalf("status after ingest: code %d state %s", code, status.State)
	}
	if status.Progress != 1 {
		t.Errorf("progress = %f, want 1", status.Progress)
	}

	var answer models.Answer
	code = doJSON(t, handler, http.MethodPost, "/api/v1/repositories/fp-flask/query",
		&models.QueryRequest{Question: mainPy}, &answer)
	if code != http.StatusOK {
		t.Fatalf("query status = %d", code)
	}
	if answer.NoContext {
		t.Fatal("expected context to be found")
	}
	if len(answer.CitedSources) == 0 || answer.CitedSources[0].Path != "app/main.py" {
		t.Errorf("cited sources = %+v, want app/main.py", answer.CitedSources)
	}
	if answer.Confidence <= 0 {
		t.Errorf("confidence = %f, want > 0", answer.Confidence)
	}

	var graph models.Graph
	code = doJSON(t, handler, http.MethodGet, "/api/v1/repositories/fp-flask/graph", nil, &graph)
	if code != http.StatusOK {
		t.Fatalf("graph status = %d", code)
	}
	if len(graph.Nodes) == 0 || len(graph.Edges) == 0 {
		t.Fatalf("graph empty: %d nodes %d edges", len(graph.Nodes), len(graph.Edges))
	}
	foundImport := false
	for _, e := range graph.Edges {
		if e.From == "file:app/main.py" && e.To == "file:app/util.py" && e.Kind == models.GraphEdgeImports {
			foundImport = true
		}
	}
	if !foundImport {
		t.Errorf("missing import edge main.py -> util.py in %d edges", len(graph.Edges))
	}
}

func TestPipelineSurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "snapshots.db")

	handler, _, cleanup := newStack(t, dbPath)
	var result models.IngestResult
	if code := doJSON(t, handler, http.MethodPost, "/api/v1/repositories/fp-restart/ingest",
		map[string]string{"raw_text": repoText()}, &result); code != http.StatusOK {
		t.Fatalf("ingest status = %d", code)
	}
	cleanup()

	// A fresh stack over the same database must serve the fingerprint from
	// the persisted snapshot without re-ingestion.
	handler2, _, cleanup2 := newStack(t, dbPath)
	defer cleanup2()

	var answer models.Answer
	if code := doJSON(t, handler2, http.MethodPost, "/api/v1/repositories/fp-restart/query",
		&models.QueryRequest{Question: utilPy}, &answer); code != http.StatusOK {
		t.Fatalf("query after restart = %d", code)
	}
	if answer.NoContext {
		t.Fatal("expected rehydrated snapshot to return context")
	}

	var status models.StatusInfo
	if code := doJSON(t, handler2, http.MethodGet, "/api/v1/repositories/fp-restart/status", nil, &status); code != http.StatusOK {
		t.Fatalf("status after restart = %d", code)
	}
	if status.State != models.StateReady {
		t.Errorf("state after restart = %s, want ready", status.State)
	}
}

func TestPipelineErrorMapping(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "snapshots.db")
	handler, mockLLM, cleanup := newStack(t, dbPath)
	defer cleanup()

	// Malformed dump is a client error and publishes nothing.
	if code := doJSON(t, handler, http.MethodPost, "/api/v1/repositories/fp-bad/ingest",
		map[string]string{"raw_text": "not a repository dump"}, nil); code != http.StatusBadRequest {
		t.Errorf("malformed ingest = %d, want 400", code)
	}
	if code := doJSON(t, handler, http.MethodGet, "/api/v1/repositories/fp-bad/graph", nil, nil); code != http.StatusNotFound {
		t.Errorf("graph for failed ingest = %d, want 404", code)
	}

	if code := doJSON(t, handler, http.MethodPost, "/api/v1/repositories/fp-ok/ingest",
		map[string]string{"raw_text": repoText()}, nil); code != http.StatusOK {
		t.Fatal("ingest failed")
	}
	mockLLM.Fail(fmt.Errorf("model unavailable"))
	if code := doJSON(t, handler, http.MethodPost, "/api/v1/repositories/fp-ok/query",
		&models.QueryRequest{Question: "anything"}, nil); code != http.StatusBadGateway {
		t.Errorf("query with failing model = %d, want 502", code)
	}
}
