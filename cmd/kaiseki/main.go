// Package main is the Kaiseki CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

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
	"github.com/kaiseki/kaiseki/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kaiseki/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used, so that "kaiseki server" from the project dir uses the project's
// config (including debug). Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "query":
		runQuery()
	case "graph":
		runGraph()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kaiseki version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// components bundles everything the server needs, so initialization and
// cleanup live in one place.
type components struct {
	Store    storage.Store
	Embedder embedding.Embedder
	Service  *knowledge.Service
}

func (c *components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}

	remote := embedding.NewRemoteEmbedder(embedding.RemoteConfig{
		BaseURL:           cfg.Inference.BaseURL,
		Model:             cfg.Inference.EmbedModel,
		APIKey:            cfg.Inference.APIKey,
		Dimensions:        cfg.Inference.Dimensions,
		MaxAttempts:       cfg.Inference.MaxAttempts,
		RequestsPerSecond: cfg.Inference.RequestsPerSecond,
	})
	embedder, err := embedding.NewCachedEmbedder(remote, cfg.Inference.CacheSize)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}

	completer := llm.NewHTTPClient(llm.ClientConfig{
		BaseURL:           cfg.Inference.BaseURL,
		Model:             cfg.Inference.CompleteModel,
		APIKey:            cfg.Inference.APIKey,
		RequestsPerSecond: cfg.Inference.RequestsPerSecond,
	})

	ch := chunker.NewChunker(
		cfg.Chunking.MaxChunkChars,
		cfg.Chunking.MinChunkChars,
		cfg.Chunking.OverlapLines,
	)

	builder := knowledge.NewBuilder(
		ch,
		embedder,
		deps.DefaultRegistry(),
		cfg.Inference.BatchSize,
		cfg.Inference.MaxParallel,
		logger,
	)
	registry, err := knowledge.NewRegistry(cfg.Index.Capacity, builder, store, logger)
	if err != nil {
		embedder.Close()
		store.Close()
		return nil, fmt.Errorf("failed to create knowledge registry: %w", err)
	}

	retriever := search.NewRetriever(embedder, cfg.Retrieval.TopK, cfg.Retrieval.MinScore)
	synthesizer := rag.NewSynthesizer(completer, cfg.Retrieval.ContextBudgetChars, logger)
	service := knowledge.NewService(registry, retriever, synthesizer, logger)

	return &components{Store: store, Embedder: embedder, Service: service}, nil
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (build progress, retrieval scores, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	comps, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer comps.Close()

	srv := server.NewServer(comps.Service, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	fingerprint := fs.String("fingerprint", "", "repository fingerprint (required)")
	file := fs.String("file", "", "flat repository text file to ingest (default: stdin)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if *fingerprint == "" {
		fmt.Fprintln(os.Stderr, "Usage: kaiseki ingest -fingerprint <fp> [-file repo.txt]")
		os.Exit(1)
	}

	var raw []byte
	var err error
	if *file != "" {
		raw, err = os.ReadFile(*file)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read input: %v\n", err)
		os.Exit(1)
	}

	body, err := json.Marshal(map[string]string{"raw_text": string(raw)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode request: %v\n", err)
		os.Exit(1)
	}
	var result models.IngestResult
	if err := postJSON(repoURL(*serverURL, *fingerprint, "ingest"), body, &result); err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}

	if *outputFormat == "json" {
		printJSON(result)
		return
	}
	fmt.Printf("Status:  %s\n", result.Status)
	fmt.Printf("Files:   %d\n", result.FileCount)
	fmt.Printf("Chunks:  %d\n", result.ChunkCount)
	if len(result.Languages) > 0 {
		parts := make([]string, 0, len(result.Languages))
		for lang, n := range result.Languages {
			parts = append(parts, fmt.Sprintf("%s=%d", lang, n))
		}
		fmt.Printf("Languages: %s\n", strings.Join(parts, " "))
	}
	for _, w := range result.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}
}

// buildQuestion joins all positional args with spaces so multi-word questions
// work the same with or without shell quoting.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	fingerprint := fs.String("fingerprint", "", "repository fingerprint (required)")
	topK := fs.Int("top-k", 0, "number of chunks to retrieve (0 = server default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: kaiseki query -fingerprint <fp> [flags] <question>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[2:])

	question := buildQuestion(fs.Args())
	if *fingerprint == "" || question == "" {
		fs.Usage()
		os.Exit(1)
	}

	body, err := json.Marshal(&models.QueryRequest{Question: question, TopK: *topK})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode request: %v\n", err)
		os.Exit(1)
	}
	var answer models.Answer
	if err := postJSON(repoURL(*serverURL, *fingerprint, "query"), body, &answer); err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}

	if *outputFormat == "json" {
		printJSON(answer)
		return
	}
	fmt.Println(answer.AnswerText)
	if len(answer.CitedSources) > 0 {
		fmt.Println("\nSources:")
		for _, src := range answer.CitedSources {
			if src.StartLine > 0 {
				fmt.Printf("  %s:%d-%d\n", src.Path, src.StartLine, src.EndLine)
			} else {
				fmt.Printf("  %s\n", src.Path)
			}
		}
	}
	fmt.Printf("\nConfidence: %.2f\n", answer.Confidence)
}

func runGraph() {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	fingerprint := fs.String("fingerprint", "", "repository fingerprint (required)")
	outputFormat := fs.String("output", "json", "output format: json or text")
	_ = fs.Parse(os.Args[2:])

	if *fingerprint == "" {
		fmt.Fprintln(os.Stderr, "Usage: kaiseki graph -fingerprint <fp>")
		os.Exit(1)
	}

	var graph models.Graph
	if err := getJSON(repoURL(*serverURL, *fingerprint, "graph"), &graph); err != nil {
		fmt.Fprintf(os.Stderr, "Graph failed: %v\n", err)
		os.Exit(1)
	}

	if *outputFormat == "json" {
		printJSON(graph)
		return
	}
	fmt.Printf("%d nodes, %d edges\n", len(graph.Nodes), len(graph.Edges))
	for _, e := range graph.Edges {
		fmt.Printf("  %s -%s-> %s\n", e.From, e.Kind, e.To)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	fingerprint := fs.String("fingerprint", "", "repository fingerprint (required)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if *fingerprint == "" {
		fmt.Fprintln(os.Stderr, "Usage: kaiseki status -fingerprint <fp>")
		os.Exit(1)
	}

	var status models.StatusInfo
	if err := getJSON(repoURL(*serverURL, *fingerprint, "status"), &status); err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}

	if *outputFormat == "json" {
		printJSON(status)
		return
	}
	fmt.Printf("State:    %s\n", status.State)
	fmt.Printf("Progress: %.0f%%\n", status.Progress*100)
	if status.FileCount > 0 {
		fmt.Printf("Files:    %d\n", status.FileCount)
	}
	if status.ChunkCount > 0 {
		fmt.Printf("Chunks:   %d\n", status.ChunkCount)
	}
}

// repoURL builds the per-fingerprint API URL for op (ingest, query, graph, status).
func repoURL(serverURL, fingerprint, op string) string {
	return fmt.Sprintf("%s/api/v1/repositories/%s/%s", serverURL, url.PathEscape(fingerprint), op)
}

func postJSON(endpoint string, body []byte, out interface{}) error {
	resp, err := http.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func getJSON(endpoint string, out interface{}) error {
	resp, err := http.Get(endpoint)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d (%s): %s", resp.StatusCode, apiErr.Error, apiErr.Message)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printUsage() {
	fmt.Println(`Kaiseki - repository analysis with grounded question answering

Usage:
  kaiseki server [-config path] [-debug]           Start the HTTP server
  kaiseki ingest -fingerprint <fp> [-file f.txt]   Ingest a flat repository dump (or stdin)
  kaiseki query  -fingerprint <fp> <question>      Ask a question about an indexed repository
  kaiseki graph  -fingerprint <fp>                 Print the dependency graph
  kaiseki status -fingerprint <fp>                 Show index state and build progress
  kaiseki version                                  Show version
  kaiseki help                                     Show this help

Examples:
  kaiseki ingest -fingerprint myrepo-abc123 -file repo.txt
  kaiseki query -fingerprint myrepo-abc123 how does the auth middleware work
  kaiseki status -fingerprint myrepo-abc123 -output json`)
}
