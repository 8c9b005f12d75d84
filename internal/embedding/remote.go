package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/kaiseki/kaiseki/pkg/utils"
	"golang.org/x/time/rate"
)

// RemoteEmbedder calls an OpenAI-compatible /v1/embeddings endpoint.
// Requests are rate limited client-side and retried with exponential backoff.
type RemoteEmbedder struct {
	baseURL     string
	model       string
	apiKey      string
	dimensions  int
	maxAttempts int
	limiter     *rate.Limiter
	client      *http.Client
}

// RemoteConfig configures a RemoteEmbedder.
type RemoteConfig struct {
	BaseURL           string
	Model             string
	APIKey            string
	Dimensions        int
	MaxAttempts       int
	RequestsPerSecond float64
}

// NewRemoteEmbedder creates an embedder targeting the given inference service.
func NewRemoteEmbedder(cfg RemoteConfig) *RemoteEmbedder {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	return &RemoteEmbedder{
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		dimensions:  cfg.Dimensions,
		maxAttempts: cfg.MaxAttempts,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed embeds a single text.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch sends a batch of texts to the inference service. The returned
// slice has the same length and order as the input.
func (e *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		vectors, retryable, err := e.doEmbed(ctx, body, len(texts))
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, fmt.Errorf("embed batch of %d: %w", len(texts), lastErr)
}

func (e *RemoteEmbedder) doEmbed(ctx context.Context, body []byte, want int) ([][]float32, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("embeddings request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, fmt.Errorf("embeddings returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, false, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Data) != want {
		return nil, false, fmt.Errorf("expected %d embeddings, got %d", want, len(result.Data))
	}

	// Similarity search scores by inner product, so vectors must be unit
	// length regardless of what the inference service returns.
	vectors := make([][]float32, want)
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= want {
			return nil, false, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		utils.NormalizeL2(d.Embedding)
		vectors[d.Index] = d.Embedding
	}
	// Entries with duplicate or missing index fields leave slots unfilled;
	// a hole here must fail the batch, never surface as a nil vector.
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, true, fmt.Errorf("embedding for input %d missing from response", i)
		}
	}
	return vectors, false, nil
}

// Dimensions returns the configured embedding dimension.
func (e *RemoteEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for RemoteEmbedder.
func (e *RemoteEmbedder) Close() error {
	return nil
}

// sleepBackoff waits 2^attempt * 100ms with jitter, or until ctx is done.
func sleepBackoff(ctx context.Context, attempt int) error {
	d := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
	d += time.Duration(rand.Int63n(int64(d / 2)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
