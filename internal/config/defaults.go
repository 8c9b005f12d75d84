package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kaiseki/data/snapshots.db"
	}
	if cfg.Inference.BaseURL == "" {
		cfg.Inference.BaseURL = "http://localhost:11434"
	}
	if cfg.Inference.EmbedModel == "" {
		cfg.Inference.EmbedModel = "nomic-embed-text"
	}
	if cfg.Inference.CompleteModel == "" {
		cfg.Inference.CompleteModel = "llama3.1"
	}
	if cfg.Inference.Dimensions == 0 {
		cfg.Inference.Dimensions = 768
	}
	if cfg.Inference.BatchSize == 0 {
		cfg.Inference.BatchSize = 32
	}
	if cfg.Inference.MaxParallel == 0 {
		cfg.Inference.MaxParallel = 4
	}
	if cfg.Inference.MaxAttempts == 0 {
		cfg.Inference.MaxAttempts = 3
	}
	if cfg.Inference.RequestsPerSecond == 0 {
		cfg.Inference.RequestsPerSecond = 10
	}
	if cfg.Inference.CacheSize == 0 {
		cfg.Inference.CacheSize = 10000
	}
	if cfg.Chunking.MaxChunkChars == 0 {
		cfg.Chunking.MaxChunkChars = 1600
	}
	if cfg.Chunking.MinChunkChars == 0 {
		cfg.Chunking.MinChunkChars = 120
	}
	// OverlapLines defaults to 0 (non-overlapping), which preserves the
	// chunk round-trip property used for index verification.
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 8
	}
	if cfg.Retrieval.MinScore == 0 {
		cfg.Retrieval.MinScore = 0.25
	}
	if cfg.Retrieval.ContextBudgetChars == 0 {
		cfg.Retrieval.ContextBudgetChars = 12000
	}
	if cfg.Index.Capacity == 0 {
		cfg.Index.Capacity = 16
	}
}
