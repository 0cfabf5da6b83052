// Package cfg holds application-level configuration for the mnemon server.
package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	DatabaseURL string

	ClaudeAPIKey string
	ClaudeModel  string

	EmbeddingEndpoint string
	EmbeddingAPIKey   string
	EmbeddingModel    string

	VectorEndpoint string
	VectorAPIKey   string

	DirectoryEndpoint string
	DirectoryAPIKey   string

	DeliveryEndpoint string
	DeliveryAPIKey   string

	IngestToken string

	SignificanceThreshold int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude LLM provider (empty = disable LLM classification/extraction tiers)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.EmbeddingEndpoint, "embedding-endpoint", "", "base URL of the OpenAI-compatible embeddings endpoint")
	fs.StringVar(&c.EmbeddingAPIKey, "embedding-api-key", "", "API key for the embeddings endpoint")
	fs.StringVar(&c.EmbeddingModel, "embedding-model", "text-embedding-3-small", "default embedding model for workspaces without one configured")
	fs.StringVar(&c.VectorEndpoint, "vector-endpoint", "", "base URL of the vector index")
	fs.StringVar(&c.VectorAPIKey, "vector-api-key", "", "API key for the vector index")
	fs.StringVar(&c.DirectoryEndpoint, "directory-endpoint", "", "base URL of the identity provider for org member listing (empty = notifications skipped)")
	fs.StringVar(&c.DirectoryAPIKey, "directory-api-key", "", "API key for the identity provider")
	fs.StringVar(&c.DeliveryEndpoint, "delivery-endpoint", "", "base URL of the notification delivery provider (empty = notifications skipped)")
	fs.StringVar(&c.DeliveryAPIKey, "delivery-api-key", "", "API key for the delivery provider")
	fs.StringVar(&c.IngestToken, "ingest-token", "", "bearer token required on the ingest endpoint (empty = no auth)")
	fs.IntVar(&c.SignificanceThreshold, "significance-threshold", 30, "minimum significance score for an event to be captured (0..100)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Embedding and vector backends are required: the pipeline cannot
	// assign clusters without them.
	if c.EmbeddingEndpoint == "" {
		errs = append(errs, errors.New("EMBEDDING_ENDPOINT is required"))
	}
	if c.EmbeddingModel == "" {
		errs = append(errs, errors.New("EMBEDDING_MODEL is required"))
	}
	if c.VectorEndpoint == "" {
		errs = append(errs, errors.New("VECTOR_ENDPOINT is required"))
	}

	// The model is only needed when the LLM tiers are enabled
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if c.SignificanceThreshold < 0 || c.SignificanceThreshold > 100 {
		errs = append(errs, fmt.Errorf("invalid SIGNIFICANCE_THRESHOLD %d (must be 0..100)", c.SignificanceThreshold))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
