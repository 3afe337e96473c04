package kgraph

import (
	"fmt"
	"os"
	"path/filepath"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the kgraph engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.kgraph/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "kgraph".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath is not
	// explicitly set. Options: "home" (default) uses ~/.kgraph/, "local"
	// uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// Chat is the LLM endpoint driving the extraction stages.
	Chat LLMConfig `json:"chat" yaml:"chat"`

	// Embedding is optional. When configured, entity labels are embedded
	// after each run and become searchable across runs.
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`

	// MaxDocumentChars caps input size. Documents over the cap are rejected
	// before the first LLM call.
	MaxDocumentChars int `json:"max_document_chars" yaml:"max_document_chars"`

	// HTTPAddr is the listen address for the API server.
	HTTPAddr string `json:"http_addr" yaml:"http_addr"`

	// EmbeddingDim must match the embedding model's output dimension.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // gemini, openai, ollama, groq, openrouter, lmstudio, xai, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults. The chat provider
// defaults to Gemini with the API key taken from the environment; database
// is stored in ~/.kgraph/kgraph.db.
func DefaultConfig() Config {
	return Config{
		DBName:     "kgraph",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
			APIKey:   os.Getenv("GEMINI_API_KEY"),
		},
		MaxDocumentChars: 100000,
		HTTPAddr:         ":8080",
		EmbeddingDim:     768,
	}
}

// LoadConfig reads a YAML config file, expanding ${VAR} references from the
// environment before parsing. Fields absent from the file keep their
// defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Chat, validation.By(func(interface{}) error {
			if c.Chat.Provider == "" {
				return fmt.Errorf("chat provider is required")
			}
			return nil
		})),
		validation.Field(&c.MaxDocumentChars, validation.Min(0)),
		validation.Field(&c.EmbeddingDim, validation.Min(0)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "kgraph"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".kgraph", name+".db")
	}
}
