package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/dgallion1/docquery/internal/chunker"
	"github.com/dgallion1/docquery/internal/engine"
	"github.com/dgallion1/docquery/internal/llm"
	"github.com/dgallion1/docquery/internal/router"
	"github.com/dgallion1/docquery/internal/synth"
	"github.com/dgallion1/docquery/internal/tokens"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Chunk storage
	ChunksDir string
	IndexPath string

	// Generation backend
	Model           string
	AnthropicAPIKey string
	GeminiAPIKey    string

	// Chunking
	MaxUnitsPerSegment int
	OverlapUnits       int
	ChunkStrategy      string
	EstimateMethod     string

	// Querying
	Routing            string
	Synthesis          string
	RelevanceThreshold float64
	QueryConcurrency   int
	GenerationTimeout  time.Duration
	QueryTimeout       time.Duration
	MaxPromptChars     int
	MaxOutputUnits     int
	Temperature        float64
	BodyCacheSize      int

	// Batch jobs
	WorkerCount  int
	MaxQueueSize int
	JobTTL       time.Duration

	// PDF
	PDFFallbackPdftotext bool
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:                 "8090",
		ChunksDir:            "chunks",
		Model:                "stub",
		MaxUnitsPerSegment:   2000,
		OverlapUnits:         200,
		ChunkStrategy:        string(chunker.StrategyStructure),
		EstimateMethod:       string(tokens.MethodFast),
		Routing:              string(router.StrategyKeyword),
		Synthesis:            string(synth.StrategyConcatenate),
		RelevanceThreshold:   router.DefaultThreshold,
		QueryConcurrency:     1,
		GenerationTimeout:    60 * time.Second,
		QueryTimeout:         10 * time.Minute,
		MaxPromptChars:       12000,
		MaxOutputUnits:       1024,
		Temperature:          0.1,
		BodyCacheSize:        64,
		WorkerCount:          2,
		MaxQueueSize:         100,
		JobTTL:               1 * time.Hour,
		PDFFallbackPdftotext: true,
	}
}

// Load builds the configuration from defaults, an optional TOML file and the
// environment, in that order of precedence. A .env file in the working
// directory is loaded first when present. When file is empty the
// DOCQUERY_CONFIG variable names the TOML file.
func Load(file string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if file == "" {
		file = os.Getenv("DOCQUERY_CONFIG")
	}
	if file != "" {
		if err := cfg.applyFile(file); err != nil {
			return Config{}, err
		}
	}

	cfg.Port = envOr("PORT", cfg.Port)
	cfg.APIKey = envOr("DOCQUERY_API_KEY", cfg.APIKey)

	cfg.ChunksDir = envOr("CHUNKS_DIR", cfg.ChunksDir)
	cfg.IndexPath = envOr("INDEX_PATH", cfg.IndexPath)

	cfg.Model = envOr("MODEL", cfg.Model)
	cfg.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.GeminiAPIKey = envOr("GEMINI_API_KEY", cfg.GeminiAPIKey)

	cfg.MaxUnitsPerSegment = envInt("MAX_UNITS_PER_SEGMENT", cfg.MaxUnitsPerSegment)
	cfg.OverlapUnits = envInt("OVERLAP_UNITS", cfg.OverlapUnits)
	cfg.ChunkStrategy = envOr("CHUNK_STRATEGY", cfg.ChunkStrategy)
	cfg.EstimateMethod = envOr("ESTIMATE_METHOD", cfg.EstimateMethod)

	cfg.Routing = envOr("ROUTING", cfg.Routing)
	cfg.Synthesis = envOr("SYNTHESIS", cfg.Synthesis)
	cfg.RelevanceThreshold = envFloat("RELEVANCE_THRESHOLD", cfg.RelevanceThreshold)
	cfg.QueryConcurrency = envInt("QUERY_CONCURRENCY", cfg.QueryConcurrency)
	cfg.GenerationTimeout = envDuration("GENERATION_TIMEOUT", cfg.GenerationTimeout)
	cfg.QueryTimeout = envDuration("QUERY_TIMEOUT", cfg.QueryTimeout)
	cfg.MaxPromptChars = envInt("MAX_PROMPT_CHARS", cfg.MaxPromptChars)
	cfg.MaxOutputUnits = envInt("MAX_OUTPUT_UNITS", cfg.MaxOutputUnits)
	cfg.Temperature = envFloat("TEMPERATURE", cfg.Temperature)
	cfg.BodyCacheSize = envInt("BODY_CACHE_SIZE", cfg.BodyCacheSize)

	cfg.WorkerCount = envInt("WORKER_COUNT", cfg.WorkerCount)
	cfg.MaxQueueSize = envInt("MAX_QUEUE_SIZE", cfg.MaxQueueSize)
	cfg.JobTTL = envDuration("JOB_TTL", cfg.JobTTL)

	cfg.PDFFallbackPdftotext = envBool("PDF_FALLBACK_PDFTOTEXT", cfg.PDFFallbackPdftotext)

	def := Defaults()
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = def.MaxQueueSize
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = def.JobTTL
	}
	if cfg.BodyCacheSize <= 0 {
		cfg.BodyCacheSize = def.BodyCacheSize
	}
	if cfg.MaxPromptChars <= 0 {
		cfg.MaxPromptChars = def.MaxPromptChars
	}
	if cfg.MaxOutputUnits <= 0 {
		cfg.MaxOutputUnits = def.MaxOutputUnits
	}

	return cfg, nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	if c.MaxUnitsPerSegment <= 0 {
		return fmt.Errorf("MAX_UNITS_PER_SEGMENT must be positive, got %d", c.MaxUnitsPerSegment)
	}
	if c.OverlapUnits < 0 || c.OverlapUnits >= c.MaxUnitsPerSegment {
		return fmt.Errorf("OVERLAP_UNITS must be in [0, %d), got %d", c.MaxUnitsPerSegment, c.OverlapUnits)
	}
	if c.RelevanceThreshold < 0 || c.RelevanceThreshold > 1 {
		return fmt.Errorf("RELEVANCE_THRESHOLD must be in [0, 1], got %g", c.RelevanceThreshold)
	}
	if c.QueryConcurrency < 1 {
		return fmt.Errorf("QUERY_CONCURRENCY must be at least 1, got %d", c.QueryConcurrency)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("TEMPERATURE must be in [0, 2], got %g", c.Temperature)
	}
	if _, err := chunker.ParseStrategy(c.ChunkStrategy); err != nil {
		return fmt.Errorf("CHUNK_STRATEGY: %w", err)
	}
	if _, err := tokens.ParseMethod(c.EstimateMethod); err != nil {
		return fmt.Errorf("ESTIMATE_METHOD: %w", err)
	}
	if _, err := router.ParseStrategy(c.Routing); err != nil {
		return fmt.Errorf("ROUTING: %w", err)
	}
	if _, err := synth.ParseStrategy(c.Synthesis); err != nil {
		return fmt.Errorf("SYNTHESIS: %w", err)
	}
	m := strings.ToLower(c.Model)
	if strings.HasPrefix(m, "claude") && c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required for model %s", c.Model)
	}
	if strings.HasPrefix(m, "gemini") && c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required for model %s", c.Model)
	}
	return nil
}

// ValidateServer additionally checks the settings the HTTP server needs.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return fmt.Errorf("DOCQUERY_API_KEY is required")
	}
	return nil
}

// Keys returns the generation backend credentials.
func (c Config) Keys() llm.Keys {
	return llm.Keys{Anthropic: c.AnthropicAPIKey, Gemini: c.GeminiAPIKey}
}

// ChunkConfig returns the chunker settings. Call Validate first; an invalid
// strategy falls back to structure.
func (c Config) ChunkConfig() chunker.Config {
	strategy, err := chunker.ParseStrategy(c.ChunkStrategy)
	if err != nil {
		strategy = chunker.StrategyStructure
	}
	return chunker.Config{
		MaxUnits:     c.MaxUnitsPerSegment,
		OverlapUnits: c.OverlapUnits,
		Strategy:     strategy,
	}
}

// EngineConfig returns the query settings for chunksDir, or for ChunksDir
// when chunksDir is empty.
func (c Config) EngineConfig(chunksDir string) engine.Config {
	if chunksDir == "" {
		chunksDir = c.ChunksDir
	}
	ec := engine.DefaultConfig(chunksDir)
	ec.IndexPath = c.IndexPath
	if r, err := router.ParseStrategy(c.Routing); err == nil {
		ec.Routing = r
	}
	if s, err := synth.ParseStrategy(c.Synthesis); err == nil {
		ec.Synthesis = s
	}
	ec.Threshold = c.RelevanceThreshold
	ec.Concurrency = c.QueryConcurrency
	ec.QueryTimeout = c.QueryTimeout
	ec.MaxPromptChars = c.MaxPromptChars
	ec.BodyCacheSize = c.BodyCacheSize
	ec.Generation = llm.Options{
		Temperature:    c.Temperature,
		MaxOutputUnits: c.MaxOutputUnits,
		Timeout:        c.GenerationTimeout,
	}
	return ec
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// fileConfig mirrors Config for TOML files. Unset keys keep their defaults.
type fileConfig struct {
	Port      *string `toml:"port"`
	APIKey    *string `toml:"api_key"`
	ChunksDir *string `toml:"chunks_dir"`
	IndexPath *string `toml:"index_path"`

	Model           *string `toml:"model"`
	AnthropicAPIKey *string `toml:"anthropic_api_key"`
	GeminiAPIKey    *string `toml:"gemini_api_key"`

	Chunking struct {
		MaxUnitsPerSegment *int    `toml:"max_units_per_segment"`
		OverlapUnits       *int    `toml:"overlap_units"`
		Strategy           *string `toml:"strategy"`
		EstimateMethod     *string `toml:"estimate_method"`
	} `toml:"chunking"`

	Query struct {
		Routing            *string   `toml:"routing"`
		Synthesis          *string   `toml:"synthesis"`
		RelevanceThreshold *float64  `toml:"relevance_threshold"`
		Concurrency        *int      `toml:"concurrency"`
		GenerationTimeout  *duration `toml:"generation_timeout"`
		Timeout            *duration `toml:"timeout"`
		MaxPromptChars     *int      `toml:"max_prompt_chars"`
		MaxOutputUnits     *int      `toml:"max_output_units"`
		Temperature        *float64  `toml:"temperature"`
		BodyCacheSize      *int      `toml:"body_cache_size"`
	} `toml:"query"`

	Jobs struct {
		WorkerCount  *int      `toml:"worker_count"`
		MaxQueueSize *int      `toml:"max_queue_size"`
		TTL          *duration `toml:"ttl"`
	} `toml:"jobs"`

	PDFFallbackPdftotext *bool `toml:"pdf_fallback_pdftotext"`
}

type duration time.Duration

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f fileConfig
	if err := toml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	set(&c.Port, f.Port)
	set(&c.APIKey, f.APIKey)
	set(&c.ChunksDir, f.ChunksDir)
	set(&c.IndexPath, f.IndexPath)
	set(&c.Model, f.Model)
	set(&c.AnthropicAPIKey, f.AnthropicAPIKey)
	set(&c.GeminiAPIKey, f.GeminiAPIKey)

	set(&c.MaxUnitsPerSegment, f.Chunking.MaxUnitsPerSegment)
	set(&c.OverlapUnits, f.Chunking.OverlapUnits)
	set(&c.ChunkStrategy, f.Chunking.Strategy)
	set(&c.EstimateMethod, f.Chunking.EstimateMethod)

	set(&c.Routing, f.Query.Routing)
	set(&c.Synthesis, f.Query.Synthesis)
	set(&c.RelevanceThreshold, f.Query.RelevanceThreshold)
	set(&c.QueryConcurrency, f.Query.Concurrency)
	setDuration(&c.GenerationTimeout, f.Query.GenerationTimeout)
	setDuration(&c.QueryTimeout, f.Query.Timeout)
	set(&c.MaxPromptChars, f.Query.MaxPromptChars)
	set(&c.MaxOutputUnits, f.Query.MaxOutputUnits)
	set(&c.Temperature, f.Query.Temperature)
	set(&c.BodyCacheSize, f.Query.BodyCacheSize)

	set(&c.WorkerCount, f.Jobs.WorkerCount)
	set(&c.MaxQueueSize, f.Jobs.MaxQueueSize)
	setDuration(&c.JobTTL, f.Jobs.TTL)

	set(&c.PDFFallbackPdftotext, f.PDFFallbackPdftotext)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *duration) {
	if v != nil {
		*dst = time.Duration(*v)
	}
}
