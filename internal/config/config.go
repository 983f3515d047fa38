// Package config holds global configuration for the smart-context engine.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds global configuration. Zero-valued fields are filled from
// DefaultConfig; environment variables override the loaded file at startup
// via ApplyEnv.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Edit      EditConfig      `yaml:"edit"`
	Logging   LoggingConfig   `yaml:"logging"`

	// EngineMode is "prod" or "test"; test mode disables the heartbeat and
	// the filesystem watcher so fixtures stay deterministic.
	EngineMode string `yaml:"engine_mode"`

	// ParserBackend selects the pluggable parser: auto|js|native.
	ParserBackend string `yaml:"parser_backend"`

	Heartbeat         bool  `yaml:"heartbeat"`
	ShutdownTimeoutMs int64 `yaml:"shutdown_timeout_ms"`
	ReadFileMaxBytes  int64 `yaml:"read_file_max_bytes"`
}

type StorageConfig struct {
	// DataDir is resolved relative to the project root; it holds index.db,
	// logs/, and the embedding blob overflow cache.
	DataDir string `yaml:"data_dir"`

	// RedisURL enables the optional shared embedding-vector cache. Empty
	// disables it; the engine then reads vectors from SQLite only.
	RedisURL string `yaml:"redis_url"`
}

type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // "voyage" or "disabled"
	Model    string `yaml:"model"`

	MaxChunksToEmbed int   `yaml:"max_chunks_to_embed"`
	MaxTimeMs        int64 `yaml:"max_time_ms"`
	MaxConcurrency   int   `yaml:"max_concurrency"`
}

type SearchConfig struct {
	MaxCandidates       int     `yaml:"max_candidates"`
	MaxChunkCandidates  int     `yaml:"max_chunk_candidates"`
	MaxVectorCandidates int     `yaml:"max_vector_candidates"`
	RRFK                int     `yaml:"rrf_k"`
	RRFDepth            int     `yaml:"rrf_depth"`
	MMREnabled          bool    `yaml:"mmr_enabled"`
	MMRLambda           float64 `yaml:"mmr_lambda"`
	MaxEvidenceSections int     `yaml:"max_evidence_sections"`
	MaxEvidenceChars    int     `yaml:"max_evidence_chars"`
	PackTTLMs           int64   `yaml:"pack_ttl_ms"`
	PackCacheSize       int     `yaml:"pack_cache_size"`
	RequestTimeoutMs    int64   `yaml:"request_timeout_ms"`
}

type EditConfig struct {
	// UndoDepth bounds both history stacks.
	UndoDepth int `yaml:"undo_depth"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"` // error|warn|info|debug
	ToFile    bool   `yaml:"to_file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir: ".smart-context",
		},
		Embedding: EmbeddingConfig{
			Provider:         "voyage",
			Model:            "voyage-4-large",
			MaxChunksToEmbed: 64,
			MaxTimeMs:        4000,
			MaxConcurrency:   2,
		},
		Search: SearchConfig{
			MaxCandidates:       60,
			MaxChunkCandidates:  400,
			MaxVectorCandidates: 120,
			RRFK:                60,
			RRFDepth:            200,
			MMREnabled:          true,
			MMRLambda:           0.7,
			MaxEvidenceSections: 12,
			MaxEvidenceChars:    8000,
			PackTTLMs:           86_400_000,
			PackCacheSize:       100,
			RequestTimeoutMs:    15_000,
		},
		Edit: EditConfig{
			UndoDepth: 50,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 50,
			MaxFiles:  3,
		},
		EngineMode:        "prod",
		ParserBackend:     "auto",
		Heartbeat:         true,
		ShutdownTimeoutMs: 5000,
		ReadFileMaxBytes:  65_536,
	}
}

// LoadConfig loads config from file or returns defaults when the file is
// absent.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overrides cfg from the recognized environment variables. Unset
// or unparsable values leave the config untouched.
func (c *Config) ApplyEnv() {
	if v, ok := envInt64("EVIDENCE_PACK_TTL_MS"); ok {
		c.Search.PackTTLMs = v
	}
	if v, ok := envInt64("EVIDENCE_PACK_CACHE_SIZE"); ok {
		c.Search.PackCacheSize = int(v)
	}
	if v, ok := envInt64("READ_FILE_MAX_BYTES"); ok {
		c.ReadFileMaxBytes = v
	}
	if v := os.Getenv("ENGINE_MODE"); v == "prod" || v == "test" {
		c.EngineMode = v
	}
	if v := os.Getenv("PARSER_BACKEND"); v == "auto" || v == "js" || v == "native" {
		c.ParserBackend = v
	}
	if v := os.Getenv("HEARTBEAT"); v != "" {
		c.Heartbeat = v != "0" && v != "false" && v != "off"
	}
	if v, ok := envInt64("SHUTDOWN_TIMEOUT_MS"); ok {
		c.ShutdownTimeoutMs = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_TO_FILE"); v != "" {
		c.Logging.ToFile = v != "0" && v != "false"
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Storage.RedisURL = v
	}
	// Tests run without heartbeat regardless of HEARTBEAT.
	if c.EngineMode == "test" {
		c.Heartbeat = false
	}
}

func envInt64(name string) (int64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// DataDirFor resolves the storage directory under the project root.
func (c *Config) DataDirFor(projectRoot string) string {
	if filepath.IsAbs(c.Storage.DataDir) {
		return c.Storage.DataDir
	}
	return filepath.Join(projectRoot, c.Storage.DataDir)
}

// IndexDBPath is the SQLite database location for a project root.
func (c *Config) IndexDBPath(projectRoot string) string {
	return filepath.Join(c.DataDirFor(projectRoot), "index.db")
}

// LogDir is the log directory for a project root.
func (c *Config) LogDir(projectRoot string) string {
	return filepath.Join(c.DataDirFor(projectRoot), "logs")
}
