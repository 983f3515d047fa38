package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Search.MaxCandidates)
	assert.Equal(t, int64(86_400_000), cfg.Search.PackTTLMs)
	assert.Equal(t, ".smart-context", cfg.Storage.DataDir)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search:\n  max_candidates: 10\n  rrf_k: 30\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Search.MaxCandidates)
	assert.Equal(t, 30, cfg.Search.RRFK)
	// Untouched sections keep defaults.
	assert.Equal(t, "voyage", cfg.Embedding.Provider)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("EVIDENCE_PACK_TTL_MS", "1000")
	t.Setenv("EVIDENCE_PACK_CACHE_SIZE", "7")
	t.Setenv("READ_FILE_MAX_BYTES", "1234")
	t.Setenv("ENGINE_MODE", "test")
	t.Setenv("HEARTBEAT", "1")
	t.Setenv("SHUTDOWN_TIMEOUT_MS", "250")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.Equal(t, int64(1000), cfg.Search.PackTTLMs)
	assert.Equal(t, 7, cfg.Search.PackCacheSize)
	assert.Equal(t, int64(1234), cfg.ReadFileMaxBytes)
	assert.Equal(t, "test", cfg.EngineMode)
	assert.Equal(t, int64(250), cfg.ShutdownTimeoutMs)
	// Test mode wins over HEARTBEAT.
	assert.False(t, cfg.Heartbeat)
}

func TestApplyEnv_IgnoresGarbage(t *testing.T) {
	t.Setenv("EVIDENCE_PACK_TTL_MS", "not-a-number")
	t.Setenv("ENGINE_MODE", "staging")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.Equal(t, int64(86_400_000), cfg.Search.PackTTLMs)
	assert.Equal(t, "prod", cfg.EngineMode)
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "/proj/.smart-context/index.db", cfg.IndexDBPath("/proj"))
	assert.Equal(t, "/proj/.smart-context/logs", cfg.LogDir("/proj"))
}
