package intent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/randalmurphy/smart-context-mcp/internal/cache"
	"github.com/randalmurphy/smart-context-mcp/internal/config"
	"github.com/randalmurphy/smart-context-mcp/internal/edit"
	"github.com/randalmurphy/smart-context-mcp/internal/embedding"
	"github.com/randalmurphy/smart-context-mcp/internal/graph"
	"github.com/randalmurphy/smart-context-mcp/internal/indexer"
	"github.com/randalmurphy/smart-context-mcp/internal/metrics"
	"github.com/randalmurphy/smart-context-mcp/internal/pattern"
	"github.com/randalmurphy/smart-context-mcp/internal/rank"
	"github.com/randalmurphy/smart-context-mcp/internal/search"
	"github.com/randalmurphy/smart-context-mcp/internal/store"
)

// Engine assembles every subsystem for one project root. The Router is a
// thin dispatch layer over it; the admin CLI drives the same engine
// without the MCP transport in between.
type Engine struct {
	Root        string
	Config      *config.Config
	Store       *store.Store
	Indexer     *indexer.Indexer
	Graph       *graph.Graph
	Pipeline    *search.Pipeline
	Coordinator *edit.Coordinator
	Detector    *pattern.Detector
	Metrics     *metrics.Logger

	logger         *slog.Logger
	redis          *cache.RedisCache
	vectorsEnabled bool
}

// NewEngine opens the store under root's data dir, recovers any
// interrupted transactions, and wires the pipeline. Recovery failure is
// fatal: no command may run over a half-rolled-back tree.
func NewEngine(root string, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	s, err := store.Open(cfg.IndexDBPath(absRoot))
	if err != nil {
		return nil, err
	}

	provider := buildProvider(cfg, logger)
	_, disabled := provider.(embedding.NullProvider)
	vectorsEnabled := !disabled

	var redisCache *cache.RedisCache
	if cfg.Storage.RedisURL != "" {
		redisCache, err = cache.NewRedisCache(cfg.Storage.RedisURL)
		if err != nil {
			logger.Warn("Redis cache unavailable, continuing without it", "error", err)
			redisCache = nil
		}
	}

	idx := indexer.New(absRoot, s, nil, logger)
	vec := rank.NewVectorRanker(provider, s, rank.NewANNIndex(provider.Dims()), redisCache, cfg.Embedding.MaxConcurrency, logger)
	if vectorsEnabled {
		if err := vec.Warm(context.Background()); err != nil {
			logger.Warn("ANN warm-up failed", "error", err)
		}
	}

	pipeline, err := search.NewPipeline(s, idx, vec, cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	coord := edit.NewCoordinator(afero.NewOsFs(), absRoot, s, cfg.Edit.UndoDepth, logger)
	if err := coord.Recover(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("transaction recovery: %w", err)
	}

	var metricsLogger *metrics.Logger
	if logDir := cfg.LogDir(absRoot); cfg.Logging.ToFile {
		if err := os.MkdirAll(logDir, 0o755); err == nil {
			metricsLogger, _ = metrics.NewLogger(filepath.Join(logDir, "metrics.jsonl"))
		}
	}

	return &Engine{
		Root:           absRoot,
		Config:         cfg,
		Store:          s,
		Indexer:        idx,
		Graph:          graph.New(s),
		Pipeline:       pipeline,
		Coordinator:    coord,
		Detector:       pattern.NewDetector(pattern.DetectorConfig{}),
		Metrics:        metricsLogger,
		logger:         logger,
		redis:          redisCache,
		vectorsEnabled: vectorsEnabled,
	}, nil
}

// Close releases the engine's resources.
func (e *Engine) Close() error {
	if e.Metrics != nil {
		_ = e.Metrics.Close()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	return e.Store.Close()
}

// VectorsEnabled reports whether a live embedding provider is configured.
func (e *Engine) VectorsEnabled() bool { return e.vectorsEnabled }

// MetricsAnalyzer returns a reader over the metrics log, or nil when
// metrics logging is off.
func (e *Engine) MetricsAnalyzer() *metrics.Analyzer {
	if e.Metrics == nil {
		return nil
	}
	return metrics.NewAnalyzer(filepath.Join(e.Config.LogDir(e.Root), "metrics.jsonl"))
}

func buildProvider(cfg *config.Config, logger *slog.Logger) embedding.Provider {
	if cfg.Embedding.Provider != "voyage" {
		return embedding.NullProvider{}
	}
	key := os.Getenv("VOYAGE_API_KEY")
	if key == "" {
		logger.Info("VOYAGE_API_KEY not set, vector ranking disabled")
		return embedding.NullProvider{}
	}
	return embedding.NewVoyageClient(key, cfg.Embedding.Model)
}

// validatePath resolves a caller path against the project root and
// rejects escapes, symlink-aware for the on-disk ancestry.
func (e *Engine) validatePath(file string) (abs, rel string, err error) {
	cleaned := filepath.Clean(filepath.FromSlash(file))
	if filepath.IsAbs(cleaned) {
		abs = cleaned
	} else {
		abs = filepath.Join(e.Root, cleaned)
	}

	rootWithSep := strings.TrimSuffix(e.Root, string(filepath.Separator)) + string(filepath.Separator)
	if abs != e.Root && !strings.HasPrefix(abs, rootWithSep) {
		return "", "", fmt.Errorf("%w: %s", edit.ErrSecurityViolation, file)
	}
	if resolved, rerr := filepath.EvalSymlinks(abs); rerr == nil {
		if resolved != e.Root && !strings.HasPrefix(resolved, rootWithSep) {
			return "", "", fmt.Errorf("%w: %s resolves outside the project", edit.ErrSecurityViolation, file)
		}
	}

	relPath, err := filepath.Rel(e.Root, abs)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", edit.ErrSecurityViolation, file)
	}
	return abs, filepath.ToSlash(relPath), nil
}
