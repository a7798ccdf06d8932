// jscomplete.go
// Package jscomplete provides type-inference based content assist for JavaScript buffers.
package jscomplete

import (
	"context"
	"errors"
	"fmt"
	stdslog "log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Core type definitions are in jscomplete_types.go.
// Exported error variables are in jscomplete_errors.go.

// =============================================================================
// Interfaces for Components
// =============================================================================

// SummaryProvider supplies the precomputed summaries of the global-kind
// dependencies of a file.
type SummaryProvider interface {
	RetrieveGlobalSummaries(ctx context.Context, file string) ([]Summary, error)
}

// =============================================================================
// Configuration Loading
// =============================================================================

// LoadConfig loads configuration from standard locations, merges with defaults,
// validates, and attempts to write a default config if needed.
func LoadConfig(logger *stdslog.Logger) (Config, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	cfg := getDefaultConfig()
	var loadedFromFile bool
	var loadErrors []error
	var configParseError error

	primaryPath, secondaryPath, pathErr := GetConfigPaths(logger)
	if pathErr != nil {
		loadErrors = append(loadErrors, pathErr)
		logger.Warn("Could not determine config paths, using defaults", "error", pathErr)
	}

	tryLoad := func(path string) {
		logger.Debug("Attempting to load config", "path", path)
		loaded, loadErr := LoadAndMergeConfig(path, &cfg, logger)
		if loadErr != nil {
			if configParseError == nil && strings.Contains(loadErr.Error(), "parsing config file JSON") {
				configParseError = loadErr
			}
			loadErrors = append(loadErrors, fmt.Errorf("loading %s failed: %w", path, loadErr))
			logger.Warn("Failed to load or merge config", "path", path, "error", loadErr)
			return
		}
		if loaded && !loadedFromFile {
			loadedFromFile = true
			logger.Info("Loaded config", "path", path)
		}
	}

	if primaryPath != "" {
		tryLoad(primaryPath)
	}
	if (!loadedFromFile || configParseError != nil) && secondaryPath != "" && secondaryPath != primaryPath {
		tryLoad(secondaryPath)
	}

	if !loadedFromFile || configParseError != nil {
		writePath := primaryPath
		if writePath == "" {
			writePath = secondaryPath
		}
		if writePath != "" {
			if configParseError != nil {
				logger.Warn("Existing config file failed to parse. Attempting to write default.", "path", writePath, "error", configParseError)
			} else {
				logger.Info("No valid config file found. Attempting to write default.", "path", writePath)
			}
			if err := WriteDefaultConfig(writePath, getDefaultConfig(), logger); err != nil {
				logger.Warn("Failed to write default config", "path", writePath, "error", err)
				loadErrors = append(loadErrors, fmt.Errorf("writing default config failed: %w", err))
			}
		} else {
			logger.Warn("Cannot determine path to write default config.")
			loadErrors = append(loadErrors, errors.New("cannot determine default config path"))
		}
		cfg = getDefaultConfig()
		logger.Info("Using default configuration values.")
	}

	finalCfg := cfg
	if err := finalCfg.Validate(logger); err != nil {
		logger.Error("Final configuration is invalid, falling back to pure defaults.", "error", err)
		loadErrors = append(loadErrors, fmt.Errorf("post-load config validation failed: %w", err))
		pureDefault := getDefaultConfig()
		if valErr := pureDefault.Validate(logger); valErr != nil {
			logger.Error("FATAL: Default config definition is invalid", "error", valErr)
			return pureDefault, fmt.Errorf("default config definition is invalid: %w", valErr)
		}
		finalCfg = pureDefault
	}

	if len(loadErrors) > 0 {
		return finalCfg, fmt.Errorf("%w: %w", ErrConfig, errors.Join(loadErrors...))
	}
	return finalCfg, nil
}

// =============================================================================
// Engine Service
// =============================================================================

// Engine answers content-assist requests. It is safe for concurrent use:
// every request builds its own TypeEnv over the shared catalog.
type Engine struct {
	parser      Parser
	catalog     *Catalog
	summaries   SummaryProvider
	store       *IndexStore
	indexer     *Indexer
	memoryCache *ristretto.Cache
	mu          sync.RWMutex // Guards summaries, store, indexer and memoryCache handles.
	config      Config
	configMu    sync.RWMutex
	logger      *stdslog.Logger
}

// NewEngine loads the user configuration and creates an Engine from it.
// A non-fatal configuration problem is returned wrapped in ErrConfig
// together with a usable Engine.
func NewEngine(logger *stdslog.Logger) (*Engine, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	cfg, configErr := LoadConfig(logger)
	if configErr != nil && !errors.Is(configErr, ErrConfig) {
		logger.Error("Fatal error during initial config load", "error", configErr)
		return nil, configErr
	}
	e, err := NewEngineWithConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	if configErr != nil {
		return e, configErr
	}
	return e, nil
}

// NewEngineWithConfig creates an Engine with a specific config. When
// UseSummaries is set the index store is opened and an Indexer becomes the
// summary provider; a store that cannot be opened only disables summaries.
func NewEngineWithConfig(config Config, logger *stdslog.Logger) (*Engine, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	serviceLogger := logger.With("service", "Engine")

	if err := config.Validate(serviceLogger); err != nil {
		return nil, fmt.Errorf("provided config validation failed: %w", err)
	}

	memCache, cacheErr := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     256 << 20, // 256MB
		BufferItems: 64,
		Metrics:     true,
	})
	if cacheErr != nil {
		serviceLogger.Warn("Failed to create ristretto memory cache, in-memory caching disabled.", "error", cacheErr)
		memCache = nil
	}

	e := &Engine{
		parser:      NewParser(serviceLogger),
		catalog:     DefaultCatalog(),
		memoryCache: memCache,
		config:      config,
		logger:      serviceLogger,
	}

	if config.UseSummaries {
		dbPath := config.IndexDBPath
		if dbPath == "" {
			p, err := defaultIndexDBPath()
			if err != nil {
				serviceLogger.Warn("Could not determine index location, summaries disabled.", "error", err)
			}
			dbPath = p
		}
		if dbPath != "" {
			store, err := OpenIndexStore(dbPath, serviceLogger)
			if err != nil {
				serviceLogger.Warn("Failed to open index store, summaries disabled.", "path", dbPath, "error", err)
			} else {
				e.store = store
				e.indexer = NewIndexer(store, e, config, serviceLogger)
				e.summaries = e.indexer
			}
		}
	}
	return e, nil
}

// SetSummaryProvider replaces the source of dependency summaries. A nil
// provider disables summary merging.
func (e *Engine) SetSummaryProvider(p SummaryProvider) {
	e.mu.Lock()
	e.summaries = p
	e.mu.Unlock()
	e.InvalidateMemoryCache()
}

// Indexer returns the engine's dependency indexer, nil when summaries are disabled.
func (e *Engine) Indexer() *Indexer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.indexer
}

// Close releases the index store and the memory cache.
func (e *Engine) Close() error {
	e.logger.Info("Closing Engine")
	e.mu.Lock()
	defer e.mu.Unlock()
	var closeErrors []error
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			closeErrors = append(closeErrors, err)
		}
		e.store = nil
	}
	if e.memoryCache != nil {
		e.memoryCache.Close()
		e.memoryCache = nil
	}
	return errors.Join(closeErrors...)
}

// UpdateConfig atomically replaces the engine's configuration.
func (e *Engine) UpdateConfig(newConfig Config) error {
	if err := newConfig.Validate(e.logger); err != nil {
		e.logger.Error("Invalid configuration provided for update", "error", err)
		return fmt.Errorf("invalid configuration update: %w", err)
	}

	e.configMu.Lock()
	e.config = newConfig
	e.configMu.Unlock()

	if idx := e.Indexer(); idx != nil {
		idx.UpdateConfig(newConfig)
	}

	e.logger.Info("Engine configuration updated",
		stdslog.Group("new_config",
			stdslog.String("log_level", newConfig.LogLevel),
			stdslog.Int("memory_cache_ttl_seconds", newConfig.MemoryCacheTTLSeconds),
			stdslog.Bool("use_summaries", newConfig.UseSummaries),
			stdslog.String("manifest_file_name", newConfig.ManifestFileName),
			stdslog.Int("fetch_timeout_seconds", newConfig.FetchTimeoutSeconds),
			stdslog.Int("max_concurrent_fetches", newConfig.MaxConcurrentFetches),
			stdslog.Bool("watch_dependencies", newConfig.WatchDependencies),
		),
	)
	return nil
}

// GetCurrentConfig returns a copy of the current configuration.
func (e *Engine) GetCurrentConfig() Config {
	e.configMu.RLock()
	defer e.configMu.RUnlock()
	return e.config
}

// =============================================================================
// Content Assist
// =============================================================================

// ComputeProposals returns the completion proposals at sel for a buffer that
// is not backed by a file. Dependency summaries are not consulted.
func (e *Engine) ComputeProposals(ctx context.Context, prefix string, buffer []byte, sel Selection) (Proposals, error) {
	return e.ComputeFileProposals(ctx, "", prefix, buffer, sel)
}

// ComputeFileProposals is ComputeProposals for the buffer of file; the
// global summaries of the file's dependencies are merged before inference.
func (e *Engine) ComputeFileProposals(ctx context.Context, file, prefix string, buffer []byte, sel Selection) (result Proposals, err error) {
	opLogger := e.logger.With("op", "ComputeProposals", "offset", sel.Offset, "prefix", prefix)
	if file != "" {
		opLogger = opLogger.With("file", file)
	}
	defer func() {
		if r := recover(); r != nil {
			opLogger.Error("Panic recovered during content assist", "panic", r, "stack", string(debug.Stack()))
			result = Proposals{Kind: CompletionNone, Candidates: []Candidate{}}
			err = fmt.Errorf("%w: recovered panic: %v", ErrInternal, r)
		}
	}()

	empty := Proposals{Kind: CompletionNone, Candidates: []Candidate{}}
	if sel.Offset < 0 || sel.Offset > len(buffer) {
		return empty, fmt.Errorf("%w: offset %d outside buffer of length %d", ErrInvalidPositionInput, sel.Offset, len(buffer))
	}
	if len(prefix) > sel.Offset {
		return empty, fmt.Errorf("%w: prefix longer than offset %d", ErrInvalidPositionInput, sel.Offset)
	}

	tree, err := e.parse(ctx, buffer, opLogger)
	if err != nil {
		return empty, err
	}

	cls := Classify(tree, sel.Offset, prefix)
	opLogger.Debug("Classified completion site", "kind", cls.Kind)
	if cls.Kind == CompletionNone {
		return empty, nil
	}

	env := e.newRequestEnv(ctx, file, tree, opLogger)
	req := CompletionRequest{Prefix: prefix, Offset: sel.Offset, Kind: cls.Kind}
	w := newWalker(tree, env, cls, req, modeComplete)
	triggered, walkErr := w.run()
	if walkErr != nil {
		opLogger.Error("Inference walk failed", "error", walkErr)
		return empty, fmt.Errorf("%w: %w", ErrInternal, walkErr)
	}
	if !triggered {
		opLogger.Warn("Inference walk ended without reaching the cursor")
		return Proposals{Kind: cls.Kind, Candidates: []Candidate{}}, nil
	}

	candidates := w.candidates
	if candidates == nil {
		candidates = []Candidate{}
	}
	opLogger.Debug("Computed proposals", "count", len(candidates))
	return Proposals{Kind: cls.Kind, Candidates: candidates}, nil
}

// TypeAt reports the inferred type of the identifier at offset, nil when
// offset does not touch an identifier.
func (e *Engine) TypeAt(ctx context.Context, file string, buffer []byte, offset int) (info *TypeInfo, err error) {
	opLogger := e.logger.With("op", "TypeAt", "offset", offset)
	defer func() {
		if r := recover(); r != nil {
			opLogger.Error("Panic recovered during type lookup", "panic", r, "stack", string(debug.Stack()))
			info, err = nil, fmt.Errorf("%w: recovered panic: %v", ErrInternal, r)
		}
	}()
	if offset < 0 || offset > len(buffer) {
		return nil, fmt.Errorf("%w: offset %d outside buffer of length %d", ErrInvalidPositionInput, offset, len(buffer))
	}

	tree, err := e.parse(ctx, buffer, opLogger)
	if err != nil {
		return nil, err
	}
	env := e.newRequestEnv(ctx, file, tree, opLogger)
	w := newWalker(tree, env, Classification{Kind: CompletionTop}, CompletionRequest{Offset: offset}, modeAnalyze)
	if _, walkErr := w.run(); walkErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, walkErr)
	}

	id := identifierAt(tree, offset)
	if id == NoNode {
		return nil, nil
	}
	n := tree.Node(id)
	info = &TypeInfo{
		Name:  n.Name,
		Type:  w.typeOf(id),
		Start: n.Range.Start,
		End:   n.Range.End + 1,
	}
	if params, ok := env.ParamsOf(n.Name, w.scopeAt[id]); ok && w.scopeAt[id] != "" {
		info.Params = params
	}
	return info, nil
}

// identifierAt returns the innermost identifier whose range touches offset.
func identifierAt(t *Tree, offset int) NodeID {
	best := NoNode
	bestLen := -1
	for i := range t.Nodes {
		n := &t.Nodes[i]
		if n.Kind != KindIdentifier || n.Unranged || n.Name == "" || !inRange(offset, n.Range) {
			continue
		}
		if l := n.Range.End - n.Range.Start; best == NoNode || l < bestLen {
			best, bestLen = NodeID(i), l
		}
	}
	return best
}

// ComputeSummary runs inference over a whole dependency source and returns
// what it adds to the global scope. file names the generated types.
func (e *Engine) ComputeSummary(ctx context.Context, buffer []byte, file string) (s Summary, err error) {
	opLogger := e.logger.With("op", "ComputeSummary", "file", file)
	defer func() {
		if r := recover(); r != nil {
			opLogger.Error("Panic recovered during summary", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: recovered panic: %v", ErrInternal, r)
		}
	}()

	tree, err := e.parse(ctx, buffer, opLogger)
	if err != nil {
		return Summary{}, err
	}
	env := NewTypeEnv(e.catalog)
	declareGlobals(env, tree.Comments)
	s, err = summarize(tree, env, summaryBaseName(file))
	if err != nil {
		opLogger.Error("Summary walk failed", "error", err)
		if !errors.Is(err, ErrInternal) {
			err = fmt.Errorf("%w: %w", ErrInternal, err)
		}
		return Summary{}, err
	}
	s.Timestamp = time.Now()
	opLogger.Debug("Computed summary", "provided", len(s.Provided), "types", len(s.Types))
	return s, nil
}

// Diagnostics reports the syntax problems of buffer.
func (e *Engine) Diagnostics(ctx context.Context, buffer []byte) ([]Diagnostic, error) {
	tree, err := e.parse(ctx, buffer, e.logger.With("op", "Diagnostics"))
	if err != nil {
		return nil, err
	}
	return syntaxDiagnostics(tree), nil
}

// parse returns the tree for buffer, sharing trees of identical buffers
// through the memory cache.
func (e *Engine) parse(ctx context.Context, buffer []byte, logger *stdslog.Logger) (*Tree, error) {
	src := append([]byte(nil), buffer...)
	tree, _, err := withMemoryCache[*Tree](e, treeCacheKey(src), estimateTreeCost(len(src)), e.GetCurrentConfig().MemoryCacheTTL,
		func() (*Tree, error) { return e.parser.Parse(ctx, src) }, logger)
	if err != nil {
		logger.Warn("Parse failed", "error", err)
		if !errors.Is(err, ErrParse) {
			err = fmt.Errorf("%w: %w", ErrParse, err)
		}
		return nil, err
	}
	return tree, nil
}

// newRequestEnv builds the per-request environment: summaries first, then
// the /*global*/ declarations of the buffer.
func (e *Engine) newRequestEnv(ctx context.Context, file string, tree *Tree, logger *stdslog.Logger) *TypeEnv {
	env := NewTypeEnv(e.catalog)
	if summaries := e.globalSummaries(ctx, file, logger); len(summaries) > 0 {
		mergeSummaries(env, summaries)
	}
	declareGlobals(env, tree.Comments)
	return env
}

func (e *Engine) globalSummaries(ctx context.Context, file string, logger *stdslog.Logger) []Summary {
	e.mu.RLock()
	provider := e.summaries
	e.mu.RUnlock()
	cfg := e.GetCurrentConfig()
	if provider == nil || file == "" || !cfg.UseSummaries {
		return nil
	}
	summaries, _, err := withMemoryCache[[]Summary](e, summaryCacheKey(file), estimateSummaryCost, cfg.MemoryCacheTTL,
		func() ([]Summary, error) { return provider.RetrieveGlobalSummaries(ctx, file) }, logger)
	if err != nil {
		logger.Warn("Could not retrieve dependency summaries, continuing without them", "error", err)
		return nil
	}
	return summaries
}

// =============================================================================
// Memory Cache
// =============================================================================

// GetMemoryCache retrieves an item from the memory cache.
func (e *Engine) GetMemoryCache(key string) (any, bool) {
	e.mu.RLock()
	cache := e.memoryCache
	e.mu.RUnlock()
	if cache == nil {
		return nil, false
	}
	return cache.Get(key)
}

// SetMemoryCache stores an item and waits for it to become visible.
func (e *Engine) SetMemoryCache(key string, value any, cost int64, ttl time.Duration) bool {
	e.mu.RLock()
	cache := e.memoryCache
	e.mu.RUnlock()
	if cache == nil {
		return false
	}
	set := cache.SetWithTTL(key, value, cost, ttl)
	if set {
		cache.Wait()
	} else {
		e.logger.Warn("SetMemoryCache failed.", "key", key, "cost", cost, "ttl", ttl)
	}
	return set
}

// MemoryCacheEnabled reports whether the ristretto cache is available.
func (e *Engine) MemoryCacheEnabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.memoryCache != nil
}

// GetMemoryCacheMetrics returns the ristretto metrics, nil when caching is disabled.
func (e *Engine) GetMemoryCacheMetrics() *ristretto.Metrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.memoryCache != nil {
		return e.memoryCache.Metrics
	}
	return nil
}

// InvalidateMemoryCache clears every cached tree and summary set.
func (e *Engine) InvalidateMemoryCache() {
	e.mu.RLock()
	cache := e.memoryCache
	e.mu.RUnlock()
	if cache != nil {
		cache.Clear()
	}
}

// InvalidateSummariesForFile drops the cached summary set of file, so the
// next request sees a fresh index.
func (e *Engine) InvalidateSummariesForFile(file string) {
	e.mu.RLock()
	cache := e.memoryCache
	e.mu.RUnlock()
	if cache == nil {
		return
	}
	cache.Del(summaryCacheKey(file))
}
