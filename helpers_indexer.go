// jscomplete/helpers_indexer.go
// Persistent summary store (bbolt), the dependency indexer and the dependency watcher.
package jscomplete

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"
)

var (
	dependenciesBucket = []byte("Dependencies") // source file -> CachedDependencyEntry
	summariesBucket    = []byte("Summaries")    // dependency path -> CachedSummaryEntry
)

// ============================================================================
// Index Store
// ============================================================================

// IndexStore persists dependency lists and summaries in a bbolt file.
// Entries written with another schema version read as missing.
type IndexStore struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// OpenIndexStore opens (creating if needed) the bbolt file at path.
func OpenIndexStore(path string, logger *slog.Logger) (*IndexStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	storeLogger := logger.With("component", "IndexStore", "path", path)

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("%w: creating index directory: %w", ErrCache, err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: opening index %s: %w", ErrCache, path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{dependenciesBucket, summariesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", string(name), err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}
	storeLogger.Info("Using bbolt index store", "schema_version", cacheSchemaVersion)
	return &IndexStore{db: db, logger: storeLogger}, nil
}

// Close closes the underlying bbolt file.
func (s *IndexStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *IndexStore) put(bucket []byte, key string, value any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheEncode, err)
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("bucket %s not found", string(bucket))
		}
		return b.Put([]byte(key), buf.Bytes())
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCacheWrite, err)
	}
	return nil
}

// get decodes the entry under key into out. It reports false when the key is absent.
func (s *IndexStore) get(bucket []byte, key string, out any) (bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("bucket %s not found", string(bucket))
		}
		if v := b.Get([]byte(key)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCacheRead, err)
	}
	if raw == nil {
		return false, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(out); err != nil {
		s.logger.Warn("Failed to decode index entry, deleting", "key", key, "error", err)
		deleteCacheEntryByKey(s.db, bucket, []byte(key), s.logger)
		return false, fmt.Errorf("%w: %w", ErrCacheDecode, err)
	}
	return true, nil
}

// PutDependencies records the dependency list of a source file.
func (s *IndexStore) PutDependencies(file string, deps []Dependency) error {
	return s.put(dependenciesBucket, file, CachedDependencyEntry{
		SchemaVersion: cacheSchemaVersion,
		Dependencies:  deps,
		Timestamp:     time.Now(),
	})
}

// Dependencies returns the recorded dependency list of a source file.
func (s *IndexStore) Dependencies(file string) ([]Dependency, bool, error) {
	var entry CachedDependencyEntry
	ok, err := s.get(dependenciesBucket, file, &entry)
	if err != nil || !ok {
		return nil, false, err
	}
	if entry.SchemaVersion != cacheSchemaVersion {
		s.logger.Info("Dependency entry has another schema version, ignoring", "file", file, "version", entry.SchemaVersion)
		deleteCacheEntryByKey(s.db, dependenciesBucket, []byte(file), s.logger)
		return nil, false, nil
	}
	return entry.Dependencies, true, nil
}

// PutSummary stores the summary of the dependency at path together with the
// hash of the source it was computed from.
func (s *IndexStore) PutSummary(path, sourceHash string, summary Summary) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(summary); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheEncode, err)
	}
	return s.put(summariesBucket, path, CachedSummaryEntry{
		SchemaVersion: cacheSchemaVersion,
		SourceHash:    sourceHash,
		SummaryGob:    buf.Bytes(),
	})
}

// Summary returns the stored summary of the dependency at path and the
// source hash it was computed from, or ErrSummaryNotFound.
func (s *IndexStore) Summary(path string) (Summary, string, error) {
	var entry CachedSummaryEntry
	ok, err := s.get(summariesBucket, path, &entry)
	if err != nil {
		return Summary{}, "", err
	}
	if !ok || entry.SchemaVersion != cacheSchemaVersion {
		return Summary{}, "", fmt.Errorf("%w: %s", ErrSummaryNotFound, path)
	}
	var summary Summary
	if err := gob.NewDecoder(bytes.NewReader(entry.SummaryGob)).Decode(&summary); err != nil {
		s.DeleteSummary(path)
		return Summary{}, "", fmt.Errorf("%w: %w", ErrCacheDecode, err)
	}
	return summary, entry.SourceHash, nil
}

// DeleteSummary removes the summary of the dependency at path.
func (s *IndexStore) DeleteSummary(path string) error {
	return deleteCacheEntryByKey(s.db, summariesBucket, []byte(path), s.logger)
}

// ============================================================================
// Indexer
// ============================================================================

// Summarizer computes the summary of a dependency source.
type Summarizer interface {
	ComputeSummary(ctx context.Context, buffer []byte, file string) (Summary, error)
}

// IndexReport describes one PerformIndex run.
type IndexReport struct {
	RunID        string
	File         string
	Manifest     string       // Empty when no manifest was found.
	Dependencies []Dependency // Resolved dependency list.
	Indexed      []string     // Paths whose summaries were (re)computed.
	Unchanged    []string     // Stale paths whose source hash had not changed.
	Failed       []string
	Duration     time.Duration
}

// WatchPaths lists the local files a change of which invalidates the report.
func (r IndexReport) WatchPaths() []string {
	var paths []string
	if r.Manifest != "" {
		paths = append(paths, r.Manifest)
	}
	for _, dep := range r.Dependencies {
		if !isRemoteDependency(dep.Path) {
			paths = append(paths, dep.Path)
		}
	}
	return paths
}

// Indexer keeps the summaries of every file's dependencies current.
// It implements SummaryProvider.
type Indexer struct {
	store      *IndexStore
	summarizer Summarizer
	client     *http.Client
	config     Config
	configMu   sync.RWMutex
	logger     *slog.Logger
}

// NewIndexer creates an indexer writing to store.
func NewIndexer(store *IndexStore, summarizer Summarizer, config Config, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:      store,
		summarizer: summarizer,
		client:     &http.Client{Timeout: config.FetchTimeout},
		config:     config,
		logger:     logger.With("component", "Indexer"),
	}
}

// UpdateConfig replaces the indexer's view of the configuration.
func (ix *Indexer) UpdateConfig(cfg Config) {
	ix.configMu.Lock()
	defer ix.configMu.Unlock()
	ix.config = cfg
	ix.client = &http.Client{Timeout: cfg.FetchTimeout}
}

func (ix *Indexer) getConfig() (Config, *http.Client) {
	ix.configMu.RLock()
	defer ix.configMu.RUnlock()
	return ix.config, ix.client
}

// PerformIndex resolves the dependencies of file, records them and
// recomputes the summaries that are stale. Failures of single dependencies
// do not stop the others; they are joined into an ErrIndex error.
func (ix *Indexer) PerformIndex(ctx context.Context, file string) (IndexReport, error) {
	start := time.Now()
	report := IndexReport{RunID: uuid.NewString()}
	absFile, err := filepath.Abs(file)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrIndex, err)
	}
	report.File = absFile
	runLogger := ix.logger.With("run_id", report.RunID, "file", absFile)
	runLogger.Info("Indexing dependencies")
	cfg, client := ix.getConfig()

	deps, manifestPath, err := loadDependencies(absFile, cfg.ManifestFileName, runLogger)
	report.Manifest = manifestPath
	report.Dependencies = deps
	var indexErrors []error
	if err != nil {
		if len(deps) == 0 {
			return report, fmt.Errorf("%w: %w", ErrIndex, err)
		}
		runLogger.Warn("Manifest has invalid entries, indexing the valid ones", "error", err)
		indexErrors = append(indexErrors, err)
	}
	if err := ix.store.PutDependencies(absFile, deps); err != nil {
		return report, fmt.Errorf("%w: %w", ErrIndex, err)
	}

	stale, err := ix.checkCache(deps)
	if err != nil {
		runLogger.Warn("Cache check failed, re-indexing everything", "error", err)
		stale = deps
	}
	runLogger.Debug("Cache checked", "dependencies", len(deps), "stale", len(stale))

	type outcome struct {
		changed bool
		err     error
	}
	results := make([]outcome, len(stale))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxConcurrentFetches)
	for i, dep := range stale {
		g.Go(func() error {
			changed, err := ix.indexDependency(gctx, client, cfg.FetchTimeout, dep, runLogger)
			results[i] = outcome{changed: changed, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, dep := range stale {
		switch r := results[i]; {
		case r.err != nil:
			report.Failed = append(report.Failed, dep.Path)
			indexErrors = append(indexErrors, fmt.Errorf("%s: %w", dep.Name, r.err))
		case r.changed:
			report.Indexed = append(report.Indexed, dep.Path)
		default:
			report.Unchanged = append(report.Unchanged, dep.Path)
		}
	}
	report.Duration = time.Since(start)
	runLogger.Info("Indexing finished", "indexed", len(report.Indexed), "unchanged", len(report.Unchanged), "failed", len(report.Failed), "duration", report.Duration)

	if len(indexErrors) > 0 {
		return report, fmt.Errorf("%w: %w", ErrIndex, errors.Join(indexErrors...))
	}
	return report, nil
}

// checkCache returns the dependencies whose summary is missing or older
// than the dependency. A dependency without a timestamp is always stale.
func (ix *Indexer) checkCache(deps []Dependency) ([]Dependency, error) {
	var stale []Dependency
	var readErrors []error
	for _, dep := range deps {
		summary, _, err := ix.store.Summary(dep.Path)
		if err != nil {
			if !errors.Is(err, ErrSummaryNotFound) {
				readErrors = append(readErrors, err)
			}
			stale = append(stale, dep)
			continue
		}
		if dep.Timestamp.IsZero() || summary.Timestamp.IsZero() || summary.Timestamp.Before(dep.Timestamp) {
			stale = append(stale, dep)
		}
	}
	return stale, errors.Join(readErrors...)
}

// indexDependency fetches dep and stores its summary. It reports false when
// the source is unchanged since the stored summary, which is then only
// re-stamped.
func (ix *Indexer) indexDependency(ctx context.Context, client *http.Client, timeout time.Duration, dep Dependency, logger *slog.Logger) (bool, error) {
	depLogger := logger.With("dependency", dep.Name, "path", dep.Path)
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	src, err := fetchDependency(fetchCtx, client, dep, depLogger)
	if err != nil {
		depLogger.Warn("Fetching dependency failed", "error", err)
		return false, err
	}
	hash := hashContent(src)

	if previous, prevHash, err := ix.store.Summary(dep.Path); err == nil && prevHash == hash {
		previous.Timestamp = time.Now()
		return false, ix.store.PutSummary(dep.Path, hash, previous)
	}

	summary, err := ix.summarizer.ComputeSummary(ctx, src, dep.Path)
	if err != nil {
		depLogger.Warn("Summarising dependency failed", "error", err)
		return false, err
	}
	summary.Name = dep.Name
	summary.Kind = dep.Kind
	if summary.Timestamp.IsZero() {
		summary.Timestamp = time.Now()
	}
	if err := ix.store.PutSummary(dep.Path, hash, summary); err != nil {
		return false, err
	}
	depLogger.Debug("Stored summary", "provided", len(summary.Provided), "types", len(summary.Types))
	return true, nil
}

// RetrieveGlobalSummaries returns the stored summaries of the global-kind
// dependencies of file, in manifest order. Dependencies not yet indexed are
// left out.
func (ix *Indexer) RetrieveGlobalSummaries(ctx context.Context, file string) ([]Summary, error) {
	deps, err := ix.storedDependencies(file)
	if err != nil {
		return nil, err
	}
	var summaries []Summary
	for _, dep := range deps {
		if dep.Kind != DependencyGlobal {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		summary, _, err := ix.store.Summary(dep.Path)
		if err != nil {
			if errors.Is(err, ErrSummaryNotFound) {
				ix.logger.Debug("Dependency not indexed yet", "file", file, "dependency", dep.Name)
				continue
			}
			return nil, err
		}
		summary.Name = dep.Name
		summary.Kind = dep.Kind
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// RetrieveSummary returns the summary of the dependency of file called name.
func (ix *Indexer) RetrieveSummary(ctx context.Context, file, name string) (Summary, error) {
	deps, err := ix.storedDependencies(file)
	if err != nil {
		return Summary{}, err
	}
	for _, dep := range deps {
		if dep.Name != name {
			continue
		}
		summary, _, err := ix.store.Summary(dep.Path)
		if err != nil {
			return Summary{}, err
		}
		summary.Name = dep.Name
		summary.Kind = dep.Kind
		return summary, nil
	}
	return Summary{}, fmt.Errorf("%w: no dependency %q for %s", ErrSummaryNotFound, name, file)
}

func (ix *Indexer) storedDependencies(file string) ([]Dependency, error) {
	absFile, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndex, err)
	}
	deps, _, err := ix.store.Dependencies(absFile)
	return deps, err
}

// IndexFile re-indexes the dependencies of file and drops the engine's
// cached summaries for it.
func (e *Engine) IndexFile(ctx context.Context, file string) (IndexReport, error) {
	idx := e.Indexer()
	if idx == nil {
		return IndexReport{}, fmt.Errorf("%w: dependency summaries are disabled", ErrIndex)
	}
	report, err := idx.PerformIndex(ctx, file)
	if report.File != "" {
		e.InvalidateSummariesForFile(report.File)
	}
	return report, err
}

// ============================================================================
// Dependency Watcher
// ============================================================================

const watchDebounce = 250 * time.Millisecond

// DependencyWatcher calls reindex for a source file when its manifest or one
// of its local dependencies changes on disk.
type DependencyWatcher struct {
	watcher *fsnotify.Watcher
	reindex func(ctx context.Context, file string)

	mu         sync.Mutex
	dependents map[string]map[string]struct{} // watched path -> source files
	dirs       map[string]struct{}

	logger *slog.Logger
}

// NewDependencyWatcher creates a watcher; Run must be called to process events.
func NewDependencyWatcher(reindex func(ctx context.Context, file string), logger *slog.Logger) (*DependencyWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	return &DependencyWatcher{
		watcher:    fw,
		reindex:    reindex,
		dependents: make(map[string]map[string]struct{}),
		dirs:       make(map[string]struct{}),
		logger:     logger.With("component", "DependencyWatcher"),
	}, nil
}

// Watch registers paths as inputs of file. Parent directories are watched,
// so editors that replace files on save are still seen.
func (w *DependencyWatcher) Watch(file string, paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var watchErrors []error
	for _, p := range paths {
		p = filepath.Clean(p)
		if w.dependents[p] == nil {
			w.dependents[p] = make(map[string]struct{})
		}
		w.dependents[p][file] = struct{}{}
		dir := filepath.Dir(p)
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			watchErrors = append(watchErrors, fmt.Errorf("watching %s: %w", dir, err))
			continue
		}
		w.dirs[dir] = struct{}{}
		w.logger.Debug("Watching directory", "dir", dir)
	}
	return errors.Join(watchErrors...)
}

// Forget stops reporting changes for file.
func (w *DependencyWatcher) Forget(file string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, files := range w.dependents {
		delete(files, file)
		if len(files) == 0 {
			delete(w.dependents, p)
		}
	}
}

// affected returns the source files depending on path, sorted.
func (w *DependencyWatcher) affected(path string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	files := make([]string, 0, len(w.dependents[filepath.Clean(path)]))
	for f := range w.dependents[filepath.Clean(path)] {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Run processes file events until ctx is done or the watcher is closed.
// Bursts of events are coalesced per source file.
func (w *DependencyWatcher) Run(ctx context.Context) error {
	pending := make(map[string]struct{})
	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			files := w.affected(ev.Name)
			if len(files) == 0 {
				continue
			}
			w.logger.Debug("Dependency changed", "path", ev.Name, "op", ev.Op.String(), "dependents", len(files))
			for _, f := range files {
				pending[f] = struct{}{}
			}
			timer.Reset(watchDebounce)

		case <-timer.C:
			for _, f := range sortedKeys(pending) {
				w.reindex(ctx, f)
			}
			clear(pending)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", "error", err)
		}
	}
}

// Close stops the underlying watcher.
func (w *DependencyWatcher) Close() error {
	return w.watcher.Close()
}
