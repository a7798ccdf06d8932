// jscomplete/jscomplete_types.go
// Contains core type definitions used throughout the jscomplete package.
package jscomplete

import (
	"errors"
	"fmt"
	stdslog "log/slog"
	"net"
	"strings"
	"time"
)

// =============================================================================
// Configuration Types & Constants
// =============================================================================

const (
	defaultLogLevel             = "info"             // Default log level.
	defaultMemoryCacheTTLSecs   = 300                // Default TTL for memory cache items (5 minutes).
	defaultManifestFileName     = ".jscomplete.yaml" // Dependency manifest looked up next to the edited file.
	defaultFetchTimeoutSecs     = 15                 // Per-dependency fetch timeout.
	defaultMaxConcurrentFetches = 4
	defaultDebugListenAddr      = "localhost:6061"
	defaultConfigFileName       = "config.json" // Default config file name.
	configDirName               = "jscomplete"  // Subdirectory name for config/data.
	indexDBFileName             = "index.db"
	cacheSchemaVersion          = 1 // Used to invalidate cache if internal formats change.

	// Retry constants
	maxRetries = 3
	retryDelay = 500 * time.Millisecond
)

// Config holds the active configuration for the content-assist service.
type Config struct {
	LogLevel              string        `json:"log_level"`                // Log level (debug, info, warn, error).
	MemoryCacheTTLSeconds int           `json:"memory_cache_ttl_seconds"` // TTL for memory cache items.
	MemoryCacheTTL        time.Duration `json:"-"`                        // Derived duration, not from file.
	UseSummaries          bool          `json:"use_summaries"`            // Merge dependency summaries before inference.
	IndexDBPath           string        `json:"index_db_path"`            // bbolt file; derived from the user cache dir when empty.
	ManifestFileName      string        `json:"manifest_file_name"`
	FetchTimeoutSeconds   int           `json:"fetch_timeout_seconds"`
	FetchTimeout          time.Duration `json:"-"`
	MaxConcurrentFetches  int           `json:"max_concurrent_fetches"`
	WatchDependencies     bool          `json:"watch_dependencies"`
	DebugListenAddr       string        `json:"debug_listen_addr"` // pprof and /metrics; empty disables.
}

// FileConfig represents the structure of the JSON config file for unmarshalling.
// Uses pointers to distinguish between unset fields and zero-value fields.
type FileConfig struct {
	LogLevel              *string `json:"log_level"`
	MemoryCacheTTLSeconds *int    `json:"memory_cache_ttl_seconds"`
	UseSummaries          *bool   `json:"use_summaries"`
	IndexDBPath           *string `json:"index_db_path"`
	ManifestFileName      *string `json:"manifest_file_name"`
	FetchTimeoutSeconds   *int    `json:"fetch_timeout_seconds"`
	MaxConcurrentFetches  *int    `json:"max_concurrent_fetches"`
	WatchDependencies     *bool   `json:"watch_dependencies"`
	DebugListenAddr       *string `json:"debug_listen_addr"`
}

// Apply copies every set field of fc onto c.
func (fc FileConfig) Apply(c *Config) {
	if fc.LogLevel != nil {
		c.LogLevel = *fc.LogLevel
	}
	if fc.MemoryCacheTTLSeconds != nil {
		c.MemoryCacheTTLSeconds = *fc.MemoryCacheTTLSeconds
	}
	if fc.UseSummaries != nil {
		c.UseSummaries = *fc.UseSummaries
	}
	if fc.IndexDBPath != nil {
		c.IndexDBPath = *fc.IndexDBPath
	}
	if fc.ManifestFileName != nil {
		c.ManifestFileName = *fc.ManifestFileName
	}
	if fc.FetchTimeoutSeconds != nil {
		c.FetchTimeoutSeconds = *fc.FetchTimeoutSeconds
	}
	if fc.MaxConcurrentFetches != nil {
		c.MaxConcurrentFetches = *fc.MaxConcurrentFetches
	}
	if fc.WatchDependencies != nil {
		c.WatchDependencies = *fc.WatchDependencies
	}
	if fc.DebugListenAddr != nil {
		c.DebugListenAddr = *fc.DebugListenAddr
	}
}

// getDefaultConfig returns a new instance of the default configuration.
func getDefaultConfig() Config {
	return Config{
		LogLevel:              defaultLogLevel,
		MemoryCacheTTLSeconds: defaultMemoryCacheTTLSecs,
		MemoryCacheTTL:        time.Duration(defaultMemoryCacheTTLSecs) * time.Second,
		UseSummaries:          true,
		ManifestFileName:      defaultManifestFileName,
		FetchTimeoutSeconds:   defaultFetchTimeoutSecs,
		FetchTimeout:          time.Duration(defaultFetchTimeoutSecs) * time.Second,
		MaxConcurrentFetches:  defaultMaxConcurrentFetches,
		WatchDependencies:     true,
		DebugListenAddr:       defaultDebugListenAddr,
	}
}

// Validate checks if configuration values are valid, applying defaults for some fields.
func (c *Config) Validate(logger *stdslog.Logger) error {
	var validationErrors []error
	if logger == nil {
		logger = stdslog.Default()
	}
	tempDefault := getDefaultConfig()

	if c.MemoryCacheTTLSeconds <= 0 {
		logger.Warn("Config validation: memory_cache_ttl_seconds is not positive, applying default.", "configured_value", c.MemoryCacheTTLSeconds, "default", tempDefault.MemoryCacheTTLSeconds)
		c.MemoryCacheTTLSeconds = tempDefault.MemoryCacheTTLSeconds
	}
	c.MemoryCacheTTL = time.Duration(c.MemoryCacheTTLSeconds) * time.Second

	if c.FetchTimeoutSeconds <= 0 {
		logger.Warn("Config validation: fetch_timeout_seconds is not positive, applying default.", "configured_value", c.FetchTimeoutSeconds, "default", tempDefault.FetchTimeoutSeconds)
		c.FetchTimeoutSeconds = tempDefault.FetchTimeoutSeconds
	}
	c.FetchTimeout = time.Duration(c.FetchTimeoutSeconds) * time.Second

	if c.MaxConcurrentFetches <= 0 {
		logger.Warn("Config validation: max_concurrent_fetches is not positive, applying default.", "configured_value", c.MaxConcurrentFetches, "default", tempDefault.MaxConcurrentFetches)
		c.MaxConcurrentFetches = tempDefault.MaxConcurrentFetches
	}

	if strings.TrimSpace(c.ManifestFileName) == "" {
		logger.Warn("Config validation: manifest_file_name is empty, applying default.", "default", tempDefault.ManifestFileName)
		c.ManifestFileName = tempDefault.ManifestFileName
	} else if strings.ContainsAny(c.ManifestFileName, `/\`) {
		validationErrors = append(validationErrors, fmt.Errorf("manifest_file_name '%s' must be a bare file name", c.ManifestFileName))
		c.ManifestFileName = tempDefault.ManifestFileName
	}

	if c.DebugListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.DebugListenAddr); err != nil {
			validationErrors = append(validationErrors, fmt.Errorf("invalid debug_listen_addr '%s': %w", c.DebugListenAddr, err))
			c.DebugListenAddr = tempDefault.DebugListenAddr
		}
	}

	if c.LogLevel == "" {
		logger.Warn("Config validation: log_level is empty, applying default.", "default", defaultLogLevel)
		c.LogLevel = defaultLogLevel
	} else {
		_, err := ParseLogLevel(c.LogLevel)
		if err != nil {
			logger.Warn("Config validation: Invalid log_level found, applying default.", "configured_value", c.LogLevel, "default", defaultLogLevel, "error", err)
			validationErrors = append(validationErrors, fmt.Errorf("invalid log_level '%s': %w", c.LogLevel, err))
			c.LogLevel = defaultLogLevel
		}
	}

	if len(validationErrors) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(validationErrors...))
	}
	return nil
}

// =============================================================================
// Completion Types
// =============================================================================

// Placeholder is an editable argument inside a call template, in absolute
// buffer offsets.
type Placeholder struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

// Candidate is one completion proposal.
type Candidate struct {
	Text           string        `json:"proposal"`
	Description    string        `json:"description"`
	IsCallable     bool          `json:"-"`
	Placeholders   []Placeholder `json:"positions,omitempty"`
	EscapePosition int           `json:"escapePosition,omitempty"` // Caret offset after the template; callables only.
	Type           string        `json:"type,omitempty"`           // Member type reference.
	Params         []string      `json:"-"`
}

// Selection is the cursor position of a completion request.
type Selection struct {
	Offset int
}

// Proposals is the result of a completion request. Kind is CompletionNone
// for a position that is not a completion site.
type Proposals struct {
	Kind       CompletionKind
	Candidates []Candidate
}

// TypeInfo describes the inferred type of the identifier under the cursor.
type TypeInfo struct {
	Name   string
	Type   string
	Params []string
	Start  int // Byte range of the identifier.
	End    int // Exclusive.
}

// =============================================================================
// Dependency & Summary Types
// =============================================================================

// DependencyKind says how a dependency exposes its names.
type DependencyKind string

const (
	DependencyGlobal DependencyKind = "global" // Adds names to the global scope.
	DependencyModule DependencyKind = "module" // Loaded through a module system; not merged.
)

// Dependency is one entry of a file's dependency list.
type Dependency struct {
	Path      string         `json:"path" yaml:"path"` // Local path (relative to the manifest) or http(s) URL.
	Name      string         `json:"name" yaml:"name"`
	Kind      DependencyKind `json:"kind" yaml:"kind"`
	Timestamp time.Time      `json:"timestamp" yaml:"-"` // Last modification of the dependency source.
}

// Summary is the precomputed contribution of one dependency.
type Summary struct {
	Name      string                         `json:"name,omitempty"`
	Kind      DependencyKind                 `json:"kind,omitempty"`
	Provided  map[string]string              `json:"provided"`
	Types     map[string]map[string]string   `json:"types"`
	Params    map[string]map[string][]string `json:"params,omitempty"` // type -> member -> parameters
	Timestamp time.Time                      `json:"timestamp"`
}

// CachedSummaryEntry is the bbolt representation of a Summary.
type CachedSummaryEntry struct {
	SchemaVersion int    // Version of the cache structure itself.
	SourceHash    string // Hash of the dependency source when summarised.
	SummaryGob    []byte // Gob-encoded Summary.
}

// CachedDependencyEntry is the bbolt representation of a file's dependency list.
type CachedDependencyEntry struct {
	SchemaVersion int
	Dependencies  []Dependency
	Timestamp     time.Time
}

// =============================================================================
// Diagnostic Types
// =============================================================================

type DiagnosticSeverity int

const (
	SeverityError   DiagnosticSeverity = 1
	SeverityWarning DiagnosticSeverity = 2
	SeverityInfo    DiagnosticSeverity = 3
	SeverityHint    DiagnosticSeverity = 4
)

type Position struct {
	Line      int // 0-based
	Character int // 0-based, byte offset within the line
}

// TextRange is a line/character span. End is exclusive.
type TextRange struct {
	Start Position
	End   Position
}

type Diagnostic struct {
	Range    TextRange
	Severity DiagnosticSeverity
	Code     string // Optional code for the diagnostic
	Source   string // e.g., "jscomplete"
	Message  string
}
