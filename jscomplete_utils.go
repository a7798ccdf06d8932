// jscomplete/jscomplete_utils.go
// Contains utility functions for positions, configuration files, URIs, caching and retries.
package jscomplete

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"go.etcd.io/bbolt"
)

// ============================================================================
// Terminal Colors
// ============================================================================
var (
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[38;5;119m"
	ColorYellow = "\033[38;5;220m"
	ColorBlue   = "\033[38;5;153m"
	ColorRed    = "\033[38;5;203m"
	ColorCyan   = "\033[38;5;141m"
)

// PrettyPrint prints colored text to stderr.
func PrettyPrint(color, text string) {
	fmt.Fprint(os.Stderr, color, text, ColorReset)
}

// ============================================================================
// LSP Position Conversion Helpers
// ============================================================================

// LspPositionToBytePosition converts 0-based LSP line/character (UTF-16) to
// 1-based line/column (bytes) and 0-based byte offset.
func LspPositionToBytePosition(content []byte, lspPos LSPPosition) (line, col, byteOffset int, err error) {
	if content == nil {
		return 0, 0, -1, fmt.Errorf("%w: file content is nil", ErrPositionConversion)
	}
	targetLine := int(lspPos.Line)
	targetUTF16Char := int(lspPos.Character)

	currentLine := 0
	currentByteOffset := 0
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), len(content)+1)
	for scanner.Scan() {
		lineTextBytes := scanner.Bytes()
		lineLengthBytes := len(lineTextBytes)
		newlineLengthBytes := 1
		if currentLine == targetLine {
			byteOffsetInLine, convErr := Utf16OffsetToBytes(lineTextBytes, targetUTF16Char)
			if convErr != nil {
				if errors.Is(convErr, ErrPositionOutOfRange) { // Clamp to line end on out-of-range error.
					slog.Warn("UTF16 offset out of range, clamping to line end",
						"line", targetLine,
						"char", targetUTF16Char,
						"error", convErr)
					byteOffsetInLine = lineLengthBytes
				} else {
					return 0, 0, -1, fmt.Errorf("failed converting UTF16 to byte offset on line %d: %w", currentLine, convErr)
				}
			}
			return currentLine + 1, byteOffsetInLine + 1, currentByteOffset + byteOffsetInLine, nil
		}
		if currentByteOffset+lineLengthBytes < len(content) && content[currentByteOffset+lineLengthBytes] == '\r' {
			newlineLengthBytes = 2
		}
		currentByteOffset += lineLengthBytes + newlineLengthBytes
		currentLine++
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, -1, fmt.Errorf("%w: error scanning file content: %w", ErrPositionConversion, err)
	}

	// Cursor on the line after the last line of content.
	if currentLine == targetLine {
		if targetUTF16Char == 0 {
			return currentLine + 1, 1, min(currentByteOffset, len(content)), nil
		}
		return 0, 0, -1, fmt.Errorf("%w: invalid character offset %d on line %d (after last line with content)", ErrPositionOutOfRange, targetUTF16Char, targetLine)
	}
	return 0, 0, -1, fmt.Errorf("%w: LSP line %d not found in file (total lines scanned %d)", ErrPositionOutOfRange, targetLine, currentLine)
}

// IdentifierPrefix returns the identifier characters directly before offset,
// the text a completion proposal replaces.
func IdentifierPrefix(content []byte, offset int) string {
	if offset <= 0 {
		return ""
	}
	if offset > len(content) {
		offset = len(content)
	}
	start := offset
	for start > 0 {
		r, size := utf8.DecodeLastRune(content[:start])
		if !isIdentifierRune(r) {
			break
		}
		start -= size
	}
	return string(content[start:offset])
}

func isIdentifierRune(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Utf16OffsetToBytes converts a 0-based UTF-16 offset within a line to a 0-based byte offset.
func Utf16OffsetToBytes(line []byte, utf16Offset int) (int, error) {
	if utf16Offset < 0 {
		return 0, fmt.Errorf("%w: invalid utf16Offset: %d (must be >= 0)", ErrInvalidPositionInput, utf16Offset)
	}
	if utf16Offset == 0 {
		return 0, nil
	}

	byteOffset := 0
	currentUTF16Offset := 0
	for byteOffset < len(line) {
		if currentUTF16Offset >= utf16Offset {
			break
		}
		r, size := utf8.DecodeRune(line[byteOffset:])
		if r == utf8.RuneError && size <= 1 {
			return byteOffset, fmt.Errorf("%w at byte offset %d", ErrInvalidUTF8, byteOffset)
		}
		utf16Units := 1
		if r > 0xFFFF {
			utf16Units = 2
		}
		// Landing inside a surrogate pair snaps to the rune start.
		if currentUTF16Offset+utf16Units > utf16Offset {
			break
		}
		currentUTF16Offset += utf16Units
		byteOffset += size
	}
	if currentUTF16Offset < utf16Offset && byteOffset >= len(line) {
		return len(line), fmt.Errorf("%w: utf16Offset %d is beyond the line length in UTF-16 units (%d)", ErrPositionOutOfRange, utf16Offset, currentUTF16Offset)
	}
	return byteOffset, nil
}

// ============================================================================
// Logging & Configuration Files
// ============================================================================

// ParseLogLevel converts a log level name to its slog level.
func ParseLogLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", levelStr)
}

// GetConfigPaths returns the primary (XDG config dir) and secondary (~/.config)
// locations of the config file.
func GetConfigPaths(logger *slog.Logger) (primary, secondary string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	var errs []error
	if cfgDir, cfgErr := os.UserConfigDir(); cfgErr == nil {
		primary = filepath.Join(cfgDir, configDirName, defaultConfigFileName)
	} else {
		logger.Warn("Could not determine user config directory", "error", cfgErr)
		errs = append(errs, cfgErr)
	}
	if home, homeErr := os.UserHomeDir(); homeErr == nil {
		secondary = filepath.Join(home, ".config", configDirName, defaultConfigFileName)
	} else {
		logger.Warn("Could not determine user home directory", "error", homeErr)
		errs = append(errs, homeErr)
	}
	if primary == "" && secondary == "" {
		return "", "", fmt.Errorf("%w: cannot determine config location: %w", ErrConfig, errors.Join(errs...))
	}
	if primary == "" {
		primary = secondary
	}
	return primary, secondary, nil
}

// LoadAndMergeConfig overlays the JSON file at path onto cfg. It reports
// false without error when the file does not exist.
func LoadAndMergeConfig(path string, cfg *Config, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("Config file not found", "path", path)
			return false, nil
		}
		return false, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		logger.Warn("Config file is empty, ignoring", "path", path)
		return false, nil
	}
	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return false, fmt.Errorf("parsing config file JSON %s: %w", path, err)
	}
	fc.Apply(cfg)
	return true, nil
}

// WriteDefaultConfig writes cfg as indented JSON, creating parent directories.
func WriteDefaultConfig(path string, cfg Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("writing default config %s: %w", path, err)
	}
	logger.Info("Wrote default config", "path", path)
	return nil
}

// defaultIndexDBPath is the bbolt file used when index_db_path is unset.
func defaultIndexDBPath() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, configDirName, fmt.Sprintf("v%d", cacheSchemaVersion), indexDBFileName), nil
}

// ============================================================================
// URI Helpers
// ============================================================================

// ValidateAndGetFilePath converts a file:// URI to a cleaned absolute path.
func ValidateAndGetFilePath(uri string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if uri == "" {
		return "", fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURI, u.Scheme)
	}
	path := u.Path
	if runtime.GOOS == "windows" {
		path = strings.TrimPrefix(path, "/")
	}
	path = filepath.FromSlash(path)
	if !filepath.IsAbs(path) {
		logger.Warn("URI path is not absolute", "uri", uri, "path", path)
		return "", fmt.Errorf("%w: path %q is not absolute", ErrInvalidURI, path)
	}
	return filepath.Clean(path), nil
}

// PathToURI converts a file path to a file:// URI.
func PathToURI(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	slashed := filepath.ToSlash(abs)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	return (&url.URL{Scheme: "file", Path: slashed}).String(), nil
}

// ============================================================================
// Cache Helper Functions
// ============================================================================

// hashContent returns the hex SHA-256 of data.
func hashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// deleteCacheEntryByKey removes an entry directly using the key.
func deleteCacheEntryByKey(db *bbolt.DB, bucket, cacheKey []byte, logger *slog.Logger) error {
	if db == nil {
		return errors.New("cannot delete cache entry: db is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("bucket", string(bucket), "cache_key", string(cacheKey))

	err := db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			logger.Warn("Cache bucket not found during delete attempt.")
			return nil
		}
		if b.Get(cacheKey) == nil {
			logger.Debug("Cache key not found during delete attempt.")
			return nil
		}
		logger.Debug("Deleting cache entry")
		return b.Delete(cacheKey)
	})
	if err != nil {
		logger.Warn("Failed to delete cache entry", "error", err)
		return fmt.Errorf("%w: failed to delete entry %s: %w", ErrCacheWrite, string(cacheKey), err)
	}
	return nil
}

// ============================================================================
// Retry Helper
// ============================================================================

// retry executes an operation with a fixed delay between attempts. Only
// FetchErrors carrying 503 or 429 are retried.
func retry(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, logger *slog.Logger) error {
	var lastErr error
	if logger == nil {
		logger = slog.Default()
	}

	for i := 0; i < maxRetries; i++ {
		attemptLogger := logger.With("attempt", i+1, "max_attempts", maxRetries)
		select {
		case <-ctx.Done():
			attemptLogger.Warn("Context cancelled before attempt", "error", ctx.Err())
			return ctx.Err()
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			attemptLogger.Warn("Attempt failed due to context error. Not retrying.", "error", lastErr)
			return lastErr
		}

		var fetchErr *FetchError
		isRetryable := errors.As(lastErr, &fetchErr) && (fetchErr.Status == http.StatusServiceUnavailable || fetchErr.Status == http.StatusTooManyRequests)
		if !isRetryable {
			attemptLogger.Warn("Attempt failed with non-retryable error.", "error", lastErr)
			return lastErr
		}

		if i == maxRetries-1 {
			break
		}

		attemptLogger.Warn("Attempt failed with retryable error. Retrying...", "error", lastErr, "delay", initialDelay)
		select {
		case <-ctx.Done():
			attemptLogger.Warn("Context cancelled during retry wait", "error", ctx.Err())
			return ctx.Err()
		case <-time.After(initialDelay):
		}
	}
	logger.Error("Operation failed after all retries.", "retries", maxRetries, "final_error", lastErr)
	return fmt.Errorf("operation failed after %d retries: %w", maxRetries, lastErr)
}

// ============================================================================
// Spinner
// ============================================================================

// Spinner provides simple terminal spinner feedback.
type Spinner struct {
	chars    []string
	message  string
	index    int
	mu       sync.Mutex
	stopChan chan struct{}
	doneChan chan struct{}
	running  bool
}

func NewSpinner() *Spinner {
	return &Spinner{chars: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}}
}

// Start begins the spinner animation in a separate goroutine.
func (s *Spinner) Start(initialMessage string) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.message = initialMessage
	s.running = true
	stop, done := s.stopChan, s.doneChan
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				char := s.chars[s.index]
				msg := s.message
				s.index = (s.index + 1) % len(s.chars)
				s.mu.Unlock()
				fmt.Fprintf(os.Stderr, "\r\033[K%s%s%s %s", ColorCyan, char, ColorReset, msg)
			}
		}
	}()
}

// UpdateMessage changes the text displayed next to the spinner.
func (s *Spinner) UpdateMessage(newMessage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.message = newMessage
	}
}

// Stop halts the spinner animation and clears its line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	done := s.doneChan
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		slog.Warn("Timeout waiting for spinner goroutine cleanup")
	}
	fmt.Fprintf(os.Stderr, "\r\033[K")
}
