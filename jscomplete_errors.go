// jscomplete/jscomplete_errors.go
// Contains exported error definitions for the jscomplete package.
package jscomplete

import (
	"errors"
	"fmt"
)

// =============================================================================
// Exported Errors
// =============================================================================

var (
	// ErrParse indicates the buffer could not be turned into a syntax tree at all.
	// Recoverable syntax problems are reported through Tree.Errors instead.
	ErrParse = errors.New("javascript parse failed")

	// ErrInternal indicates an unexpected fault inside the inference engine.
	ErrInternal = errors.New("internal content-assist failure")

	// ErrConfig indicates non-fatal errors during config loading or processing.
	ErrConfig = errors.New("configuration error")

	// ErrInvalidConfig indicates a configuration value is invalid after validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCache indicates a general cache operation failure.
	ErrCache = errors.New("cache operation failed")

	// ErrCacheRead indicates failure reading from the cache.
	ErrCacheRead = errors.New("cache read failed")

	// ErrCacheWrite indicates failure writing to the cache.
	ErrCacheWrite = errors.New("cache write failed")

	// ErrCacheDecode indicates failure decoding data read from the cache.
	ErrCacheDecode = errors.New("cache decode failed")

	// ErrCacheEncode indicates failure encoding data for writing to the cache.
	ErrCacheEncode = errors.New("cache encode failed")

	// ErrIndex indicates a dependency indexing run failed.
	ErrIndex = errors.New("dependency indexing failed")

	// ErrManifest indicates the dependency manifest could not be read or parsed.
	ErrManifest = errors.New("invalid dependency manifest")

	// ErrFetch indicates a dependency's source could not be retrieved.
	ErrFetch = errors.New("dependency fetch failed")

	// ErrSummaryNotFound indicates no summary is stored for a dependency.
	ErrSummaryNotFound = errors.New("summary not found")

	// ErrPositionConversion indicates failure converting between position formats (e.g., LSP <-> byte offset).
	ErrPositionConversion = errors.New("position conversion failed")

	// ErrInvalidPositionInput indicates input position values (line/col) are invalid.
	ErrInvalidPositionInput = errors.New("invalid input position")

	// ErrPositionOutOfRange indicates a position is outside the valid bounds of the file or line.
	ErrPositionOutOfRange = errors.New("position out of range")

	// ErrInvalidUTF8 indicates an invalid UTF-8 sequence was encountered during processing.
	ErrInvalidUTF8 = errors.New("invalid utf-8 sequence")

	// ErrInvalidURI indicates a document URI is invalid or uses an unsupported scheme.
	ErrInvalidURI = errors.New("invalid document URI")
)

// FetchError carries the HTTP status of a failed remote dependency fetch so
// the retry helper can tell transient failures apart.
type FetchError struct {
	URL     string
	Message string
	Status  int // HTTP status code, if available
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s (Status: %d)", e.URL, e.Message, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Message)
}

func (e *FetchError) Unwrap() error { return ErrFetch }
