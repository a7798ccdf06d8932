// jscomplete/jscomplete_utils_test.go
package jscomplete

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLSPPositionConversion(t *testing.T) {
	content := []byte("line one\ntwo é 😂\nthree €\n")

	tests := []struct {
		name     string
		pos      LSPPosition
		wantLine int
		wantCol  int
		wantByte int
		wantErr  error
	}{
		{name: "start of file", pos: LSPPosition{0, 0}, wantLine: 1, wantCol: 1, wantByte: 0},
		{name: "middle of ASCII line", pos: LSPPosition{0, 5}, wantLine: 1, wantCol: 6, wantByte: 5},
		{name: "end of ASCII line", pos: LSPPosition{0, 8}, wantLine: 1, wantCol: 9, wantByte: 8},
		{name: "start of second line", pos: LSPPosition{1, 0}, wantLine: 2, wantCol: 1, wantByte: 9},
		{name: "before two-byte rune", pos: LSPPosition{1, 4}, wantLine: 2, wantCol: 5, wantByte: 13},
		{name: "after two-byte rune", pos: LSPPosition{1, 5}, wantLine: 2, wantCol: 7, wantByte: 15},
		{name: "before emoji", pos: LSPPosition{1, 6}, wantLine: 2, wantCol: 8, wantByte: 16},
		{name: "inside surrogate pair snaps back", pos: LSPPosition{1, 7}, wantLine: 2, wantCol: 8, wantByte: 16},
		{name: "after emoji", pos: LSPPosition{1, 8}, wantLine: 2, wantCol: 12, wantByte: 20},
		{name: "start of third line", pos: LSPPosition{2, 0}, wantLine: 3, wantCol: 1, wantByte: 21},
		{name: "after euro sign", pos: LSPPosition{2, 7}, wantLine: 3, wantCol: 10, wantByte: 30},
		{name: "empty last line", pos: LSPPosition{3, 0}, wantLine: 4, wantCol: 1, wantByte: 31},
		{name: "clamped past ASCII line end", pos: LSPPosition{0, 10}, wantLine: 1, wantCol: 9, wantByte: 8},
		{name: "clamped past emoji line end", pos: LSPPosition{1, 9}, wantLine: 2, wantCol: 12, wantByte: 20},
		{name: "clamped past euro line end", pos: LSPPosition{2, 8}, wantLine: 3, wantCol: 10, wantByte: 30},
		{name: "character on empty last line", pos: LSPPosition{3, 1}, wantErr: ErrPositionOutOfRange},
		{name: "line past end", pos: LSPPosition{4, 0}, wantErr: ErrPositionOutOfRange},
		{name: "huge line", pos: LSPPosition{1 << 31, 0}, wantErr: ErrPositionOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, col, off, err := LspPositionToBytePosition(content, tt.pos)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLine, line, "line")
			assert.Equal(t, tt.wantCol, col, "col")
			assert.Equal(t, tt.wantByte, off, "byte offset")
		})
	}

	t.Run("nil content", func(t *testing.T) {
		_, _, _, err := LspPositionToBytePosition(nil, LSPPosition{0, 0})
		assert.True(t, errors.Is(err, ErrPositionConversion))
	})

	t.Run("empty content", func(t *testing.T) {
		line, col, off, err := LspPositionToBytePosition([]byte{}, LSPPosition{0, 0})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 1, 0}, []int{line, col, off})
		_, _, _, err = LspPositionToBytePosition([]byte{}, LSPPosition{0, 1})
		assert.True(t, errors.Is(err, ErrPositionOutOfRange))
		_, _, _, err = LspPositionToBytePosition([]byte{}, LSPPosition{1, 0})
		assert.True(t, errors.Is(err, ErrPositionOutOfRange))
	})

	t.Run("CRLF line endings", func(t *testing.T) {
		line, col, off, err := LspPositionToBytePosition([]byte("a\r\nb"), LSPPosition{1, 0})
		require.NoError(t, err)
		assert.Equal(t, []int{2, 1, 3}, []int{line, col, off})
	})
}

func TestUtf16OffsetToBytes(t *testing.T) {
	tests := []struct {
		line    string
		utf16   int
		want    int
		wantErr error
	}{
		{line: "héllo", utf16: 2, want: 3},
		{line: "héllo", utf16: 5, want: 6},
		{line: "héllo", utf16: 6, want: 6, wantErr: ErrPositionOutOfRange},
		{line: "€ euro", utf16: 1, want: 3},
		{line: "€ euro", utf16: 6, want: 8},
		{line: "€ euro", utf16: 7, want: 8, wantErr: ErrPositionOutOfRange},
		{line: "😂笑", utf16: 1, want: 0},
		{line: "😂笑", utf16: 2, want: 4},
		{line: "😂笑", utf16: 3, want: 7},
		{line: "😂笑", utf16: 4, want: 7, wantErr: ErrPositionOutOfRange},
		{line: "", utf16: 1, want: 0, wantErr: ErrPositionOutOfRange},
		{line: "abc", utf16: -1, wantErr: ErrInvalidPositionInput},
	}
	for _, tt := range tests {
		got, err := Utf16OffsetToBytes([]byte(tt.line), tt.utf16)
		if tt.wantErr != nil {
			assert.True(t, errors.Is(err, tt.wantErr), "%q@%d: got %v", tt.line, tt.utf16, err)
		} else {
			assert.NoError(t, err, "%q@%d", tt.line, tt.utf16)
		}
		if tt.utf16 >= 0 {
			assert.Equal(t, tt.want, got, "%q@%d", tt.line, tt.utf16)
		}
	}
}

func TestIdentifierPrefix(t *testing.T) {
	tests := []struct {
		content string
		offset  int
		want    string
	}{
		{content: "foo.ba", offset: 6, want: "ba"},
		{content: "foo.", offset: 4, want: ""},
		{content: "a + $el_2", offset: 9, want: "$el_2"},
		{content: "x = né", offset: 7, want: "né"},
		{content: "foo", offset: 0, want: ""},
		{content: "foo", offset: -3, want: ""},
		{content: "foo", offset: 42, want: "foo"},
		{content: "foo bar", offset: 2, want: "fo"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IdentifierPrefix([]byte(tt.content), tt.offset), "%q@%d", tt.content, tt.offset)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"err":     slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	got, err := ParseLogLevel("chatty")
	assert.Error(t, err)
	assert.Equal(t, slog.LevelInfo, got)
}

func TestValidateAndGetFilePath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX paths")
	}
	tests := []struct {
		uri     string
		want    string
		wantErr bool
	}{
		{uri: "file:///home/user/app.js", want: "/home/user/app.js"},
		{uri: "file:///home/user/../user/lib/x.js", want: "/home/user/lib/x.js"},
		{uri: "file:///tmp/with%20space.js", want: "/tmp/with space.js"},
		{uri: "", wantErr: true},
		{uri: "http://example.com/app.js", wantErr: true},
		{uri: "file:relative/app.js", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ValidateAndGetFilePath(tt.uri, discardLogger())
		if tt.wantErr {
			require.Error(t, err, tt.uri)
			assert.True(t, errors.Is(err, ErrInvalidURI), tt.uri)
			continue
		}
		require.NoError(t, err, tt.uri)
		assert.Equal(t, tt.want, got)
	}
}

func TestPathToURIRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "some dir", "app.js")
	uri, err := PathToURI(path)
	require.NoError(t, err)
	assert.Contains(t, uri, "file://")

	back, err := ValidateAndGetFilePath(uri, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(path), back)
}

func TestHashContent(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", hashContent(nil))
	assert.Len(t, hashContent([]byte("var a;")), 64)
	assert.NotEqual(t, hashContent([]byte("a")), hashContent([]byte("b")))
}

func TestRetry(t *testing.T) {
	unavailable := &FetchError{URL: "https://cdn.example/lib.js", Message: "unavailable", Status: http.StatusServiceUnavailable}

	t.Run("retryable error then success", func(t *testing.T) {
		calls := 0
		err := retry(context.Background(), func() error {
			calls++
			if calls < 3 {
				return unavailable
			}
			return nil
		}, 3, time.Millisecond, discardLogger())
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := retry(context.Background(), func() error {
			calls++
			return unavailable
		}, 3, time.Millisecond, discardLogger())
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.True(t, errors.Is(err, ErrFetch))
	})

	t.Run("non-retryable error stops immediately", func(t *testing.T) {
		calls := 0
		notFound := &FetchError{URL: "https://cdn.example/x.js", Message: "not found", Status: http.StatusNotFound}
		err := retry(context.Background(), func() error {
			calls++
			return notFound
		}, 3, time.Millisecond, discardLogger())
		assert.Same(t, notFound, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := retry(ctx, func() error { return nil }, 3, time.Millisecond, discardLogger())
		assert.True(t, errors.Is(err, context.Canceled))
	})
}
