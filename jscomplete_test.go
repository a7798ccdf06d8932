// jscomplete/jscomplete_test.go
package jscomplete

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"
)

const cursorMarker = "<|>"

// completionCase is one testdata/completion archive: the buffer with its
// cursor marker removed and the expectations from its want section.
type completionCase struct {
	src          []byte
	offset       int
	prefix       string
	kind         CompletionKind
	texts        []string
	has          []string
	lacks        []string
	empty        bool
	placeholders []Placeholder
}

func loadCompletionCase(t *testing.T, path string) completionCase {
	t.Helper()
	ar, err := txtar.ParseFile(path)
	require.NoError(t, err)

	var input, want []byte
	for _, f := range ar.Files {
		switch f.Name {
		case "input.js":
			input = f.Data
		case "want":
			want = f.Data
		}
	}
	require.NotNil(t, input, "%s has no input.js section", path)
	require.NotNil(t, want, "%s has no want section", path)

	src := strings.TrimSuffix(string(input), "\n")
	offset := strings.Index(src, cursorMarker)
	require.GreaterOrEqual(t, offset, 0, "%s has no cursor marker", path)
	src = strings.Replace(src, cursorMarker, "", 1)

	c := completionCase{src: []byte(src), offset: offset}
	c.prefix = IdentifierPrefix(c.src, offset)

	sc := bufio.NewScanner(strings.NewReader(string(want)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		directive, arg, _ := strings.Cut(line, " ")
		switch directive {
		case "kind":
			switch arg {
			case "none":
				c.kind = CompletionNone
			case "top":
				c.kind = CompletionTop
			case "member":
				c.kind = CompletionMember
			default:
				t.Fatalf("%s: unknown kind %q", path, arg)
			}
		case "prefix":
			c.prefix = arg
		case "text":
			c.texts = append(c.texts, arg)
		case "has":
			c.has = append(c.has, arg)
		case "lacks":
			c.lacks = append(c.lacks, arg)
		case "empty":
			c.empty = true
		case "placeholder":
			fields := strings.Fields(arg)
			require.Len(t, fields, 2, "%s: placeholder wants <offset> <length>", path)
			off, err := strconv.Atoi(fields[0])
			require.NoError(t, err)
			n, err := strconv.Atoi(fields[1])
			require.NoError(t, err)
			c.placeholders = append(c.placeholders, Placeholder{Offset: off, Length: n})
		default:
			t.Fatalf("%s: unknown directive %q", path, directive)
		}
	}
	require.NoError(t, sc.Err())
	return c
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := getDefaultConfig()
	cfg.UseSummaries = false
	cfg.DebugListenAddr = ""
	e, err := NewEngineWithConfig(cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestComputeProposalsScenarios(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "completion", "*.txtar"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	e := newTestEngine(t)
	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".txtar")
		t.Run(name, func(t *testing.T) {
			c := loadCompletionCase(t, file)
			got, err := e.ComputeProposals(context.Background(), c.prefix, c.src, Selection{Offset: c.offset})
			require.NoError(t, err)
			assert.Equal(t, c.kind, got.Kind, "kind")
			require.NotNil(t, got.Candidates)

			if c.empty {
				assert.Empty(t, got.Candidates)
			}
			if c.texts != nil {
				assert.Equal(t, c.texts, candidateTexts(got.Candidates))
			}
			names := candidateNames(got.Candidates)
			for _, h := range c.has {
				assert.Contains(t, names, h)
			}
			for _, l := range c.lacks {
				assert.NotContains(t, names, l)
			}
			if c.placeholders != nil {
				require.Len(t, got.Candidates, 1)
				assert.Equal(t, c.placeholders, got.Candidates[0].Placeholders)
			}
			for _, cand := range got.Candidates {
				assert.True(t, strings.HasPrefix(cand.Text, c.prefix), "%q does not start with %q", cand.Text, c.prefix)
			}
		})
	}
}

func TestComputeProposalsInvalidPosition(t *testing.T) {
	e := newTestEngine(t)
	buf := []byte("var a = 1;")
	tests := []struct {
		name   string
		prefix string
		offset int
	}{
		{name: "negative offset", offset: -1},
		{name: "offset past end", offset: len(buf) + 1},
		{name: "prefix longer than offset", prefix: "abcdef", offset: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.ComputeProposals(context.Background(), tt.prefix, buf, Selection{Offset: tt.offset})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPositionInput))
			assert.Equal(t, CompletionNone, got.Kind)
			assert.NotNil(t, got.Candidates)
			assert.Empty(t, got.Candidates)
		})
	}
}

func TestComputeProposalsRepeatable(t *testing.T) {
	e := newTestEngine(t)
	buf := []byte("var x = 5; x.")
	sel := Selection{Offset: len(buf)}

	first, err := e.ComputeProposals(context.Background(), "", buf, sel)
	require.NoError(t, err)
	second, err := e.ComputeProposals(context.Background(), "", buf, sel)
	require.NoError(t, err)
	assert.Equal(t, first, second, "a cached tree yields the same proposals")

	// The shared tree must not keep anything from the previous request.
	other := []byte("var x = \"s\"; x.")
	third, err := e.ComputeProposals(context.Background(), "", other, Selection{Offset: len(other)})
	require.NoError(t, err)
	assert.Contains(t, candidateNames(third.Candidates), "charAt")
	assert.NotContains(t, candidateNames(third.Candidates), "toFixed")
}

type stubSummaries struct {
	summaries []Summary
	err       error
	calls     int
}

func (s *stubSummaries) RetrieveGlobalSummaries(_ context.Context, _ string) ([]Summary, error) {
	s.calls++
	return s.summaries, s.err
}

func TestComputeFileProposalsMergesSummaries(t *testing.T) {
	cfg := getDefaultConfig()
	cfg.DebugListenAddr = ""
	cfg.IndexDBPath = filepath.Join(t.TempDir(), "index.db")
	e, err := NewEngineWithConfig(cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	require.NotNil(t, e.Indexer())

	lib := Summary{
		Name:     "jq",
		Kind:     DependencyGlobal,
		Provided: map[string]string{"lib": "jq~1"},
		Types:    map[string]map[string]string{"jq~1": {"ajax": "Object"}},
		Params:   map[string]map[string][]string{"jq~1": {"ajax": {"url"}}},
	}
	buf := []byte("lib.")
	sel := Selection{Offset: len(buf)}

	t.Run("file with summaries", func(t *testing.T) {
		stub := &stubSummaries{summaries: []Summary{lib}}
		e.SetSummaryProvider(stub)
		got, err := e.ComputeFileProposals(context.Background(), "/work/app.js", "", buf, sel)
		require.NoError(t, err)
		assert.Equal(t, CompletionMember, got.Kind)
		assert.Contains(t, candidateTexts(got.Candidates), "ajax(url)")
		assert.Equal(t, 1, stub.calls)
	})

	t.Run("unnamed buffer ignores summaries", func(t *testing.T) {
		stub := &stubSummaries{summaries: []Summary{lib}}
		e.SetSummaryProvider(stub)
		got, err := e.ComputeProposals(context.Background(), "", buf, sel)
		require.NoError(t, err)
		assert.NotContains(t, candidateNames(got.Candidates), "ajax")
		assert.Zero(t, stub.calls)
	})

	t.Run("provider error is not fatal", func(t *testing.T) {
		e.SetSummaryProvider(&stubSummaries{err: errors.New("index unavailable")})
		got, err := e.ComputeFileProposals(context.Background(), "/work/app.js", "", buf, sel)
		require.NoError(t, err)
		assert.Equal(t, CompletionMember, got.Kind)
		assert.NotContains(t, candidateNames(got.Candidates), "ajax")
		assert.Contains(t, candidateNames(got.Candidates), "toString")
	})
}

func TestTypeAt(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	t.Run("variable", func(t *testing.T) {
		info, err := e.TypeAt(ctx, "", []byte("var x = 5;\nx;"), 11)
		require.NoError(t, err)
		require.NotNil(t, info)
		assert.Equal(t, "x", info.Name)
		assert.Equal(t, TypeNumber, info.Type)
		assert.Equal(t, 11, info.Start)
		assert.Equal(t, 12, info.End)
	})

	t.Run("function", func(t *testing.T) {
		info, err := e.TypeAt(ctx, "", []byte("function add(a, b) { return a + b; }\nadd(1, 2);"), 37)
		require.NoError(t, err)
		require.NotNil(t, info)
		assert.Equal(t, "add", info.Name)
		assert.Equal(t, "?Number", info.Type)
		assert.Equal(t, []string{"a", "b"}, info.Params)
	})

	t.Run("no identifier", func(t *testing.T) {
		info, err := e.TypeAt(ctx, "", []byte("1 + 2;"), 2)
		require.NoError(t, err)
		assert.Nil(t, info)
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := e.TypeAt(ctx, "", []byte("x"), 5)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidPositionInput))
	})
}

func TestComputeSummary(t *testing.T) {
	e := newTestEngine(t)
	src := "var lib = { greet: function(name){ return 'hi'; } }; function Widget(){ this.size = 1; }"

	s, err := e.ComputeSummary(context.Background(), []byte(src), "vendor/mylib.js")
	require.NoError(t, err)
	assert.False(t, s.Timestamp.IsZero())

	libType := s.Provided["lib"]
	require.True(t, strings.HasPrefix(libType, "mylib~"), "generated type %q is named after the file", libType)
	require.Contains(t, s.Types, libType)
	assert.Equal(t, "?String", s.Types[libType]["greet"])
	assert.Equal(t, []string{"name"}, s.Params[libType]["greet"])

	assert.Equal(t, "?Widget", s.Provided["Widget"])
	assert.Equal(t, TypeNumber, s.Types["Widget"]["size"])
	assert.Equal(t, []string{}, s.Params[TypeGlobal]["Widget"])

	_, leaked := s.Provided["Math"]
	assert.False(t, leaked, "catalog globals are not part of a summary")
}

func TestDiagnostics(t *testing.T) {
	e := newTestEngine(t)

	diags, err := e.Diagnostics(context.Background(), []byte("var a = 1;\nvar b = 2;"))
	require.NoError(t, err)
	assert.Empty(t, diags)

	diags, err = e.Diagnostics(context.Background(), []byte("var a = 1;\nvar = ;"))
	require.NoError(t, err)
	require.NotEmpty(t, diags)
	for _, d := range diags {
		assert.Equal(t, SeverityError, d.Severity)
		assert.Equal(t, "syntax", d.Code)
		assert.Equal(t, "jscomplete", d.Source)
		assert.Equal(t, 1, d.Range.Start.Line)
	}
}

func TestEngine_UpdateConfig(t *testing.T) {
	e := newTestEngine(t)

	t.Run("ValidUpdate", func(t *testing.T) {
		cfg := getDefaultConfig()
		cfg.LogLevel = "debug"
		cfg.MemoryCacheTTLSeconds = 60
		cfg.MaxConcurrentFetches = 8
		require.NoError(t, e.UpdateConfig(cfg))

		got := e.GetCurrentConfig()
		assert.Equal(t, "debug", got.LogLevel)
		assert.Equal(t, 60, got.MemoryCacheTTLSeconds)
		assert.Equal(t, 8, got.MaxConcurrentFetches)
		assert.Equal(t, cfg.ManifestFileName, got.ManifestFileName)
	})

	t.Run("InvalidUpdate", func(t *testing.T) {
		before := e.GetCurrentConfig()
		cfg := getDefaultConfig()
		cfg.LogLevel = "verbose"
		err := e.UpdateConfig(cfg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidConfig))
		assert.Equal(t, before, e.GetCurrentConfig(), "config changed after invalid update")
	})
}

func TestNewEngineWithConfigRejectsInvalid(t *testing.T) {
	cfg := getDefaultConfig()
	cfg.DebugListenAddr = "no-port"
	e, err := NewEngineWithConfig(cfg, discardLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Nil(t, e)
}

func TestLoadConfig(t *testing.T) {
	setup := func(t *testing.T) string {
		t.Helper()
		dir := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
		t.Setenv("HOME", filepath.Join(dir, "home"))
		primary, _, err := GetConfigPaths(discardLogger())
		require.NoError(t, err)
		return primary
	}

	t.Run("missing file writes the default", func(t *testing.T) {
		primary := setup(t)
		cfg, err := LoadConfig(discardLogger())
		require.NoError(t, err)
		assert.Equal(t, getDefaultConfig(), cfg)
		_, statErr := os.Stat(primary)
		assert.NoError(t, statErr, "default config is written")
	})

	t.Run("file values are merged", func(t *testing.T) {
		primary := setup(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(primary), 0o750))
		require.NoError(t, os.WriteFile(primary, []byte(`{"log_level": "debug", "max_concurrent_fetches": 2}`), 0o640))

		cfg, err := LoadConfig(discardLogger())
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 2, cfg.MaxConcurrentFetches)
		assert.Equal(t, defaultManifestFileName, cfg.ManifestFileName)
	})

	t.Run("malformed file falls back to defaults", func(t *testing.T) {
		primary := setup(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(primary), 0o750))
		require.NoError(t, os.WriteFile(primary, []byte(`{"log_level": `), 0o640))

		cfg, err := LoadConfig(discardLogger())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConfig))
		assert.Equal(t, getDefaultConfig(), cfg)
	})

	t.Run("invalid values fall back to defaults", func(t *testing.T) {
		primary := setup(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(primary), 0o750))
		require.NoError(t, os.WriteFile(primary, []byte(`{"log_level": "loud"}`), 0o640))

		cfg, err := LoadConfig(discardLogger())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConfig))
		assert.Equal(t, defaultLogLevel, cfg.LogLevel)
	})
}

func TestLoadAndMergeConfig(t *testing.T) {
	dir := t.TempDir()

	cfg := getDefaultConfig()
	loaded, err := LoadAndMergeConfig(filepath.Join(dir, "absent.json"), &cfg, discardLogger())
	require.NoError(t, err)
	assert.False(t, loaded)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o640))
	loaded, err = LoadAndMergeConfig(empty, &cfg, discardLogger())
	require.NoError(t, err)
	assert.False(t, loaded)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o640))
	_, err = LoadAndMergeConfig(bad, &cfg, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file JSON")

	partial := filepath.Join(dir, "partial.json")
	require.NoError(t, os.WriteFile(partial, []byte(`{"use_summaries": false, "manifest_file_name": "deps.yaml"}`), 0o640))
	loaded, err = LoadAndMergeConfig(partial, &cfg, discardLogger())
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.False(t, cfg.UseSummaries)
	assert.Equal(t, "deps.yaml", cfg.ManifestFileName)
	assert.Equal(t, defaultLogLevel, cfg.LogLevel, "fields absent from the file keep their value")
}
