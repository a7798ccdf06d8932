// jscomplete/lsp_server_test.go
package jscomplete

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCompletionItems(t *testing.T) {
	p := Proposals{
		Kind: CompletionMember,
		Candidates: []Candidate{
			functionCandidate("bar", []string{"a"}, callablePrefix+TypeObject, 46),
			{Text: "foo", Description: "foo (property)", Type: TypeNumber},
		},
	}
	editRange := LSPRange{Start: LSPPosition{Line: 0, Character: 46}, End: LSPPosition{Line: 0, Character: 47}}

	t.Run("snippets", func(t *testing.T) {
		items := buildCompletionItems(p, editRange, true)
		require.Len(t, items, 2)

		bar := items[0]
		assert.Equal(t, "bar", bar.Label)
		assert.Equal(t, "bar", bar.FilterText)
		assert.Equal(t, "00000", bar.SortText)
		assert.Equal(t, "bar(a) (function)", bar.Detail)
		assert.Equal(t, CompletionItemKindMethod, bar.Kind)
		assert.Equal(t, SnippetFormat, bar.InsertTextFormat)
		require.NotNil(t, bar.TextEdit)
		assert.Equal(t, "bar(${1:a})$0", bar.TextEdit.NewText)
		assert.Equal(t, editRange, bar.TextEdit.Range)

		foo := items[1]
		assert.Equal(t, "00001", foo.SortText)
		assert.Equal(t, CompletionItemKindProperty, foo.Kind)
		assert.Equal(t, PlainTextFormat, foo.InsertTextFormat)
		assert.Equal(t, "foo", foo.TextEdit.NewText)
	})

	t.Run("plain text", func(t *testing.T) {
		items := buildCompletionItems(p, editRange, false)
		require.Len(t, items, 2)
		assert.Equal(t, PlainTextFormat, items[0].InsertTextFormat)
		assert.Equal(t, "bar(a)", items[0].TextEdit.NewText)
	})

	t.Run("no candidates", func(t *testing.T) {
		items := buildCompletionItems(Proposals{Kind: CompletionNone, Candidates: []Candidate{}}, editRange, true)
		assert.NotNil(t, items)
		assert.Empty(t, items)
	})
}

func TestCandidateSnippet(t *testing.T) {
	tests := []struct {
		name string
		c    Candidate
		want string
	}{
		{
			name: "two parameters",
			c:    functionCandidate("replace", []string{"searchValue", "replaceValue"}, "?String", 0),
			want: "replace(${1:searchValue}, ${2:replaceValue})$0",
		},
		{
			name: "no parameters",
			c:    functionCandidate("toString", []string{}, "?String", 0),
			want: "toString()$0",
		},
		{
			name: "escaped names",
			c:    functionCandidate("$get", []string{"a}b"}, "?Object", 0),
			want: `\$get(${1:a\}b})$0`,
		},
		{
			name: "property",
			c:    Candidate{Text: "$el", Description: "$el (property)"},
			want: `\$el`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, candidateSnippet(tt.c))
		})
	}
}

func TestMapCandidateToCompletionKind(t *testing.T) {
	fn := functionCandidate("run", nil, "?Object", 0)
	ctor := functionCandidate("Widget", nil, "?Widget", 0)
	prop := Candidate{Text: "size"}

	assert.Equal(t, CompletionItemKindMethod, mapCandidateToCompletionKind(fn, CompletionMember))
	assert.Equal(t, CompletionItemKindMethod, mapCandidateToCompletionKind(ctor, CompletionMember))
	assert.Equal(t, CompletionItemKindFunction, mapCandidateToCompletionKind(fn, CompletionTop))
	assert.Equal(t, CompletionItemKindConstructor, mapCandidateToCompletionKind(ctor, CompletionTop))
	assert.Equal(t, CompletionItemKindProperty, mapCandidateToCompletionKind(prop, CompletionMember))
	assert.Equal(t, CompletionItemKindVariable, mapCandidateToCompletionKind(prop, CompletionTop))
}

func TestCandidateName(t *testing.T) {
	assert.Equal(t, "charAt", candidateName(functionCandidate("charAt", []string{"index"}, "?String", 0)))
	assert.Equal(t, "size", candidateName(Candidate{Text: "size"}))
}

func TestDecodeClientSettings(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantFound bool
		wantErr   bool
		check     func(t *testing.T, fc FileConfig)
	}{
		{name: "null", raw: "null"},
		{name: "empty", raw: ""},
		{name: "unrelated settings", raw: `{"editor": {"tabSize": 2}}`},
		{
			name:      "flat",
			raw:       `{"log_level": "debug"}`,
			wantFound: true,
			check: func(t *testing.T, fc FileConfig) {
				require.NotNil(t, fc.LogLevel)
				assert.Equal(t, "debug", *fc.LogLevel)
			},
		},
		{
			name:      "nested section wins",
			raw:       `{"log_level": "error", "jscomplete": {"use_summaries": false}}`,
			wantFound: true,
			check: func(t *testing.T, fc FileConfig) {
				assert.Nil(t, fc.LogLevel)
				require.NotNil(t, fc.UseSummaries)
				assert.False(t, *fc.UseSummaries)
			},
		},
		{name: "malformed", raw: `{"jscomplete": `, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc, found, err := decodeClientSettings(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, found)
			if tt.check != nil {
				tt.check(t, fc)
			}
		})
	}
}

func TestRequestTracker(t *testing.T) {
	rt := NewRequestTracker()
	id1 := jsonrpc2.ID{Num: 1}
	id2 := jsonrpc2.ID{Str: "two", IsString: true}

	ctx1 := rt.Add(id1, context.Background())
	ctx2 := rt.Add(id2, context.Background())
	assert.Equal(t, 2, rt.Count())

	assert.True(t, rt.Cancel(id1))
	assert.True(t, errors.Is(ctx1.Err(), context.Canceled))
	assert.NoError(t, ctx2.Err())
	assert.False(t, rt.Cancel(id1), "already cancelled")
	assert.Equal(t, 1, rt.Count())

	rt.Remove(id2)
	assert.Error(t, ctx2.Err(), "removing releases the context")
	assert.Zero(t, rt.Count())

	// Re-adding an ID cancels the stale context.
	stale := rt.Add(id1, context.Background())
	fresh := rt.Add(id1, context.Background())
	assert.Error(t, stale.Err())
	assert.NoError(t, fresh.Err())
	assert.Equal(t, 1, rt.Count())
}

func TestHoverFormatting(t *testing.T) {
	tests := []struct {
		name string
		info *TypeInfo
		want string
	}{
		{name: "nil", info: nil, want: ""},
		{name: "value", info: &TypeInfo{Name: "x", Type: TypeNumber}, want: "x: Number"},
		{name: "function", info: &TypeInfo{Name: "add", Type: "?Number", Params: []string{"a", "b"}}, want: "add(a, b): Number"},
		{name: "callable without params", info: &TypeInfo{Name: "f", Type: "?String"}, want: "f(): String"},
		{name: "anonymous object", info: &TypeInfo{Name: "obj", Type: anonTypePrefix + "3"}, want: "obj: Object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, plainHover(tt.info))
			if tt.want == "" {
				assert.Empty(t, formatTypeInfoForHover(tt.info))
			} else {
				assert.Equal(t, "```javascript\n"+tt.want+"\n```", formatTypeInfoForHover(tt.info))
			}
		})
	}
	assert.Equal(t, "mylib~2", displayType("mylib~2"))
}

func TestInternalRangeToLSPRange(t *testing.T) {
	content := []byte("var é = 1;\nfoo(;")
	lines := lineStarts(content)

	got, err := internalRangeToLSPRange(content, lines, TextRange{
		Start: Position{Line: 0, Character: 8},
		End:   Position{Line: 1, Character: 4},
	}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, LSPRange{
		Start: LSPPosition{Line: 0, Character: 7},
		End:   LSPPosition{Line: 1, Character: 4},
	}, got)

	_, err = internalRangeToLSPRange(content, lines, TextRange{Start: Position{Line: 5}}, discardLogger())
	assert.True(t, errors.Is(err, ErrPositionOutOfRange))

	collapsed, err := internalRangeToLSPRange(content, lines, TextRange{
		Start: Position{Line: 1, Character: 3},
		End:   Position{Line: 1, Character: 1},
	}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, collapsed.Start, collapsed.End)
}

func TestByteRangeToLSPRange(t *testing.T) {
	content := []byte("a😂b\nc")
	got, err := byteRangeToLSPRange(content, 1, 5, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, LSPRange{Start: LSPPosition{0, 1}, End: LSPPosition{0, 3}}, got)

	got, err = byteRangeToLSPRange(content, 7, 100, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, LSPPosition{1, 0}, got.Start)
	assert.Equal(t, LSPPosition{1, 1}, got.End, "end is clamped to the buffer")
}

func TestMapInternalSeverityToLSP(t *testing.T) {
	assert.Equal(t, LspSeverityError, mapInternalSeverityToLSP(SeverityError))
	assert.Equal(t, LspSeverityWarning, mapInternalSeverityToLSP(SeverityWarning))
	assert.Equal(t, LspSeverityInfo, mapInternalSeverityToLSP(SeverityInfo))
	assert.Equal(t, LspSeverityHint, mapInternalSeverityToLSP(SeverityHint))
	assert.Equal(t, LspSeverityError, mapInternalSeverityToLSP(DiagnosticSeverity(42)))
}

func TestLineStartsAndOffsetToPosition(t *testing.T) {
	src := []byte("ab\n\ncd")
	lines := lineStarts(src)
	assert.Equal(t, []int{0, 3, 4}, lines)

	tests := []struct {
		offset int
		want   Position
	}{
		{offset: 0, want: Position{0, 0}},
		{offset: 2, want: Position{0, 2}},
		{offset: 3, want: Position{1, 0}},
		{offset: 5, want: Position{2, 1}},
		{offset: 99, want: Position{2, 2}},
		{offset: -4, want: Position{0, 0}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, offsetToPosition(lines, len(src), tt.offset), "offset %d", tt.offset)
	}
}
