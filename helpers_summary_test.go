// jscomplete/helpers_summary_test.go
package jscomplete

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalDeclarations(t *testing.T) {
	tests := []struct {
		name     string
		comments []Comment
		want     []string
	}{
		{
			name:     "space separated",
			comments: []Comment{{Text: "/*global foo bar*/", Block: true}},
			want:     []string{"foo", "bar"},
		},
		{
			name:     "commas and writable flags",
			comments: []Comment{{Text: "/* global $, jQuery:true,\n  angular: false */", Block: true}},
			want:     []string{"$", "jQuery", "angular"},
		},
		{
			name: "several comments in order",
			comments: []Comment{
				{Text: "/*global a*/", Block: true},
				{Text: "/* unrelated */", Block: true},
				{Text: "/*global b*/", Block: true},
			},
			want: []string{"a", "b"},
		},
		{name: "line comment", comments: []Comment{{Text: "// global foo"}}},
		{name: "other directive", comments: []Comment{{Text: "/*globals foo*/", Block: true}}},
		{name: "empty directive", comments: []Comment{{Text: "/*global*/", Block: true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, globalDeclarations(tt.comments))
		})
	}
}

func TestDeclareGlobals(t *testing.T) {
	env := NewTypeEnv(nil)
	declareGlobals(env, []Comment{{Text: "/*global app*/", Block: true}})
	typ, ok := env.LookupName("app", "")
	require.True(t, ok)
	assert.Equal(t, TypeObject, typ)
}

func TestMergeSummaries(t *testing.T) {
	env := NewTypeEnv(nil)
	mergeSummaries(env, []Summary{
		{
			Provided: map[string]string{"lib": "jq~1", "Widget": "?Widget", "version": TypeString},
			Types: map[string]map[string]string{
				"jq~1":   {"ajax": "?Object", "fn": "jq~2"},
				"jq~2":   {"extend": "?Object"},
				"Widget": {"size": TypeNumber},
			},
			Params: map[string]map[string][]string{
				"jq~1":     {"ajax": {"url", "settings"}},
				TypeGlobal: {"Widget": {}},
			},
		},
		{
			Provided: map[string]string{"_": "us~1"},
			Types:    map[string]map[string]string{"us~1": {"map": "?Array"}},
		},
	})

	typ, ok := env.LookupName("lib", "")
	require.True(t, ok)
	assert.Equal(t, "jq~1", typ)

	got := env.Generate("jq~1", CompletionRequest{Kind: CompletionMember, Prefix: "a"})
	require.Len(t, got, 1)
	assert.Equal(t, "ajax(url, settings)", got[0].Text)

	typ, ok = env.LookupName("extend", "jq~2")
	require.True(t, ok)
	assert.Equal(t, "?Object", typ)

	params, ok := env.ParamsOf("Widget", "")
	require.True(t, ok)
	assert.Empty(t, params)
	typ, _ = env.LookupName("Widget", "")
	assert.Equal(t, "?Widget", typ)

	typ, ok = env.LookupName("_", "")
	require.True(t, ok, "every summary is merged")
	assert.Equal(t, "us~1", typ)

	seed, _ := DefaultCatalog().Lookup(TypeGlobal)
	_, leaked := seed.Members["lib"]
	assert.False(t, leaked)
}

func TestSummaryBaseName(t *testing.T) {
	tests := map[string]string{
		"vendor/mylib.js":         "mylib",
		"/abs/path/jquery.min.js": "jquery.min",
		"noext":                   "noext",
		"":                        "summary",
		"/":                       "summary",
	}
	for in, want := range tests {
		assert.Equal(t, want, summaryBaseName(in), in)
	}
}

func TestSummarizeReportsScopeFaults(t *testing.T) {
	tree := parseSource(t, "var a = 1; function g(){ { var b; } }")

	s, err := summarize(tree, NewTypeEnv(nil), "lib")
	require.NoError(t, err)
	assert.Equal(t, TypeNumber, s.Provided["a"])
	assert.Equal(t, "?Object", s.Provided["g"])

	// A walk started below Global cannot end there.
	env := NewTypeEnv(nil)
	env.NewScope()
	_, err = summarize(tree, env, "lib")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
}
