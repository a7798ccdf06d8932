// jscomplete/helpers_proposals_test.go
package jscomplete

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidateTexts(cs []Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Text)
	}
	return out
}

func candidateNames(cs []Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, candidateName(c))
	}
	return out
}

func TestGenerateNumberMembers(t *testing.T) {
	env := NewTypeEnv(nil)
	got := env.Generate(TypeNumber, CompletionRequest{Prefix: "to", Offset: 20, Kind: CompletionMember})

	assert.Equal(t, []string{
		"toExponential(digits)",
		"toFixed(digits)",
		"toLocaleString()",
		"toPrecision(digits)",
		"toString()",
	}, candidateTexts(got))
	assert.NotContains(t, candidateNames(got), "valueOf")

	for _, c := range got {
		assert.True(t, c.IsCallable, c.Text)
		assert.Equal(t, c.Text+" (function)", c.Description)
	}
}

func TestGenerateExcludesThisForMembers(t *testing.T) {
	env := NewTypeEnv(nil)

	member := env.Generate(TypeGlobal, CompletionRequest{Kind: CompletionMember})
	assert.NotContains(t, candidateNames(member), thisName)

	top := env.Generate(TypeGlobal, CompletionRequest{Kind: CompletionTop})
	assert.Contains(t, candidateNames(top), thisName)
	assert.Contains(t, candidateNames(top), "Math")
}

func TestGenerateOrdering(t *testing.T) {
	env := NewTypeEnv(nil)
	obj := env.NewObject("")
	env.AddVariable("zeta", obj, TypeNumber)
	env.AddVariable("alpha", obj, TypeString)
	env.AddFunction("beta", []string{"x"}, obj, callablePrefix+TypeObject)

	got := env.Generate(obj, CompletionRequest{Kind: CompletionMember})
	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		assert.True(t, prev.Description < cur.Description ||
			(prev.Description == cur.Description && prev.Text <= cur.Text),
			"%q sorted before %q", prev.Description, cur.Description)
	}
	assert.Equal(t, "alpha (property)", got[0].Description)
	assert.Equal(t, TypeString, got[0].Type)
	assert.False(t, got[0].IsCallable)
}

func TestGenerateShadowedMemberListedOnce(t *testing.T) {
	env := NewTypeEnv(nil)
	obj := env.NewObject("")
	env.AddVariable("toString", obj, TypeNumber)

	got := env.Generate(obj, CompletionRequest{Prefix: "toS", Kind: CompletionMember})
	require.Len(t, got, 1)
	assert.Equal(t, "toString", got[0].Text, "the most derived definition wins")
	assert.Equal(t, TypeNumber, got[0].Type)
	assert.False(t, got[0].IsCallable)
}

func TestGenerateCallableVariable(t *testing.T) {
	env := NewTypeEnv(nil)
	// Assigned a function without recorded parameters.
	env.AddVariable("handler", "", callablePrefix+TypeObject)

	got := env.Generate(TypeGlobal, CompletionRequest{Prefix: "hand", Kind: CompletionTop})
	require.Len(t, got, 1)
	assert.Equal(t, "handler()", got[0].Text)
	assert.True(t, got[0].IsCallable)
	assert.Empty(t, got[0].Placeholders)
}

func TestGenerateUnknownTypeFallsBackToObject(t *testing.T) {
	env := NewTypeEnv(nil)
	got := env.Generate("Missing", CompletionRequest{Kind: CompletionMember})
	assert.ElementsMatch(t, []string{
		"hasOwnProperty", "isPrototypeOf", "propertyIsEnumerable", "toLocaleString", "toString", "valueOf",
	}, candidateNames(got))
}

func TestFunctionCandidatePlaceholders(t *testing.T) {
	tests := []struct {
		name             string
		params           []string
		replaceStart     int
		wantText         string
		wantPlaceholders []Placeholder
		wantEscape       int
	}{
		{
			name:             "no parameters",
			params:           []string{},
			replaceStart:     10,
			wantText:         "run()",
			wantPlaceholders: []Placeholder{},
			wantEscape:       15,
		},
		{
			name:             "one parameter",
			params:           []string{"a"},
			replaceStart:     46,
			wantText:         "run(a)",
			wantPlaceholders: []Placeholder{{Offset: 50, Length: 1}},
			wantEscape:       52,
		},
		{
			name:             "two parameters",
			params:           []string{"searchValue", "replaceValue"},
			replaceStart:     0,
			wantText:         "run(searchValue, replaceValue)",
			wantPlaceholders: []Placeholder{{Offset: 4, Length: 11}, {Offset: 17, Length: 12}},
			wantEscape:       30,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := functionCandidate("run", tt.params, callablePrefix+TypeObject, tt.replaceStart)
			assert.Equal(t, tt.wantText, c.Text)
			assert.Equal(t, tt.wantText+" (function)", c.Description)
			assert.Equal(t, tt.wantPlaceholders, c.Placeholders)
			assert.Equal(t, tt.wantEscape, c.EscapePosition)
			assert.Equal(t, tt.params, c.Params)
			for _, p := range c.Placeholders {
				rel := p.Offset - tt.replaceStart
				assert.Contains(t, tt.params, c.Text[rel:rel+p.Length])
			}
		})
	}
}

func TestReplaceStart(t *testing.T) {
	assert.Equal(t, 46, CompletionRequest{Prefix: "b", Offset: 47}.replaceStart())
	assert.Equal(t, 13, CompletionRequest{Offset: 13}.replaceStart())
}
