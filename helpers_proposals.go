// jscomplete/helpers_proposals.go
// Turns a resolved type into filtered, formatted and ordered candidates.
package jscomplete

import (
	"sort"
	"strings"
)

// CompletionRequest is what the generator needs to know about the cursor.
type CompletionRequest struct {
	Prefix string
	Offset int
	Kind   CompletionKind
}

// replaceStart is the buffer offset where the inserted text begins.
func (r CompletionRequest) replaceStart() int {
	return r.Offset - len(r.Prefix)
}

// ============================================================================
// Proposal Generator
// ============================================================================

// Generate lists the members of typeName and its prototypes that match the
// request. A member shadowed by a more derived level is listed once.
func (e *TypeEnv) Generate(typeName string, req CompletionRequest) []Candidate {
	start := e.resolveType(typeName)
	seen := make(map[string]struct{})
	var out []Candidate

	e.walkChain(start.Name, func(d *TypeDescriptor) bool {
		keys := make([]string, 0, len(d.Members))
		for k := range d.Members {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			name := key
			if d.builtinRoot {
				name = strings.TrimPrefix(key, aliasPrefix)
			}
			if name == thisName && req.Kind == CompletionMember {
				continue
			}
			if !strings.HasPrefix(name, req.Prefix) {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}

			typ := d.Members[key]
			params, hasParams := d.Params[key]
			if hasParams || IsCallableType(typ) {
				out = append(out, functionCandidate(name, params, typ, req.replaceStart()))
			} else {
				out = append(out, Candidate{
					Text:        name,
					Description: name + " (property)",
					Type:        typ,
				})
			}
		}
		return true
	})

	sortCandidates(out)
	return out
}

// functionCandidate formats name(a, b) with one placeholder per parameter.
// Offsets are absolute, measured from replaceStart.
func functionCandidate(name string, params []string, typ string, replaceStart int) Candidate {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	placeholders := make([]Placeholder, 0, len(params))
	for i, p := range params {
		if i > 0 {
			b.WriteString(", ")
		}
		placeholders = append(placeholders, Placeholder{Offset: replaceStart + b.Len(), Length: len(p)})
		b.WriteString(p)
	}
	b.WriteByte(')')
	text := b.String()
	return Candidate{
		Text:           text,
		Description:    text + " (function)",
		IsCallable:     true,
		Placeholders:   placeholders,
		EscapePosition: replaceStart + len(text),
		Type:           typ,
		Params:         params,
	}
}

// sortCandidates orders by description, then text.
func sortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Description != c[j].Description {
			return c[i].Description < c[j].Description
		}
		return c[i].Text < c[j].Text
	})
}
