// jscomplete/helpers_summary.go
// Ambient global declarations, dependency summary merging and summary computation.
package jscomplete

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const globalDirective = "global"

// globalDeclarations returns the names listed in /*global a b:true, c*/
// comments, in source order.
func globalDeclarations(comments []Comment) []string {
	var names []string
	for _, c := range comments {
		if !c.Block {
			continue
		}
		body := strings.TrimSuffix(strings.TrimPrefix(c.Text, "/*"), "*/")
		body = strings.TrimLeftFunc(body, unicode.IsSpace)
		if !strings.HasPrefix(body, globalDirective) {
			continue
		}
		rest := body[len(globalDirective):]
		if r, _ := utf8.DecodeRuneInString(rest); !unicode.IsSpace(r) {
			continue
		}
		// "name: value" may be spread over several fields.
		expectValue := false
		for _, f := range strings.FieldsFunc(rest, func(r rune) bool { return r == ',' || unicode.IsSpace(r) }) {
			if expectValue || strings.HasPrefix(f, ":") {
				expectValue = f == ":"
				continue
			}
			name, value, hasColon := strings.Cut(f, ":")
			expectValue = hasColon && value == ""
			if name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// declareGlobals registers each /*global*/ name in Global as Object.
func declareGlobals(env *TypeEnv, comments []Comment) {
	for _, name := range globalDeclarations(comments) {
		env.AddVariable(name, TypeGlobal, TypeObject)
	}
}

// mergeSummaries adds dependency summaries to env: provided names become
// Global members and summary types become additional descriptors.
func mergeSummaries(env *TypeEnv, summaries []Summary) {
	for _, s := range summaries {
		for _, typeName := range sortedKeys(s.Types) {
			d := env.mutable(typeName)
			if d == nil {
				d = env.DefineType(typeName, TypeObject)
			}
			for member, typ := range s.Types[typeName] {
				d.Members[member] = typ
			}
			for member, params := range s.Params[typeName] {
				d.Params[member] = append([]string(nil), params...)
			}
		}
		for _, name := range sortedKeys(s.Provided) {
			if params, ok := s.Params[TypeGlobal][name]; ok {
				env.AddFunction(name, append([]string(nil), params...), TypeGlobal, s.Provided[name])
				continue
			}
			env.AddVariable(name, TypeGlobal, s.Provided[name])
		}
	}
}

// summarize walks the whole tree and collects what the file adds to Global,
// plus every non-seed type reachable from those names. Generated type names
// are namespaced with base so summaries of different files can be merged.
// env must be at its Global scope; a walk that leaves it elsewhere fails.
func summarize(t *Tree, env *TypeEnv, base string) (Summary, error) {
	w := newWalker(t, env, Classification{Kind: CompletionTop}, CompletionRequest{Offset: len(t.Source) + 1}, modeAnalyze)
	if _, err := w.run(); err != nil {
		return Summary{}, err
	}
	if depth := env.Depth(); depth != 1 {
		return Summary{}, fmt.Errorf("%w: walk ended %d scopes below Global", ErrInternal, depth-1)
	}

	s := Summary{
		Provided: make(map[string]string),
		Types:    make(map[string]map[string]string),
		Params:   make(map[string]map[string][]string),
	}
	rename := func(ref string) string {
		name := ReturnType(ref)
		if !strings.HasPrefix(name, anonTypePrefix) {
			return ref
		}
		renamed := base + "~" + strings.TrimPrefix(name, anonTypePrefix)
		if IsCallableType(ref) {
			return callablePrefix + renamed
		}
		return renamed
	}

	global, ok := env.types[TypeGlobal]
	if !ok {
		return s, nil
	}
	seedGlobal, _ := env.catalog.Lookup(TypeGlobal)

	var queue []string
	for name, typ := range global.Members {
		if _, isSeed := seedGlobal.Members[name]; isSeed {
			continue
		}
		s.Provided[name] = rename(typ)
		if params, ok := global.Params[name]; ok {
			addParams(s.Params, TypeGlobal, name, params)
		}
		queue = append(queue, ReturnType(typ))
	}

	visited := make(map[string]bool)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if visited[name] {
			continue
		}
		visited[name] = true
		if _, isSeed := env.catalog.Lookup(name); isSeed {
			continue
		}
		d, ok := env.types[name]
		if !ok {
			continue
		}
		members := make(map[string]string, len(d.Members))
		for member, typ := range d.Members {
			if member == thisName {
				continue
			}
			members[member] = rename(typ)
			if params, ok := d.Params[member]; ok {
				addParams(s.Params, rename(name), member, params)
			}
			queue = append(queue, ReturnType(typ))
		}
		s.Types[rename(name)] = members
	}
	return s, nil
}

func addParams(dst map[string]map[string][]string, typeName, member string, params []string) {
	if dst[typeName] == nil {
		dst[typeName] = make(map[string][]string)
	}
	dst[typeName][member] = append(make([]string, 0, len(params)), params...)
}

// summaryBaseName derives the namespace of generated types from a file path.
func summaryBaseName(file string) string {
	base := filepath.Base(file)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "summary"
	}
	return base
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
