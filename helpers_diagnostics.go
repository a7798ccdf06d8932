// jscomplete/helpers_diagnostics.go
// Contains helper functions for turning parser problems into diagnostics.
package jscomplete

import "sort"

const diagnosticSource = "jscomplete"

// ============================================================================
// Diagnostic Helpers
// ============================================================================

// syntaxDiagnostics converts the recoverable errors of a tree, in source order.
func syntaxDiagnostics(t *Tree) []Diagnostic {
	diags := make([]Diagnostic, 0, len(t.Errors))
	lines := lineStarts(t.Source)
	for _, se := range t.Errors {
		end := se.Range.End + 1
		if end <= se.Range.Start {
			end = se.Range.Start + 1
		}
		diags = append(diags, Diagnostic{
			Range: TextRange{
				Start: offsetToPosition(lines, len(t.Source), se.Range.Start),
				End:   offsetToPosition(lines, len(t.Source), end),
			},
			Severity: SeverityError,
			Code:     "syntax",
			Source:   diagnosticSource,
			Message:  se.Message,
		})
	}
	sort.SliceStable(diags, func(i, j int) bool {
		a, b := diags[i].Range.Start, diags[j].Range.Start
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Character < b.Character
	})
	return diags
}

// lineStarts returns the byte offset at which each line begins.
func lineStarts(src []byte) []int {
	starts := []int{0}
	for i, c := range src {
		if c == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// offsetToPosition maps a byte offset to a 0-based line and byte column,
// clamping it to the buffer.
func offsetToPosition(lines []int, size, offset int) Position {
	if offset < 0 {
		offset = 0
	}
	if offset > size {
		offset = size
	}
	line := sort.Search(len(lines), func(i int) bool { return lines[i] > offset }) - 1
	if line < 0 {
		line = 0
	}
	return Position{Line: line, Character: offset - lines[line]}
}
