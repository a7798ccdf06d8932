// jscomplete/helpers_hover.go
// Contains helper functions specifically for generating hover information.
package jscomplete

import (
	"strings"
)

// ============================================================================
// Hover Formatting Helper
// ============================================================================

// formatTypeInfoForHover renders a TypeInfo as a Markdown code block:
// "name: Type" for values, "name(a, b): Return" for callables.
func formatTypeInfoForHover(info *TypeInfo) string {
	sig := plainHover(info)
	if sig == "" {
		return ""
	}
	return "```javascript\n" + sig + "\n```"
}

// plainHover is the bare signature line, for clients without Markdown.
func plainHover(info *TypeInfo) string {
	if info == nil || info.Name == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(info.Name)
	if info.Params != nil || IsCallableType(info.Type) {
		b.WriteByte('(')
		b.WriteString(strings.Join(info.Params, ", "))
		b.WriteByte(')')
	}
	b.WriteString(": ")
	b.WriteString(displayType(info.Type))
	return b.String()
}

// displayType hides generated type names behind the name of their base type.
func displayType(ref string) string {
	name := ReturnType(ref)
	if strings.HasPrefix(name, anonTypePrefix) {
		return TypeObject
	}
	return name
}
