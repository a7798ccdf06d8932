// jscomplete/helpers_classifier.go
// Decides whether a cursor offset is a completion site, and of which kind.
package jscomplete

import "unicode/utf8"

// CompletionKind is the classification of a cursor position.
type CompletionKind int

const (
	CompletionNone   CompletionKind = iota // Not a completion site.
	CompletionTop                          // Start of a new expression.
	CompletionMember                       // Right of a property-access dot.
)

func (k CompletionKind) String() string {
	switch k {
	case CompletionTop:
		return "top"
	case CompletionMember:
		return "member"
	default:
		return "none"
	}
}

// Classification is the result of Classify. Anchor is set for an empty
// prefix at a block or program level.
type Classification struct {
	Kind   CompletionKind
	Anchor *Anchor
}

// ============================================================================
// Position Classifier
// ============================================================================

// Classify inspects the in-range ancestors of offset in t.
func Classify(t *Tree, offset int, prefix string) Classification {
	if t == nil || t.Node(t.Root) == nil {
		return Classification{Kind: CompletionNone}
	}

	var stack []NodeID
	none := false

	pre := func(id, _ NodeID) VisitAction {
		n := t.Node(id)
		if n.Kind != KindProgram && (n.Unranged || !inRange(offset, n.Range)) {
			return Skip
		}
		if n.Kind == KindIdentifier {
			if n.Range.Start < offset && offset <= n.Range.End {
				none = true
			} else if namesFunction(t.Source, n.Range.Start) {
				// A function's name, also when "function fo" parsed as an ERROR.
				none = true
			}
			return Halt
		}
		stack = append(stack, id)
		switch {
		case n.Kind.IsFunction() && bodyAfter(t, n.Body, offset):
			return Halt
		case n.Kind == KindMemberExpression && !n.Computed && afterDot(t, offset, n):
			return Halt
		}
		return Descend
	}
	post := func(id, _ NodeID) bool {
		n := t.Node(id)
		if n.Kind == KindProgram || (n.Kind == KindBlockStatement && inRange(offset, n.Range)) {
			return false
		}
		stack = stack[:len(stack)-1]
		return true
	}
	Visit(t, t.Root, pre, post)

	if none || len(stack) == 0 {
		return Classification{Kind: CompletionNone}
	}

	id := stack[len(stack)-1]
	n := t.Node(id)
	switch n.Kind {
	case KindMemberExpression:
		if n.Computed {
			break
		}
		if p := t.Node(n.Property); p != nil && !p.Unranged && inRange(offset, p.Range) {
			return Classification{Kind: CompletionMember}
		}
		if afterDot(t, offset, n) {
			return Classification{Kind: CompletionMember}
		}
	case KindProgram, KindBlockStatement:
		c := Classification{Kind: CompletionTop}
		if prefix == "" {
			c.Anchor = &Anchor{Block: id, Offset: offset}
		}
		return c
	case KindVariableDeclarator:
		if init := t.Node(n.Init); init == nil || isBefore(offset, init) {
			return Classification{Kind: CompletionNone}
		}
	case KindFunctionDeclaration, KindFunctionExpression:
		if bodyAfter(t, n.Body, offset) {
			return Classification{Kind: CompletionNone}
		}
	case KindCatchClause:
		if bodyAfter(t, n.Body, offset) {
			return Classification{Kind: CompletionNone}
		}
	}
	return Classification{Kind: CompletionTop}
}

// bodyAfter reports whether offset precedes the body node. A missing body
// counts as after the cursor.
func bodyAfter(t *Tree, body NodeID, offset int) bool {
	b := t.Node(body)
	if b == nil {
		return true
	}
	return isBefore(offset, b)
}

// afterDot reports whether offset sits inside member, right of its dot and
// at or before the start of its property:
//
//	foo   .^bar    true
//	foo   .  ^ bar true
//	foo   ^.  bar  false
//	foo   .  b^ar  false
func afterDot(t *Tree, offset int, member *Node) bool {
	obj := t.Node(member.Object)
	if obj == nil || obj.Unranged || member.Unranged {
		return false
	}
	if !inRange(offset, member.Range) || inRange(offset, obj.Range) {
		return false
	}
	end := member.Range.End + 1
	if p := t.Node(member.Property); p != nil && !p.Unranged {
		end = p.Range.Start
	}
	if offset > end {
		return false
	}
	src := t.Source
	for dot := obj.Range.End + 1; dot < end && dot < len(src); dot++ {
		if src[dot] == '.' {
			return dot < offset
		}
	}
	return false
}

// namesFunction reports whether the identifier starting at start is preceded
// by the function keyword, optionally followed by a generator star.
func namesFunction(src []byte, start int) bool {
	i := skipSpaceBackward(src, start)
	if i > 0 && src[i-1] == '*' {
		i = skipSpaceBackward(src, i-1)
	}
	const kw = "function"
	if i < len(kw) || string(src[i-len(kw):i]) != kw {
		return false
	}
	r, _ := utf8.DecodeLastRune(src[:i-len(kw)])
	return r == utf8.RuneError || !isIdentifierRune(r)
}

// skipSpaceBackward returns the index just past the last non-space byte before i.
func skipSpaceBackward(src []byte, i int) int {
	if i > len(src) {
		i = len(src)
	}
	for i > 0 && (src[i-1] == ' ' || src[i-1] == '\t' || src[i-1] == '\n' || src[i-1] == '\r') {
		i--
	}
	return i
}
