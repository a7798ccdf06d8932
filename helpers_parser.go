// jscomplete/helpers_parser.go
// Converts tree-sitter's concrete JavaScript syntax tree into the arena AST.
package jscomplete

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// Parser turns a buffer into a (possibly partial) syntax tree.
type Parser interface {
	Parse(ctx context.Context, src []byte) (*Tree, error)
}

// tree-sitter JavaScript node types.
const (
	tsProgram                  = "program"
	tsStatementBlock           = "statement_block"
	tsClassBody                = "class_body"
	tsExpressionStatement      = "expression_statement"
	tsVariableDeclaration      = "variable_declaration"
	tsLexicalDeclaration       = "lexical_declaration"
	tsVariableDeclarator       = "variable_declarator"
	tsFunctionDeclaration      = "function_declaration"
	tsGeneratorFunctionDecl    = "generator_function_declaration"
	tsFunction                 = "function"
	tsFunctionExpression       = "function_expression"
	tsGeneratorFunction        = "generator_function"
	tsArrowFunction            = "arrow_function"
	tsMethodDefinition         = "method_definition"
	tsFormalParameters         = "formal_parameters"
	tsIdentifier               = "identifier"
	tsPropertyIdentifier       = "property_identifier"
	tsShorthandPropertyIdent   = "shorthand_property_identifier"
	tsShorthandPropertyPattern = "shorthand_property_identifier_pattern"
	tsPrivatePropertyIdent     = "private_property_identifier"
	tsUndefined                = "undefined"
	tsMemberExpression         = "member_expression"
	tsSubscriptExpression      = "subscript_expression"
	tsCallExpression           = "call_expression"
	tsNewExpression            = "new_expression"
	tsArguments                = "arguments"
	tsObject                   = "object"
	tsPair                     = "pair"
	tsComputedPropertyName     = "computed_property_name"
	tsArray                    = "array"
	tsString                   = "string"
	tsTemplateString           = "template_string"
	tsTemplateSubstitution     = "template_substitution"
	tsNumber                   = "number"
	tsTrue                     = "true"
	tsFalse                    = "false"
	tsNull                     = "null"
	tsRegex                    = "regex"
	tsBinaryExpression         = "binary_expression"
	tsUnaryExpression          = "unary_expression"
	tsUpdateExpression         = "update_expression"
	tsAssignmentExpression     = "assignment_expression"
	tsAugmentedAssignment      = "augmented_assignment_expression"
	tsAssignmentPattern        = "assignment_pattern"
	tsRestPattern              = "rest_pattern"
	tsThis                     = "this"
	tsParenthesizedExpression  = "parenthesized_expression"
	tsCatchClause              = "catch_clause"
	tsReturnStatement          = "return_statement"
	tsComment                  = "comment"
	tsError                    = "ERROR"
	tsDot                      = "."
	tsOptionalChain            = "?."
)

// ============================================================================
// tree-sitter Parser
// ============================================================================

// treeSitterParser implements Parser with the tree-sitter JavaScript grammar.
// Each call creates its own sitter.Parser, so it is safe for concurrent use.
type treeSitterParser struct {
	logger *slog.Logger
}

// NewParser returns the default tree-sitter backed parser.
func NewParser(logger *slog.Logger) Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &treeSitterParser{logger: logger.With("component", "parser")}
}

// Parse builds an arena tree for src. Syntax errors are recorded in
// Tree.Errors; only a failure to produce any tree is returned as ErrParse.
func (p *treeSitterParser) Parse(ctx context.Context, src []byte) (*Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	tsTree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if tsTree == nil {
		return nil, fmt.Errorf("%w: parser returned no tree", ErrParse)
	}
	defer tsTree.Close()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	root := tsTree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("%w: empty syntax tree", ErrParse)
	}

	c := &converter{src: src, tree: &Tree{Source: src}}
	c.tree.Root = c.convert(root)
	if c.tree.Root == NoNode || c.tree.Nodes[c.tree.Root].Kind != KindProgram {
		// The root must be a Program for scope bookkeeping to work.
		prog := newNode(KindProgram, Range{Start: 0, End: len(src) - 1})
		if c.tree.Root != NoNode {
			prog.Statements = []NodeID{c.tree.Root}
		}
		c.tree.Root = c.tree.Add(prog)
	}
	// The program spans the whole buffer, including leading and trailing trivia.
	c.tree.Nodes[c.tree.Root].Range = Range{Start: 0, End: len(src) - 1}
	if len(c.tree.Errors) > 0 {
		p.logger.Debug("Parsed buffer with syntax errors", "error_count", len(c.tree.Errors), "nodes", len(c.tree.Nodes))
	}
	return c.tree, nil
}

// converter carries the state of one CST to AST conversion.
type converter struct {
	src  []byte
	tree *Tree
}

func (c *converter) rangeOf(n *sitter.Node) Range {
	return Range{Start: int(n.StartByte()), End: int(n.EndByte()) - 1}
}

func (c *converter) text(n *sitter.Node) string {
	return n.Content(c.src)
}

func (c *converter) recordError(n *sitter.Node) {
	msg := "syntax error"
	if n.IsMissing() {
		msg = fmt.Sprintf("missing %s", n.Type())
	} else if n.ChildCount() > 0 {
		if first := n.Child(0); first != nil && !first.IsNamed() {
			msg = fmt.Sprintf("unexpected %q", c.text(first))
		}
	}
	c.tree.Errors = append(c.tree.Errors, SyntaxError{Range: c.rangeOf(n), Message: msg})
}

func (c *converter) addComment(n *sitter.Node) {
	text := c.text(n)
	c.tree.Comments = append(c.tree.Comments, Comment{
		Range: c.rangeOf(n),
		Text:  text,
		Block: strings.HasPrefix(text, "/*"),
	})
}

// field converts the child stored under a grammar field name.
func (c *converter) field(n *sitter.Node, name string) NodeID {
	child := n.ChildByFieldName(name)
	if child == nil || child.IsMissing() {
		if child != nil {
			c.recordError(child)
		}
		return NoNode
	}
	return c.convert(child)
}

func isIdentifierType(t string) bool {
	switch t {
	case tsIdentifier, tsPropertyIdentifier, tsShorthandPropertyIdent, tsShorthandPropertyPattern, tsPrivatePropertyIdent, tsUndefined:
		return true
	}
	return false
}

// convert maps one CST node (and its subtree) into the arena.
func (c *converter) convert(n *sitter.Node) NodeID {
	if n == nil {
		return NoNode
	}
	t := n.Type()
	r := c.rangeOf(n)

	if isIdentifierType(t) {
		node := newNode(KindIdentifier, r)
		node.Name = c.text(n)
		return c.tree.Add(node)
	}

	switch t {
	case tsProgram:
		node := newNode(KindProgram, r)
		node.Statements = c.statementList(n)
		return c.tree.Add(node)

	case tsStatementBlock:
		node := newNode(KindBlockStatement, r)
		node.Statements = c.statementList(n)
		return c.tree.Add(node)

	case tsExpressionStatement:
		node := newNode(KindExpressionStatement, r)
		if exprs := c.namedList(n); len(exprs) > 0 {
			node.Expression = exprs[0]
			node.Extra = exprs[1:]
		}
		return c.tree.Add(node)

	case tsVariableDeclaration, tsLexicalDeclaration:
		node := newNode(KindVariableDeclaration, r)
		if first := n.Child(0); first != nil && !first.IsNamed() {
			node.Operator = c.text(first)
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			switch child.Type() {
			case tsVariableDeclarator:
				node.Declarations = append(node.Declarations, c.convert(child))
			case tsComment:
				c.addComment(child)
			case tsError:
				if len(node.Declarations) > 0 {
					if rest, ok := c.foldDot(node.Declarations[len(node.Declarations)-1], child); ok {
						node.Extra = append(node.Extra, rest...)
						continue
					}
				}
				node.Extra = append(node.Extra, c.convert(child))
			default:
				node.Extra = append(node.Extra, c.convert(child))
			}
		}
		return c.tree.Add(node)

	case tsVariableDeclarator:
		node := newNode(KindVariableDeclarator, r)
		node.ID = c.field(n, "name")
		node.Init = c.field(n, "value")
		node.Extra = c.strayErrors(n, node.Init)
		return c.tree.Add(node)

	case tsFunctionDeclaration, tsGeneratorFunctionDecl:
		return c.function(n, KindFunctionDeclaration)

	case tsFunction, tsFunctionExpression, tsGeneratorFunction, tsArrowFunction:
		return c.function(n, KindFunctionExpression)

	case tsMethodDefinition:
		return c.function(n, KindFunctionExpression)

	case tsMemberExpression:
		node := newNode(KindMemberExpression, r)
		node.Object = c.field(n, "object")
		if prop := n.ChildByFieldName("property"); prop != nil && !prop.IsMissing() && prop.EndByte() > prop.StartByte() {
			node.Property = c.convert(prop)
		} else if prop != nil {
			c.recordError(prop)
		}
		return c.tree.Add(node)

	case tsSubscriptExpression:
		node := newNode(KindMemberExpression, r)
		node.Computed = true
		node.Object = c.field(n, "object")
		node.Property = c.field(n, "index")
		return c.tree.Add(node)

	case tsCallExpression:
		node := newNode(KindCallExpression, r)
		node.Callee = c.field(n, "function")
		node.Arguments = c.arguments(n.ChildByFieldName("arguments"))
		return c.tree.Add(node)

	case tsNewExpression:
		node := newNode(KindNewExpression, r)
		node.Callee = c.field(n, "constructor")
		node.Arguments = c.arguments(n.ChildByFieldName("arguments"))
		return c.tree.Add(node)

	case tsObject:
		node := newNode(KindObjectExpression, r)
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if child.Type() == tsComment {
				c.addComment(child)
				continue
			}
			node.Properties = append(node.Properties, c.property(child))
		}
		return c.tree.Add(node)

	case tsArray:
		node := newNode(KindArrayExpression, r)
		node.Elements = c.namedList(n)
		return c.tree.Add(node)

	case tsString:
		return c.literal(r, LitString)
	case tsNumber:
		return c.literal(r, LitNumber)
	case tsTrue, tsFalse:
		return c.literal(r, LitBoolean)
	case tsNull:
		return c.literal(r, LitNull)
	case tsRegex:
		return c.literal(r, LitRegExp)

	case tsTemplateString:
		node := newNode(KindLiteral, r)
		node.Literal = LitString
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if child.Type() == tsTemplateSubstitution {
				node.Extra = append(node.Extra, c.namedList(child)...)
			}
		}
		return c.tree.Add(node)

	case tsBinaryExpression:
		node := newNode(KindBinaryExpression, r)
		node.Left = c.field(n, "left")
		node.Right = c.field(n, "right")
		node.Extra = c.strayErrors(n, node.Right)
		if op := n.ChildByFieldName("operator"); op != nil {
			node.Operator = c.text(op)
		}
		return c.tree.Add(node)

	case tsUnaryExpression, tsUpdateExpression:
		kind := KindUnaryExpression
		if t == tsUpdateExpression {
			kind = KindUpdateExpression
		}
		node := newNode(kind, r)
		node.Argument = c.field(n, "argument")
		node.Extra = c.strayErrors(n, node.Argument)
		if op := n.ChildByFieldName("operator"); op != nil {
			node.Operator = c.text(op)
		}
		return c.tree.Add(node)

	case tsAssignmentExpression, tsAugmentedAssignment:
		node := newNode(KindAssignmentExpression, r)
		node.Left = c.field(n, "left")
		node.Right = c.field(n, "right")
		node.Extra = c.strayErrors(n, node.Right)
		node.Operator = "="
		if op := n.ChildByFieldName("operator"); op != nil {
			node.Operator = c.text(op)
		}
		return c.tree.Add(node)

	case tsThis:
		return c.tree.Add(newNode(KindThisExpression, r))

	case tsComment:
		c.addComment(n)
		return NoNode

	case tsParenthesizedExpression:
		exprs := c.namedList(n)
		if len(exprs) == 1 {
			return exprs[0]
		}
		node := newNode(KindOther, r)
		node.Extra = exprs
		return c.tree.Add(node)

	case tsCatchClause:
		node := newNode(KindCatchClause, r)
		node.Param = c.field(n, "parameter")
		node.Body = c.field(n, "body")
		return c.tree.Add(node)

	case tsReturnStatement:
		node := newNode(KindReturnStatement, r)
		if exprs := c.namedList(n); len(exprs) > 0 {
			node.Argument = exprs[0]
			node.Extra = exprs[1:]
		}
		return c.tree.Add(node)

	case tsError:
		c.recordError(n)
		node := newNode(KindOther, r)
		node.Extra = c.recoverList(n)
		return c.tree.Add(node)
	}

	node := newNode(KindOther, r)
	node.Extra = c.recoverList(n)
	return c.tree.Add(node)
}

func (c *converter) literal(r Range, kind LiteralKind) NodeID {
	node := newNode(KindLiteral, r)
	node.Literal = kind
	return c.tree.Add(node)
}

// namedList converts the named children of n, collecting comments. An
// ERROR holding a stray "." is folded into the expression before it.
func (c *converter) namedList(n *sitter.Node) []NodeID {
	if n == nil {
		return nil
	}
	var out []NodeID
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == tsComment {
			c.addComment(child)
			continue
		}
		if child.IsMissing() {
			c.recordError(child)
			continue
		}
		if child.Type() == tsError && len(out) > 0 {
			if rest, ok := c.foldDot(out[len(out)-1], child); ok {
				out = append(out, rest...)
				continue
			}
		}
		if id := c.convert(child); id != NoNode {
			out = append(out, id)
		}
	}
	return out
}

// strayErrors converts the ERROR children of a node whose other children
// are read by field name. A stray "." is folded into last.
func (c *converter) strayErrors(n *sitter.Node, last NodeID) []NodeID {
	var out []NodeID
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.Type() != tsError || n.FieldNameForChild(i) != "" {
			continue
		}
		if last != NoNode {
			if rest, ok := c.foldDot(last, child); ok {
				out = append(out, rest...)
				continue
			}
		}
		out = append(out, c.convert(child))
	}
	return out
}

func (c *converter) arguments(args *sitter.Node) []NodeID {
	if args == nil {
		return nil
	}
	if args.Type() != tsArguments {
		// Tagged template: the template itself is the argument.
		return []NodeID{c.convert(args)}
	}
	return c.namedList(args)
}

// function converts declarations, expressions, arrows and methods.
func (c *converter) function(n *sitter.Node, kind NodeKind) NodeID {
	node := newNode(kind, c.rangeOf(n))
	node.Arrow = n.Type() == tsArrowFunction
	node.ID = c.field(n, "name")

	if params := n.ChildByFieldName("parameters"); params != nil {
		node.Params = c.params(params)
	} else if single := n.ChildByFieldName("parameter"); single != nil {
		node.Params = []NodeID{c.convert(single)}
	}
	node.Body = c.field(n, "body")
	return c.tree.Add(node)
}

// params converts a formal parameter list. Defaults and rest elements
// contribute their bound identifier; other patterns are kept as-is.
func (c *converter) params(n *sitter.Node) []NodeID {
	if n.Type() != tsFormalParameters {
		return []NodeID{c.convert(n)}
	}
	var out []NodeID
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case tsComment:
			c.addComment(child)
		case tsAssignmentPattern:
			if left := child.ChildByFieldName("left"); left != nil {
				out = append(out, c.convert(left))
			}
		case tsRestPattern:
			if child.NamedChildCount() > 0 {
				out = append(out, c.convert(child.NamedChild(0)))
			}
		default:
			out = append(out, c.convert(child))
		}
	}
	return out
}

// property converts one member of an object literal.
func (c *converter) property(n *sitter.Node) NodeID {
	r := c.rangeOf(n)
	switch n.Type() {
	case tsPair:
		node := newNode(KindProperty, r)
		if key := n.ChildByFieldName("key"); key != nil {
			node.Computed = key.Type() == tsComputedPropertyName
			node.Key = c.convert(key)
		}
		node.Value = c.field(n, "value")
		return c.tree.Add(node)

	case tsShorthandPropertyIdent:
		node := newNode(KindProperty, r)
		node.Key = c.convert(n)
		value := newNode(KindIdentifier, r)
		value.Name = c.text(n)
		node.Value = c.tree.Add(value)
		return c.tree.Add(node)

	case tsMethodDefinition:
		node := newNode(KindProperty, r)
		if name := n.ChildByFieldName("name"); name != nil {
			node.Computed = name.Type() == tsComputedPropertyName
			node.Key = c.convert(name)
		}
		fn := newNode(KindFunctionExpression, r)
		if params := n.ChildByFieldName("parameters"); params != nil {
			fn.Params = c.params(params)
		}
		fn.Body = c.field(n, "body")
		node.Value = c.tree.Add(fn)
		return c.tree.Add(node)
	}
	return c.convert(n)
}

// statementList converts the children of a program or block, repairing
// "expr ." sequences that the grammar split into a statement and an ERROR.
func (c *converter) statementList(n *sitter.Node) []NodeID {
	var out []NodeID
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.IsMissing() {
			c.recordError(child)
			continue
		}
		if !child.IsNamed() {
			continue
		}
		if child.Type() == tsComment {
			c.addComment(child)
			continue
		}
		if child.Type() == tsError && len(out) > 0 {
			if rest, ok := c.foldDot(out[len(out)-1], child); ok {
				out = append(out, rest...)
				continue
			}
		}
		if id := c.convert(child); id != NoNode {
			out = append(out, id)
		}
	}
	return out
}

// foldDot handles an ERROR opening with "." that follows an already
// converted node. The trailing expression of prevID is rewritten in place
// into a member access on a copy of itself, so every edge pointing at it
// now points at the member. The identifier directly after the dot becomes
// the property; other children of the ERROR are returned converted.
// Reports whether the ERROR was consumed.
func (c *converter) foldDot(prevID NodeID, errNode *sitter.Node) ([]NodeID, bool) {
	first := errNode.Child(0)
	if first == nil || (first.Type() != tsDot && first.Type() != tsOptionalChain) {
		return nil, false
	}
	path := c.trailingExpression(prevID)
	if len(path) == 0 {
		return nil, false
	}
	c.recordError(errNode)

	target := path[len(path)-1]
	inner := *c.tree.Node(target)
	obj := c.tree.Add(inner)
	member := newNode(KindMemberExpression, Range{Start: inner.Range.Start, End: int(first.EndByte()) - 1})
	member.Object = obj

	var rest []NodeID
	for i := 1; i < int(errNode.ChildCount()); i++ {
		child := errNode.Child(i)
		if child.IsMissing() || !child.IsNamed() {
			continue
		}
		if child.Type() == tsComment {
			c.addComment(child)
			continue
		}
		if i == 1 && isIdentifierType(child.Type()) {
			member.Property = c.convert(child)
			member.Range.End = int(child.EndByte()) - 1
			continue
		}
		if id := c.convert(child); id != NoNode {
			rest = append(rest, id)
		}
	}
	c.tree.Nodes[target] = member

	for _, id := range path[:len(path)-1] {
		if n := c.tree.Node(id); n.Range.End < member.Range.End {
			n.Range.End = member.Range.End
		}
	}
	return rest, true
}

// trailingExpression descends from id to the expression that ends it:
// through statements, the last declarator's initializer, the right operand
// of binary and assignment expressions and the body of a concise arrow.
// The path is empty when that node is not something a dot can follow.
func (c *converter) trailingExpression(id NodeID) []NodeID {
	var path []NodeID
	for {
		n := c.tree.Node(id)
		if n == nil || n.Unranged {
			return nil
		}
		path = append(path, id)

		next := NoNode
		switch n.Kind {
		case KindExpressionStatement:
			next = n.Expression
		case KindReturnStatement, KindUnaryExpression:
			next = n.Argument
		case KindVariableDeclaration:
			if len(n.Declarations) > 0 {
				next = n.Declarations[len(n.Declarations)-1]
			}
		case KindVariableDeclarator:
			next = n.Init
		case KindBinaryExpression, KindAssignmentExpression:
			next = n.Right
		case KindFunctionExpression:
			if body := c.tree.Node(n.Body); n.Arrow && body != nil && body.Kind != KindBlockStatement {
				next = n.Body
			}
		}
		child := c.tree.Node(next)
		if child == nil || child.Unranged || child.Range.End != n.Range.End {
			break
		}
		id = next
	}

	switch c.tree.Node(id).Kind {
	case KindIdentifier, KindThisExpression, KindMemberExpression, KindCallExpression, KindNewExpression,
		KindLiteral, KindArrayExpression, KindObjectExpression, KindFunctionExpression:
		return path
	}
	return nil
}

// recoverList converts every named child of a generic or ERROR node. An
// anonymous "." following a converted expression becomes a member access on
// that expression, taking the next identifier as its property.
func (c *converter) recoverList(n *sitter.Node) []NodeID {
	var out []NodeID
	pendingMember := NoNode
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.IsMissing() {
			c.recordError(child)
			continue
		}
		t := child.Type()
		if !child.IsNamed() {
			if (t == tsDot || t == tsOptionalChain) && len(out) > 0 {
				last := out[len(out)-1]
				member := newNode(KindMemberExpression, Range{Start: c.tree.Nodes[last].Range.Start, End: int(child.EndByte()) - 1})
				member.Object = last
				pendingMember = c.tree.Add(member)
				out[len(out)-1] = pendingMember
				continue
			}
			pendingMember = NoNode
			continue
		}
		if t == tsComment {
			c.addComment(child)
			continue
		}
		if t == tsError && pendingMember == NoNode && len(out) > 0 {
			if rest, ok := c.foldDot(out[len(out)-1], child); ok {
				out = append(out, rest...)
				continue
			}
		}
		if pendingMember != NoNode && isIdentifierType(t) {
			prop := c.convert(child)
			m := c.tree.Node(pendingMember)
			m.Property = prop
			m.Range.End = int(child.EndByte()) - 1
			pendingMember = NoNode
			continue
		}
		pendingMember = NoNode
		if id := c.convert(child); id != NoNode {
			out = append(out, id)
		}
	}
	return out
}
