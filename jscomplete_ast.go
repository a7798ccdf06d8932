// jscomplete/jscomplete_ast.go
// Arena-backed JavaScript syntax tree consumed by the classifier and the inference walk.
package jscomplete

import (
	"sort"
)

// =============================================================================
// Node Kinds
// =============================================================================

// NodeID indexes a node in Tree.Nodes.
type NodeID int32

// NoNode marks an absent child edge.
const NoNode NodeID = -1

// NodeKind is the syntactic category of a node.
type NodeKind uint8

const (
	KindOther NodeKind = iota // Unmodelled form; children are still walked.
	KindProgram
	KindExpressionStatement
	KindIdentifier
	KindMemberExpression
	KindCallExpression
	KindNewExpression
	KindFunctionDeclaration
	KindFunctionExpression
	KindObjectExpression
	KindProperty
	KindArrayExpression
	KindLiteral
	KindBinaryExpression
	KindUnaryExpression
	KindUpdateExpression
	KindVariableDeclaration
	KindVariableDeclarator
	KindAssignmentExpression
	KindCatchClause
	KindBlockStatement
	KindThisExpression
	KindReturnStatement
)

var nodeKindNames = [...]string{
	KindOther:                "Other",
	KindProgram:              "Program",
	KindExpressionStatement:  "ExpressionStatement",
	KindIdentifier:           "Identifier",
	KindMemberExpression:     "MemberExpression",
	KindCallExpression:       "CallExpression",
	KindNewExpression:        "NewExpression",
	KindFunctionDeclaration:  "FunctionDeclaration",
	KindFunctionExpression:   "FunctionExpression",
	KindObjectExpression:     "ObjectExpression",
	KindProperty:             "Property",
	KindArrayExpression:      "ArrayExpression",
	KindLiteral:              "Literal",
	KindBinaryExpression:     "BinaryExpression",
	KindUnaryExpression:      "UnaryExpression",
	KindUpdateExpression:     "UpdateExpression",
	KindVariableDeclaration:  "VariableDeclaration",
	KindVariableDeclarator:   "VariableDeclarator",
	KindAssignmentExpression: "AssignmentExpression",
	KindCatchClause:          "CatchClause",
	KindBlockStatement:       "BlockStatement",
	KindThisExpression:       "ThisExpression",
	KindReturnStatement:      "ReturnStatement",
}

func (k NodeKind) String() string {
	if int(k) < len(nodeKindNames) {
		return nodeKindNames[k]
	}
	return "Unknown"
}

// IsFunction reports whether the kind introduces a function scope.
func (k NodeKind) IsFunction() bool {
	return k == KindFunctionDeclaration || k == KindFunctionExpression
}

// LiteralKind distinguishes literal values; each maps to a catalog type.
type LiteralKind uint8

const (
	LitNone LiteralKind = iota
	LitString
	LitNumber
	LitBoolean
	LitRegExp
	LitNull
)

// =============================================================================
// Ranges
// =============================================================================

// Range is a byte range into the buffer. End is inclusive.
type Range struct {
	Start int
	End   int
}

// inRange reports whether offset is inside r or directly after its last character.
func inRange(offset int, r Range) bool {
	return r.Start <= offset && offset <= r.End+1
}

// isBefore reports whether offset lies before a node. Unranged nodes are
// always treated as before the cursor.
func isBefore(offset int, n *Node) bool {
	if n.Unranged {
		return true
	}
	return offset < n.Range.Start
}

// isAfter reports whether offset lies past a node's end.
func isAfter(offset int, n *Node) bool {
	if n.Unranged {
		return false
	}
	return offset > n.Range.End+1
}

// =============================================================================
// Nodes & Tree
// =============================================================================

// Node is one syntax node. Structural edges are indexes into the owning
// tree; only the edges meaningful for Kind are set, the rest hold NoNode.
type Node struct {
	Kind     NodeKind
	Range    Range
	Unranged bool // Synthetic node without a source position.

	Name     string      // Identifier name.
	Operator string      // Binary/unary/update/assignment operator, or declaration keyword.
	Literal  LiteralKind // Literal nodes only.
	Computed bool        // obj[expr] member or [expr] property key.
	Arrow    bool        // Arrow function.

	Object     NodeID
	Property   NodeID
	Callee     NodeID
	Left       NodeID
	Right      NodeID
	Init       NodeID
	ID         NodeID
	Body       NodeID
	Key        NodeID
	Value      NodeID
	Param      NodeID
	Argument   NodeID
	Expression NodeID

	Params       []NodeID
	Arguments    []NodeID
	Elements     []NodeID
	Properties   []NodeID
	Declarations []NodeID
	Statements   []NodeID
	Extra        []NodeID // Children of KindOther nodes and template substitutions.
}

// newNode returns a node of kind k spanning r with every edge unset.
func newNode(k NodeKind, r Range) Node {
	return Node{
		Kind: k, Range: r,
		Object: NoNode, Property: NoNode, Callee: NoNode, Left: NoNode, Right: NoNode,
		Init: NoNode, ID: NoNode, Body: NoNode, Key: NoNode, Value: NoNode,
		Param: NoNode, Argument: NoNode, Expression: NoNode,
	}
}

// Comment is a source comment with its raw text, delimiters included.
type Comment struct {
	Range Range
	Text  string
	Block bool
}

// SyntaxError is a recoverable problem reported by the parser.
type SyntaxError struct {
	Range   Range
	Message string
}

// Tree is an immutable parsed buffer. Inference results are kept outside of
// it so one tree can be shared between concurrent requests.
type Tree struct {
	Nodes    []Node
	Root     NodeID
	Comments []Comment
	Errors   []SyntaxError
	Source   []byte
}

// Add appends n to the arena and returns its id.
func (t *Tree) Add(n Node) NodeID {
	t.Nodes = append(t.Nodes, n)
	return NodeID(len(t.Nodes) - 1)
}

// Node returns the node for id, or nil when id is out of range.
func (t *Tree) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(t.Nodes) {
		return nil
	}
	return &t.Nodes[id]
}

// Text returns the source covered by a ranged node.
func (t *Tree) Text(id NodeID) string {
	n := t.Node(id)
	if n == nil || n.Unranged || t.Source == nil {
		return ""
	}
	start, end := n.Range.Start, n.Range.End+1
	if start < 0 || end > len(t.Source) || start > end {
		return ""
	}
	return string(t.Source[start:end])
}

// nodeSource is what the visitor needs from a tree. The anchored view below
// implements it too, adding a virtual node without touching the shared tree.
type nodeSource interface {
	node(id NodeID) *Node
	children(id NodeID) []NodeID
}

func (t *Tree) node(id NodeID) *Node { return t.Node(id) }

func (t *Tree) children(id NodeID) []NodeID {
	return childrenOf(t, id, nil)
}

// childrenOf gathers the structural children of id in source order.
// A Property without a range is replaced by its key and value. extra is
// appended before sorting.
func childrenOf(src nodeSource, id NodeID, extra []NodeID) []NodeID {
	n := src.node(id)
	if n == nil {
		return nil
	}
	var out []NodeID
	add := func(c NodeID) {
		if c == NoNode {
			return
		}
		cn := src.node(c)
		if cn == nil {
			return
		}
		if cn.Kind == KindProperty && cn.Unranged {
			if cn.Key != NoNode {
				out = append(out, cn.Key)
			}
			if cn.Value != NoNode {
				out = append(out, cn.Value)
			}
			return
		}
		out = append(out, c)
	}
	for _, c := range []NodeID{n.Object, n.Property, n.Callee, n.Left, n.Right, n.Init, n.ID, n.Key, n.Value, n.Param, n.Argument, n.Expression} {
		add(c)
	}
	for _, list := range [][]NodeID{n.Params, n.Arguments, n.Elements, n.Properties, n.Declarations, n.Statements, n.Extra} {
		for _, c := range list {
			add(c)
		}
	}
	add(n.Body)
	out = append(out, extra...)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := src.node(out[i]), src.node(out[j])
		if a.Unranged != b.Unranged {
			return a.Unranged
		}
		if a.Unranged {
			return false
		}
		return a.Range.Start < b.Range.Start
	})
	return out
}

// Anchor is a virtual empty identifier at Offset, treated as the last
// child of Block.
type Anchor struct {
	Block  NodeID
	Offset int
}

// anchoredTree overlays an Anchor on a shared tree.
type anchoredTree struct {
	*Tree
	anchorID NodeID
	anchor   Node
	block    NodeID
}

// withAnchor returns a view of t in which a's identifier exists. A zero
// anchor (Block == NoNode) yields t itself.
func withAnchor(t *Tree, a *Anchor) nodeSource {
	if a == nil || a.Block == NoNode {
		return t
	}
	n := newNode(KindIdentifier, Range{Start: a.Offset, End: a.Offset})
	return &anchoredTree{Tree: t, anchorID: NodeID(len(t.Nodes)), anchor: n, block: a.Block}
}

func (v *anchoredTree) node(id NodeID) *Node {
	if id == v.anchorID {
		return &v.anchor
	}
	return v.Tree.Node(id)
}

func (v *anchoredTree) children(id NodeID) []NodeID {
	if id == v.block {
		return childrenOf(v, id, []NodeID{v.anchorID})
	}
	return childrenOf(v, id, nil)
}

// findRightMost returns the identifier naming an expression: the expression
// itself when it is an identifier, the right-most property for a member
// chain, NoNode otherwise.
func findRightMost(src nodeSource, id NodeID) NodeID {
	for id != NoNode {
		n := src.node(id)
		if n == nil {
			return NoNode
		}
		switch n.Kind {
		case KindIdentifier:
			return id
		case KindMemberExpression:
			if n.Computed {
				return NoNode
			}
			id = n.Property
		default:
			return NoNode
		}
	}
	return NoNode
}
