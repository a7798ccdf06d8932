// jscomplete/helpers_visitor.go
// Generic pre/post-order traversal over the syntax tree.
package jscomplete

// ============================================================================
// Tree Visitor
// ============================================================================

// VisitAction is returned by a pre-order callback.
type VisitAction uint8

const (
	Descend VisitAction = iota // Visit children, then call post.
	Skip                       // Skip children and post for this node.
	Halt                       // Abandon the traversal.
)

// Outcome reports how a traversal ended.
type Outcome uint8

const (
	Completed Outcome = iota
	Stopped
)

// PreOp is called before a node's children. parent is NoNode for the root.
type PreOp func(id, parent NodeID) VisitAction

// PostOp is called after a node's children. Returning false stops the traversal.
type PostOp func(id, parent NodeID) bool

// Visit walks src from root in source order. Either callback may be nil.
func Visit(src nodeSource, root NodeID, pre PreOp, post PostOp) Outcome {
	if root == NoNode || src.node(root) == nil {
		return Completed
	}
	return visitNode(src, root, NoNode, pre, post)
}

func visitNode(src nodeSource, id, parent NodeID, pre PreOp, post PostOp) Outcome {
	if pre != nil {
		switch pre(id, parent) {
		case Halt:
			return Stopped
		case Skip:
			return Completed
		}
	}
	for _, child := range src.children(id) {
		if visitNode(src, child, id, pre, post) == Stopped {
			return Stopped
		}
	}
	if post != nil && !post(id, parent) {
		return Stopped
	}
	return Completed
}
