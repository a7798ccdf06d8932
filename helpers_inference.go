// jscomplete/helpers_inference.go
// Two-phase inference walk: scopes are opened before a node's children are
// visited, types are propagated after.
package jscomplete

import (
	"unicode"
	"unicode/utf8"
)

// walkMode selects what the walk does when it reaches the cursor.
type walkMode uint8

const (
	// modeComplete generates proposals at the cursor and stops.
	modeComplete walkMode = iota
	// modeAnalyze walks the whole tree without triggering, keeping every
	// declaration. Used for summaries and hover.
	modeAnalyze
)

// functionFrame tracks one function being walked.
type functionFrame struct {
	node        NodeID
	name        string
	params      []string
	constructor bool
	declScope   string
	returnType  string
}

// inferenceWalker holds the per-request annotations. The tree itself is
// never written.
type inferenceWalker struct {
	src  nodeSource
	tree *Tree
	env  *TypeEnv
	req  CompletionRequest
	mode walkMode

	types   []string          // Inferred type per node.
	targets map[NodeID]NodeID // Property -> object whose type scopes its lookup.
	tags    map[NodeID]string // Function -> name inferred from its context.
	scopeAt map[NodeID]string // Identifier -> scope it was resolved in (analyze mode).
	frames  []functionFrame

	triggered  bool
	candidates []Candidate
	err        error
}

func newWalker(t *Tree, env *TypeEnv, cls Classification, req CompletionRequest, mode walkMode) *inferenceWalker {
	return &inferenceWalker{
		src:     withAnchor(t, cls.Anchor),
		tree:    t,
		env:     env,
		req:     req,
		mode:    mode,
		types:   make([]string, len(t.Nodes)+1),
		targets: make(map[NodeID]NodeID),
		tags:    make(map[NodeID]string),
		scopeAt: make(map[NodeID]string),
	}
}

// run walks the tree. It reports whether proposals were generated.
func (w *inferenceWalker) run() (bool, error) {
	Visit(w.src, w.tree.Root, w.pre, w.post)
	return w.triggered, w.err
}

func (w *inferenceWalker) node(id NodeID) *Node { return w.src.node(id) }

// typeOf returns the inferred type of id, Object when unset.
func (w *inferenceWalker) typeOf(id NodeID) string {
	if id < 0 || int(id) >= len(w.types) || w.types[id] == "" {
		return TypeObject
	}
	return w.types[id]
}

func (w *inferenceWalker) setType(id NodeID, typ string) {
	if id >= 0 && int(id) < len(w.types) {
		w.types[id] = typ
	}
}

// scopeFor returns the scope in which an identifier is resolved: the type of
// its target when it has one, the current scope otherwise.
func (w *inferenceWalker) scopeFor(id NodeID) string {
	target, ok := w.targets[id]
	if !ok {
		return w.env.Scope("")
	}
	typ := w.typeOf(target)
	if IsCallableType(typ) {
		return TypeFunction
	}
	return typ
}

func (w *inferenceWalker) identName(id NodeID) string {
	n := w.node(id)
	if n == nil || n.Kind != KindIdentifier {
		return ""
	}
	return n.Name
}

// paramNames lists the display names of a function's parameters.
func (w *inferenceWalker) paramNames(fn *Node) []string {
	params := make([]string, 0, len(fn.Params))
	for _, p := range fn.Params {
		if name := w.identName(p); name != "" {
			params = append(params, name)
		} else if text := w.tree.Text(p); text != "" {
			params = append(params, text)
		}
	}
	return params
}

func (w *inferenceWalker) isFunction(id NodeID) bool {
	n := w.node(id)
	return n != nil && n.Kind.IsFunction()
}

func (w *inferenceWalker) popScope() bool {
	if err := w.env.PopScope(); err != nil {
		w.err = err
		return false
	}
	return true
}

// trigger generates proposals for typeName and ends the walk.
func (w *inferenceWalker) trigger(typeName string) bool {
	w.candidates = w.env.Generate(typeName, w.req)
	w.triggered = true
	return false
}

func (w *inferenceWalker) completing() bool { return w.mode == modeComplete }

// isConstructorName reports whether a function name starts with an upper-case letter.
func isConstructorName(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return r != utf8.RuneError && unicode.IsUpper(r)
}

// ============================================================================
// Pre-order
// ============================================================================

func (w *inferenceWalker) pre(id, _ NodeID) VisitAction {
	n := w.node(id)
	switch n.Kind {
	case KindVariableDeclaration:
		if w.completing() && isBefore(w.req.Offset, n) {
			return Skip
		}

	case KindBlockStatement:
		w.env.NewScope()

	case KindFunctionDeclaration, KindFunctionExpression:
		w.enterFunction(id, n)

	case KindObjectExpression:
		obj := w.env.NewObject("")
		w.setType(id, obj)
		for _, p := range n.Properties {
			pn := w.node(p)
			if pn == nil || pn.Kind != KindProperty || pn.Computed {
				continue
			}
			key := w.identName(pn.Key)
			if key == "" {
				continue
			}
			w.env.AddVariable(key, obj, TypeObject)
			if w.isFunction(pn.Value) {
				w.tags[pn.Value] = key
			}
		}

	case KindVariableDeclarator:
		if name := w.identName(n.ID); name != "" && w.isFunction(n.Init) {
			w.tags[n.Init] = name
		}

	case KindAssignmentExpression:
		if w.isFunction(n.Right) {
			if name := w.identName(findRightMost(w.src, n.Left)); name != "" {
				w.tags[n.Right] = name
			}
		}

	case KindCatchClause:
		w.env.NewScope()
		if name := w.identName(n.Param); name != "" {
			w.env.AddVariable(name, "", TypeError)
		}

	case KindMemberExpression:
		if !n.Computed && n.Property != NoNode {
			w.targets[n.Property] = n.Object
		}
	}
	return Descend
}

// enterFunction binds a function's name, opens the instance scope of a
// constructor and opens the parameter scope.
func (w *inferenceWalker) enterFunction(id NodeID, n *Node) {
	name := w.identName(n.ID)
	if name == "" {
		name = w.tags[id]
	}
	frame := functionFrame{
		node:      id,
		name:      name,
		params:    w.paramNames(n),
		declScope: w.env.Scope(""),
	}

	fnType := callablePrefix + TypeObject
	if !n.Arrow && isConstructorName(name) {
		frame.constructor = true
		fnType = callablePrefix + w.env.NewObject(name)
	}
	w.setType(id, fnType)
	if n.Kind == KindFunctionDeclaration && name != "" {
		w.env.AddFunction(name, frame.params, frame.declScope, fnType)
		w.setType(n.ID, fnType)
	}

	w.env.NewScope()
	w.env.AddVariable("arguments", "", TypeArguments)
	for _, p := range frame.params {
		w.env.AddVariable(p, "", TypeObject)
	}
	w.frames = append(w.frames, frame)
}

// ============================================================================
// Post-order
// ============================================================================

func (w *inferenceWalker) post(id, _ NodeID) bool {
	n := w.node(id)
	typ := TypeObject

	switch n.Kind {
	case KindLiteral:
		typ = literalType(n.Literal)

	case KindArrayExpression:
		typ = TypeArray

	case KindNewExpression:
		typ = w.constructedType(n)

	case KindObjectExpression:
		var ok bool
		if typ, ok = w.closeObject(id, n); !ok {
			return false
		}

	case KindBinaryExpression:
		switch n.Operator {
		case "+", "-", "*", "/":
			typ = TypeNumber
		}

	case KindUnaryExpression, KindUpdateExpression:
		typ = TypeNumber

	case KindCallExpression:
		typ = ReturnType(w.typeOf(n.Callee))
		if typ == "" {
			typ = TypeObject
		}

	case KindMemberExpression:
		if w.completing() && !n.Computed && afterDot(w.tree, w.req.Offset, n) {
			return w.trigger(w.typeOf(n.Object))
		}
		switch {
		case n.Computed:
		case n.Property != NoNode:
			typ = w.typeOf(n.Property)
		default:
			typ = w.typeOf(n.Object)
		}

	case KindFunctionDeclaration, KindFunctionExpression:
		var ok bool
		if typ, ok = w.exitFunction(id, n); !ok {
			return false
		}

	case KindVariableDeclarator:
		if n.Init != NoNode {
			typ = w.typeOf(n.Init)
		}
		if name := w.identName(n.ID); name != "" {
			if fn := w.node(n.Init); fn != nil && fn.Kind.IsFunction() {
				w.env.AddFunction(name, w.paramNames(fn), "", typ)
			} else {
				w.env.AddVariable(name, "", typ)
			}
			w.setType(n.ID, typ)
		}

	case KindAssignmentExpression:
		typ = w.typeOf(n.Right)
		if rm := findRightMost(w.src, n.Left); rm != NoNode {
			name := w.identName(rm)
			owner := w.env.AddOrSetVariable(name, w.scopeFor(rm), typ)
			if fn := w.node(n.Right); fn != nil && fn.Kind.IsFunction() {
				w.env.AddFunction(name, w.paramNames(fn), owner, typ)
			}
			w.setType(rm, typ)
		}

	case KindIdentifier:
		scope := w.scopeFor(id)
		if w.completing() && !n.Unranged && inRange(w.req.Offset, n.Range) {
			return w.trigger(scope)
		}
		if found, ok := w.env.LookupName(n.Name, scope); ok {
			typ = found
		}
		if w.mode == modeAnalyze {
			w.scopeAt[id] = scope
			if prev := w.types[id]; prev != "" {
				// Already set by the declaration that owns this name.
				typ = prev
			}
		}

	case KindThisExpression:
		if found, ok := w.env.LookupName(thisName, ""); ok {
			typ = found
		}

	case KindReturnStatement:
		if len(w.frames) > 0 && n.Argument != NoNode {
			frame := &w.frames[len(w.frames)-1]
			if frame.returnType == "" {
				frame.returnType = w.typeOf(n.Argument)
			}
		}

	case KindBlockStatement:
		if w.completing() && inRange(w.req.Offset, n.Range) {
			return w.trigger(w.env.Scope(""))
		}
		if !w.popScope() {
			return false
		}

	case KindCatchClause:
		if !w.popScope() {
			return false
		}

	case KindProgram:
		if w.completing() {
			return w.trigger(TypeGlobal)
		}
	}

	w.setType(id, typ)
	return true
}

// exitFunction closes the scopes opened by enterFunction and settles the
// function's type.
func (w *inferenceWalker) exitFunction(id NodeID, n *Node) (string, bool) {
	typ := w.typeOf(id)
	if len(w.frames) == 0 || w.frames[len(w.frames)-1].node != id {
		return typ, true
	}
	frame := w.frames[len(w.frames)-1]
	w.frames = w.frames[:len(w.frames)-1]

	if !w.popScope() {
		return typ, false
	}
	if frame.constructor {
		return typ, w.popScope()
	}
	if frame.returnType != "" {
		typ = callablePrefix + frame.returnType
		if n.Kind == KindFunctionDeclaration && frame.name != "" {
			w.env.AddFunction(frame.name, frame.params, frame.declScope, typ)
			w.setType(n.ID, typ)
		}
	}
	return typ, true
}

// closeObject refines each key's binding from its value, then closes the
// object's scope.
func (w *inferenceWalker) closeObject(id NodeID, n *Node) (string, bool) {
	obj := w.typeOf(id)
	for _, p := range n.Properties {
		pn := w.node(p)
		if pn == nil || pn.Kind != KindProperty || pn.Computed {
			continue
		}
		key := w.identName(pn.Key)
		if key == "" {
			continue
		}
		vt := w.typeOf(pn.Value)
		if fn := w.node(pn.Value); fn != nil && fn.Kind.IsFunction() {
			w.env.AddFunction(key, w.paramNames(fn), obj, vt)
		} else {
			w.env.AddVariable(key, obj, vt)
		}
		w.setType(pn.Key, vt)
		w.setType(p, vt)
	}
	return obj, w.popScope()
}

// constructedType is the instance type of a new expression: the return of
// the callee's constructor type, or the callee's name when it is unknown.
func (w *inferenceWalker) constructedType(n *Node) string {
	callee := w.typeOf(n.Callee)
	if IsCallableType(callee) {
		return ReturnType(callee)
	}
	if name := w.identName(findRightMost(w.src, n.Callee)); name != "" {
		return name
	}
	return TypeObject
}

func literalType(k LiteralKind) string {
	switch k {
	case LitString:
		return TypeString
	case LitNumber:
		return TypeNumber
	case LitBoolean:
		return TypeBoolean
	case LitRegExp:
		return TypeRegExp
	}
	return TypeObject
}
