// jscomplete/helpers_typeenv.go
// Per-request registry of structural types and the active scope stack.
package jscomplete

import (
	"fmt"
	"strconv"
	"strings"
)

// thisName is the binding introduced by object and constructor scopes.
const thisName = "this"

// callablePrefix marks a type reference as a function returning the rest.
const callablePrefix = "?"

// anonTypePrefix names types created during inference.
const anonTypePrefix = "Object~"

// TypeDescriptor is one named structural type.
type TypeDescriptor struct {
	Name      string
	Prototype string              // Empty only for the builtin root.
	Members   map[string]string   // member -> type reference
	Params    map[string][]string // member -> formal parameters, callable members only

	builtinRoot bool // Members are stored under aliasPrefix.
	shared      bool // Owned by the catalog; must be cloned before writing.
}

// IsBuiltinRoot reports whether the descriptor is the alias-keyed root type.
func (d *TypeDescriptor) IsBuiltinRoot() bool { return d.builtinRoot }

func (d *TypeDescriptor) clone() *TypeDescriptor {
	c := &TypeDescriptor{
		Name:        d.Name,
		Prototype:   d.Prototype,
		Members:     make(map[string]string, len(d.Members)),
		Params:      make(map[string][]string, len(d.Params)),
		builtinRoot: d.builtinRoot,
	}
	for k, v := range d.Members {
		c.Members[k] = v
	}
	for k, v := range d.Params {
		c.Params[k] = append([]string(nil), v...)
	}
	return c
}

// IsCallableType reports whether ref is a function type reference.
func IsCallableType(ref string) bool { return strings.HasPrefix(ref, callablePrefix) }

// ReturnType strips the callable wrapper from ref. Non-callable refs are
// returned unchanged.
func ReturnType(ref string) string { return strings.TrimPrefix(ref, callablePrefix) }

// =============================================================================
// Type Environment
// =============================================================================

// TypeEnv is the type registry for one request. It reads through to the
// shared catalog and copies a seed descriptor the first time it is written.
type TypeEnv struct {
	catalog *Catalog
	types   map[string]*TypeDescriptor
	scopes  []string
	counter int
}

// NewTypeEnv returns an environment seeded from catalog (the default catalog
// when nil) with Global as its only scope.
func NewTypeEnv(catalog *Catalog) *TypeEnv {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &TypeEnv{
		catalog: catalog,
		types:   make(map[string]*TypeDescriptor),
		scopes:  []string{TypeGlobal},
	}
}

// Type returns the descriptor registered under name.
func (e *TypeEnv) Type(name string) (*TypeDescriptor, bool) {
	if d, ok := e.types[name]; ok {
		return d, true
	}
	return e.catalog.Lookup(name)
}

// mutable returns a request-owned descriptor for name, cloning a catalog seed if needed.
func (e *TypeEnv) mutable(name string) *TypeDescriptor {
	if d, ok := e.types[name]; ok {
		return d
	}
	seedType, ok := e.catalog.Lookup(name)
	if !ok {
		return nil
	}
	d := seedType.clone()
	e.types[name] = d
	return d
}

// DefineType registers a new descriptor. An existing name is replaced; the
// prototype defaults to Object.
func (e *TypeEnv) DefineType(name, prototype string) *TypeDescriptor {
	if prototype == "" && name != TypeObject {
		prototype = TypeObject
	}
	d := &TypeDescriptor{
		Name:      name,
		Prototype: prototype,
		Members:   make(map[string]string),
		Params:    make(map[string][]string),
	}
	e.types[name] = d
	return d
}

func (e *TypeEnv) exists(name string) bool {
	_, ok := e.Type(name)
	return ok
}

func (e *TypeEnv) newName() string {
	for {
		e.counter++
		name := anonTypePrefix + strconv.Itoa(e.counter)
		if !e.exists(name) {
			return name
		}
	}
}

// Scope returns override when set, otherwise the innermost active scope.
func (e *TypeEnv) Scope(override string) string {
	if override != "" {
		return override
	}
	return e.scopes[len(e.scopes)-1]
}

// Depth is the number of active scopes, Global included.
func (e *TypeEnv) Depth() int { return len(e.scopes) }

// NewScope pushes an anonymous scope inheriting from the current one.
func (e *TypeEnv) NewScope() string {
	name := e.newName()
	e.DefineType(name, e.Scope(""))
	e.scopes = append(e.scopes, name)
	return name
}

// NewObject opens a scope and creates an object type bound to this inside
// it. A fresh name is used when name is empty or taken.
func (e *TypeEnv) NewObject(name string) string {
	scope := e.NewScope()
	if name == "" || e.exists(name) {
		name = e.newName()
	}
	e.DefineType(name, TypeObject)
	e.mutable(scope).Members[thisName] = name
	return name
}

// PopScope drops the innermost scope's this binding and pops it.
func (e *TypeEnv) PopScope() error {
	if len(e.scopes) <= 1 {
		return fmt.Errorf("%w: attempt to pop the global scope", ErrInternal)
	}
	top := e.scopes[len(e.scopes)-1]
	if d := e.mutable(top); d != nil {
		delete(d.Members, thisName)
	}
	e.scopes = e.scopes[:len(e.scopes)-1]
	return nil
}

// AddVariable binds name in scope (the current scope when empty). An empty
// type means Object.
func (e *TypeEnv) AddVariable(name, scope, typ string) {
	if typ == "" {
		typ = TypeObject
	}
	d := e.mutable(e.Scope(scope))
	if d == nil {
		d = e.DefineType(e.Scope(scope), TypeObject)
	}
	d.Members[name] = typ
}

// AddFunction binds name like AddVariable and records its parameters.
func (e *TypeEnv) AddFunction(name string, params []string, scope, typ string) {
	e.AddVariable(name, scope, typ)
	d := e.mutable(e.Scope(scope))
	if params == nil {
		params = []string{}
	}
	d.Params[name] = params
}

// AddOrSetVariable overwrites name at the first level of the chain that
// owns it, or adds it to scope. It returns the name of the written descriptor.
func (e *TypeEnv) AddOrSetVariable(name, scope, typ string) string {
	if typ == "" {
		typ = TypeObject
	}
	start := e.Scope(scope)
	owner := ""
	e.walkChain(start, func(d *TypeDescriptor) bool {
		if _, ok := d.Members[name]; ok {
			owner = d.Name
			return false
		}
		return true
	})
	if owner == "" {
		owner = start
	}
	e.AddVariable(name, owner, typ)
	return owner
}

// LookupName resolves name along the prototype chain of scope (the current
// scope when empty).
func (e *TypeEnv) LookupName(name, scope string) (string, bool) {
	var (
		found string
		ok    bool
	)
	e.walkChain(e.Scope(scope), func(d *TypeDescriptor) bool {
		if t, has := d.Members[name]; has {
			found, ok = t, true
			return false
		}
		if d.builtinRoot {
			if t, has := d.Members[aliasPrefix+name]; has {
				found, ok = t, true
				return false
			}
		}
		return true
	})
	return found, ok
}

// ParamsOf returns the recorded parameters of name along the chain.
func (e *TypeEnv) ParamsOf(name, scope string) ([]string, bool) {
	var (
		params []string
		ok     bool
	)
	e.walkChain(e.Scope(scope), func(d *TypeDescriptor) bool {
		key := name
		if _, has := d.Members[key]; !has && d.builtinRoot {
			key = aliasPrefix + name
		}
		if _, has := d.Members[key]; has {
			params, ok = d.Params[key]
			return false
		}
		return true
	})
	return params, ok
}

// resolveType maps a type reference to its descriptor: callables resolve to
// Function and unknown names to Object.
func (e *TypeEnv) resolveType(ref string) *TypeDescriptor {
	if IsCallableType(ref) {
		ref = TypeFunction
	}
	if d, ok := e.Type(ref); ok {
		return d
	}
	d, _ := e.Type(TypeObject)
	return d
}

// walkChain calls fn for each descriptor from start to the root until fn
// returns false. Unknown names end the walk.
func (e *TypeEnv) walkChain(start string, fn func(*TypeDescriptor) bool) {
	seen := make(map[string]struct{})
	for name := start; name != ""; {
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		d, ok := e.Type(name)
		if !ok || !fn(d) {
			return
		}
		name = d.Prototype
	}
}
