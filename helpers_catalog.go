// jscomplete/helpers_catalog.go
// Read-only seed of the global and primitive JavaScript types.
package jscomplete

import (
	"sort"
	"sync"
)

// Names of the seed types.
const (
	TypeObject    = "Object"
	TypeGlobal    = "Global"
	TypeString    = "String"
	TypeArray     = "Array"
	TypeDate      = "Date"
	TypeBoolean   = "Boolean"
	TypeNumber    = "Number"
	TypeFunction  = "Function"
	TypeArguments = "Arguments"
	TypeRegExp    = "RegExp"
	TypeError     = "Error"
	TypeMath      = "Math"
	TypeJSON      = "JSON"
)

// aliasPrefix disambiguates root members whose names collide with host
// object methods (toString, valueOf, ...).
const aliasPrefix = "$$"

// Catalog is an immutable set of seed type descriptors shared by all requests.
type Catalog struct {
	types map[string]*TypeDescriptor
}

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
)

// DefaultCatalog returns the process-wide built-in catalog.
func DefaultCatalog() *Catalog {
	defaultCatalogOnce.Do(func() {
		defaultCatalog = buildCatalog()
	})
	return defaultCatalog
}

// Lookup returns the seed descriptor for name. Callers must not modify it.
func (c *Catalog) Lookup(name string) (*TypeDescriptor, bool) {
	d, ok := c.types[name]
	return d, ok
}

// Names lists the seed type names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.types))
	for name := range c.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// catalogBuilder accumulates one seed descriptor.
type catalogBuilder struct {
	d *TypeDescriptor
}

func seed(name, prototype string) *catalogBuilder {
	return &catalogBuilder{d: &TypeDescriptor{
		Name:      name,
		Prototype: prototype,
		Members:   make(map[string]string),
		Params:    make(map[string][]string),
		shared:    true,
	}}
}

func (b *catalogBuilder) prop(name, typ string) *catalogBuilder {
	b.d.Members[name] = typ
	return b
}

func (b *catalogBuilder) fn(name, result string, params ...string) *catalogBuilder {
	b.d.Members[name] = result
	if params == nil {
		params = []string{}
	}
	b.d.Params[name] = params
	return b
}

func buildCatalog() *Catalog {
	c := &Catalog{types: make(map[string]*TypeDescriptor)}
	add := func(b *catalogBuilder) { c.types[b.d.Name] = b.d }

	// Properties common to all objects. The root has no prototype and
	// stores its members under aliased names.
	root := seed(TypeObject, "").
		fn(aliasPrefix+"toString", TypeString).
		fn(aliasPrefix+"toLocaleString", TypeString).
		fn(aliasPrefix+"valueOf", TypeObject).
		fn(aliasPrefix+"hasOwnProperty", TypeBoolean, "property").
		fn(aliasPrefix+"isPrototypeOf", TypeBoolean, "object").
		fn(aliasPrefix+"propertyIsEnumerable", TypeBoolean, "property")
	root.d.builtinRoot = true
	add(root)

	add(seed(TypeGlobal, TypeObject).
		prop(thisName, TypeGlobal).
		prop(TypeMath, TypeMath).
		prop(TypeJSON, TypeJSON))

	add(seed(TypeString, TypeObject).
		fn("charAt", TypeString, "index").
		fn("charCodeAt", TypeNumber, "index").
		fn("concat", TypeString, "array").
		fn("indexOf", TypeNumber, "searchString").
		fn("lastIndexOf", TypeNumber, "searchString").
		prop("length", TypeNumber).
		fn("localeCompare", TypeNumber, "object").
		fn("match", TypeBoolean, "regexp").
		fn("replace", TypeString, "searchValue", "replaceValue").
		fn("search", TypeString, "regexp").
		fn("slice", TypeString, "start", "end").
		fn("split", TypeArray, "separator", "[limit]").
		fn("substring", TypeString, "start", "[end]").
		fn("toLocaleUpperCase", TypeString).
		fn("toLowerCase", TypeString).
		fn("toUpperCase", TypeString).
		fn("trim", TypeString))

	add(seed(TypeArray, TypeObject).
		prop("length", TypeNumber).
		fn("sort", TypeArray, "[sorter]").
		fn("concat", TypeArray, "left", "right").
		fn("slice", TypeArray, "start", "end"))

	add(seed(TypeDate, TypeObject).
		fn("getDay", TypeNumber).
		fn("getFullYear", TypeNumber).
		fn("getHours", TypeNumber).
		fn("getMinutes", TypeNumber).
		fn("setDay", TypeObject, "dayOfWeek").
		fn("setFullYear", TypeObject, "year").
		fn("setHours", TypeObject, "hour").
		fn("setMinutes", TypeObject, "minute").
		fn("setTime", TypeObject, "millis"))

	add(seed(TypeBoolean, TypeObject))

	add(seed(TypeNumber, TypeObject).
		fn("toExponential", TypeNumber, "digits").
		fn("toFixed", TypeNumber, "digits").
		fn("toPrecision", TypeNumber, "digits"))

	add(seed(TypeFunction, TypeObject).
		fn("apply", TypeObject, "func", "[args]").
		prop("arguments", TypeArguments).
		fn("bind", TypeFunction).
		fn("call", TypeObject, "func", "args").
		prop("caller", TypeFunction).
		prop("length", TypeNumber).
		prop("name", TypeString))

	add(seed(TypeArguments, TypeObject).
		prop("callee", TypeFunction).
		prop("length", TypeNumber))

	add(seed(TypeRegExp, TypeObject).
		prop("g", TypeObject).
		prop("i", TypeObject).
		prop("gi", TypeObject).
		prop("m", TypeObject).
		fn("exec", TypeArray, "str").
		fn("test", TypeArray, "str"))

	add(seed(TypeError, TypeObject).
		prop("name", TypeString).
		prop("message", TypeString).
		prop("stack", TypeString))

	math := seed(TypeMath, TypeObject)
	for _, p := range []string{"E", "LN2", "LN10", "LOG2E", "LOG10E", "PI", "SQRT1_2", "SQRT2"} {
		math.prop(p, TypeNumber)
	}
	for _, f := range []string{"abs", "acos", "asin", "atan", "ceil", "cos", "exp", "floor", "log", "round", "sin", "sqrt", "tan"} {
		math.fn(f, TypeNumber, "val")
	}
	math.fn("atan2", TypeNumber, "val1", "val2").
		fn("max", TypeNumber, "val1", "val2").
		fn("min", TypeNumber, "val1", "val2").
		fn("pow", TypeNumber, "x", "y").
		fn("random", TypeNumber)
	add(math)

	add(seed(TypeJSON, TypeObject).
		fn("parse", TypeObject, "str").
		fn("stringify", TypeString, "obj"))

	return c
}
