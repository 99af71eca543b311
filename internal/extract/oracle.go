// Package extract builds the entry model of a package by walking the
// objects reachable from its root modules.
package extract

import (
	"strings"

	"github.com/phobologic/apidrift/internal/model"
)

// ObjectKind classifies an object reported by an Oracle.
type ObjectKind int

const (
	ObjectModule ObjectKind = iota
	ObjectClass
	ObjectFunction
	ObjectAttribute
	ObjectExternal
)

func (k ObjectKind) String() string {
	switch k {
	case ObjectModule:
		return "module"
	case ObjectClass:
		return "class"
	case ObjectFunction:
		return "function"
	case ObjectAttribute:
		return "attribute"
	case ObjectExternal:
		return "external"
	}
	return "unknown"
}

// Object is a handle to a live object: the module that owns it and its
// dotted path inside that module.
type Object struct {
	Kind     ObjectKind
	Module   string
	QualName string
}

// ID returns the canonical id: the module name for modules, otherwise
// "<module>.<qualname>".
func (o Object) ID() string {
	switch {
	case o.QualName == "":
		return o.Module
	case o.Module == "":
		return o.QualName
	}
	return o.Module + "." + o.QualName
}

// Member is one named member of a module or class.
type Member struct {
	Name   string
	Object Object
	// InheritedFrom is the id of the ancestor class the member was resolved
	// through, or "" when the owner declares it.
	InheritedFrom string
}

// Signature describes a callable.
type Signature struct {
	Parameters []model.Parameter
	Returns    string
	Async      bool
}

// Description is what an Oracle knows about one object.
type Description struct {
	Location    model.Location
	Docs        string
	Comments    string
	Source      string
	Members     []Member
	Annotations map[string]string
	Bases       []Object
	Signature   *Signature
	Scope       model.Scope
	RawType     string
	Annotation  string
	Bound       bool
	// Warnings are non-fatal problems found while describing the object.
	Warnings []string
}

// Oracle answers questions about the objects of a package.
type Oracle interface {
	// Modules lists every module the oracle knows, sorted.
	Modules() []string
	// Import returns the module object for a dotted module name.
	Import(name string) (Object, bool)
	// Describe reports an object's members, signature and metadata.
	Describe(obj Object) (*Description, error)
}

// inNamespace reports whether module is one of roots or below one.
func inNamespace(module string, roots []string) bool {
	for _, root := range roots {
		if module == root || strings.HasPrefix(module, root+".") {
			return true
		}
	}
	return false
}
