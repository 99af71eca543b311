// Package model defines the API entry model shared by extraction and diffing.
package model

import "strings"

// ExternalID is the id of the sentinel entry that every reference outside
// the analyzed package collapses to.
const ExternalID = "$external$"

// Kind names the variant of an Entry.
type Kind string

const (
	KindModule    Kind = "module"
	KindClass     Kind = "class"
	KindFunction  Kind = "function"
	KindAttribute Kind = "attribute"
	KindSpecial   Kind = "special"
)

// Kinds lists every entry kind in a stable order.
var Kinds = []Kind{KindModule, KindClass, KindFunction, KindAttribute, KindSpecial}

// Title returns the kind name with an upper-case first letter ("Function").
func (k Kind) Title() string {
	if k == "" {
		return ""
	}
	return strings.ToUpper(string(k[:1])) + string(k[1:])
}

// IsContainer reports whether entries of this kind carry members.
func (k Kind) IsContainer() bool {
	return k == KindModule || k == KindClass
}

// Scope distinguishes how a function or attribute is bound to its owner.
type Scope string

const (
	ScopeStatic   Scope = "static"
	ScopeClass    Scope = "class"
	ScopeInstance Scope = "instance"
)

// Location records where an entry is defined.
type Location struct {
	Module string `json:"module,omitempty"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
}

// Base holds the attributes common to every entry.
type Base struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Location Location `json:"location"`
	Docs     string   `json:"docs,omitempty"`
	Comments string   `json:"comments,omitempty"`
	Src      string   `json:"src,omitempty"`
	Private  bool     `json:"private"`
}

// NewBase returns a Base for id with Name set to the last dotted component.
func NewBase(id string) Base {
	return Base{ID: id, Name: NameOf(id), Private: IsPrivateName(NameOf(id))}
}

// Info returns the common attributes.
func (b *Base) Info() *Base { return b }

func (b *Base) entry() {}

// Entry is one element of the API surface. The set of implementations is
// closed: *ModuleEntry, *ClassEntry, *FunctionEntry, *AttributeEntry and
// *SpecialEntry.
//
// Entries returned from a sealed Collection must not be mutated.
type Entry interface {
	Info() *Base
	Kind() Kind
	entry()
}

// Container is an entry with named members.
type Container interface {
	Entry
	MemberMap() map[string]string
}

// ModuleEntry describes a module.
type ModuleEntry struct {
	Base
	Members     map[string]string `json:"members"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

func (*ModuleEntry) Kind() Kind { return KindModule }

// MemberMap returns member name to target id.
func (m *ModuleEntry) MemberMap() map[string]string { return m.Members }

// ClassEntry describes a class.
type ClassEntry struct {
	Base
	Members     map[string]string `json:"members"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Bases       []string          `json:"bases"`
	MRO         []string          `json:"mros"`
}

func (*ClassEntry) Kind() Kind { return KindClass }

// MemberMap returns member name to target id.
func (c *ClassEntry) MemberMap() map[string]string { return c.Members }

// FunctionEntry describes a function or method.
type FunctionEntry struct {
	Base
	Parameters       []Parameter `json:"parameters"`
	ReturnAnnotation string      `json:"returnAnnotation,omitempty"`
	Scope            Scope       `json:"scope,omitempty"`
	Async            bool        `json:"async,omitempty"`
}

func (*FunctionEntry) Kind() Kind { return KindFunction }

// Parameter returns the parameter named name.
func (f *FunctionEntry) Parameter(name string) (Parameter, bool) {
	for _, p := range f.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// AttributeEntry describes a module, class or instance attribute.
type AttributeEntry struct {
	Base
	RawType    string `json:"rawType,omitempty"`
	Annotation string `json:"annotation,omitempty"`
	Bound      bool   `json:"bound,omitempty"`
	Scope      Scope  `json:"scope,omitempty"`
}

func (*AttributeEntry) Kind() Kind { return KindAttribute }

// SpecialEntry is a sentinel such as the external entry.
type SpecialEntry struct {
	Base
	SpecialKind string `json:"kind"`
}

func (*SpecialEntry) Kind() Kind { return KindSpecial }

// NewExternal returns the external sentinel entry.
func NewExternal() *SpecialEntry {
	return &SpecialEntry{
		Base:        Base{ID: ExternalID, Name: ExternalID},
		SpecialKind: "external",
	}
}

// NameOf returns the last dotted component of id.
func NameOf(id string) string {
	if i := strings.LastIndexByte(id, '.'); i >= 0 {
		return id[i+1:]
	}
	return id
}

// IsPrivateName reports whether name is private by convention: a leading
// underscore that is not a dunder.
func IsPrivateName(name string) bool {
	if !strings.HasPrefix(name, "_") {
		return false
	}
	return !(len(name) > 4 && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__"))
}
