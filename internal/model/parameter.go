package model

import (
	"fmt"
	"strings"
)

// ParameterKind is how a parameter can be supplied by a caller.
type ParameterKind string

const (
	PositionalOnly      ParameterKind = "PositionalOnly"
	PositionalOrKeyword ParameterKind = "PositionalOrKeyword"
	VarPositional       ParameterKind = "VarPositional"
	KeywordOnly         ParameterKind = "KeywordOnly"
	VarKeyword          ParameterKind = "VarKeyword"
)

// Positional reports whether a caller may pass the parameter by position.
func (k ParameterKind) Positional() bool {
	return k == PositionalOnly || k == PositionalOrKeyword
}

// Keyword reports whether a caller may pass the parameter by name.
func (k ParameterKind) Keyword() bool {
	return k == PositionalOrKeyword || k == KeywordOnly
}

// Variadic reports whether the parameter collects extra arguments.
func (k ParameterKind) Variadic() bool {
	return k == VarPositional || k == VarKeyword
}

// Parameter is one formal parameter of a function.
//
// Default holds a type-tagged literal such as int('0') or None. A nil
// Default on an optional parameter means the default exists but could not
// be represented.
type Parameter struct {
	Name       string        `json:"name"`
	Kind       ParameterKind `json:"kind"`
	Optional   bool          `json:"optional"`
	Default    *string       `json:"default,omitempty"`
	Annotation string        `json:"annotation,omitempty"`
}

// DefaultText returns the tagged default, "<opaque>" for an unrepresentable
// default, or "" when the parameter has none.
func (p Parameter) DefaultText() string {
	switch {
	case p.Default != nil:
		return *p.Default
	case p.Optional && !p.Kind.Variadic():
		return "<opaque>"
	}
	return ""
}

// NoneDefault is the tagged form of None.
const NoneDefault = "None"

// TagDefault renders a literal default with its runtime type name.
func TagDefault(typeName, value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `'`, `\'`)
	return fmt.Sprintf("%s('%s')", typeName, value)
}

// Tagged returns a pointer to s, for building Parameter.Default values.
func Tagged(s string) *string { return &s }
