package core

import (
	"fmt"
)

// Op names a node in a rule expression tree.
type Op string

const (
	OpAnd         Op = "and"
	OpOr          Op = "or"
	OpNot         Op = "not"
	OpHasAny      Op = "has_any"
	OpHasAll      Op = "has_all"
	OpEquals      Op = "equals"
	OpGreaterThan Op = "greater_than"
	OpIsMember    Op = "is_member"
)

// Expr is a predicate over an account's permissions. It is stored as JSON:
//
//	{"op":"and","args":[{"op":"has_any","field":"global_privileges","values":["SUPER"]}, ...]}
type Expr struct {
	Op     Op       `json:"op"`
	Args   []Expr   `json:"args,omitempty"`
	Field  string   `json:"field,omitempty"`
	Values []string `json:"values,omitempty"`
	Value  string   `json:"value,omitempty"`
	Number *float64 `json:"number,omitempty"`
}

func And(args ...Expr) Expr { return Expr{Op: OpAnd, Args: args} }
func Or(args ...Expr) Expr  { return Expr{Op: OpOr, Args: args} }
func Not(arg Expr) Expr     { return Expr{Op: OpNot, Args: []Expr{arg}} }

func HasAny(field string, values ...string) Expr {
	return Expr{Op: OpHasAny, Field: field, Values: values}
}

func HasAll(field string, values ...string) Expr {
	return Expr{Op: OpHasAll, Field: field, Values: values}
}

func Equals(field, value string) Expr {
	return Expr{Op: OpEquals, Field: field, Value: value}
}

func GreaterThan(field string, n float64) Expr {
	return Expr{Op: OpGreaterThan, Field: field, Number: &n}
}

// IsMember matches when the role field contains any of roles.
func IsMember(field string, roles ...string) Expr {
	return Expr{Op: OpIsMember, Field: field, Values: roles}
}

// Validate checks the shape of the tree.
func (e Expr) Validate() error {
	return e.validate("expression")
}

func (e Expr) validate(path string) error {
	switch e.Op {
	case OpAnd, OpOr:
		if len(e.Args) == 0 {
			return Errorf(CodeValidation, "rule.validate", "%s: %s needs at least one argument", path, e.Op)
		}
		for i, a := range e.Args {
			if err := a.validate(fmt.Sprintf("%s.args[%d]", path, i)); err != nil {
				return err
			}
		}
	case OpNot:
		if len(e.Args) != 1 {
			return Errorf(CodeValidation, "rule.validate", "%s: not takes exactly one argument", path)
		}
		return e.Args[0].validate(path + ".args[0]")
	case OpHasAny, OpHasAll, OpIsMember:
		if e.Field == "" {
			return Errorf(CodeValidation, "rule.validate", "%s: %s requires a field", path, e.Op)
		}
		if len(e.Values) == 0 {
			return Errorf(CodeValidation, "rule.validate", "%s: %s requires values", path, e.Op)
		}
	case OpEquals:
		if e.Field == "" {
			return Errorf(CodeValidation, "rule.validate", "%s: equals requires a field", path)
		}
	case OpGreaterThan:
		if e.Field == "" || e.Number == nil {
			return Errorf(CodeValidation, "rule.validate", "%s: greater_than requires a field and a number", path)
		}
	default:
		return Errorf(CodeValidation, "rule.validate", "%s: unknown op %q", path, e.Op)
	}
	return nil
}

// Fields lists every field path referenced by the tree.
func (e Expr) Fields() []string {
	var out []string
	var walk func(Expr)
	walk = func(x Expr) {
		if x.Field != "" {
			out = append(out, x.Field)
		}
		for _, a := range x.Args {
			walk(a)
		}
	}
	walk(e)
	return out
}
