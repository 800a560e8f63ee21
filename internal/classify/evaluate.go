package classify

import (
	"math"
	"strconv"
	"strings"

	"dbinventory/internal/core"
)

// truth is a three-valued result. A predicate over a permission category
// that could not be collected is unknown; unknown at the root counts as no
// match.
type truth int8

const (
	falseT truth = iota
	trueT
	unknownT
)

func truthOf(b bool) truth {
	if b {
		return trueT
	}
	return falseT
}

// Outcome is the result of evaluating one rule against one account.
type Outcome struct {
	Matched bool
	// Unavailable lists the uncollected categories the result depended on.
	Unavailable []string
}

// Evaluate runs expr against rec.
func Evaluate(expr core.Expr, rec *core.AccountRecord) (Outcome, error) {
	var ev evaluation
	t, err := ev.eval(expr, rec)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Matched: t == trueT}
	if t == unknownT {
		out.Unavailable = ev.unavailable
	}
	return out, nil
}

type evaluation struct {
	unavailable []string
}

func (ev *evaluation) eval(e core.Expr, rec *core.AccountRecord) (truth, error) {
	switch e.Op {
	case core.OpAnd:
		res := trueT
		for _, a := range e.Args {
			t, err := ev.eval(a, rec)
			if err != nil {
				return falseT, err
			}
			if t == falseT {
				return falseT, nil
			}
			if t == unknownT {
				res = unknownT
			}
		}
		return res, nil
	case core.OpOr:
		res := falseT
		for _, a := range e.Args {
			t, err := ev.eval(a, rec)
			if err != nil {
				return falseT, err
			}
			if t == trueT {
				return trueT, nil
			}
			if t == unknownT {
				res = unknownT
			}
		}
		return res, nil
	case core.OpNot:
		if len(e.Args) != 1 {
			return falseT, core.Errorf(core.CodeValidation, "rule.eval", "not takes exactly one argument")
		}
		t, err := ev.eval(e.Args[0], rec)
		if err != nil || t == unknownT {
			return t, err
		}
		return truthOf(t == falseT), nil
	}

	v, state := core.ResolveField(rec, e.Field)
	switch state {
	case core.FieldMissing:
		return falseT, nil
	case core.FieldUnavailable:
		name, _, _ := strings.Cut(e.Field, ".")
		ev.unavailable = append(ev.unavailable, name)
		return unknownT, nil
	}

	switch e.Op {
	case core.OpHasAny, core.OpIsMember:
		return truthOf(hasAny(v, e.Values)), nil
	case core.OpHasAll:
		return truthOf(hasAll(v, e.Values)), nil
	case core.OpEquals:
		return truthOf(equals(v, e.Value)), nil
	case core.OpGreaterThan:
		if e.Number == nil {
			return falseT, core.Errorf(core.CodeValidation, "rule.eval", "greater_than on %s has no number", e.Field)
		}
		n, ok := numeric(v)
		return truthOf(ok && n > *e.Number), nil
	}
	return falseT, core.Errorf(core.CodeValidation, "rule.eval", "unknown op %q", e.Op)
}

func same(v core.Value, a, b string) bool {
	if v.CaseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}

func contains(v core.Value, want string) bool {
	if v.Kind == core.ValueScalar {
		return same(v, v.Text, want)
	}
	for _, it := range v.Items {
		if same(v, it, want) {
			return true
		}
	}
	return false
}

func hasAny(v core.Value, wants []string) bool {
	for _, w := range wants {
		if contains(v, w) {
			return true
		}
	}
	return false
}

func hasAll(v core.Value, wants []string) bool {
	for _, w := range wants {
		if !contains(v, w) {
			return false
		}
	}
	return len(wants) > 0
}

// equals compares a scalar, or a set holding exactly that one value.
func equals(v core.Value, want string) bool {
	if v.Kind == core.ValueScalar {
		return same(v, v.Text, want)
	}
	return len(v.Items) == 1 && same(v, v.Items[0], want)
}

// numeric reads a scalar as a number, with UNLIMITED as +inf, and a set as
// its size.
func numeric(v core.Value) (float64, bool) {
	if v.Kind != core.ValueScalar {
		return float64(v.Size), true
	}
	if strings.EqualFold(v.Text, "UNLIMITED") {
		return math.Inf(1), true
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
	return n, err == nil
}
