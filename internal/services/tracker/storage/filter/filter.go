// Package filter translates AIP-160 journey filter expressions into SQL
// WHERE fragments.
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/etle/vtrack/internal/services/tracker/domain"
	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// Condition is a SQL WHERE fragment with positional parameters. The zero
// value matches everything.
type Condition struct {
	Clause string
	Params []any
}

// Empty reports whether c adds no restriction.
func (c Condition) Empty() bool {
	return c.Clause == ""
}

type valueKind int

const (
	kindText valueKind = iota
	kindPlate
	kindStatus
	kindTime
)

type field struct {
	column string
	kind   valueKind
}

var fields = map[string]field{
	"status":       {column: "status", kind: kindStatus},
	"destination":  {column: "destination", kind: kindText},
	"plate_number": {column: "plate_number", kind: kindPlate},
	"visitor_name": {column: "visitor_name", kind: kindText},
	"start_time":   {column: "started_at", kind: kindTime},
}

var comparisons = map[string]string{
	filtering.FunctionEquals:        "=",
	filtering.FunctionNotEquals:     "!=",
	filtering.FunctionLessThan:      "<",
	filtering.FunctionLessEquals:    "<=",
	filtering.FunctionGreaterThan:   ">",
	filtering.FunctionGreaterEquals: ">=",
}

func declarations() (*filtering.Declarations, error) {
	return filtering.NewDeclarations(
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent("status", filtering.TypeString),
		filtering.DeclareIdent("destination", filtering.TypeString),
		filtering.DeclareIdent("plate_number", filtering.TypeString),
		filtering.DeclareIdent("visitor_name", filtering.TypeString),
		filtering.DeclareIdent("start_time", filtering.TypeTimestamp),
	)
}

// Parse checks raw against the journey fields and translates it. An empty
// filter yields the empty Condition.
func Parse(raw string) (Condition, error) {
	if strings.TrimSpace(raw) == "" {
		return Condition{}, nil
	}
	decls, err := declarations()
	if err != nil {
		return Condition{}, fmt.Errorf("create declarations: %w", err)
	}
	parsed, err := filtering.ParseFilterString(raw, decls)
	if err != nil {
		return Condition{}, fmt.Errorf("parse filter: %w", err)
	}
	return translate(parsed.CheckedExpr.GetExpr())
}

func translate(e *expr.Expr) (Condition, error) {
	call := e.GetCallExpr()
	if call == nil {
		return Condition{}, fmt.Errorf("unsupported expression %T", e.GetExprKind())
	}

	switch call.GetFunction() {
	case filtering.FunctionAnd, filtering.FunctionOr:
		return translateJunction(call)
	case filtering.FunctionNot:
		if len(call.GetArgs()) != 1 {
			return Condition{}, fmt.Errorf("NOT requires 1 argument")
		}
		inner, err := translate(call.GetArgs()[0])
		if err != nil {
			return Condition{}, err
		}
		return Condition{Clause: "(NOT " + inner.Clause + ")", Params: inner.Params}, nil
	}

	op, ok := comparisons[call.GetFunction()]
	if !ok {
		return Condition{}, fmt.Errorf("unsupported function: %s", call.GetFunction())
	}
	return translateComparison(call.GetArgs(), op)
}

func translateJunction(call *expr.Expr_Call) (Condition, error) {
	args := call.GetArgs()
	if len(args) < 2 {
		return Condition{}, fmt.Errorf("%s requires at least 2 arguments", call.GetFunction())
	}
	joiner := " AND "
	if call.GetFunction() == filtering.FunctionOr {
		joiner = " OR "
	}

	clauses := make([]string, 0, len(args))
	var params []any
	for _, arg := range args {
		part, err := translate(arg)
		if err != nil {
			return Condition{}, err
		}
		clauses = append(clauses, part.Clause)
		params = append(params, part.Params...)
	}
	return Condition{Clause: "(" + strings.Join(clauses, joiner) + ")", Params: params}, nil
}

func translateComparison(args []*expr.Expr, op string) (Condition, error) {
	if len(args) != 2 {
		return Condition{}, fmt.Errorf("comparison requires 2 arguments")
	}
	ident := args[0].GetIdentExpr()
	if ident == nil {
		return Condition{}, fmt.Errorf("left side of comparison must be a field")
	}
	f, ok := fields[ident.GetName()]
	if !ok {
		return Condition{}, fmt.Errorf("unknown field: %s", ident.GetName())
	}
	if f.kind != kindTime && op != "=" && op != "!=" {
		return Condition{}, fmt.Errorf("field %s supports only = and !=", ident.GetName())
	}

	value, err := valueFor(f.kind, args[1])
	if err != nil {
		return Condition{}, fmt.Errorf("%s: %w", ident.GetName(), err)
	}
	return Condition{Clause: fmt.Sprintf("%s %s ?", f.column, op), Params: []any{value}}, nil
}

func valueFor(kind valueKind, e *expr.Expr) (any, error) {
	if kind == kindTime {
		return timeValue(e)
	}
	text, ok := stringConst(e)
	if !ok {
		return nil, fmt.Errorf("expected a string value")
	}
	switch kind {
	case kindPlate:
		return domain.NormalizePlate(text), nil
	case kindStatus:
		status, err := domain.ParseStatus(text)
		if err != nil {
			return nil, err
		}
		return string(status), nil
	default:
		return text, nil
	}
}

// timeValue accepts timestamp("...") calls or bare RFC 3339 strings and
// returns Unix milliseconds, matching the stored column.
func timeValue(e *expr.Expr) (int64, error) {
	if call := e.GetCallExpr(); call != nil {
		if call.GetFunction() != filtering.FunctionTimestamp || len(call.GetArgs()) != 1 {
			return 0, fmt.Errorf("unsupported function in value position: %s", call.GetFunction())
		}
		e = call.GetArgs()[0]
	}
	text, ok := stringConst(e)
	if !ok {
		return 0, fmt.Errorf("expected a timestamp")
	}
	ts, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", text)
	}
	return ts.UTC().UnixMilli(), nil
}

func stringConst(e *expr.Expr) (string, bool) {
	c := e.GetConstExpr()
	if c == nil {
		return "", false
	}
	v, ok := c.GetConstantKind().(*expr.Constant_StringValue)
	if !ok {
		return "", false
	}
	return v.StringValue, true
}
