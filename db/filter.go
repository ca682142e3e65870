package db

import (
	"fmt"
	"reflect"
	"strings"
)

// filter is a single named equality/comparison condition rendered into a
// SQL WHERE clause fragment. Slice-valued filters render as an IN (...)
// clause; this mirrors the teacher appview's reflection-based filter
// builder so query assembly stays declarative at call sites.
type filter struct {
	column string
	op     string
	value  interface{}
}

func FilterEq(column string, value interface{}) filter {
	return newFilter(column, "=", value)
}

func FilterNotEq(column string, value interface{}) filter {
	return newFilter(column, "!=", value)
}

func FilterGte(column string, value interface{}) filter {
	return newFilter(column, ">=", value)
}

func FilterLte(column string, value interface{}) filter {
	return newFilter(column, "<=", value)
}

func FilterLt(column string, value interface{}) filter {
	return newFilter(column, "<", value)
}

func FilterGt(column string, value interface{}) filter {
	return newFilter(column, ">", value)
}

func FilterLike(column string, value interface{}) filter {
	return newFilter(column, "like", value)
}

func FilterIn(column string, value interface{}) filter {
	return newFilter(column, "in", value)
}

func newFilter(column, op string, value interface{}) filter {
	return filter{column: column, op: op, value: value}
}

// Filters collects individual filter values into the slice type the
// List* functions expect. Since filter itself is unexported, this is the
// way other packages assemble a filter slice without naming the type.
func Filters(fs ...filter) []filter {
	return fs
}

// buildWhere renders filters into a "where ..." clause (or "" if filters is
// empty) plus the ordered argument list to pass alongside the query.
func buildWhere(filters ...filter) (string, []interface{}) {
	if len(filters) == 0 {
		return "", nil
	}

	var clauses []string
	var args []interface{}

	for _, f := range filters {
		if f.op == "in" {
			rv := reflect.ValueOf(f.value)
			if rv.Kind() != reflect.Slice {
				clauses = append(clauses, fmt.Sprintf("%s in (?)", f.column))
				args = append(args, f.value)
				continue
			}
			n := rv.Len()
			if n == 0 {
				// an empty IN-list can never match; short-circuit to a
				// condition that is always false rather than emitting
				// invalid SQL.
				clauses = append(clauses, "1 = 0")
				continue
			}
			placeholders := make([]string, n)
			for i := 0; i < n; i++ {
				placeholders[i] = "?"
				args = append(args, rv.Index(i).Interface())
			}
			clauses = append(clauses, fmt.Sprintf("%s in (%s)", f.column, strings.Join(placeholders, ",")))
			continue
		}

		clauses = append(clauses, fmt.Sprintf("%s %s ?", f.column, f.op))
		args = append(args, f.value)
	}

	return "where " + strings.Join(clauses, " and "), args
}
