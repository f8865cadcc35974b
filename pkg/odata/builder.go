// Package odata provides a chainable OData query composer plus the
// observation decorator sessions use to detect caller-applied row limits.
package odata

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Builder is the chainable query contract exposed to caller build functions.
// Every method returns a Builder so calls can be composed fluently; the
// zero-value semantics of each method match the SharePoint REST query
// parameters of the same name.
type Builder interface {
	// Select restricts the returned fields ($select). Repeated calls accumulate.
	Select(fields ...string) Builder

	// Expand includes projected lookup fields ($expand). Repeated calls accumulate.
	Expand(fields ...string) Builder

	// Filter sets the row filter expression ($filter). A later call replaces
	// an earlier one.
	Filter(expr string) Builder

	// OrderBy appends a sort dimension ($orderby).
	OrderBy(field string, ascending bool) Builder

	// Top sets the maximum row count ($top). A later call replaces an earlier one.
	Top(n int) Builder

	// Skip sets the row offset ($skiptoken positional skip, $skip). A later
	// call replaces an earlier one.
	Skip(n int) Builder

	// Values renders the composed query parameters.
	Values() url.Values
}

// Query is the concrete Builder. Each chainable call returns a copy, so a
// partially built query can be reused as a base for several executions.
type Query struct {
	params url.Values
}

// NewQuery returns an empty query.
func NewQuery() *Query {
	return &Query{params: url.Values{}}
}

// clone copies the query so fluent calls never mutate their receiver.
func (q *Query) clone() *Query {
	params := make(url.Values, len(q.params))
	for k, v := range q.params {
		params[k] = append([]string(nil), v...)
	}
	return &Query{params: params}
}

// appendList merges fields into a comma separated parameter.
func (q *Query) appendList(key string, fields []string) *Query {
	if len(fields) == 0 {
		return q
	}
	next := q.clone()
	existing := next.params.Get(key)
	joined := strings.Join(fields, ",")
	if existing != "" {
		joined = existing + "," + joined
	}
	next.params.Set(key, joined)
	return next
}

// Select implements Builder.
func (q *Query) Select(fields ...string) Builder {
	return q.appendList("$select", fields)
}

// Expand implements Builder.
func (q *Query) Expand(fields ...string) Builder {
	return q.appendList("$expand", fields)
}

// Filter implements Builder.
func (q *Query) Filter(expr string) Builder {
	next := q.clone()
	next.params.Set("$filter", expr)
	return next
}

// OrderBy implements Builder.
func (q *Query) OrderBy(field string, ascending bool) Builder {
	direction := "asc"
	if !ascending {
		direction = "desc"
	}
	return q.appendList("$orderby", []string{fmt.Sprintf("%s %s", field, direction)})
}

// Top implements Builder.
func (q *Query) Top(n int) Builder {
	next := q.clone()
	next.params.Set("$top", strconv.Itoa(n))
	return next
}

// Skip implements Builder.
func (q *Query) Skip(n int) Builder {
	next := q.clone()
	next.params.Set("$skip", strconv.Itoa(n))
	return next
}

// Values implements Builder.
func (q *Query) Values() url.Values {
	// Copy so callers cannot mutate the query through the returned map.
	return q.clone().params
}
