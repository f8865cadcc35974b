package odata

import "net/url"

// TopTracker records the Top argument observed while a caller build function
// runs. One tracker is created per query execution and discarded after the
// effective page size decision has been made; a later Top call overwrites an
// earlier one, matching the replace semantics of the $top parameter itself.
type TopTracker struct {
	top *int
}

// Record stores the observed Top value.
func (t *TopTracker) Record(n int) {
	v := n
	t.top = &v
}

// Observed reports the recorded Top value, if any.
func (t *TopTracker) Observed() (int, bool) {
	if t.top == nil {
		return 0, false
	}
	return *t.top, true
}

// Observe wraps b so that Top calls are recorded into tr. Every other call is
// forwarded untouched and its chainable result is re-wrapped, so nested calls
// stay observable no matter how the caller composes the chain. The decorator
// never alters query semantics and cannot fail.
func Observe(b Builder, tr *TopTracker) Builder {
	return &observed{inner: b, tracker: tr}
}

type observed struct {
	inner   Builder
	tracker *TopTracker
}

func (o *observed) rewrap(b Builder) Builder {
	return &observed{inner: b, tracker: o.tracker}
}

func (o *observed) Select(fields ...string) Builder {
	return o.rewrap(o.inner.Select(fields...))
}

func (o *observed) Expand(fields ...string) Builder {
	return o.rewrap(o.inner.Expand(fields...))
}

func (o *observed) Filter(expr string) Builder {
	return o.rewrap(o.inner.Filter(expr))
}

func (o *observed) OrderBy(field string, ascending bool) Builder {
	return o.rewrap(o.inner.OrderBy(field, ascending))
}

func (o *observed) Top(n int) Builder {
	o.tracker.Record(n)
	return o.rewrap(o.inner.Top(n))
}

func (o *observed) Skip(n int) Builder {
	return o.rewrap(o.inner.Skip(n))
}

func (o *observed) Values() url.Values {
	return o.inner.Values()
}
