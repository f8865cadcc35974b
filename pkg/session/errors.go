package session

import "errors"

// Errors returned by session operations.
var (
	// ErrNoPreviousQuery is returned by LoadMore and Refresh when no query
	// has completed on the session yet.
	ErrNoPreviousQuery = errors.New("no previous query: run a query before loading more")

	// ErrNoPageSize is returned by LoadMore when the previous query ran
	// without an effective page size, so there is no page to load.
	ErrNoPageSize = errors.New("no page size: the previous query did not use paging")
)
