// Package session implements stateful list sessions on top of the SharePoint
// client: query execution with automatic paging, incremental load-more,
// mutations with a debounced refresh, and batched multi-operation execution.
//
// A session is owned by exactly one consumer. It keeps the result set, a
// loading flag, the last error and the pagination cursor as queryable state,
// and every operation also returns its outcome directly so callers can handle
// errors imperatively. Closing a session suppresses further state writes but
// never swallows results of calls already in flight.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/apvee/sptoolkit-go/pkg/odata"
	"github.com/apvee/sptoolkit-go/pkg/spclient"
)

// DefaultRefreshDebounce is the delay used to coalesce rapid successive
// mutations into a single refresh round-trip.
const DefaultRefreshDebounce = 250 * time.Millisecond

// BuildFunc shapes a query from the base builder. A nil BuildFunc means the
// unmodified base query.
type BuildFunc func(q odata.Builder) odata.Builder

// Options configures a list session.
type Options struct {
	// PageSize enables automatic paging: queries whose build function does
	// not set its own row limit are capped at PageSize rows and LoadMore
	// fetches the next page. Zero disables paging.
	PageSize int

	// RefreshDebounce is the delay before a mutation triggers a refresh.
	// Zero means DefaultRefreshDebounce.
	RefreshDebounce time.Duration
}

// ListSession binds a typed item view to one SharePoint list. All methods are
// safe for concurrent use; overlapping LoadMore calls collapse into one.
type ListSession[T any] struct {
	provider  *spclient.Provider
	listTitle string
	opts      Options
	logger    zerolog.Logger

	mu        sync.Mutex
	items     []T
	loading   bool
	err       error
	queried   bool
	lastBuild BuildFunc
	pageSize  int
	cursor    int
	hasMore   bool
	closed    bool
	refresh   *time.Timer
}

// NewListSession creates a session for the named list.
func NewListSession[T any](provider *spclient.Provider, listTitle string, opts Options) *ListSession[T] {
	if opts.RefreshDebounce <= 0 {
		opts.RefreshDebounce = DefaultRefreshDebounce
	}
	return &ListSession[T]{
		provider:  provider,
		listTitle: listTitle,
		opts:      opts,
		logger: log.With().
			Str("component", "list-session").
			Str("list", listTitle).
			Logger(),
	}
}

// listValue is the OData nometadata collection envelope.
type listValue[T any] struct {
	Value []T `json:"value"`
}

// Items returns a copy of the current result set.
func (s *ListSession[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]T(nil), s.items...)
}

// Loading reports whether a query, load-more or invoke is in flight.
func (s *ListSession[T]) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the last recorded error. It stays populated until the next
// successful operation clears it.
func (s *ListSession[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// HasMore reports whether a further page is expected. Always false when the
// last query ran without an effective page size.
func (s *ListSession[T]) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Cursor returns the count of already fetched items.
func (s *ListSession[T]) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Close tears the session down. Pending state writes are suppressed from now
// on and a scheduled refresh is cancelled; calls already in flight still
// return their results to the caller.
func (s *ListSession[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.refresh != nil {
		s.refresh.Stop()
		s.refresh = nil
	}
}

// apply runs a state mutation unless the session has been closed.
func (s *ListSession[T]) apply(mutate func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	mutate()
}

// setError records a failed operation.
func (s *ListSession[T]) setError(err error) {
	s.apply(func() {
		s.loading = false
		s.err = err
	})
}

// Query applies build to an observed base query, decides the effective page
// size, executes, and replaces the result set. An explicit row limit set by
// the build function always wins over the session's PageSize option; when
// both are present a warning is logged. The pagination cursor is reset.
func (s *ListSession[T]) Query(ctx context.Context, build BuildFunc) ([]T, error) {
	client, err := s.provider.Client()
	if err != nil {
		s.setError(err)
		return nil, err
	}

	s.apply(func() {
		s.loading = true
		s.err = nil
	})

	tracker := &odata.TopTracker{}
	built := odata.Builder(odata.Observe(odata.NewQuery(), tracker))
	if build != nil {
		built = build(built)
	}

	pageSize := 0
	if explicit, ok := tracker.Observed(); ok {
		pageSize = explicit
		if s.opts.PageSize > 0 && explicit != s.opts.PageSize {
			s.logger.Warn().
				Int("explicit_limit", explicit).
				Int("page_size", s.opts.PageSize).
				Msg("Build function sets its own row limit; session page size ignored")
		}
	} else if s.opts.PageSize > 0 {
		pageSize = s.opts.PageSize
		built = built.Top(pageSize)
	}

	var out listValue[T]
	if err := client.GetJSON(ctx, s.itemsPath(), built.Values(), &out); err != nil {
		s.setError(err)
		return nil, err
	}

	items := out.Value
	s.apply(func() {
		s.items = items
		s.queried = true
		s.lastBuild = build
		s.pageSize = pageSize
		s.cursor = len(items)
		s.hasMore = pageSize > 0 && len(items) == pageSize
		s.loading = false
		s.err = nil
	})

	s.logger.Debug().
		Int("count", len(items)).
		Int("page_size", pageSize).
		Msg("Query completed")

	return items, nil
}

// LoadMore fetches the next page using the recorded build function, the
// current cursor as skip offset and the effective page size as limit. The
// fetched page is appended to the result set. A LoadMore while another query
// or load-more is in flight is a no-op returning an empty page, not an error.
func (s *ListSession[T]) LoadMore(ctx context.Context) ([]T, error) {
	s.mu.Lock()
	if !s.queried {
		s.mu.Unlock()
		return nil, ErrNoPreviousQuery
	}
	if s.pageSize <= 0 {
		s.mu.Unlock()
		return nil, ErrNoPageSize
	}
	if s.loading {
		s.mu.Unlock()
		return []T{}, nil
	}
	build := s.lastBuild
	skip := s.cursor
	pageSize := s.pageSize
	if !s.closed {
		s.loading = true
		s.err = nil
	}
	s.mu.Unlock()

	client, err := s.provider.Client()
	if err != nil {
		s.setError(err)
		return nil, err
	}

	tracker := &odata.TopTracker{}
	built := odata.Builder(odata.Observe(odata.NewQuery(), tracker))
	if build != nil {
		built = build(built)
	}
	built = built.Skip(skip).Top(pageSize)

	var out listValue[T]
	if err := client.GetJSON(ctx, s.itemsPath(), built.Values(), &out); err != nil {
		s.setError(err)
		return nil, err
	}

	page := out.Value
	s.apply(func() {
		s.items = append(s.items, page...)
		s.cursor += len(page)
		s.hasMore = len(page) == pageSize
		s.loading = false
		s.err = nil
	})

	s.logger.Debug().
		Int("count", len(page)).
		Int("cursor", skip+len(page)).
		Msg("Loaded next page")

	return page, nil
}

// Refresh re-runs the last recorded query, replacing the result set and
// resetting the cursor.
func (s *ListSession[T]) Refresh(ctx context.Context) ([]T, error) {
	s.mu.Lock()
	if !s.queried {
		s.mu.Unlock()
		return nil, ErrNoPreviousQuery
	}
	build := s.lastBuild
	s.mu.Unlock()

	return s.Query(ctx, build)
}

// Invoke forwards a single call to the underlying client, toggling the
// loading flag around it and capturing any error into session state. The
// error is returned as well so the caller can handle it locally.
func (s *ListSession[T]) Invoke(ctx context.Context, fn func(ctx context.Context, client *spclient.Client) error) error {
	client, err := s.provider.Client()
	if err != nil {
		s.setError(err)
		return err
	}

	s.apply(func() {
		s.loading = true
		s.err = nil
	})

	err = fn(ctx, client)
	s.apply(func() {
		s.loading = false
		s.err = err
	})
	return err
}

// RunBatch opens a batch scope, lets fn enqueue operations against it, and
// executes the scope as a single round-trip with loading and error
// bookkeeping. Partial failure surfaces as a *spclient.BatchError while
// sibling operations keep their results.
func (s *ListSession[T]) RunBatch(ctx context.Context, fn func(b *spclient.Batch)) error {
	return s.Invoke(ctx, func(ctx context.Context, client *spclient.Client) error {
		batch := client.NewBatch()
		fn(batch)
		return batch.Execute(ctx)
	})
}

// AddItem creates a list item and schedules a debounced refresh.
func (s *ListSession[T]) AddItem(ctx context.Context, payload any) error {
	client, err := s.provider.Client()
	if err != nil {
		s.setError(err)
		return err
	}
	if err := client.PostJSON(ctx, s.itemsPath(), payload, nil); err != nil {
		s.setError(err)
		return err
	}
	s.scheduleRefresh()
	return nil
}

// UpdateItem updates a list item by id and schedules a debounced refresh.
func (s *ListSession[T]) UpdateItem(ctx context.Context, id int, payload any) error {
	client, err := s.provider.Client()
	if err != nil {
		s.setError(err)
		return err
	}
	if err := client.MergeJSON(ctx, s.itemPath(id), payload); err != nil {
		s.setError(err)
		return err
	}
	s.scheduleRefresh()
	return nil
}

// DeleteItem deletes a list item by id and schedules a debounced refresh.
func (s *ListSession[T]) DeleteItem(ctx context.Context, id int) error {
	client, err := s.provider.Client()
	if err != nil {
		s.setError(err)
		return err
	}
	if err := client.Delete(ctx, s.itemPath(id)); err != nil {
		s.setError(err)
		return err
	}
	s.scheduleRefresh()
	return nil
}

// scheduleRefresh restarts the debounce timer. Rapid successive mutations
// therefore coalesce into a single refresh once the window elapses. Nothing
// is scheduled before the first query or after Close.
func (s *ListSession[T]) scheduleRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.queried {
		return
	}
	if s.refresh != nil {
		s.refresh.Stop()
	}
	s.refresh = time.AfterFunc(s.opts.RefreshDebounce, func() {
		if _, err := s.Refresh(context.Background()); err != nil {
			s.logger.Debug().Err(err).Msg("Debounced refresh failed")
		}
	})
}

// escapeTitle doubles single quotes for embedding in an OData path literal.
func escapeTitle(title string) string {
	return strings.ReplaceAll(title, "'", "''")
}

func (s *ListSession[T]) listPath() string {
	return fmt.Sprintf("web/lists/getbytitle('%s')", escapeTitle(s.listTitle))
}

func (s *ListSession[T]) itemsPath() string {
	return s.listPath() + "/items"
}

func (s *ListSession[T]) itemPath(id int) string {
	return fmt.Sprintf("%s/items(%d)", s.listPath(), id)
}
