package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apvee/sptoolkit-go/pkg/odata"
	"github.com/apvee/sptoolkit-go/pkg/spclient"
)

type taskItem struct {
	ID    int    `json:"Id"`
	Title string `json:"Title"`
}

// listServer serves a fixed dataset honoring $top and $skip, and counts
// reads and writes so tests can assert on round-trips.
type listServer struct {
	server *httptest.Server

	mu      sync.Mutex
	total   int
	gets    int
	writes  int
	queries []url.Values
}

func newListServer(t *testing.T, total int) *listServer {
	t.Helper()

	ls := &listServer{total: total}
	ls.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ls.mu.Lock()
		defer ls.mu.Unlock()

		if r.Method == http.MethodPost {
			ls.writes++
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{}`))
			return
		}

		if strings.HasSuffix(r.URL.Path, "/ItemCount") {
			fmt.Fprintf(w, `{"value":%d}`, ls.total)
			return
		}

		ls.gets++
		query := r.URL.Query()
		ls.queries = append(ls.queries, query)

		skip, _ := strconv.Atoi(query.Get("$skip"))
		top := ls.total
		if raw := query.Get("$top"); raw != "" {
			top, _ = strconv.Atoi(raw)
		}

		items := make([]taskItem, 0, top)
		for i := skip; i < ls.total && len(items) < top; i++ {
			items = append(items, taskItem{ID: i + 1, Title: fmt.Sprintf("Task %d", i+1)})
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"value":[`)
		for i, item := range items {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"Id":%d,"Title":%q}`, item.ID, item.Title)
		}
		fmt.Fprint(w, `]}`)
	}))
	t.Cleanup(ls.server.Close)
	return ls
}

func (ls *listServer) getCount() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.gets
}

func (ls *listServer) writeCount() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.writes
}

func (ls *listServer) lastQuery() url.Values {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if len(ls.queries) == 0 {
		return nil
	}
	return ls.queries[len(ls.queries)-1]
}

func newTestProvider(t *testing.T, baseURL string) *spclient.Provider {
	t.Helper()

	cfg := spclient.DefaultConfig(baseURL, nil)
	cfg.RequestsPerSecond = 1000
	cfg.Burst = 1000

	provider := spclient.NewProvider(cfg)
	if !provider.Ready() {
		t.Fatalf("provider not ready: %v", provider.InitErr())
	}
	return provider
}

func TestQueryAppliesPageSize(t *testing.T) {
	ls := newListServer(t, 10)
	provider := newTestProvider(t, ls.server.URL)

	s := NewListSession[taskItem](provider, "Tasks", Options{PageSize: 4})
	defer s.Close()

	items, err := s.Query(context.Background(), nil)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if got := ls.lastQuery().Get("$top"); got != "4" {
		t.Errorf("issued $top = %q, want 4", got)
	}
	if len(items) != 4 {
		t.Errorf("got %d items, want 4", len(items))
	}
	if !s.HasMore() {
		t.Error("HasMore() = false, want true for a full page")
	}
	if s.Cursor() != 4 {
		t.Errorf("Cursor() = %d, want 4", s.Cursor())
	}
}

func TestQueryExplicitLimitWins(t *testing.T) {
	ls := newListServer(t, 10)
	provider := newTestProvider(t, ls.server.URL)

	s := NewListSession[taskItem](provider, "Tasks", Options{PageSize: 5})
	defer s.Close()

	items, err := s.Query(context.Background(), func(q odata.Builder) odata.Builder {
		return q.Select("Id", "Title").Top(3)
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if got := ls.lastQuery().Get("$top"); got != "3" {
		t.Errorf("issued $top = %q, want the explicit limit 3", got)
	}
	if len(items) != 3 {
		t.Errorf("got %d items, want 3", len(items))
	}
	// The explicit limit becomes the effective page size.
	if !s.HasMore() {
		t.Error("HasMore() = false, want true")
	}
}

func TestQueryWithoutLimit(t *testing.T) {
	ls := newListServer(t, 3)
	provider := newTestProvider(t, ls.server.URL)

	s := NewListSession[taskItem](provider, "Tasks", Options{})
	defer s.Close()

	items, err := s.Query(context.Background(), nil)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if got := ls.lastQuery().Get("$top"); got != "" {
		t.Errorf("issued $top = %q, want no limit", got)
	}
	if len(items) != 3 {
		t.Errorf("got %d items, want 3", len(items))
	}
	if s.HasMore() {
		t.Error("HasMore() = true, want false without a page size")
	}
}

func TestQueryHasMoreOnPartialPage(t *testing.T) {
	ls := newListServer(t, 3)
	provider := newTestProvider(t, ls.server.URL)

	s := NewListSession[taskItem](provider, "Tasks", Options{PageSize: 5})
	defer s.Close()

	items, err := s.Query(context.Background(), nil)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	if s.HasMore() {
		t.Error("HasMore() = true, want false for a short page")
	}
}

func TestLoadMorePreconditions(t *testing.T) {
	ls := newListServer(t, 10)
	provider := newTestProvider(t, ls.server.URL)

	t.Run("before any query", func(t *testing.T) {
		s := NewListSession[taskItem](provider, "Tasks", Options{PageSize: 5})
		defer s.Close()

		_, err := s.LoadMore(context.Background())
		if !errors.Is(err, ErrNoPreviousQuery) {
			t.Errorf("LoadMore() error = %v, want ErrNoPreviousQuery", err)
		}
	})

	t.Run("after an unpaged query", func(t *testing.T) {
		s := NewListSession[taskItem](provider, "Tasks", Options{})
		defer s.Close()

		if _, err := s.Query(context.Background(), nil); err != nil {
			t.Fatalf("Query() error = %v", err)
		}

		_, err := s.LoadMore(context.Background())
		if !errors.Is(err, ErrNoPageSize) {
			t.Errorf("LoadMore() error = %v, want ErrNoPageSize", err)
		}
	})
}

func TestLoadMorePagesThroughList(t *testing.T) {
	ls := newListServer(t, 5)
	provider := newTestProvider(t, ls.server.URL)

	s := NewListSession[taskItem](provider, "Tasks", Options{PageSize: 2})
	defer s.Close()

	ctx := context.Background()
	if _, err := s.Query(ctx, nil); err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	page, err := s.LoadMore(ctx)
	if err != nil {
		t.Fatalf("LoadMore() error = %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("second page has %d items, want 2", len(page))
	}
	if got := ls.lastQuery().Get("$skip"); got != "2" {
		t.Errorf("issued $skip = %q, want 2", got)
	}
	if !s.HasMore() {
		t.Error("HasMore() = false after full second page, want true")
	}

	page, err = s.LoadMore(ctx)
	if err != nil {
		t.Fatalf("LoadMore() error = %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("third page has %d items, want 1", len(page))
	}
	if got := ls.lastQuery().Get("$skip"); got != "4" {
		t.Errorf("issued $skip = %q, want 4", got)
	}
	if s.HasMore() {
		t.Error("HasMore() = true after short page, want false")
	}

	items := s.Items()
	if len(items) != 5 {
		t.Fatalf("accumulated %d items, want 5", len(items))
	}
	for i, item := range items {
		if item.ID != i+1 {
			t.Errorf("items[%d].ID = %d, want %d", i, item.ID, i+1)
		}
	}
}

func TestLoadMoreInFlightIsNoOp(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("$skip") != "" {
			close(started)
			<-release
		}
		w.Write([]byte(`{"value":[{"Id":1,"Title":"Task 1"},{"Id":2,"Title":"Task 2"}]}`))
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL)
	s := NewListSession[taskItem](provider, "Tasks", Options{PageSize: 2})
	defer s.Close()

	ctx := context.Background()
	if _, err := s.Query(ctx, nil); err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := s.LoadMore(ctx); err != nil {
			t.Errorf("first LoadMore() error = %v", err)
		}
	}()

	<-started
	page, err := s.LoadMore(ctx)
	if err != nil {
		t.Fatalf("overlapping LoadMore() error = %v, want nil", err)
	}
	if len(page) != 0 {
		t.Errorf("overlapping LoadMore() returned %d items, want empty page", len(page))
	}

	close(release)
	<-done
}

func TestMutationsDebounceIntoOneRefresh(t *testing.T) {
	ls := newListServer(t, 3)
	provider := newTestProvider(t, ls.server.URL)

	s := NewListSession[taskItem](provider, "Tasks", Options{RefreshDebounce: 50 * time.Millisecond})
	defer s.Close()

	ctx := context.Background()
	if _, err := s.Query(ctx, nil); err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if err := s.AddItem(ctx, map[string]string{"Title": "a"}); err != nil {
		t.Fatalf("AddItem() error = %v", err)
	}
	if err := s.UpdateItem(ctx, 1, map[string]string{"Title": "b"}); err != nil {
		t.Fatalf("UpdateItem() error = %v", err)
	}

	// Two writes inside the window must coalesce into a single refresh.
	time.Sleep(200 * time.Millisecond)

	if got := ls.writeCount(); got != 2 {
		t.Errorf("writes = %d, want 2", got)
	}
	if got := ls.getCount(); got != 2 {
		t.Errorf("reads = %d, want 2 (initial query plus one coalesced refresh)", got)
	}
}

func TestDeleteItemSchedulesRefresh(t *testing.T) {
	ls := newListServer(t, 3)
	provider := newTestProvider(t, ls.server.URL)

	s := NewListSession[taskItem](provider, "Tasks", Options{RefreshDebounce: 30 * time.Millisecond})
	defer s.Close()

	ctx := context.Background()
	if _, err := s.Query(ctx, nil); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if err := s.DeleteItem(ctx, 2); err != nil {
		t.Fatalf("DeleteItem() error = %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	if got := ls.getCount(); got != 2 {
		t.Errorf("reads = %d, want 2", got)
	}
}

func TestClosedSessionSkipsStateWrites(t *testing.T) {
	ls := newListServer(t, 4)
	provider := newTestProvider(t, ls.server.URL)

	s := NewListSession[taskItem](provider, "Tasks", Options{PageSize: 2})

	ctx := context.Background()
	if _, err := s.Query(ctx, nil); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	before := s.Items()

	s.Close()

	// The call still returns results; session state stays frozen.
	items, err := s.Query(ctx, func(q odata.Builder) odata.Builder {
		return q.Filter("Id gt 0")
	})
	if err != nil {
		t.Fatalf("Query() after Close error = %v", err)
	}
	if len(items) == 0 {
		t.Error("Query() after Close returned no items, want results")
	}

	after := s.Items()
	if len(after) != len(before) {
		t.Errorf("Items() changed after Close: %d -> %d", len(before), len(after))
	}
}

func TestQueryErrorDualChannel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"message":"denied"}}`))
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL)
	s := NewListSession[taskItem](provider, "Tasks", Options{})
	defer s.Close()

	_, err := s.Query(context.Background(), nil)
	if !errors.Is(err, spclient.ErrForbidden) {
		t.Fatalf("Query() error = %v, want ErrForbidden", err)
	}

	// The same error is held in state for declarative consumption.
	if !errors.Is(s.Err(), spclient.ErrForbidden) {
		t.Errorf("Err() = %v, want ErrForbidden", s.Err())
	}
	if s.Loading() {
		t.Error("Loading() = true after failure, want false")
	}
}

func TestInvokeTogglesLoadingAndCapturesError(t *testing.T) {
	ls := newListServer(t, 1)
	provider := newTestProvider(t, ls.server.URL)

	s := NewListSession[taskItem](provider, "Tasks", Options{})
	defer s.Close()

	wantErr := errors.New("boom")
	err := s.Invoke(context.Background(), func(ctx context.Context, client *spclient.Client) error {
		if !s.Loading() {
			t.Error("Loading() = false inside Invoke, want true")
		}
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Errorf("Invoke() error = %v, want %v", err, wantErr)
	}
	if !errors.Is(s.Err(), wantErr) {
		t.Errorf("Err() = %v, want %v", s.Err(), wantErr)
	}
	if s.Loading() {
		t.Error("Loading() = true after Invoke, want false")
	}
}

func TestEscapeTitle(t *testing.T) {
	s := NewListSession[taskItem](nil, "Bob's List", Options{})
	want := "web/lists/getbytitle('Bob''s List')/items"
	if got := s.itemsPath(); got != want {
		t.Errorf("itemsPath() = %q, want %q", got, want)
	}
}
