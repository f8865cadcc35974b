package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/apvee/sptoolkit-go/pkg/odata"
	"github.com/apvee/sptoolkit-go/pkg/pagination"
	"github.com/apvee/sptoolkit-go/pkg/spclient"
)

// DefaultWindowSize is the $top window used by QueryAll when none is given.
// SharePoint rejects windows above 5000 rows.
const DefaultWindowSize = 500

// windowFetcher adapts one list to the pagination worker pool.
type windowFetcher struct {
	client *spclient.Client
	path   string
	base   url.Values
}

func (f *windowFetcher) FetchWindow(ctx context.Context, skip, top int) ([]json.RawMessage, error) {
	values := url.Values{}
	for k, v := range f.base {
		values[k] = v
	}
	values.Set("$skip", strconv.Itoa(skip))
	values.Set("$top", strconv.Itoa(top))

	var out listValue[json.RawMessage]
	if err := f.client.GetJSON(ctx, f.path, values, &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

// QueryAll fetches the entire list: it reads the item count, then pulls
// $skip windows in parallel and assembles them in list order, replacing the
// result set. The build function shapes each window query; a row limit it
// sets is dropped because the window size controls $top. QueryAll leaves the
// session without an effective page size, so LoadMore does not apply.
func (s *ListSession[T]) QueryAll(ctx context.Context, build BuildFunc, windowSize int) ([]T, error) {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}

	client, err := s.provider.Client()
	if err != nil {
		s.setError(err)
		return nil, err
	}

	s.apply(func() {
		s.loading = true
		s.err = nil
	})

	var count struct {
		Value int `json:"value"`
	}
	if err := client.GetJSON(ctx, s.listPath()+"/ItemCount", nil, &count); err != nil {
		s.setError(err)
		return nil, err
	}

	built := odata.Builder(odata.NewQuery())
	if build != nil {
		built = build(built)
	}
	base := built.Values()
	base.Del("$top")
	base.Del("$skip")

	fetcher := pagination.NewBatchFetcher(&windowFetcher{
		client: client,
		path:   s.itemsPath(),
		base:   base,
	}, pagination.DefaultConfig())

	raws, err := fetcher.FetchAll(ctx, count.Value, windowSize)
	if err != nil {
		s.setError(err)
		return nil, err
	}

	items := make([]T, 0, len(raws))
	for _, raw := range raws {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			err = fmt.Errorf("decode item: %w", err)
			s.setError(err)
			return nil, err
		}
		items = append(items, item)
	}

	s.apply(func() {
		s.items = items
		s.queried = true
		s.lastBuild = build
		s.pageSize = 0
		s.cursor = len(items)
		s.hasMore = false
		s.loading = false
		s.err = nil
	})

	s.logger.Debug().
		Int("count", len(items)).
		Int("window_size", windowSize).
		Msg("Full list fetch completed")

	return items, nil
}
