// Package search runs SharePoint search queries and exposes the results as
// session state, including refiner (facet) dimensions and row-window paging.
package search

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/apvee/sptoolkit-go/pkg/spclient"
)

// Errors returned by search operations.
var (
	// ErrNoPreviousSearch is returned by LoadMore before any search completed.
	ErrNoPreviousSearch = errors.New("no previous search: run a search before loading more")

	// ErrNoRowLimit is returned by LoadMore when the previous search ran
	// without a row limit, so there is no page window to advance.
	ErrNoRowLimit = errors.New("no row limit: the previous search did not use paging")
)

// Request describes one search execution.
type Request struct {
	// QueryText is the KQL query text.
	QueryText string

	// RowLimit caps the number of returned rows and enables LoadMore.
	RowLimit int

	// StartRow is the offset of the first returned row.
	StartRow int

	// SelectProperties restricts the managed properties per row.
	SelectProperties []string

	// Refiners names the refiner dimensions to compute, e.g. "FileType".
	Refiners []string

	// RefinementFilters narrows results to refiner tokens from an earlier
	// search, e.g. `fileType:equals("docx")`.
	RefinementFilters []string
}

// Row is one result row keyed by managed property name.
type Row map[string]string

// RefinerEntry is one value bucket of a refiner dimension.
type RefinerEntry struct {
	Value string
	Count int64
}

// Refiner is a facet dimension returned alongside results.
type Refiner struct {
	Name    string
	Entries []RefinerEntry
}

// Result is the outcome of one search execution.
type Result struct {
	Rows      []Row
	TotalRows int
	Refiners  []Refiner
}

// Session runs searches and keeps the accumulated rows, refiners and paging
// cursor as queryable state. It is owned by one consumer.
type Session struct {
	provider *spclient.Provider
	logger   zerolog.Logger

	mu       sync.Mutex
	rows     []Row
	refiners []Refiner
	total    int
	loading  bool
	err      error
	searched bool
	lastReq  Request
	cursor   int
	hasMore  bool
	closed   bool
}

// NewSession creates a search session.
func NewSession(provider *spclient.Provider) *Session {
	return &Session{
		provider: provider,
		logger:   log.With().Str("component", "search-session").Logger(),
	}
}

// Rows returns a copy of the accumulated result rows.
func (s *Session) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Row(nil), s.rows...)
}

// Refiners returns the refiner dimensions of the last search.
func (s *Session) Refiners() []Refiner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Refiner(nil), s.refiners...)
}

// TotalRows returns the service-reported total match count.
func (s *Session) TotalRows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Loading reports whether a search is in flight.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the last recorded error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// HasMore reports whether a further row window is expected.
func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Close tears the session down; later state writes are suppressed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Session) apply(mutate func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	mutate()
}

func (s *Session) setError(err error) {
	s.apply(func() {
		s.loading = false
		s.err = err
	})
}

// Search executes req, replacing the session's rows and refiners.
func (s *Session) Search(ctx context.Context, req Request) (*Result, error) {
	result, err := s.execute(ctx, req)
	if err != nil {
		return nil, err
	}

	s.apply(func() {
		s.rows = result.Rows
		s.refiners = result.Refiners
		s.total = result.TotalRows
		s.searched = true
		s.lastReq = req
		s.cursor = req.StartRow + len(result.Rows)
		s.hasMore = req.RowLimit > 0 && len(result.Rows) == req.RowLimit
		s.loading = false
		s.err = nil
	})

	s.logger.Debug().
		Str("query", req.QueryText).
		Int("rows", len(result.Rows)).
		Int("total", result.TotalRows).
		Msg("Search completed")

	return result, nil
}

// LoadMore advances the row window of the last search and appends the fetched
// rows. An in-flight search makes LoadMore a no-op returning an empty page.
func (s *Session) LoadMore(ctx context.Context) ([]Row, error) {
	s.mu.Lock()
	if !s.searched {
		s.mu.Unlock()
		return nil, ErrNoPreviousSearch
	}
	if s.lastReq.RowLimit <= 0 {
		s.mu.Unlock()
		return nil, ErrNoRowLimit
	}
	if s.loading {
		s.mu.Unlock()
		return []Row{}, nil
	}
	req := s.lastReq
	req.StartRow = s.cursor
	s.mu.Unlock()

	result, err := s.execute(ctx, req)
	if err != nil {
		return nil, err
	}

	s.apply(func() {
		s.rows = append(s.rows, result.Rows...)
		s.cursor += len(result.Rows)
		s.hasMore = len(result.Rows) == req.RowLimit
		s.loading = false
		s.err = nil
	})

	return result.Rows, nil
}

func (s *Session) execute(ctx context.Context, req Request) (*Result, error) {
	client, err := s.provider.Client()
	if err != nil {
		s.setError(err)
		return nil, err
	}

	s.apply(func() {
		s.loading = true
		s.err = nil
	})

	var resp queryResponse
	if err := client.PostJSON(ctx, "search/postquery", buildPayload(req), &resp); err != nil {
		s.setError(err)
		return nil, err
	}

	result, err := parseResponse(&resp)
	if err != nil {
		s.setError(err)
		return nil, err
	}
	return result, nil
}

// stringCollection is the OData collection wrapper the search endpoint
// expects for array-valued request properties.
type stringCollection struct {
	Results []string `json:"results"`
}

type queryPayload struct {
	Request queryRequest `json:"request"`
}

type queryRequest struct {
	Querytext         string            `json:"Querytext"`
	RowLimit          int               `json:"RowLimit,omitempty"`
	StartRow          int               `json:"StartRow,omitempty"`
	SelectProperties  *stringCollection `json:"SelectProperties,omitempty"`
	Refiners          string            `json:"Refiners,omitempty"`
	RefinementFilters *stringCollection `json:"RefinementFilters,omitempty"`
}

func buildPayload(req Request) queryPayload {
	out := queryRequest{
		Querytext: req.QueryText,
		RowLimit:  req.RowLimit,
		StartRow:  req.StartRow,
		Refiners:  strings.Join(req.Refiners, ","),
	}
	if len(req.SelectProperties) > 0 {
		out.SelectProperties = &stringCollection{Results: req.SelectProperties}
	}
	if len(req.RefinementFilters) > 0 {
		out.RefinementFilters = &stringCollection{Results: req.RefinementFilters}
	}
	return queryPayload{Request: out}
}

// Wire shapes of the search response, nometadata flavor.
type queryResponse struct {
	PrimaryQueryResult struct {
		RelevantResults   relevantResults    `json:"RelevantResults"`
		RefinementResults *refinementResults `json:"RefinementResults"`
	} `json:"PrimaryQueryResult"`
}

type relevantResults struct {
	TotalRows int `json:"TotalRows"`
	Table     struct {
		Rows []wireRow `json:"Rows"`
	} `json:"Table"`
}

type wireRow struct {
	Cells []wireCell `json:"Cells"`
}

type wireCell struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

type refinementResults struct {
	Refiners []wireRefiner `json:"Refiners"`
}

type wireRefiner struct {
	Name    string             `json:"Name"`
	Entries []wireRefinerEntry `json:"Entries"`
}

type wireRefinerEntry struct {
	RefinementValue string `json:"RefinementValue"`
	RefinementCount string `json:"RefinementCount"`
}

func parseResponse(resp *queryResponse) (*Result, error) {
	relevant := resp.PrimaryQueryResult.RelevantResults

	result := &Result{
		TotalRows: relevant.TotalRows,
		Rows:      make([]Row, 0, len(relevant.Table.Rows)),
	}

	for _, row := range relevant.Table.Rows {
		out := make(Row, len(row.Cells))
		for _, cell := range row.Cells {
			out[cell.Key] = cell.Value
		}
		result.Rows = append(result.Rows, out)
	}

	if refinements := resp.PrimaryQueryResult.RefinementResults; refinements != nil {
		for _, refiner := range refinements.Refiners {
			out := Refiner{Name: refiner.Name}
			for _, entry := range refiner.Entries {
				count, err := strconv.ParseInt(entry.RefinementCount, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("parse refinement count %q for %s: %w",
						entry.RefinementCount, refiner.Name, err)
				}
				out.Entries = append(out.Entries, RefinerEntry{
					Value: entry.RefinementValue,
					Count: count,
				})
			}
			result.Refiners = append(result.Refiners, out)
		}
	}

	return result, nil
}
