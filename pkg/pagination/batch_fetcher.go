package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds batch fetcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel window requests.
	// SharePoint throttles aggressively, so the default stays low.
	MaxConcurrency int
	// Timeout per window fetch.
	Timeout time.Duration
	// Buffer size for channels (default: estimated window count).
	BufferSize int
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        30 * time.Second,
		BufferSize:     64,
	}
}

// WindowFetcher fetches one $skip/$top window of list rows.
type WindowFetcher interface {
	// FetchWindow fetches up to top rows starting at the skip offset.
	FetchWindow(ctx context.Context, skip, top int) ([]json.RawMessage, error)
}

// WindowResult represents the result of fetching a single window.
type WindowResult struct {
	Skip  int
	Rows  []json.RawMessage
	Error error
}

// BatchFetcher handles parallel fetching of list windows.
type BatchFetcher struct {
	fetcher WindowFetcher
	config  Config
}

// NewBatchFetcher creates a new batch fetcher.
func NewBatchFetcher(fetcher WindowFetcher, config Config) *BatchFetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// FetchAll fetches every window of a list with totalItems rows in parallel
// and assembles them in list order. On a worker error the rows fetched so far
// are returned alongside the error.
func (bf *BatchFetcher) FetchAll(ctx context.Context, totalItems, windowSize int) ([]json.RawMessage, error) {
	if totalItems <= 0 {
		return nil, nil
	}
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive (got %d)", windowSize)
	}

	start := time.Now()
	windows := (totalItems + windowSize - 1) / windowSize

	log.Info().
		Int("total_items", totalItems).
		Int("windows", windows).
		Msg("Starting parallel window fetch")

	// Single window optimization
	if windows == 1 {
		rows, err := bf.fetchOne(ctx, 0, windowSize)
		if err != nil {
			return nil, err
		}
		log.Info().
			Int("rows", len(rows)).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single window)")
		return rows, nil
	}

	skipQueue := make(chan int, bf.config.BufferSize)
	windowResults := make(chan WindowResult, bf.config.BufferSize)
	errs := make(chan error, bf.config.MaxConcurrency)

	go func() {
		for w := 0; w < windows; w++ {
			skipQueue <- w * windowSize
		}
		close(skipQueue)
	}()

	var wg sync.WaitGroup
	for i := 0; i < bf.config.MaxConcurrency; i++ {
		wg.Add(1)
		go bf.worker(ctx, windowSize, skipQueue, windowResults, errs, &wg, i)
	}

	go func() {
		wg.Wait()
		close(windowResults)
		close(errs)
	}()

	results := make(map[int][]json.RawMessage, windows)
	fetched := 0
	for result := range windowResults {
		if result.Error != nil {
			log.Warn().
				Err(result.Error).
				Int("skip", result.Skip).
				Msg("Window fetch failed")
			continue
		}

		results[result.Skip] = result.Rows
		fetched++

		if fetched%20 == 0 {
			log.Info().
				Int("fetched", fetched).
				Int("windows", windows).
				Msg("Fetch progress")
		}
	}

	rows := assemble(results)

	select {
	case err := <-errs:
		if err != nil {
			log.Warn().
				Err(err).
				Int("fetched_windows", fetched).
				Int("windows", windows).
				Msg("Worker error - returning partial results")
			return rows, fmt.Errorf("worker error (partial data: %d/%d windows): %w", fetched, windows, err)
		}
	default:
	}

	log.Info().
		Int("rows", len(rows)).
		Int("windows", fetched).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return rows, nil
}

// assemble flattens the window map in skip order.
func assemble(results map[int][]json.RawMessage) []json.RawMessage {
	skips := make([]int, 0, len(results))
	total := 0
	for skip, rows := range results {
		skips = append(skips, skip)
		total += len(rows)
	}
	sort.Ints(skips)

	rows := make([]json.RawMessage, 0, total)
	for _, skip := range skips {
		rows = append(rows, results[skip]...)
	}
	return rows
}

func (bf *BatchFetcher) fetchOne(ctx context.Context, skip, top int) ([]json.RawMessage, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
	defer cancel()
	return bf.fetcher.FetchWindow(fetchCtx, skip, top)
}

// worker processes windows from the queue.
func (bf *BatchFetcher) worker(ctx context.Context, windowSize int, skipQueue <-chan int, results chan<- WindowResult, errs chan<- error, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for skip := range skipQueue {
		select {
		case <-ctx.Done():
			log.Debug().
				Int("worker_id", workerID).
				Int("windows_processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		rows, err := bf.fetchOne(ctx, skip, windowSize)
		if err != nil {
			log.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("skip", skip).
				Msg("Window fetch failed")

			// Non-blocking error send
			select {
			case errs <- err:
			default:
			}
			return
		}

		select {
		case results <- WindowResult{Skip: skip, Rows: rows}:
		case <-ctx.Done():
			log.Debug().
				Int("worker_id", workerID).
				Int("windows_processed", processed).
				Msg("Worker stopping (context cancelled after fetch)")
			return
		}

		processed++
	}

	if processed > 0 {
		log.Debug().
			Int("worker_id", workerID).
			Int("windows_processed", processed).
			Msg("Worker completed")
	}
}
