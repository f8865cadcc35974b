// Package pagination provides parallel window fetching for large SharePoint
// lists.
//
// SharePoint caps a single REST read at 5000 rows, so a full export of a
// large list takes many $skip/$top windows. This package implements a worker
// pool that fetches those windows concurrently while the client's pacing and
// throttle tracking keep the request rate inside tenant limits.
//
// Example usage:
//
//	config := pagination.DefaultConfig()
//	fetcher := pagination.NewBatchFetcher(windowFetcher, config)
//	rows, err := fetcher.FetchAll(ctx, totalItems, 500)
//
// The batch fetcher:
//   - Computes the window offsets from the item count and window size
//   - Spawns a worker pool (default 4 workers)
//   - Distributes windows across workers
//   - Assembles rows in list order
//   - Handles errors gracefully (returns partial data)
package pagination
