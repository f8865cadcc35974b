package session

import (
	"context"

	"github.com/apvee/sptoolkit-go/pkg/spclient"
)

// RunBatch is the session-free batch helper: it opens a batch scope on the
// provider's client, lets fn enqueue operations, and executes them as one
// round-trip. Use ListSession.RunBatch when loading and error state should
// track the execution.
func RunBatch(ctx context.Context, provider *spclient.Provider, fn func(b *spclient.Batch)) error {
	client, err := provider.Client()
	if err != nil {
		return err
	}
	batch := client.NewBatch()
	fn(batch)
	return batch.Execute(ctx)
}
