package spclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for batch execution.
var (
	spBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sp_batches_total",
		Help: "Total number of executed batch round-trips",
	})

	spBatchOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sp_batch_operations_total",
		Help: "Total batched operations by outcome",
	}, []string{"outcome"})
)

// Operation is a single request queued into a batch scope. Its result becomes
// available after the owning batch has executed; reading it earlier is an error.
type Operation struct {
	method  string
	path    string
	query   url.Values
	body    []byte
	headers http.Header

	executed bool
	status   int
	result   []byte
	err      error
}

// Result returns the raw response body of the operation, or its individual
// failure. Calling Result before the batch executed is itself an error.
func (op *Operation) Result() ([]byte, error) {
	if !op.executed {
		return nil, fmt.Errorf("batch not executed yet")
	}
	return op.result, op.err
}

// StatusCode returns the HTTP status of the operation's part response.
// Zero until the batch executed.
func (op *Operation) StatusCode() int {
	return op.status
}

// DecodeJSON decodes the operation result into v.
func (op *Operation) DecodeJSON(v any) error {
	data, err := op.Result()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode batch operation result: %w", err)
	}
	return nil
}

// BatchError is the aggregate error surfaced when some operations of an
// executed batch failed. Sibling operations keep their successful results.
type BatchError struct {
	Failed int
	Total  int
	Errs   []error
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	return fmt.Sprintf("batch completed with %d of %d operations failed: %v",
		e.Failed, e.Total, e.Errs[0])
}

// Unwrap exposes the individual operation failures to errors.Is/As.
func (e *BatchError) Unwrap() []error {
	return e.Errs
}

// Batch is a scope that defers execution of multiple operations until a
// single Execute call collapses them into one $batch round-trip. A Batch is
// not safe for concurrent use; callers queue from one goroutine.
type Batch struct {
	client   *Client
	ops      []*Operation
	executed bool
}

// NewBatch opens a new batch scope against the client.
func (c *Client) NewBatch() *Batch {
	return &Batch{client: c}
}

// Get queues a GET operation.
func (b *Batch) Get(apiPath string, query url.Values) *Operation {
	op := &Operation{method: http.MethodGet, path: apiPath, query: query}
	b.ops = append(b.ops, op)
	return op
}

// Post queues a POST operation with a JSON body.
func (b *Batch) Post(apiPath string, body []byte) *Operation {
	header := http.Header{}
	header.Set("Content-Type", acceptJSON)
	op := &Operation{method: http.MethodPost, path: apiPath, body: body, headers: header}
	b.ops = append(b.ops, op)
	return op
}

// Merge queues an update via the X-HTTP-Method MERGE convention.
func (b *Batch) Merge(apiPath string, body []byte) *Operation {
	header := http.Header{}
	header.Set("Content-Type", acceptJSON)
	header.Set("X-HTTP-Method", "MERGE")
	header.Set("If-Match", "*")
	op := &Operation{method: http.MethodPost, path: apiPath, body: body, headers: header}
	b.ops = append(b.ops, op)
	return op
}

// Delete queues a delete via the X-HTTP-Method DELETE convention.
func (b *Batch) Delete(apiPath string) *Operation {
	header := http.Header{}
	header.Set("X-HTTP-Method", "DELETE")
	header.Set("If-Match", "*")
	op := &Operation{method: http.MethodPost, path: apiPath, headers: header}
	b.ops = append(b.ops, op)
	return op
}

// Len returns the number of queued operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Execute sends all queued operations as one $batch round-trip and resolves
// every operation. Individual operation failures do not abort siblings; they
// are collected and surfaced as a single *BatchError after all results have
// been assigned. Transport-level failure fails every operation.
func (b *Batch) Execute(ctx context.Context) error {
	if b.executed {
		return fmt.Errorf("batch already executed")
	}
	b.executed = true

	if len(b.ops) == 0 {
		return nil
	}

	boundary := "batch_" + uuid.NewString()
	body := b.encode(boundary)

	header := http.Header{}
	header.Set("Content-Type", "multipart/mixed; boundary="+boundary)

	spBatchesTotal.Inc()

	resp, err := b.client.Do(ctx, http.MethodPost, "$batch", nil, body, header)
	if err != nil {
		for _, op := range b.ops {
			op.executed = true
			op.err = err
		}
		return fmt.Errorf("execute batch: %w", err)
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return fmt.Errorf("unexpected batch response content type %q", resp.Header.Get("Content-Type"))
	}

	parts, err := readBatchParts(multipart.NewReader(resp.Body, params["boundary"]))
	if err != nil {
		return fmt.Errorf("parse batch response: %w", err)
	}

	if len(parts) != len(b.ops) {
		return fmt.Errorf("batch response count mismatch: got %d parts for %d operations",
			len(parts), len(b.ops))
	}

	var failures []error
	for i, op := range b.ops {
		part := parts[i]
		op.executed = true
		op.status = part.status
		op.result = part.body

		if part.status >= 400 {
			op.err = &RequestError{
				StatusCode: part.status,
				ErrorClass: classifyStatus(part.status),
				Endpoint:   op.path,
				Message:    strings.TrimSpace(string(part.body)),
				Err:        WrapStatus(part.status),
			}
			failures = append(failures, op.err)
			spBatchOperationsTotal.WithLabelValues("failed").Inc()
			log.Warn().
				Str("endpoint", op.path).
				Int("status_code", part.status).
				Msg("Batched operation failed")
			continue
		}
		spBatchOperationsTotal.WithLabelValues("ok").Inc()
	}

	if len(failures) > 0 {
		return &BatchError{
			Failed: len(failures),
			Total:  len(b.ops),
			Errs:   failures,
		}
	}

	return nil
}

// encode renders the multipart request body. Change operations are wrapped in
// their own changeset, per the OData batch format.
func (b *Batch) encode(boundary string) []byte {
	var buf bytes.Buffer

	for _, op := range b.ops {
		if op.method == http.MethodGet {
			fmt.Fprintf(&buf, "--%s\r\n", boundary)
			b.encodeRequest(&buf, op)
			continue
		}

		changeset := "changeset_" + uuid.NewString()
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", changeset)
		fmt.Fprintf(&buf, "--%s\r\n", changeset)
		b.encodeRequest(&buf, op)
		fmt.Fprintf(&buf, "--%s--\r\n", changeset)
	}

	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

// encodeRequest renders one application/http part.
func (b *Batch) encodeRequest(buf *bytes.Buffer, op *Operation) {
	buf.WriteString("Content-Type: application/http\r\n")
	buf.WriteString("Content-Transfer-Encoding: binary\r\n\r\n")

	fmt.Fprintf(buf, "%s %s HTTP/1.1\r\n", op.method, b.client.apiURL(op.path, op.query))
	fmt.Fprintf(buf, "Accept: %s\r\n", acceptJSON)
	for key, values := range op.headers {
		for _, value := range values {
			fmt.Fprintf(buf, "%s: %s\r\n", key, value)
		}
	}
	buf.WriteString("\r\n")

	if len(op.body) > 0 {
		buf.Write(op.body)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
}

// partResponse is one parsed HTTP response embedded in a batch response.
type partResponse struct {
	status int
	body   []byte
}

// readBatchParts walks a multipart batch response in order, descending into
// nested changeset multiparts, and parses each embedded HTTP response.
func readBatchParts(reader *multipart.Reader) ([]partResponse, error) {
	var out []partResponse

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read part: %w", err)
		}

		mediaType, params, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if strings.HasPrefix(mediaType, "multipart/") {
			nested, err := readBatchParts(multipart.NewReader(part, params["boundary"]))
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}

		resp, err := http.ReadResponse(bufio.NewReader(part), nil)
		if err != nil {
			return nil, fmt.Errorf("parse embedded response: %w", err)
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read embedded response body: %w", err)
		}

		out = append(out, partResponse{status: resp.StatusCode, body: data})
	}

	return out, nil
}
