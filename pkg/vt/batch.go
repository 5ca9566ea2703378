package vt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/fivetwenty-io/vt-client/internal/constants"
)

// BatchOperation is a single request of a batch.
type BatchOperation struct {
	ID string
	// Method is GET (the default), POST, PATCH or DELETE.
	Method string
	Path   string
	Params url.Values
	// Object is the body of POST and PATCH operations.
	Object   *Object
	Callback func(result *BatchResult)
}

// BatchResult is the outcome of a batch operation. Object is nil for DELETE
// operations.
type BatchResult struct {
	ID       string
	Success  bool
	Object   *Object
	Error    error
	Duration time.Duration
}

// BatchExecutor runs object operations concurrently, for example looking up
// a list of hashes.
type BatchExecutor struct {
	client      *Client
	concurrency int
	timeout     time.Duration
}

// NewBatchExecutor creates a batch executor running at most concurrency
// operations at a time.
func NewBatchExecutor(client *Client, concurrency int) *BatchExecutor {
	if concurrency <= 0 {
		concurrency = constants.DefaultBatchConcurrency
	}

	return &BatchExecutor{
		client:      client,
		concurrency: concurrency,
		timeout:     constants.DefaultBatchTimeout,
	}
}

// SetTimeout sets the timeout of each operation.
func (b *BatchExecutor) SetTimeout(timeout time.Duration) {
	b.timeout = timeout
}

// ExecuteAsync runs operations and returns their results in the same order.
// Failed operations are reported in their result, not as an error of the
// batch.
func (b *BatchExecutor) ExecuteAsync(ctx context.Context, operations []BatchOperation) *Future[[]BatchResult] {
	return goAsync(ctx, func(ctx context.Context) ([]BatchResult, error) {
		return b.execute(ctx, operations), nil
	})
}

// Execute is the blocking form of ExecuteAsync.
func (b *BatchExecutor) Execute(ctx context.Context, operations []BatchOperation) ([]BatchResult, error) {
	return block(ctx, func(ctx context.Context) *Future[[]BatchResult] {
		return b.ExecuteAsync(ctx, operations)
	})
}

func (b *BatchExecutor) execute(ctx context.Context, operations []BatchOperation) []BatchResult {
	results := make([]BatchResult, len(operations))

	var waitGroup sync.WaitGroup

	semaphore := make(chan struct{}, b.concurrency)

	for index, operation := range operations {
		waitGroup.Add(1)

		go func(index int, operation BatchOperation) {
			defer waitGroup.Done()

			semaphore <- struct{}{}

			defer func() { <-semaphore }()

			opCtx, cancel := context.WithTimeout(ctx, b.timeout)
			defer cancel()

			start := time.Now()
			result := b.executeOperation(opCtx, operation)
			result.Duration = time.Since(start)
			results[index] = *result

			if operation.Callback != nil {
				operation.Callback(result)
			}
		}(index, operation)
	}

	waitGroup.Wait()

	return results
}

func (b *BatchExecutor) executeOperation(ctx context.Context, operation BatchOperation) *BatchResult {
	result := &BatchResult{ID: operation.ID}

	switch operation.Method {
	case "", http.MethodGet:
		result.Object, result.Error = b.client.GetObjectAsync(ctx, operation.Path, operation.Params).Await(ctx)
	case http.MethodPost:
		result.Object, result.Error = b.client.PostObjectAsync(ctx, operation.Path, operation.Object).Await(ctx)
	case http.MethodPatch:
		result.Object, result.Error = b.client.PatchObjectAsync(ctx, operation.Path, operation.Object).Await(ctx)
	case http.MethodDelete:
		result.Error = b.delete(ctx, operation.Path)
	default:
		result.Error = fmt.Errorf("%w: %s", ErrUnsupportedMethod, operation.Method)
	}

	result.Success = result.Error == nil

	return result
}

func (b *BatchExecutor) delete(ctx context.Context, path string) error {
	resp, err := b.client.DeleteAsync(ctx, path).Await(ctx)
	if err != nil {
		return err
	}

	defer func() { _ = resp.Close() }()

	apiErr, err := b.client.GetErrorAsync(ctx, resp).Await(ctx)
	if err != nil {
		return err
	}

	if apiErr != nil {
		return apiErr
	}

	return nil
}
