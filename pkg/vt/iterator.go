package vt

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// IteratorOptions configures an Iterator.
type IteratorOptions struct {
	// Cursor resumes a previous iteration. It must come from Iterator.Cursor,
	// not from the API.
	Cursor string
	// Limit is the maximum number of objects returned. 0 means no limit.
	Limit int
	// BatchSize is the number of objects requested per page. 0 lets the
	// server decide.
	BatchSize int
	// Params are extra query parameters sent with every page request.
	Params url.Values
}

// Iterator walks the objects of a collection endpoint such as
// /intelligence/search or /files/{id}/comments, one page at a time.
type Iterator struct {
	client    *Client
	path      string
	params    url.Values
	limit     int
	batchSize int

	mu          sync.Mutex
	batch       []interface{}
	batchCursor string
	nextCursor  string
	offset      int
	count       int
	fetched     bool
	done        bool
}

func newIterator(client *Client, path string, opts *IteratorOptions) (*Iterator, error) {
	if opts == nil {
		opts = &IteratorOptions{}
	}

	it := &Iterator{
		client:    client,
		path:      path,
		params:    url.Values{},
		limit:     opts.Limit,
		batchSize: opts.BatchSize,
	}

	for key, values := range opts.Params {
		it.params[key] = append([]string(nil), values...)
	}

	if opts.Cursor != "" {
		serverCursor, offset, err := decodeIteratorCursor(opts.Cursor)
		if err != nil {
			return nil, err
		}

		it.batchCursor = serverCursor
		it.offset = offset
	}

	return it, nil
}

// NextAsync returns the next object of the collection, or ErrNoMoreItems.
func (it *Iterator) NextAsync(ctx context.Context) *Future[*Object] {
	return goAsync(ctx, it.next)
}

// Next is the blocking form of NextAsync.
func (it *Iterator) Next(ctx context.Context) (*Object, error) {
	return block(ctx, it.NextAsync)
}

// Cursor returns a token from which a new iterator resumes at the object
// following the last one returned.
func (it *Iterator) Cursor() string {
	it.mu.Lock()
	defer it.mu.Unlock()

	raw := it.batchCursor + "-" + strconv.Itoa(it.offset)

	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// Count returns the number of objects returned so far.
func (it *Iterator) Count() int {
	it.mu.Lock()
	defer it.mu.Unlock()

	return it.count
}

func (it *Iterator) next(ctx context.Context) (*Object, error) {
	it.mu.Lock()
	defer it.mu.Unlock()

	for {
		if it.done || (it.limit > 0 && it.count >= it.limit) {
			return nil, ErrNoMoreItems
		}

		if it.fetched && it.offset < len(it.batch) {
			break
		}

		if it.fetched {
			if it.nextCursor == "" {
				it.done = true

				continue
			}

			it.batchCursor = it.nextCursor
			it.offset = 0
		}

		err := it.fetch(ctx)
		if err != nil {
			return nil, err
		}
	}

	item := it.batch[it.offset]
	it.offset++
	it.count++

	obj, err := ObjectFromMap(item)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidCollection, it.path, err)
	}

	return obj, nil
}

// fetch loads the page starting at batchCursor. The offset is kept so a
// resumed iterator skips the objects already returned.
func (it *Iterator) fetch(ctx context.Context) error {
	params := url.Values{}
	for key, values := range it.params {
		params[key] = values
	}

	if it.batchCursor != "" {
		params.Set("cursor", it.batchCursor)
	}

	if it.batchSize > 0 {
		params.Set("limit", strconv.Itoa(it.batchSize))
	}

	fields, err := it.client.GetJSONAsync(ctx, it.path, params).Await(ctx)
	if err != nil {
		return err
	}

	data, ok := fields["data"].([]interface{})
	if !ok {
		return fmt.Errorf("%w: %s: data is %s, expecting array", ErrInvalidCollection, it.path, kindOf(fields["data"]))
	}

	it.batch = data
	it.nextCursor = ""
	it.fetched = true

	if meta, ok := fields["meta"].(map[string]interface{}); ok {
		it.nextCursor, _ = meta["cursor"].(string)
	}

	return nil
}

func decodeIteratorCursor(cursor string) (string, int, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}

	sep := strings.LastIndex(string(raw), "-")
	if sep < 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
	}

	offset, err := strconv.Atoi(string(raw[sep+1:]))
	if err != nil || offset < 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
	}

	return string(raw[:sep]), offset, nil
}
