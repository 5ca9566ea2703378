package vt

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fivetwenty-io/vt-client/internal/constants"
)

// FeedType identifies a VirusTotal feed.
type FeedType string

// FeedTypeFiles is the file feed: every file analysed by VirusTotal.
const FeedTypeFiles FeedType = "files"

// Feed is a continuous stream of objects published by VirusTotal in one
// package per minute. Each package is a bzip2-compressed file with one JSON
// object per line.
type Feed struct {
	client   *Client
	feedType FeedType

	// MaxMissing is the number of consecutive missing packages skipped
	// before Next gives up with the NotFoundError of the last one.
	MaxMissing int

	mu       sync.Mutex
	current  time.Time
	index    int
	skip     int
	missing  int
	response *Response
	adapter  *streamAdapter
	reader   *bufio.Reader
}

func newFeed(client *Client, feedType FeedType, cursor string) (*Feed, error) {
	if feedType != FeedTypeFiles {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFeedType, feedType)
	}

	feed := &Feed{
		client:     client,
		feedType:   feedType,
		MaxMissing: constants.FeedMaxMissing,
		current:    time.Now().UTC().Add(-constants.FeedDefaultLag).Truncate(time.Minute),
	}

	if cursor != "" {
		current, skip, err := parseFeedCursor(cursor)
		if err != nil {
			return nil, err
		}

		feed.current = current
		feed.skip = skip
	}

	return feed, nil
}

// NextAsync returns the next object of the feed.
func (f *Feed) NextAsync(ctx context.Context) *Future[*Object] {
	return goAsync(ctx, f.next)
}

// Next is the blocking form of NextAsync.
func (f *Feed) Next(ctx context.Context) (*Object, error) {
	return block(ctx, f.NextAsync)
}

// Cursor returns the position of the feed as YYYYMMDDhhmm-N, where N is the
// number of objects already consumed from that package.
func (f *Feed) Cursor() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.current.Format(constants.FeedCursorLayout) + "-" + strconv.Itoa(f.index+f.skip)
}

// Close releases the package being read, if any.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closePackage()
}

func (f *Feed) next(ctx context.Context) (*Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.adapter != nil {
		f.adapter.ctx = ctx
	}

	for {
		if f.reader == nil {
			err := f.openPackage(ctx)
			if err != nil {
				return nil, err
			}

			if f.reader == nil {
				continue
			}
		}

		line, err := f.reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("reading feed package %s: %w", f.packageName(), err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				f.advance()
			}

			continue
		}

		if f.skip > 0 {
			f.skip--
			f.index++

			continue
		}

		obj, parseErr := ObjectFromJSON(line)
		if parseErr != nil {
			return nil, fmt.Errorf("feed package %s line %d: %w", f.packageName(), f.index+1, parseErr)
		}

		f.index++

		return obj, nil
	}
}

// openPackage fetches the current package. A missing package is skipped,
// leaving reader nil, until MaxMissing consecutive packages are missing.
// Packages not published yet are never skipped.
func (f *Feed) openPackage(ctx context.Context) error {
	path := fmt.Sprintf("/feeds/%s/%s", f.feedType, f.packageName())

	resp, err := f.client.GetAsync(ctx, path, nil).Await(ctx)
	if err != nil {
		return err
	}

	apiErr, err := f.client.GetErrorAsync(ctx, resp).Await(ctx)
	if err != nil {
		_ = resp.Close()

		return err
	}

	if apiErr != nil {
		_ = resp.Close()

		if apiErr.Code != ErrorCodeNotFound || f.missing >= f.MaxMissing || !f.published() {
			return apiErr
		}

		f.missing++
		f.advance()

		return nil
	}

	f.missing = 0
	f.response = resp
	f.adapter = &streamAdapter{ctx: ctx, stream: resp.Content()}
	f.reader = bufio.NewReaderSize(bzip2.NewReader(f.adapter), constants.StreamBufferSize)

	return nil
}

// published reports whether the current package is old enough to have been
// published. A recent package that is not found is not available yet, so the
// feed stays on it instead of counting it as missing.
func (f *Feed) published() bool {
	return f.current.Before(time.Now().UTC().Add(-constants.FeedDefaultLag))
}

// advance moves to the next package.
func (f *Feed) advance() {
	_ = f.closePackage()

	f.current = f.current.Add(time.Minute)
	f.index = 0
	f.skip = 0
}

func (f *Feed) closePackage() error {
	f.reader = nil
	f.adapter = nil

	if f.response == nil {
		return nil
	}

	err := f.response.Close()
	f.response = nil

	return err
}

func (f *Feed) packageName() string {
	return f.current.Format(constants.FeedCursorLayout)
}

func parseFeedCursor(cursor string) (time.Time, int, error) {
	stamp, count, found := strings.Cut(cursor, "-")

	current, err := time.Parse(constants.FeedCursorLayout, stamp)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
	}

	skip := 0

	if found {
		skip, err = strconv.Atoi(count)
		if err != nil || skip < 0 {
			return time.Time{}, 0, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
		}
	}

	return current.UTC(), skip, nil
}

// streamAdapter exposes a StreamReader as an io.Reader for decompressors.
type streamAdapter struct {
	ctx    context.Context //nolint:containedctx // replaced on every Next
	stream *StreamReader
}

func (a *streamAdapter) Read(p []byte) (int, error) {
	data, err := a.stream.read(a.ctx, len(p))
	if err != nil {
		return 0, err
	}

	if len(data) == 0 {
		return 0, io.EOF
	}

	return copy(p, data), nil
}
