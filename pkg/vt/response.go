package vt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/fivetwenty-io/vt-client/internal/constants"
	"golang.org/x/text/encoding/htmlindex"
)

// Response wraps an HTTP response returned by the client. The body can be
// consumed as a whole (Read, JSON, Text), which buffers it so the three
// accessors can be combined, or incrementally through Content.
type Response struct {
	resp    *http.Response
	content *StreamReader

	mu       sync.Mutex
	body     []byte
	buffered bool
}

func newResponse(resp *http.Response) *Response {
	return &Response{
		resp:    resp,
		content: newStreamReader(resp.Body),
	}
}

// StatusCode returns the HTTP status code.
func (r *Response) StatusCode() int {
	return r.resp.StatusCode
}

// Header returns the response headers.
func (r *Response) Header() http.Header {
	return r.resp.Header
}

// Content returns the streaming accessor of the body.
func (r *Response) Content() *StreamReader {
	return r.content
}

// Close releases the underlying connection.
func (r *Response) Close() error {
	return r.resp.Body.Close()
}

// ReadAsync reads the whole body.
func (r *Response) ReadAsync(ctx context.Context) *Future[[]byte] {
	return goAsync(ctx, r.read)
}

// Read is the blocking form of ReadAsync.
func (r *Response) Read(ctx context.Context) ([]byte, error) {
	return block(ctx, r.ReadAsync)
}

// JSONAsync decodes the body as JSON. Numbers are decoded as json.Number.
func (r *Response) JSONAsync(ctx context.Context) *Future[interface{}] {
	return goAsync(ctx, r.json)
}

// JSON is the blocking form of JSONAsync.
func (r *Response) JSON(ctx context.Context) (interface{}, error) {
	return block(ctx, r.JSONAsync)
}

// TextAsync decodes the body as text using the charset declared in the
// Content-Type header, UTF-8 when none is declared.
func (r *Response) TextAsync(ctx context.Context) *Future[string] {
	return goAsync(ctx, r.text)
}

// Text is the blocking form of TextAsync.
func (r *Response) Text(ctx context.Context) (string, error) {
	return block(ctx, r.TextAsync)
}

func (r *Response) read(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buffered {
		return r.body, nil
	}

	body, err := r.content.read(ctx, -1)
	if err != nil {
		return nil, err
	}

	_ = r.resp.Body.Close()

	r.body = body
	r.buffered = true

	return body, nil
}

func (r *Response) json(ctx context.Context) (interface{}, error) {
	body, err := r.read(ctx)
	if err != nil {
		return nil, err
	}

	return decodeJSON(body)
}

func (r *Response) text(ctx context.Context) (string, error) {
	body, err := r.read(ctx)
	if err != nil {
		return "", err
	}

	return decodeText(body, r.resp.Header.Get(constants.HeaderContentType)), nil
}

func decodeJSON(data []byte) (interface{}, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var value interface{}

	err := decoder.Decode(&value)
	if err != nil {
		return nil, fmt.Errorf("decoding JSON response: %w", err)
	}

	return value, nil
}

// decodeText converts body to a string. Undeclared, unknown or undecodable
// charsets fall back to the raw bytes.
func decodeText(body []byte, contentType string) string {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return string(body)
	}

	charset := strings.TrimSpace(params["charset"])
	if charset == "" || strings.EqualFold(charset, "utf-8") {
		return string(body)
	}

	encoding, err := htmlindex.Get(charset)
	if err != nil {
		return string(body)
	}

	decoded, err := encoding.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}

	return string(decoded)
}
