package vt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fivetwenty-io/vt-client/internal/constants"
)

// Chunk is one piece of a response body as delivered by a single read of
// the underlying connection.
type Chunk struct {
	Data []byte
	// EndOfChunk is true when Data ends at a transport read boundary. It is
	// false only for the empty chunk returned at the end of the stream.
	EndOfChunk bool
}

// StreamReader reads a response body incrementally. It never returns an
// APIError: streams carry bytes, not API semantics.
type StreamReader struct {
	mu     sync.Mutex
	reader *bufio.Reader
}

func newStreamReader(body io.Reader) *StreamReader {
	return &StreamReader{reader: bufio.NewReaderSize(body, constants.StreamBufferSize)}
}

// ReadAsync reads up to n bytes, or everything left when n is negative. An
// empty result means the stream is exhausted.
func (s *StreamReader) ReadAsync(ctx context.Context, n int) *Future[[]byte] {
	return goAsync(ctx, func(ctx context.Context) ([]byte, error) {
		return s.read(ctx, n)
	})
}

// Read is the blocking form of ReadAsync.
func (s *StreamReader) Read(ctx context.Context, n int) ([]byte, error) {
	return block(ctx, func(ctx context.Context) *Future[[]byte] {
		return s.ReadAsync(ctx, n)
	})
}

// ReadAnyAsync returns whatever is available, waiting only until at least
// one byte arrives. An empty result means the stream is exhausted.
func (s *StreamReader) ReadAnyAsync(ctx context.Context) *Future[[]byte] {
	return goAsync(ctx, func(ctx context.Context) ([]byte, error) {
		return s.read(ctx, constants.ReadAnySize)
	})
}

// ReadAny is the blocking form of ReadAnyAsync.
func (s *StreamReader) ReadAny(ctx context.Context) ([]byte, error) {
	return block(ctx, s.ReadAnyAsync)
}

// ReadExactlyAsync reads exactly n bytes. If the stream ends first the bytes
// read so far are returned with ErrIncompleteRead.
func (s *StreamReader) ReadExactlyAsync(ctx context.Context, n int) *Future[[]byte] {
	return goAsync(ctx, func(ctx context.Context) ([]byte, error) {
		return s.readExactly(ctx, n)
	})
}

// ReadExactly is the blocking form of ReadExactlyAsync.
func (s *StreamReader) ReadExactly(ctx context.Context, n int) ([]byte, error) {
	return block(ctx, func(ctx context.Context) *Future[[]byte] {
		return s.ReadExactlyAsync(ctx, n)
	})
}

// ReadLineAsync reads one line including its trailing newline. The last line
// of a stream may lack the newline; an empty result means the stream is
// exhausted.
func (s *StreamReader) ReadLineAsync(ctx context.Context) *Future[[]byte] {
	return goAsync(ctx, func(ctx context.Context) ([]byte, error) {
		return s.readLine(ctx)
	})
}

// ReadLine is the blocking form of ReadLineAsync.
func (s *StreamReader) ReadLine(ctx context.Context) ([]byte, error) {
	return block(ctx, s.ReadLineAsync)
}

// ReadChunkAsync returns the next chunk of the body.
func (s *StreamReader) ReadChunkAsync(ctx context.Context) *Future[Chunk] {
	return goAsync(ctx, func(ctx context.Context) (Chunk, error) {
		return s.readChunk(ctx)
	})
}

// ReadChunk is the blocking form of ReadChunkAsync.
func (s *StreamReader) ReadChunk(ctx context.Context) (Chunk, error) {
	return block(ctx, s.ReadChunkAsync)
}

func (s *StreamReader) read(ctx context.Context, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	if n < 0 {
		data, err := io.ReadAll(s.reader)
		if err != nil {
			return data, fmt.Errorf("reading stream: %w", err)
		}

		return data, nil
	}

	buf := make([]byte, n)

	read, err := s.reader.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return buf[:read], fmt.Errorf("reading stream: %w", err)
	}

	return buf[:read], nil
}

func (s *StreamReader) readExactly(ctx context.Context, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, n)

	read, err := io.ReadFull(s.reader, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return buf[:read], fmt.Errorf("%w: got %d of %d bytes", ErrIncompleteRead, read, n)
	}

	if err != nil {
		return buf[:read], fmt.Errorf("reading stream: %w", err)
	}

	return buf, nil
}

func (s *StreamReader) readLine(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	line, err := s.reader.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return line, fmt.Errorf("reading stream: %w", err)
	}

	return line, nil
}

func (s *StreamReader) readChunk(ctx context.Context) (Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := ctx.Err()
	if err != nil {
		return Chunk{}, err
	}

	buf := make([]byte, constants.StreamBufferSize)

	read, err := s.reader.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return Chunk{Data: buf[:read]}, fmt.Errorf("reading stream: %w", err)
	}

	if read == 0 {
		return Chunk{Data: []byte{}}, nil
	}

	return Chunk{Data: buf[:read], EndOfChunk: true}, nil
}
