//go:build integration

package integration

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/fivetwenty-io/vt-client/pkg/vt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveFileObject(t *testing.T) {
	client, _ := newClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	file, err := client.GetObject(ctx, "/files/"+eicarSHA256, nil)
	require.NoError(t, err)

	assert.Equal(t, "file", file.Type())
	assert.Equal(t, eicarSHA256, file.ID())

	size, err := file.GetInt64("size")
	require.NoError(t, err)
	assert.Equal(t, int64(68), size)
}

func TestLiveNotFound(t *testing.T) {
	client, _ := newClient(t)

	_, err := client.GetObject(context.Background(), "/files/0000000000000000000000000000000000000000000000000000000000000000", nil)
	require.Error(t, err)
	assert.True(t, vt.IsNotFound(err))
}

func TestLiveWrongCredentials(t *testing.T) {
	cfg := LoadTestConfig()
	if cfg.APIKey == "" {
		t.Skip("VT_APIKEY not set")
	}

	client, err := vt.NewClient("invalid-key")
	require.NoError(t, err)

	defer func() { _ = client.Close() }()

	_, err = client.GetData(context.Background(), "/users/me", nil)
	require.Error(t, err)
	assert.True(t, vt.IsWrongCredentials(err))
}

func TestLiveCommentsIterator(t *testing.T) {
	client, _ := newClient(t)

	it, err := client.Iterator("/files/"+eicarSHA256+"/comments", &vt.IteratorOptions{Limit: 3, BatchSize: 2})
	require.NoError(t, err)

	for {
		comment, err := it.Next(context.Background())
		if errors.Is(err, vt.ErrNoMoreItems) {
			break
		}

		require.NoError(t, err)
		assert.Equal(t, "comment", comment.Type())
	}

	assert.LessOrEqual(t, it.Count(), 3)
}

func TestLiveDownload(t *testing.T) {
	client, cfg := newClient(t)
	if !cfg.Premium {
		t.Skip("downloads need a premium API key, set VT_PREMIUM=true")
	}

	written, err := client.DownloadFile(context.Background(), eicarSHA256, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, int64(68), written)
}
