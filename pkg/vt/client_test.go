package vt_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/fivetwenty-io/vt-client/pkg/vt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-api-key"

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...vt.Option) (*vt.Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]vt.Option{vt.WithHost(server.URL), vt.WithAgent("unit-test")}, opts...)

	client, err := vt.NewClient(testAPIKey, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client, server
}

func writeJSON(t *testing.T, writer http.ResponseWriter, status int, body string) {
	t.Helper()

	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_, err := writer.Write([]byte(body))
	assert.NoError(t, err)
}

const fileObjectJSON = `{"data":{"type":"file","id":"44d88612","attributes":{"size":68,"meaningful_name":"eicar.com","last_analysis_stats":{"malicious":60}},"links":{"self":"x"}}}`

func TestNewClient(t *testing.T) {
	t.Parallel()

	t.Run("requires an API key", func(t *testing.T) {
		t.Parallel()

		client, err := vt.NewClient("")
		require.ErrorIs(t, err, vt.ErrAPIKeyRequired)
		require.ErrorIs(t, err, vt.ErrValidation)
		assert.Nil(t, client)

		client, err = vt.NewClientFromConfig(nil)
		require.ErrorIs(t, err, vt.ErrAPIKeyRequired)
		assert.Nil(t, client)
	})

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		client, err := vt.NewClient("key")
		require.NoError(t, err)

		assert.Equal(t, "https://www.virustotal.com", client.Host())
		assert.Equal(t, "unknown", client.Agent())
		assert.Equal(t, "unknown; vtgo "+vt.Version+"; gzip", client.UserAgent())
	})

	t.Run("URL resolution", func(t *testing.T) {
		t.Parallel()

		client, err := vt.NewClientFromConfig(&vt.Config{APIKey: "key", Host: "https://vt.example.com/"})
		require.NoError(t, err)

		assert.Equal(t, "https://vt.example.com/api/v3/files/abc", client.URL("/files/abc"))
		assert.Equal(t, "https://other.example.com/x", client.URL("https://other.example.com/x"))
		assert.Equal(t, "http://other.example.com/x", client.URL("http://other.example.com/x"))
	})
}

func TestClient_SessionHeaders(t *testing.T) {
	t.Parallel()

	var captured http.Header

	client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
		captured = request.Header.Clone()
		assert.Equal(t, "/api/v3/users/me", request.URL.Path)
		writeJSON(t, writer, http.StatusOK, `{"data":{}}`)
	})

	_, err := client.GetData(context.Background(), "/users/me", nil)
	require.NoError(t, err)

	assert.Equal(t, testAPIKey, captured.Get("X-Apikey"))
	assert.Equal(t, "gzip", captured.Get("Accept-Encoding"))
	assert.Equal(t, "unit-test; vtgo "+vt.Version+"; gzip", captured.Get("User-Agent"))
}

func TestClient_Get(t *testing.T) {
	t.Parallel()

	t.Run("query parameters", func(t *testing.T) {
		t.Parallel()

		client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
			assert.Equal(t, "evil.com", request.URL.Query().Get("query"))
			writeJSON(t, writer, http.StatusOK, `{"data":[]}`)
		})

		resp, err := client.Get(context.Background(), "/intelligence/search", url.Values{"query": {"evil.com"}})
		require.NoError(t, err)

		defer func() { _ = resp.Close() }()

		assert.Equal(t, http.StatusOK, resp.StatusCode())
	})

	t.Run("raw response is returned whatever the status", func(t *testing.T) {
		t.Parallel()

		client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
			writeJSON(t, writer, http.StatusNotFound, `{"error":{"code":"NotFoundError"}}`)
		})

		resp, err := client.Get(context.Background(), "/files/missing", nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode())

		body, err := resp.Read(context.Background())
		require.NoError(t, err)
		assert.JSONEq(t, `{"error":{"code":"NotFoundError"}}`, string(body))
	})

	t.Run("absolute URL is used verbatim", func(t *testing.T) {
		t.Parallel()

		other := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			assert.Equal(t, "/elsewhere", request.URL.Path)
			writeJSON(t, writer, http.StatusOK, `{"data":"ok"}`)
		}))
		defer other.Close()

		client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
			t.Error("relative host must not be used")
		})

		data, err := client.GetData(context.Background(), other.URL+"/elsewhere", nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", data)
	})

	t.Run("gzip response is decoded", func(t *testing.T) {
		t.Parallel()

		client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
			var buf bytes.Buffer

			gz := gzip.NewWriter(&buf)
			_, _ = gz.Write([]byte(fileObjectJSON))
			_ = gz.Close()

			writer.Header().Set("Content-Encoding", "gzip")
			writer.Header().Set("Content-Type", "application/json")
			_, _ = writer.Write(buf.Bytes())
		})

		obj, err := client.GetObject(context.Background(), "/files/44d88612", nil)
		require.NoError(t, err)
		assert.Equal(t, "44d88612", obj.ID())
	})
}

func TestClient_GetError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   *vt.APIError
	}{
		{name: "200 with any body", status: http.StatusOK, body: "not json at all"},
		{name: "200 with error envelope", status: http.StatusOK, body: `{"error":{"code":"NotFoundError"}}`},
		{
			name:   "404 structured",
			status: http.StatusNotFound,
			body:   `{"error":{"code":"NotFoundError","message":"x"}}`,
			want:   &vt.APIError{Code: "NotFoundError", Message: "x"},
		},
		{
			name:   "403 non-JSON",
			status: http.StatusForbidden,
			body:   "<html>forbidden</html>",
			want:   &vt.APIError{Code: "ClientError", Message: "<html>forbidden</html>"},
		},
		{
			name:   "403 structure-less JSON",
			status: http.StatusForbidden,
			body:   `{"message":"nope"}`,
			want:   &vt.APIError{Code: "ClientError", Message: `{"message":"nope"}`},
		},
		{
			name:   "429 quota",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"code":"QuotaExceededError","message":"Quota exceeded"}}`,
			want:   &vt.APIError{Code: "QuotaExceededError", Message: "Quota exceeded"},
		},
		{
			name:   "503 with structured body",
			status: http.StatusServiceUnavailable,
			body:   `{"error":{"code":"TransientError"}}`,
			want:   &vt.APIError{Code: "ServerError", Message: `{"error":{"code":"TransientError"}}`},
		},
		{
			name:   "500 plain",
			status: http.StatusInternalServerError,
			body:   "boom",
			want:   &vt.APIError{Code: "ServerError", Message: "boom"},
		},
		{
			name:   "204 is not a success",
			status: http.StatusNoContent,
			body:   "",
			want:   &vt.APIError{Code: "ServerError", Message: ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
				writer.WriteHeader(tt.status)
				_, _ = writer.Write([]byte(tt.body))
			})

			ctx := context.Background()

			resp, err := client.Get(ctx, "/files/x", nil)
			require.NoError(t, err)

			apiErr, err := client.GetError(ctx, resp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, apiErr)

			asyncResp, err := client.GetAsync(ctx, "/files/x", nil).Await(ctx)
			require.NoError(t, err)

			asyncErr, err := client.GetErrorAsync(ctx, asyncResp).Await(ctx)
			require.NoError(t, err)
			assert.Equal(t, apiErr, asyncErr)

			// The classified body stays readable.
			body, err := resp.Read(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(body))
		})
	}
}

func TestClient_GetJSON(t *testing.T) {
	t.Parallel()

	t.Run("numbers are json.Number", func(t *testing.T) {
		t.Parallel()

		client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
			writeJSON(t, writer, http.StatusOK, `{"data":{"count":12345678901234}}`)
		})

		fields, err := client.GetJSON(context.Background(), "/x", nil)
		require.NoError(t, err)

		data, ok := fields["data"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, json.Number("12345678901234"), data["count"])
	})

	t.Run("non-object body", func(t *testing.T) {
		t.Parallel()

		client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
			writeJSON(t, writer, http.StatusOK, `[1,2,3]`)
		})

		_, err := client.GetJSON(context.Background(), "/x", nil)
		require.ErrorIs(t, err, vt.ErrNotAMap)
	})

	t.Run("error status is an APIError", func(t *testing.T) {
		t.Parallel()

		client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
			writeJSON(t, writer, http.StatusUnauthorized, `{"error":{"code":"WrongCredentialsError","message":"Wrong API key"}}`)
		})

		_, err := client.GetJSON(context.Background(), "/x", nil)
		require.Error(t, err)
		assert.True(t, vt.IsWrongCredentials(err))

		var apiErr *vt.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "Wrong API key", apiErr.Message)
	})
}

func TestClient_GetData(t *testing.T) {
	t.Parallel()

	t.Run("any data shape", func(t *testing.T) {
		t.Parallel()

		client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
			writeJSON(t, writer, http.StatusOK, `{"data":["a","b"]}`)
		})

		data, err := client.GetData(context.Background(), "/x", nil)
		require.NoError(t, err)
		assert.Equal(t, []interface{}{"a", "b"}, data)
	})

	t.Run("missing data field", func(t *testing.T) {
		t.Parallel()

		client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
			writeJSON(t, writer, http.StatusOK, `{"meta":{}}`)
		})

		_, err := client.GetData(context.Background(), "/x", nil)
		require.ErrorIs(t, err, vt.ErrNoDataField)
		require.ErrorIs(t, err, vt.ErrValidation)

		_, err = client.GetObject(context.Background(), "/x", nil)
		require.ErrorIs(t, err, vt.ErrNoDataField)
	})
}

func TestClient_GetObject(t *testing.T) {
	t.Parallel()

	t.Run("decodes the object", func(t *testing.T) {
		t.Parallel()

		client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
			writeJSON(t, writer, http.StatusOK, fileObjectJSON)
		})

		obj, err := client.GetObject(context.Background(), "/files/44d88612", nil)
		require.NoError(t, err)

		assert.Equal(t, "file", obj.Type())
		assert.Equal(t, []string{"size", "meaningful_name", "last_analysis_stats"}, obj.Attributes())

		name, err := obj.GetString("meaningful_name")
		require.NoError(t, err)
		assert.Equal(t, "eicar.com", name)
	})

	t.Run("data is not an object", func(t *testing.T) {
		t.Parallel()

		client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
			writeJSON(t, writer, http.StatusOK, `{"data":{"type":"file"}}`)
		})

		_, err := client.GetObject(context.Background(), "/files/x", nil)
		require.ErrorIs(t, err, vt.ErrNotAnObject)
		require.ErrorIs(t, err, vt.ErrMissingField)
		assert.Contains(t, err.Error(), "/files/x")
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()

		client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
			writeJSON(t, writer, http.StatusNotFound, `{"error":{"code":"NotFoundError","message":"File not found"}}`)
		})

		obj, err := client.GetObject(context.Background(), "/files/x", nil)
		assert.Nil(t, obj)
		assert.True(t, vt.IsNotFound(err))
	})
}

func TestClient_Mutations(t *testing.T) {
	t.Parallel()

	t.Run("post object sends the data envelope", func(t *testing.T) {
		t.Parallel()

		client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
			assert.Equal(t, http.MethodPost, request.Method)
			assert.Equal(t, "/api/v3/files/abc/comments", request.URL.Path)
			assert.Equal(t, "application/json", request.Header.Get("Content-Type"))

			body, err := io.ReadAll(request.Body)
			assert.NoError(t, err)
			assert.JSONEq(t, `{"data":{"type":"comment","attributes":{"text":"#malware"}}}`, string(body))

			writeJSON(t, writer, http.StatusOK, `{"data":{"type":"comment","id":"c-1","attributes":{"text":"#malware","tags":["malware"]}}}`)
		})

		comment := vt.NewObject("comment", "", map[string]interface{}{"text": "#malware"})

		created, err := client.PostObject(context.Background(), "/files/abc/comments", comment)
		require.NoError(t, err)
		assert.Equal(t, "c-1", created.ID())

		tags, err := created.GetSlice("tags")
		require.NoError(t, err)
		assert.Equal(t, []interface{}{"malware"}, tags)
	})

	t.Run("patch object", func(t *testing.T) {
		t.Parallel()

		client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
			assert.Equal(t, http.MethodPatch, request.Method)
			writeJSON(t, writer, http.StatusOK, `{"data":{"type":"hunting_ruleset","id":"r1","attributes":{"enabled":false}}}`)
		})

		ruleset := vt.NewObject("hunting_ruleset", "r1", map[string]interface{}{"enabled": false})

		updated, err := client.PatchObjectAsync(context.Background(), "/intelligence/hunting_rulesets/r1", ruleset).Await(context.Background())
		require.NoError(t, err)

		enabled, err := updated.GetBool("enabled")
		require.NoError(t, err)
		assert.False(t, enabled)
	})

	t.Run("raw verbs", func(t *testing.T) {
		t.Parallel()

		var methods []string

		client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
			methods = append(methods, request.Method)

			body, _ := io.ReadAll(request.Body)
			if request.Method == http.MethodDelete {
				assert.Empty(t, body)
			}

			writer.WriteHeader(http.StatusOK)
		})

		ctx := context.Background()

		resp, err := client.Post(ctx, "/x", []byte("raw"))
		require.NoError(t, err)
		require.NoError(t, resp.Close())

		resp, err = client.Patch(ctx, "/x", nil)
		require.NoError(t, err)
		require.NoError(t, resp.Close())

		resp, err = client.Delete(ctx, "/x")
		require.NoError(t, err)
		require.NoError(t, resp.Close())

		assert.Equal(t, []string{http.MethodPost, http.MethodPatch, http.MethodDelete}, methods)
	})
}

func TestClient_DownloadFile(t *testing.T) {
	t.Parallel()

	t.Run("arbitrary chunk boundaries", func(t *testing.T) {
		t.Parallel()

		content := make([]byte, 3*1024*1024+123)
		_, err := rand.Read(content)
		require.NoError(t, err)

		client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
			assert.Equal(t, "/api/v3/files/abc/download", request.URL.Path)

			flusher, ok := writer.(http.Flusher)
			if !ok {
				t.Error("response writer cannot flush")

				return
			}

			sizes := []int{1, 7, 65536, 1024*1024 + 3, 999}
			offset := 0

			for i := 0; offset < len(content); i++ {
				end := min(offset+sizes[i%len(sizes)], len(content))
				_, _ = writer.Write(content[offset:end])
				flusher.Flush()
				offset = end
			}
		})

		var sink bytes.Buffer

		written, err := client.DownloadFile(context.Background(), "abc", &sink)
		require.NoError(t, err)
		assert.Equal(t, int64(len(content)), written)
		assert.Equal(t, content, sink.Bytes())
	})

	t.Run("error response writes nothing", func(t *testing.T) {
		t.Parallel()

		client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
			writeJSON(t, writer, http.StatusNotFound, `{"error":{"code":"NotFoundError","message":"File not found"}}`)
		})

		var sink bytes.Buffer

		written, err := client.DownloadFileAsync(context.Background(), "abc", &sink).Await(context.Background())
		assert.True(t, vt.IsNotFound(err))
		assert.Zero(t, written)
		assert.Zero(t, sink.Len())
	})
}

func TestClient_DualForms(t *testing.T) {
	t.Parallel()

	responses := map[string]struct {
		status int
		body   string
	}{
		"/api/v3/ok":       {http.StatusOK, fileObjectJSON},
		"/api/v3/missing":  {http.StatusNotFound, `{"error":{"code":"NotFoundError","message":"x"}}`},
		"/api/v3/broken":   {http.StatusBadGateway, "bad gateway"},
		"/api/v3/nodata":   {http.StatusOK, `{"meta":{}}`},
		"/api/v3/notafile": {http.StatusOK, `{"data":[1]}`},
	}

	client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
		resp := responses[request.URL.Path]
		writeJSON(t, writer, resp.status, resp.body)
	})

	ctx := context.Background()

	for path := range responses {
		path := strings.TrimPrefix(path, "/api/v3")

		t.Run(path, func(t *testing.T) {
			t.Parallel()

			blockingObj, blockingErr := client.GetObject(ctx, path, nil)
			asyncObj, asyncErr := client.GetObjectAsync(ctx, path, nil).Await(ctx)

			assert.Equal(t, blockingErr == nil, asyncErr == nil)

			if blockingErr != nil {
				assert.Equal(t, blockingErr.Error(), asyncErr.Error())
				assert.Equal(t, vt.ErrorCode(blockingErr), vt.ErrorCode(asyncErr))

				return
			}

			assert.Equal(t, blockingObj.ToMap(), asyncObj.ToMap())
		})
	}
}

func TestClient_BlockingInsideAsync(t *testing.T) {
	t.Parallel()

	var nestedErr atomic.Value

	client, _ := newTestClient(t,
		func(writer http.ResponseWriter, request *http.Request) {
			writeJSON(t, writer, http.StatusOK, `{"data":"ok"}`)
		},
		vt.WithRequestInterceptor(func(ctx context.Context, req *vt.Request) error {
			if req.Path != "/outer" {
				return nil
			}

			assert.True(t, vt.InAsyncScope(ctx))

			_, blockErr := blockingProbe(ctx)
			nestedErr.Store(blockErr)

			return nil
		}),
	)

	ctx := context.Background()
	assert.False(t, vt.InAsyncScope(ctx))

	data, err := client.GetData(ctx, "/outer", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", data)

	stored, ok := nestedErr.Load().(error)
	require.True(t, ok)
	require.ErrorIs(t, stored, vt.ErrBlockingInAsync)
}

// blockingProbe calls a blocking operation of a throwaway client.
func blockingProbe(ctx context.Context) (interface{}, error) {
	client, err := vt.NewClient("k", vt.WithHost("http://127.0.0.1:1"))
	if err != nil {
		return nil, err
	}

	return client.GetData(ctx, "/never", nil)
}

func TestClient_AsyncComposition(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
		calls.Add(1)
		writeJSON(t, writer, http.StatusOK, fileObjectJSON)
	})

	ctx := context.Background()

	futures := make([]*vt.Future[*vt.Object], 5)
	for i := range futures {
		futures[i] = client.GetObjectAsync(ctx, "/files/44d88612", nil)
	}

	for _, future := range futures {
		<-future.Done()

		obj, err := future.Result()
		require.NoError(t, err)
		assert.Equal(t, "44d88612", obj.ID())
	}

	assert.Equal(t, int32(5), calls.Load())
}

func TestClient_Close(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(t, writer, http.StatusOK, `{"data":1}`)
	})

	ctx := context.Background()

	// Closing an unused client is a no-op.
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err := client.GetData(ctx, "/x", nil)
	require.NoError(t, err)

	_, err = client.CloseAsync(ctx).Await(ctx)
	require.NoError(t, err)

	// A closed client reopens its session lazily.
	data, err := client.GetData(ctx, "/x", nil)
	require.NoError(t, err)
	assert.Equal(t, json.Number("1"), data)

	require.NoError(t, client.Close())
}

func TestClient_TransportError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	host := server.URL
	server.Close()

	client, err := vt.NewClient(testAPIKey, vt.WithHost(host))
	require.NoError(t, err)

	_, err = client.Get(context.Background(), "/files/x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GET")
	assert.Empty(t, vt.ErrorCode(err))
}

func TestClient_NoAutomaticRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	client, _ := newTestClient(t, func(writer http.ResponseWriter, request *http.Request) {
		calls.Add(1)
		writer.WriteHeader(http.StatusServiceUnavailable)
		_, _ = writer.Write([]byte("unavailable"))
	})

	_, err := client.GetJSON(context.Background(), "/x", nil)
	assert.True(t, vt.IsServerError(err))
	assert.Equal(t, int32(1), calls.Load())
}
