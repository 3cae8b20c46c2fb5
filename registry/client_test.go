package registry

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testServer emulates the artifact store API backed by an InMemory registry
func testServer(t *testing.T, backend *InMemory) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/artifacts/", func(w http.ResponseWriter, r *http.Request) {
		tag := strings.TrimPrefix(r.URL.Path, "/v2/artifacts/")
		switch r.Method {
		case http.MethodPut:
			content, _ := io.ReadAll(r.Body)
			err := backend.Push(r.Context(), &Artifact{
				Tag:      tag,
				Revision: r.Header.Get(headerRevision),
				Content:  content,
			})
			switch err {
			case nil:
				w.WriteHeader(http.StatusCreated)
			case ErrTagImmutable:
				w.WriteHeader(http.StatusConflict)
			default:
				w.WriteHeader(http.StatusInternalServerError)
			}
		case http.MethodGet:
			artifact, err := backend.Pull(r.Context(), tag)
			if err != nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set(headerRevision, artifact.Revision)
			w.Header().Set(headerDigest, artifact.Digest)
			_, _ = w.Write(artifact.Content)
		}
	})
	mux.HandleFunc("/v2/tags", func(w http.ResponseWriter, r *http.Request) {
		tags, _ := backend.Tags(r.Context())
		_ = json.NewEncoder(w).Encode(map[string][]string{"tags": tags})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientPushPull(t *testing.T) {
	backend := NewInMemory()
	srv := testServer(t, backend)
	client, err := NewClient(srv.URL, ClientOpts{})
	require.NoError(t, err)
	ctx := t.Context()

	artifact := &Artifact{Tag: "abc1234-0011223344556677", Revision: "abc1234def", Content: []byte("layer data")}
	require.NoError(t, client.Push(ctx, artifact))

	pulled, err := client.Pull(ctx, artifact.Tag)
	require.NoError(t, err)
	assert.Equal(t, "abc1234def", pulled.Revision)
	assert.Equal(t, []byte("layer data"), pulled.Content)
}

func TestClientPushConflict(t *testing.T) {
	backend := NewInMemory()
	srv := testServer(t, backend)
	client, err := NewClient(srv.URL, ClientOpts{})
	require.NoError(t, err)
	ctx := t.Context()

	require.NoError(t, client.Push(ctx, &Artifact{Tag: "v1", Content: []byte("content")}))
	err = client.Push(ctx, &Artifact{Tag: "v1", Content: []byte("other content")})
	assert.ErrorIs(t, err, ErrTagImmutable)
}

func TestClientPullNotFound(t *testing.T) {
	srv := testServer(t, NewInMemory())
	client, err := NewClient(srv.URL, ClientOpts{})
	require.NoError(t, err)

	_, err = client.Pull(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrTagNotFound)
}

func TestClientAuthFailureIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, ClientOpts{})
	require.NoError(t, err)

	err = client.Push(t.Context(), &Artifact{Tag: "v1", Content: []byte("content")})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, IsPermanent(err))
}

func TestClientTagsCached(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/tags" {
			hits.Add(1)
			_ = json.NewEncoder(w).Encode(map[string][]string{"tags": {"v1", "v2"}})
		}
	}))
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, ClientOpts{})
	require.NoError(t, err)
	ctx := t.Context()

	tags, err := client.Tags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, tags)

	_, err = client.Tags(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())
}
