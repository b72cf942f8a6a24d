package credstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Token:      "registry-token",
		HTTPClient: &http.Client{Timeout: 2 * time.Second},
	}
}

func TestExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer registry-token", r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/passwords/known":
			w.WriteHeader(http.StatusOK)
		case "/passwords/unknown":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	ok, err := c.Exists(context.Background(), "known")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Exists(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Exists(context.Background(), "boom")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAdd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/passwords", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch body["password"] {
		case "fresh":
			w.WriteHeader(http.StatusCreated)
		case "claimed":
			w.WriteHeader(http.StatusConflict)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	require.NoError(t, c.Add(context.Background(), "fresh"))
	assert.ErrorIs(t, c.Add(context.Background(), "claimed"), ErrAlreadyExists)
	assert.ErrorIs(t, c.Add(context.Background(), "boom"), ErrUnavailable)
}

func TestRemove(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)

		switch r.URL.Path {
		case "/passwords/present":
			w.WriteHeader(http.StatusNoContent)
		case "/passwords/absent":
			// Already gone counts as removed.
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	require.NoError(t, c.Remove(context.Background(), "present"))
	require.NoError(t, c.Remove(context.Background(), "absent"))
	assert.ErrorIs(t, c.Remove(context.Background(), "boom"), ErrUnavailable)
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	// Nothing listens here.
	c := newTestClient("http://127.0.0.1:1")

	_, err := c.Exists(context.Background(), "any")
	assert.ErrorIs(t, err, ErrUnavailable)
}
