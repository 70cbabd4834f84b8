package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSONRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"echo":"` + in["value"] + `"}`))
	}))
	defer srv.Close()

	c, err := NewAPIClient("", time.Second)
	require.NoError(t, err)

	var out struct {
		Echo string `json:"echo"`
	}
	require.NoError(t, c.PostJSON(context.Background(), srv.URL, map[string]string{"value": "4821"}, &out))
	assert.Equal(t, "4821", out.Echo)
}

func TestFetchReturnsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c, err := NewAPIClient("", time.Second)
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), srv.URL, nil)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Equal(t, "upstream down", string(httpErr.Body))
}

func TestFetchRejectsBothBodies(t *testing.T) {
	c, err := NewAPIClient("", time.Second)
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "http://127.0.0.1", &FetchOptions{Method: http.MethodPost, Body: 1, RawBody: []byte("x")})
	require.Error(t, err)
}

func TestNewAPIClientRejectsBadProxy(t *testing.T) {
	_, err := NewAPIClient("://bad", time.Second)
	require.Error(t, err)
}
