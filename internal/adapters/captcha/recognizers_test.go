package captcha

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adhttp "github.com/ohmynofan/luckywheel-bot/internal/adapters/http"
)

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "c.png")
	require.NoError(t, os.WriteFile(path, []byte("fake-png"), 0o600))
	return path
}

func apiClient(t *testing.T) *adhttp.APIClient {
	t.Helper()
	c, err := adhttp.NewAPIClient("", 5*time.Second)
	require.NoError(t, err)
	return c
}

func TestTwoCaptchaImageToText(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case createTaskPath:
			var task twoImageTask
			require.NoError(t, json.Unmarshal(req["task"], &task))
			assert.Equal(t, imageToTextTask, task.Type)
			assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("fake-png")), task.Body)
			assert.Equal(t, 1, task.Numeric)
			_, _ = w.Write([]byte(`{"errorId":0,"taskId":77}`))
		case getResultPath:
			if polls.Add(1) == 1 {
				_, _ = w.Write([]byte(`{"errorId":0,"status":"processing"}`))
				return
			}
			_, _ = w.Write([]byte(`{"errorId":0,"status":"ready","solution":{"text":"4821"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tc := NewTwoCaptcha(apiClient(t), "key")
	tc.baseURL = srv.URL
	tc.waitInterval = time.Millisecond

	text, err := tc.Recognize(context.Background(), writeImage(t))
	require.NoError(t, err)
	assert.Equal(t, "4821", text)
	assert.Equal(t, int32(2), polls.Load())
}

func TestTwoCaptchaZeroBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errorId":10,"errorCode":"ERROR_ZERO_BALANCE"}`))
	}))
	defer srv.Close()

	tc := NewTwoCaptcha(apiClient(t), "key")
	tc.baseURL = srv.URL

	_, err := tc.Recognize(context.Background(), writeImage(t))
	require.ErrorIs(t, err, ErrZeroBalance)
}

func TestTwoCaptchaRequiresKey(t *testing.T) {
	_, err := NewTwoCaptcha(apiClient(t), " ").Recognize(context.Background(), writeImage(t))
	require.Error(t, err)
}

func TestCapSolverSynchronousAnswer(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, createTaskPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errorId":0,"status":"ready","solution":{"text":"0931"}}`))
	}))
	defer srv.Close()

	cs := NewCapSolver(apiClient(t), "key")
	cs.baseURL = srv.URL

	text, err := cs.Recognize(context.Background(), writeImage(t))
	require.NoError(t, err)
	assert.Equal(t, "0931", text)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCapSolverPollsUntilReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case createTaskPath:
			_, _ = w.Write([]byte(`{"errorId":0,"taskId":"abc","status":"processing"}`))
		case getResultPath:
			var req capResultReq
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "abc", req.TaskID)
			_, _ = w.Write([]byte(`{"errorId":0,"status":"ready","solution":{"text":"5555"}}`))
		}
	}))
	defer srv.Close()

	cs := NewCapSolver(apiClient(t), "key")
	cs.baseURL = srv.URL
	cs.pollInterval = time.Millisecond

	text, err := cs.Recognize(context.Background(), writeImage(t))
	require.NoError(t, err)
	assert.Equal(t, "5555", text)
}

func TestCapSolverErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errorId":1,"errorCode":"ERROR_ZERO_BALANCE"}`))
	}))
	defer srv.Close()

	cs := NewCapSolver(apiClient(t), "key")
	cs.baseURL = srv.URL

	_, err := cs.Recognize(context.Background(), writeImage(t))
	require.ErrorIs(t, err, ErrZeroBalance)
}
