package memegen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corkboard-app/corkboard/internal/errs"
)

func generatorFor(t *testing.T, handler http.HandlerFunc) *HTTPGenerator {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	g := NewHTTPGenerator(ts.URL, ts.Client())
	g.delay = time.Millisecond
	return g
}

func TestGenerateSuccess(t *testing.T) {
	t.Parallel()
	g := generatorFor(t, func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "cat in a hat", req.Prompt)
		require.Equal(t, "noir", req.Style)
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://img.example/1.png"})
	})

	url, err := g.Generate(context.Background(), "cat in a hat", "noir")
	require.NoError(t, err)
	require.Equal(t, "https://img.example/1.png", url)
}

func TestGenerateBackendErrorSurfacesMessage(t *testing.T) {
	t.Parallel()
	g := generatorFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":   "model_overloaded",
			"message": "try again in a minute",
		})
	})

	_, err := g.Generate(context.Background(), "cat", "")
	require.Equal(t, errs.GenerationFailed, errs.CodeOf(err))
	require.Contains(t, err.Error(), "try again in a minute")
}

func TestGenerateRejectsNonHTTPURL(t *testing.T) {
	t.Parallel()
	g := generatorFor(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "javascript:alert(1)"})
	})

	_, err := g.Generate(context.Background(), "cat", "")
	require.Equal(t, errs.GenerationFailed, errs.CodeOf(err))
}

func TestGenerateRetriesBoundedly(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	g := generatorFor(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "boom"})
	})

	_, err := g.Generate(context.Background(), "cat", "")
	require.Error(t, err)
	require.Equal(t, int32(generateAttempts), calls.Load())
}

func TestGenerateClientErrorNotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	g := generatorFor(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "prompt rejected"})
	})

	_, err := g.Generate(context.Background(), "cat", "")
	require.Equal(t, errs.GenerationFailed, errs.CodeOf(err))
	require.Contains(t, err.Error(), "prompt rejected")
	require.Equal(t, int32(1), calls.Load(), "client errors must not be retried")
}

func TestGenerateRecoversOnRetry(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	g := generatorFor(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "warming up"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "http://img.example/2.png"})
	})

	url, err := g.Generate(context.Background(), "cat", "")
	require.NoError(t, err)
	require.Equal(t, "http://img.example/2.png", url)
	require.Equal(t, int32(2), calls.Load())
}

func TestGenerateEmptyPrompt(t *testing.T) {
	t.Parallel()
	g := NewHTTPGenerator("http://unused.invalid", nil)
	_, err := g.Generate(context.Background(), "   ", "")
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
}
