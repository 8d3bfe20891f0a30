package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCircuitBreakerTransitions(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute}, zaptest.NewLogger(t))
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }

	fail := func() error { return errors.New(errors.ErrorTypeConnectivity, "down") }
	assert.Error(t, cb.Execute(fail))
	assert.Equal(t, "closed", cb.GetState().State)
	assert.Error(t, cb.Execute(fail))
	assert.Equal(t, "open", cb.GetState().State)

	err := cb.Execute(func() error { return nil })
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnectivity))

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, "closed", cb.GetState().State)
}

func TestCircuitBreakerIgnoresPermanentErrors(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1}, nil)
	err := cb.Execute(func() error { return errors.New(errors.ErrorTypeValidation, "bad row") })
	assert.Error(t, err)
	assert.Equal(t, "closed", cb.GetState().State)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
	stats := rl.GetStats()
	assert.Equal(t, int64(1), stats.AllowedRequests)
	assert.Equal(t, int64(1), stats.BlockedRequests)
}

func TestStatusError(t *testing.T) {
	cases := map[int]errors.ErrorType{
		404: errors.ErrorTypeNotFound,
		401: errors.ErrorTypeConfig,
		429: errors.ErrorTypeConnectivity,
		503: errors.ErrorTypeConnectivity,
		504: errors.ErrorTypeTimeout,
		400: errors.ErrorTypeValidation,
	}
	for code, want := range cases {
		err := StatusError("GET", "http://x", &Response{StatusCode: code})
		assert.True(t, errors.IsType(err, want), "status %d", code)
	}
	assert.NoError(t, StatusError("GET", "http://x", &Response{StatusCode: 204}))
}

func TestDoJSON(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "v", r.Header.Get("X-Test"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[{"id":"1"}]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(nil, zaptest.NewLogger(t))
	var out struct {
		Value []map[string]string `json:"value"`
	}
	_, err := c.DoJSON(context.Background(), http.MethodPost, srv.URL, map[string]string{"a": "b"}, &out, map[string]string{"X-Test": "v"})
	require.NoError(t, err)
	require.Len(t, out.Value, 1)
	assert.Equal(t, "1", out.Value[0]["id"])
	assert.Equal(t, int64(1), c.GetStats().TotalRequests)
}

func TestDoReturnsBodyOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such entity", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(nil, nil)
	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	require.NotNil(t, resp)
	assert.Contains(t, string(resp.Body), "no such entity")
}

func TestOAuth2Transport(t *testing.T) {
	var tokenCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			atomic.AddInt32(&tokenCalls, 1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
			return
		}
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPClient(nil, nil)
	cfg := OAuth2Config{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL + "/token"}
	require.NoError(t, cfg.Validate())
	c.HTTP().Transport = NewOAuth2Transport(context.Background(), cfg, &http.Client{Transport: c.HTTP().Transport})

	for i := 0; i < 2; i++ {
		_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL + "/data"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
}
