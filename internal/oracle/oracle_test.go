package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/coinledger/internal/apperr"
)

func newTestClient(url string, retries, threshold int) *Client {
	return NewClient(Options{
		BaseURL:          url,
		Timeout:          time.Second,
		Retries:          retries,
		BreakerThreshold: threshold,
		BreakerReset:     time.Minute,
	}, nil)
}

func TestClient_Quote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("ids") {
		case "bitcoin":
			w.Write([]byte(`{"bitcoin":{"usd":67187.3312}}`))
		case "dogecoin":
			w.Write([]byte(`{"dogecoin":{"usd":0}}`))
		case "garbled":
			w.Write([]byte(`<html>`))
		default:
			w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0, 0)
	ctx := context.Background()

	q, err := c.Quote(ctx, "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, "bitcoin", q.Symbol)
	assert.Equal(t, "67187.3312", q.Price.String())
	assert.False(t, q.FetchedAt.IsZero())

	tests := []struct {
		symbol   string
		expected error
	}{
		{"notacoin", apperr.ErrUnknownSymbol},
		{"dogecoin", apperr.ErrOracleUnavailable},
		{"garbled", apperr.ErrOracleUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			_, err := c.Quote(ctx, tt.symbol)
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ripple":{"usd":"0.52"}}`))
	}))
	defer srv.Close()

	q, err := newTestClient(srv.URL, 2, 0).Quote(context.Background(), "ripple")
	require.NoError(t, err)
	assert.Equal(t, "0.52", q.Price.String())
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3, 0).Quote(context.Background(), "ripple")
	assert.ErrorIs(t, err, apperr.ErrOracleUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Quote(ctx, "bitcoin")
		assert.ErrorIs(t, err, apperr.ErrOracleUnavailable)
	}
	assert.Equal(t, StateOpen, c.breaker.State())

	_, err := c.Quote(ctx, "bitcoin")
	assert.ErrorIs(t, err, apperr.ErrOracleUnavailable)
	assert.True(t, errors.Is(err, ErrOpen))
	assert.Equal(t, int32(2), calls.Load(), "open breaker must not reach the server")
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url, 0, 0).Quote(context.Background(), "bitcoin")
	assert.ErrorIs(t, err, apperr.ErrOracleUnavailable)
}
