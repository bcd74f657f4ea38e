package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	xerrors "NeoGas-Relay/internal/errors"
)

func blockCountServer(t *testing.T, hits *atomic.Int64, count uint32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": count})
	}))
}

func TestNewPoolValidation(t *testing.T) {
	if _, err := NewPool(nil); err == nil {
		t.Fatal("expected error for empty endpoint list")
	}
}

func TestPoolFailover(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	var hits atomic.Int64
	live := blockCountServer(t, &hits, 77)
	defer live.Close()

	pool, err := NewPool([]Config{
		{Endpoint: deadURL, Timeout: time.Second},
		{Endpoint: live.URL, Timeout: time.Second},
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	count, err := pool.GetBlockCount(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 77 {
		t.Fatalf("unexpected count: %d", count)
	}

	// 成功后应固定在可用端点上, 不再回到死端点。
	if _, err := pool.GetBlockCount(context.Background()); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("expected live endpoint to serve both calls, got %d hits", got)
	}
}

func TestPoolNodeErrorDoesNotFailover(t *testing.T) {
	errorSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"code": -101, "message": "Unknown transaction"},
		})
	}))
	defer errorSrv.Close()

	var fallbackHits atomic.Int64
	fallback := blockCountServer(t, &fallbackHits, 1)
	defer fallback.Close()

	pool, err := NewPool([]Config{
		{Endpoint: errorSrv.URL, Timeout: time.Second},
		{Endpoint: fallback.URL, Timeout: time.Second},
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	_, err = pool.GetTransactionHeight(context.Background(), "0xabc")
	if err == nil {
		t.Fatal("expected node error")
	}
	if !IsUnknownTransaction(err) {
		t.Fatalf("node error should pass through unchanged: %v", err)
	}
	if fallbackHits.Load() != 0 {
		t.Fatal("node errors must not trigger endpoint switching")
	}
}

func TestPoolAllEndpointsDown(t *testing.T) {
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	firstURL := first.URL
	first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	secondURL := second.URL
	second.Close()

	pool, err := NewPool([]Config{
		{Endpoint: firstURL, Timeout: time.Second},
		{Endpoint: secondURL, Timeout: time.Second},
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	_, err = pool.GetBlockCount(context.Background())
	if err == nil {
		t.Fatal("expected error when every endpoint is down")
	}
	if xerrors.CodeOf(err) != xerrors.CodeRPCFailure {
		t.Fatalf("unexpected error code: %s", xerrors.CodeOf(err))
	}
	if !xerrors.RetryableError(err) {
		t.Fatal("rpc failures should be retryable")
	}
}
