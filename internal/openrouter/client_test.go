package openrouter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const testKey = "sk-or-v1-0123456789abcdef"

// newTestServer serves canned /auth/key and /credits responses and counts
// requests per endpoint.
func newTestServer(t *testing.T, authCount, creditsCount *atomic.Int64) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/key", func(w http.ResponseWriter, r *http.Request) {
		if authCount != nil {
			authCount.Add(1)
		}
		if r.Header.Get("Authorization") != "Bearer "+testKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"label":"test","usage":1.5,"is_free_tier":true,` +
			`"rate_limit":{"requests":40,"interval":"10s"}}}`))
	})
	mux.HandleFunc("/credits", func(w http.ResponseWriter, r *http.Request) {
		if creditsCount != nil {
			creditsCount.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"total_credits":15.0,"total_usage":1.5}}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetchStatus(t *testing.T) {
	server := newTestServer(t, nil, nil)
	client := NewClient(server.URL)

	status, err := client.FetchStatus(context.Background(), testKey, false)
	if err != nil {
		t.Fatalf("FetchStatus() failed: %v", err)
	}

	if !status.Key.IsFreeTier {
		t.Error("expected free tier")
	}
	if status.Key.RateLimit == nil || status.Key.RateLimit.Requests != 40 {
		t.Errorf("unexpected rate limit: %+v", status.Key.RateLimit)
	}
	if status.Credits.TotalCredits != 15.0 {
		t.Errorf("TotalCredits = %v, want 15.0", status.Credits.TotalCredits)
	}
	if status.Credits.TotalUsage != 1.5 {
		t.Errorf("TotalUsage = %v, want 1.5", status.Credits.TotalUsage)
	}
	if status.RateHeaders != nil {
		t.Errorf("expected no rate headers, got %+v", status.RateHeaders)
	}
	if status.FetchedAt.IsZero() {
		t.Error("FetchedAt should be set")
	}
}

func TestFetchStatus_EmptyKey(t *testing.T) {
	client := NewClient("http://localhost:1")
	if _, err := client.FetchStatus(context.Background(), "", false); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestFetchStatus_Cache(t *testing.T) {
	var authCount, creditsCount atomic.Int64
	server := newTestServer(t, &authCount, &creditsCount)
	client := NewClient(server.URL)

	ctx := context.Background()
	if _, err := client.FetchStatus(ctx, testKey, false); err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	if _, err := client.FetchStatus(ctx, testKey, false); err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}

	if got := authCount.Load(); got != 1 {
		t.Errorf("auth endpoint hit %d times, want 1 (cached)", got)
	}

	// Force refresh bypasses the cache.
	if _, err := client.FetchStatus(ctx, testKey, true); err != nil {
		t.Fatalf("forced fetch failed: %v", err)
	}
	if got := creditsCount.Load(); got != 2 {
		t.Errorf("credits endpoint hit %d times, want 2", got)
	}
}

func TestFetchStatus_FailurePreservesCache(t *testing.T) {
	var failing atomic.Bool
	mux := http.NewServeMux()
	handler := func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if r.URL.Path == "/credits" {
			_, _ = w.Write([]byte(`{"data":{"total_credits":5,"total_usage":1}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"label":"t","is_free_tier":true}}`))
	}
	mux.HandleFunc("/auth/key", handler)
	mux.HandleFunc("/credits", handler)
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL)
	ctx := context.Background()

	if _, err := client.FetchStatus(ctx, testKey, false); err != nil {
		t.Fatalf("initial fetch failed: %v", err)
	}

	// A forced refresh that fails must surface the error to the caller...
	failing.Store(true)
	if _, err := client.FetchStatus(ctx, testKey, true); err == nil {
		t.Fatal("expected error from failing upstream")
	}

	// ...but the still-valid cache entry remains servable.
	status, err := client.FetchStatus(ctx, testKey, false)
	if err != nil {
		t.Fatalf("cached fetch failed: %v", err)
	}
	if status.Credits.TotalCredits != 5 {
		t.Errorf("TotalCredits = %v, want cached 5", status.Credits.TotalCredits)
	}
}

func TestFetchStatus_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		headers    map[string]string
		wantKind   ErrorKind
		retryable  bool
	}{
		{name: "unauthorized", statusCode: 401, wantKind: KindUnauthorized, retryable: false},
		{name: "rate limited", statusCode: 429, headers: map[string]string{"Retry-After": "30"},
			wantKind: KindRateLimited, retryable: true},
		{name: "server error", statusCode: 503, wantKind: KindServerError, retryable: true},
		{name: "other client error", statusCode: 404, wantKind: KindNetwork, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			defer server.Close()

			client := NewClient(server.URL)
			_, err := client.FetchStatus(context.Background(), testKey, false)
			if err == nil {
				t.Fatal("expected error")
			}

			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("expected *StatusError, got %T: %v", err, err)
			}
			if se.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", se.Kind, tt.wantKind)
			}
			if se.Retryable() != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", se.Retryable(), tt.retryable)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", IsRetryable(err), tt.retryable)
			}
			if tt.wantKind == KindRateLimited && se.RetryAfter != 30*time.Second {
				t.Errorf("RetryAfter = %v, want 30s", se.RetryAfter)
			}
		})
	}
}

func TestFetchStatus_RateHeaders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/key", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ratelimit-limit", "20")
		w.Header().Set("x-ratelimit-remaining", "12")
		w.Header().Set("x-ratelimit-reset", "1700000000000")
		_, _ = w.Write([]byte(`{"data":{"label":"t","is_free_tier":true}}`))
	})
	mux.HandleFunc("/credits", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"total_credits":0,"total_usage":0}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL)
	status, err := client.FetchStatus(context.Background(), testKey, false)
	if err != nil {
		t.Fatalf("FetchStatus() failed: %v", err)
	}

	if status.RateHeaders == nil {
		t.Fatal("expected rate headers")
	}
	if status.RateHeaders.Limit != 20 || status.RateHeaders.Remaining != 12 {
		t.Errorf("rate headers = %+v, want limit 20 remaining 12", status.RateHeaders)
	}
	want := time.UnixMilli(1700000000000)
	if !status.RateHeaders.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", status.RateHeaders.ResetAt, want)
	}
}

func TestParseRateHeaders_Incomplete(t *testing.T) {
	h := http.Header{}
	h.Set("x-ratelimit-limit", "20")
	// remaining missing: headers must not count as real-time data
	if got := parseRateHeaders(h); got != nil {
		t.Errorf("parseRateHeaders() = %+v, want nil", got)
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	cache := newTTLCache(30 * time.Second)
	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.set("k", nil)
	if _, ok := cache.get("k"); !ok {
		t.Fatal("expected cache hit")
	}

	now = now.Add(29 * time.Second)
	if _, ok := cache.get("k"); !ok {
		t.Error("entry expired too early")
	}

	now = now.Add(2 * time.Second)
	if _, ok := cache.get("k"); ok {
		t.Error("entry should have expired")
	}
}
