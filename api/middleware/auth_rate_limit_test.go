package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	pkgerrors "github.com/lendkeep/lendkeep-backend/pkg/errors"
)

type fakeRateStore struct {
	counts map[string]int64
	err    error
}

func newFakeRateStore() *fakeRateStore {
	return &fakeRateStore{counts: map[string]int64{}}
}

func (s *fakeRateStore) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.counts[key]++
	return s.counts[key], nil
}

func loginRequest(email, ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"`+email+`","password":"pw"}`))
	if ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}
	return req
}

func TestAuthRateLimitBlocksIPAfterLimit(t *testing.T) {
	store := newFakeRateStore()
	policy := NewAuthRateLimitPolicy("login", time.Minute, 2, 0)
	calls := 0
	handler := AuthRateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, loginRequest("member@example.com", "203.0.113.7"))
	}

	if calls != 2 {
		t.Fatalf("expected 2 requests through, got %d", calls)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 but got %d", last.Code)
	}
	if code := decodeErrorCode(t, last); code != string(pkgerrors.CodeRateLimit) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestAuthRateLimitTracksEmailAcrossIPs(t *testing.T) {
	store := newFakeRateStore()
	policy := NewAuthRateLimitPolicy("login", time.Minute, 0, 1)
	calls := 0
	handler := AuthRateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, loginRequest("member@example.com", "203.0.113.7"))

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, loginRequest("MEMBER@example.com", "198.51.100.9"))

	if calls != 1 {
		t.Fatalf("expected only the first attempt through, got %d", calls)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 but got %d", second.Code)
	}
}

func TestAuthRateLimitSeparatesIPs(t *testing.T) {
	store := newFakeRateStore()
	policy := NewAuthRateLimitPolicy("login", time.Minute, 1, 0)
	calls := 0
	handler := AuthRateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	for _, ip := range []string{"203.0.113.7", "198.51.100.9"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, loginRequest("member@example.com", ip))
		if w.Code != http.StatusOK {
			t.Fatalf("expected request from %s through, got %d", ip, w.Code)
		}
	}

	if calls != 2 {
		t.Fatalf("expected both IPs through, got %d", calls)
	}
}

func TestAuthRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	store := newFakeRateStore()
	policy := NewAuthRateLimitPolicy("login", 0, 5, 5)
	calls := 0
	handler := AuthRateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, loginRequest("member@example.com", "203.0.113.7"))
	}

	if calls != 3 {
		t.Fatalf("expected all requests through, got %d", calls)
	}
	if len(store.counts) != 0 {
		t.Fatalf("expected no counters when disabled, got %v", store.counts)
	}
}

func TestAuthRateLimitStoreFailureReturnsDependencyError(t *testing.T) {
	store := newFakeRateStore()
	store.err = fmt.Errorf("redis down")
	policy := NewAuthRateLimitPolicy("login", time.Minute, 1, 0)
	handler := AuthRateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run when the store is unreachable")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("member@example.com", "203.0.113.7"))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 but got %d", w.Code)
	}
}
