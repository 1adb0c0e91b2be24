package matrix

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSyncRequestParams(t *testing.T) {
	var gotQuery map[string][]string
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"next_batch":"s123"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-token", "@alice:example.com", 5*time.Second)
	resp, err := client.Sync(context.Background(), "s100", 30*time.Second, "filter-1")
	if err != nil {
		t.Fatalf("Sync() returned error: %v", err)
	}

	if resp.NextBatch != "s123" {
		t.Errorf("Expected next_batch 's123', got %s", resp.NextBatch)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Expected bearer auth header, got %q", gotAuth)
	}

	params := map[string]string{
		"since":        "s100",
		"timeout":      "30000",
		"filter":       "filter-1",
		"set_presence": "offline",
	}
	for key, want := range params {
		values := gotQuery[key]
		if len(values) != 1 || values[0] != want {
			t.Errorf("Expected query param %s=%s, got %v", key, want, values)
		}
	}
}

func TestSyncInitialRequestOmitsSinceAndTimeout(t *testing.T) {
	var gotQuery map[string][]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"next_batch":"s1"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "token", "", 0)
	if _, err := client.Sync(context.Background(), "", 0, ""); err != nil {
		t.Fatalf("Sync() returned error: %v", err)
	}

	if _, ok := gotQuery["since"]; ok {
		t.Error("Expected initial sync to omit since param")
	}
	if _, ok := gotQuery["timeout"]; ok {
		t.Error("Expected initial sync to omit timeout param")
	}
}

func TestSyncUnknownToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errcode":"M_UNKNOWN_TOKEN","error":"Invalid access token"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "bad-token", "", 0)
	_, err := client.Sync(context.Background(), "", 0, "")
	if err == nil {
		t.Fatal("Expected error for 401 response")
	}

	var matrixErr *Error
	if !errors.As(err, &matrixErr) {
		t.Fatalf("Expected *Error, got %T: %v", err, err)
	}
	if matrixErr.Code != ErrCodeUnknownToken {
		t.Errorf("Expected errcode %s, got %s", ErrCodeUnknownToken, matrixErr.Code)
	}
	if matrixErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", matrixErr.StatusCode)
	}
	if !IsUnknownToken(err) {
		t.Error("Expected IsUnknownToken to report true")
	}
}

func TestSyncRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"errcode":"M_LIMIT_EXCEEDED","error":"Too Many Requests","retry_after_ms":2500}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "token", "", 0)
	_, err := client.Sync(context.Background(), "s1", 0, "")
	if err == nil {
		t.Fatal("Expected error for 429 response")
	}

	if IsUnknownToken(err) {
		t.Error("Rate limit must not be classified as fatal")
	}
	if got := RetryAfter(err); got != 2500*time.Millisecond {
		t.Errorf("Expected RetryAfter 2.5s, got %v", got)
	}
}

func TestRetryAfterCap(t *testing.T) {
	err := &Error{StatusCode: 429, Code: ErrCodeLimitExceeded, RetryAfterMs: int((10 * time.Minute).Milliseconds())}
	if got := RetryAfter(err); got != maxRetryAfter {
		t.Errorf("Expected RetryAfter capped at %v, got %v", maxRetryAfter, got)
	}
}

func TestWhoAmI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_matrix/client/v3/account/whoami" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"user_id":"@alice:example.com","device_id":"DEV1"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "token", "", 0)
	userID, err := client.WhoAmI(context.Background())
	if err != nil {
		t.Fatalf("WhoAmI() returned error: %v", err)
	}
	if userID != "@alice:example.com" {
		t.Errorf("Expected '@alice:example.com', got %s", userID)
	}
}

func TestCleanBaseURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "https://matrix.example.com", "https://matrix.example.com"},
		{"trailing slash", "https://matrix.example.com/", "https://matrix.example.com"},
		{"matrix suffix", "https://matrix.example.com/_matrix/client", "https://matrix.example.com"},
		{"whitespace", "  https://matrix.example.com  ", "https://matrix.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanBaseURL(tt.in); got != tt.want {
				t.Errorf("cleanBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSyncNonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "token", "", 0)
	_, err := client.Sync(context.Background(), "s1", 0, "")
	if err == nil {
		t.Fatal("Expected error for 502 response")
	}

	var matrixErr *Error
	if errors.As(err, &matrixErr) {
		t.Errorf("Expected plain error for non-Matrix body, got *Error: %v", matrixErr)
	}
}
