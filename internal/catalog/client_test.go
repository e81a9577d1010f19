package catalog_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shelf/internal/catalog"
	"shelf/internal/services"
)

func TestSearchReturnsCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("title"); got != "Dune" {
			t.Errorf("unexpected title param %q", got)
		}
		if got := r.URL.Query().Get("author"); got != "Frank Herbert" {
			t.Errorf("unexpected author param %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Errorf("unexpected limit param %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"success": true,
			"results": [
				{"title": "Dune", "authors": ["Frank Herbert"], "isbn": "9780441172719", "cover_url": "https://covers.example/dune.jpg", "publication_year": 1965}
			]
		}`))
	}))
	defer server.Close()

	client, err := catalog.New(server.URL, "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	results, err := client.Search(context.Background(), "Dune", "Frank Herbert")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].ISBN != "9780441172719" {
		t.Fatalf("unexpected results: %#v", results)
	}
}

func TestSearchCapsResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success": true, "results": [
			{"title": "A"}, {"title": "B"}, {"title": "C"}
		]}`))
	}))
	defer server.Close()

	client, err := catalog.New(server.URL, "", catalog.WithMaxResults(2))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	results, err := client.Search(context.Background(), "anything", "")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected results capped at 2, got %d", len(results))
	}
}

func TestSearchEmptyTitleRejected(t *testing.T) {
	client, err := catalog.New("https://catalog.example", "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = client.Search(context.Background(), "  ", "")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSearchStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		marker    error
		retryable bool
	}{
		{"not found", http.StatusNotFound, services.ErrNotFound, false},
		{"rate limited", http.StatusTooManyRequests, services.ErrRateLimited, true},
		{"unavailable", http.StatusServiceUnavailable, services.ErrUnavailable, true},
		{"bad request", http.StatusBadRequest, services.ErrValidation, false},
		{"server error", http.StatusInternalServerError, services.ErrUnavailable, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			client, err := catalog.New(server.URL, "")
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			_, err = client.Search(context.Background(), "anything", "")
			if !errors.Is(err, tc.marker) {
				t.Fatalf("expected %v marker, got %v", tc.marker, err)
			}
			if services.Retryable(err) != tc.retryable {
				t.Fatalf("Retryable(%v) = %v, want %v", err, services.Retryable(err), tc.retryable)
			}
		})
	}
}

func TestSearchRateLimitCarriesRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := catalog.New(server.URL, "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = client.Search(context.Background(), "anything", "")
	if got := services.RetryAfter(err); got != 42*time.Second {
		t.Fatalf("RetryAfter = %v, want 42s", got)
	}
}

func TestSearchEnvelopeErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		marker error
	}{
		{
			"rate limit code",
			`{"success": false, "error": {"code": "RATE_LIMIT_EXCEEDED", "message": "slow down", "retryable": true, "retryAfter": 30}}`,
			services.ErrRateLimited,
		},
		{
			"not found code",
			`{"success": false, "error": {"code": "NOT_FOUND", "message": "no matches", "retryable": false}}`,
			services.ErrNotFound,
		},
		{
			"unavailable code",
			`{"success": false, "error": {"code": "SERVICE_UNAVAILABLE", "message": "maintenance", "retryable": true}}`,
			services.ErrUnavailable,
		},
		{
			"invalid query code",
			`{"success": false, "error": {"code": "INVALID_QUERY", "message": "bad title", "retryable": false}}`,
			services.ErrValidation,
		},
		{
			"failure without detail",
			`{"success": false}`,
			services.ErrTransient,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client, err := catalog.New(server.URL, "")
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			_, err = client.Search(context.Background(), "anything", "")
			if !errors.Is(err, tc.marker) {
				t.Fatalf("expected %v marker, got %v", tc.marker, err)
			}
		})
	}
}

func TestSearchEnvelopeRetryAfterHint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success": false, "error": {"code": "RATE_LIMIT_EXCEEDED", "message": "slow down", "retryable": true, "retryAfter": 30}}`))
	}))
	defer server.Close()

	client, err := catalog.New(server.URL, "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = client.Search(context.Background(), "anything", "")
	if got := services.RetryAfter(err); got != 30*time.Second {
		t.Fatalf("RetryAfter = %v, want 30s", got)
	}
}

func TestSearchSendsAuthorization(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		_, _ = w.Write([]byte(`{"success": true, "results": []}`))
	}))
	defer server.Close()

	client, err := catalog.New(server.URL, "secret")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := client.Search(context.Background(), "anything", ""); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
}
