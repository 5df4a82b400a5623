package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
)

func TestStaticResolve(t *testing.T) {
	s := NewStatic()
	s.Add("tok-a", User{ID: "a", Name: "Alice"})

	u, err := s.Resolve(context.Background(), "tok-a")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if u.ID != "a" || u.Name != "Alice" {
		t.Fatalf("got %+v", u)
	}

	if _, err := s.Resolve(context.Background(), "nope"); !errors.Is(err, roomdto.ErrAuthenticationRequired) {
		t.Fatalf("unknown token: %v", err)
	}
	// Whitespace around the token is not significant.
	if _, err := s.Resolve(context.Background(), "  tok-a "); err != nil {
		t.Fatalf("trimmed token: %v", err)
	}
}

func TestHTTPProviderResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session" {
			http.NotFound(w, r)
			return
		}
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"u1","name":"Alice"}`))
		case "Bearer anon":
			_, _ = w.Write([]byte(`{"id":"","name":""}`))
		case "Bearer expired":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	ctx := context.Background()

	u, err := p.Resolve(ctx, "good")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if u.ID != "u1" || u.Name != "Alice" {
		t.Fatalf("got %+v", u)
	}

	if _, err := p.Resolve(ctx, "expired"); !errors.Is(err, roomdto.ErrAuthenticationRequired) {
		t.Fatalf("401: %v", err)
	}
	if _, err := p.Resolve(ctx, "anon"); !errors.Is(err, roomdto.ErrAuthenticationRequired) {
		t.Fatalf("empty id: %v", err)
	}
	if _, err := p.Resolve(ctx, ""); !errors.Is(err, roomdto.ErrAuthenticationRequired) {
		t.Fatalf("blank token: %v", err)
	}
	if _, err := p.Resolve(ctx, "broken"); err == nil || errors.Is(err, roomdto.ErrAuthenticationRequired) {
		t.Fatalf("5xx must not map to auth error: %v", err)
	}
}

func TestHTTPProviderHeaderProvider(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Service-Key")
		_, _ = w.Write([]byte(`{"id":"u1","name":"Alice"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, WithHeaderProvider(func() map[string]string {
		return map[string]string{"X-Service-Key": "secret", "": "dropped"}
	}))
	if _, err := p.Resolve(context.Background(), "good"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if seen != "secret" {
		t.Fatalf("header not sent, got %q", seen)
	}
}
