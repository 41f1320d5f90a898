// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adiadia/session-recorder/internal/auth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestControlTokenAuth(t *testing.T) {
	logger := discardLogger()

	var sawControl bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawControl = auth.IsControl(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("open when control token is not configured", func(t *testing.T) {
		sawControl = false
		req := httptest.NewRequest(http.MethodPost, "/recording/start", nil)
		rec := httptest.NewRecorder()

		ControlTokenAuth("", logger)(next).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
		}
		if !sawControl {
			t.Fatal("expected control flag on context")
		}
	})

	t.Run("rejects missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/recording/start", nil)
		rec := httptest.NewRecorder()

		ControlTokenAuth("control-secret", logger)(next).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d got %d", http.StatusUnauthorized, rec.Code)
		}
		if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
			t.Fatalf("expected WWW-Authenticate header %q got %q", "Bearer", got)
		}
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/recording/start", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()

		ControlTokenAuth("control-secret", logger)(next).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d got %d", http.StatusUnauthorized, rec.Code)
		}
	})

	t.Run("accepts valid token", func(t *testing.T) {
		sawControl = false
		req := httptest.NewRequest(http.MethodPost, "/recording/start", nil)
		req.Header.Set("Authorization", "bearer control-secret")
		rec := httptest.NewRecorder()

		ControlTokenAuth("control-secret", logger)(next).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
		}
		if !sawControl {
			t.Fatal("expected control flag on context")
		}
	})
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{header: "Bearer abc", token: "abc", ok: true},
		{header: "BEARER abc", token: "abc", ok: true},
		{header: "Basic abc", ok: false},
		{header: "Bearer ", ok: false},
		{header: "abc", ok: false},
	}
	for _, tc := range cases {
		token, ok := bearerToken(tc.header)
		if ok != tc.ok || token != tc.token {
			t.Fatalf("bearerToken(%q): expected %q/%v got %q/%v", tc.header, tc.token, tc.ok, token, ok)
		}
	}
}
