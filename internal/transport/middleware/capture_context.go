// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/adiadia/session-recorder/internal/auth"
)

const captureContextQueryParam = "context_id"

// CaptureContextIdentity stores the caller's capture context id, taken from
// the X-Capture-Context header or the context_id query parameter.
func CaptureContextIdentity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(auth.HeaderCaptureContext))
			if id == "" {
				id = strings.TrimSpace(r.URL.Query().Get(captureContextQueryParam))
			}
			if id != "" {
				r = r.WithContext(auth.WithCaptureContext(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// callerKey identifies the caller for rate limiting: the capture context
// when known, the remote host otherwise.
func callerKey(r *http.Request) string {
	if id, ok := auth.CaptureContextFromContext(r.Context()); ok {
		return "ctx:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = strings.Trim(r.RemoteAddr, "[]")
	}
	return "ip:" + host
}
