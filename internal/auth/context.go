// SPDX-License-Identifier: Apache-2.0

// Package auth carries caller identity on request contexts.
package auth

import (
	"context"
	"strings"
)

// HeaderCaptureContext names the capture context a request comes from.
const HeaderCaptureContext = "X-Capture-Context"

type captureContextKey struct{}
type controlContextKey struct{}

var ctxCaptureContextKey captureContextKey
var ctxControlKey controlContextKey

// WithCaptureContext stores the calling capture context id on ctx.
func WithCaptureContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxCaptureContextKey, id)
}

// CaptureContextFromContext reads the capture context id from ctx.
func CaptureContextFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxCaptureContextKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// WithControl marks ctx as authenticated with the control token.
func WithControl(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxControlKey, true)
}

func IsControl(ctx context.Context) bool {
	v, _ := ctx.Value(ctxControlKey).(bool)
	return v
}
