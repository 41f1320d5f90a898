// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"testing"
)

func TestCaptureContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := CaptureContextFromContext(ctx); ok {
		t.Fatal("expected no capture context on empty ctx")
	}
	if _, ok := CaptureContextFromContext(WithCaptureContext(ctx, "  ")); ok {
		t.Fatal("expected blank id to be ignored")
	}

	id, ok := CaptureContextFromContext(WithCaptureContext(ctx, "tab-7-frame-0"))
	if !ok || id != "tab-7-frame-0" {
		t.Fatalf("unexpected capture context %q ok=%v", id, ok)
	}
}

func TestControlFlag(t *testing.T) {
	ctx := context.Background()
	if IsControl(ctx) {
		t.Fatal("expected plain ctx not to be control")
	}
	if !IsControl(WithControl(ctx)) {
		t.Fatal("expected control flag")
	}
}
