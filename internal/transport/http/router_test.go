// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adiadia/session-recorder/internal/auth"
	"github.com/adiadia/session-recorder/internal/browser"
	"github.com/adiadia/session-recorder/internal/domain"
	"github.com/adiadia/session-recorder/internal/eventlog"
	"github.com/adiadia/session-recorder/internal/messaging"
	"github.com/adiadia/session-recorder/internal/session"
	"github.com/adiadia/session-recorder/internal/transport/middleware"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubExporter struct {
	saved string
	err   error
}

func (e *stubExporter) Save(_ context.Context, xml string) (string, string, error) {
	if e.err != nil {
		return "", "", e.err
	}
	e.saved = xml
	return "steepgraph_events_x.xml", "/exports/steepgraph_events_x.xml", nil
}

type stubHealth struct{ err error }

func (h stubHealth) Check(context.Context) error { return h.err }

type testServer struct {
	handler   http.Handler
	store     *eventlog.Store
	tracker   *browser.Tracker
	authority *session.Authority
}

func newTestServer(t *testing.T, mutate func(*Deps)) testServer {
	t.Helper()
	logger := discardLogger()

	tracker := browser.NewTracker()
	tracker.UpsertTab(domain.Tab{ID: 1, URL: "https://shop.example/", Active: true})
	tracker.UpsertWindow(domain.Window{ID: 1, State: domain.WindowNormal, Width: 1280, Height: 720})

	store := eventlog.NewStore()
	authority := session.NewAuthority(store, tracker, nil, session.Options{Logger: logger})

	mailbox := messaging.NewMailbox(messaging.NewDispatcher(authority, logger), 16, time.Second, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go mailbox.Run(ctx)
	t.Cleanup(cancel)

	deps := Deps{
		Session:        authority,
		Events:         store,
		Browser:        tracker,
		Chrome:         authority,
		Messenger:      mailbox,
		Logger:         logger,
		StreamInterval: 10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&deps)
	}
	return testServer{handler: NewRouter(deps), store: store, tracker: tracker, authority: authority}
}

func (s testServer) do(t *testing.T, method, path string, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) messaging.Response {
	t.Helper()
	var resp messaging.Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestRouter_OpsEndpoints(t *testing.T) {
	srv := newTestServer(t, func(d *Deps) {
		d.Version = "1.2.3"
		d.Readiness = stubHealth{err: errors.New("db down")}
	})

	if rec := srv.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected healthz 200 got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected readyz 503 got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected metrics 200 got %d", rec.Code)
	}

	rec := srv.do(t, http.MethodGet, "/version", "")
	var v map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if v["version"] != "1.2.3" || v["commit"] != "none" {
		t.Fatalf("unexpected version payload %v", v)
	}
}

func TestRouter_StartStopConflicts(t *testing.T) {
	srv := newTestServer(t, nil)

	if rec := srv.do(t, http.MethodPost, "/recording/start", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected start 200 got %d", rec.Code)
	}

	rec := srv.do(t, http.MethodPost, "/recording/start", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected second start 409 got %d", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Success || resp.Error != "Already recording" {
		t.Fatalf("unexpected conflict body %+v", resp)
	}

	rec = srv.do(t, http.MethodGet, "/recording/state", "")
	if !strings.Contains(rec.Body.String(), `"isRecording":true`) {
		t.Fatalf("expected recording state, got %s", rec.Body.String())
	}

	if rec := srv.do(t, http.MethodPost, "/recording/stop", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected stop 200 got %d", rec.Code)
	}
	rec = srv.do(t, http.MethodPost, "/recording/stop", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected second stop 409 got %d", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Error != "No recording in progress" {
		t.Fatalf("unexpected conflict body %+v", resp)
	}
}

func TestRouter_StartWithoutActiveTab(t *testing.T) {
	srv := newTestServer(t, nil)
	_ = srv.tracker.RemoveTab(1)

	rec := srv.do(t, http.MethodPost, "/recording/start", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Error != "No active tab" {
		t.Fatalf("unexpected body %+v", resp)
	}
}

func TestRouter_ControlTokenRequired(t *testing.T) {
	srv := newTestServer(t, func(d *Deps) { d.ControlToken = "secret" })

	if rec := srv.do(t, http.MethodPost, "/recording/start", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/recording/start", "", "Authorization", "Bearer secret"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token got %d", rec.Code)
	}
	// Reads stay open.
	if rec := srv.do(t, http.MethodGet, "/recording/session", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected session read 200 got %d", rec.Code)
	}
}

func TestRouter_LogEvent(t *testing.T) {
	srv := newTestServer(t, nil)

	// Idle: accepted and dropped.
	if rec := srv.do(t, http.MethodPost, "/events", `{"type":"click","details":{"x":1}}`); rec.Code != http.StatusAccepted {
		t.Fatalf("expected idle event 202 got %d", rec.Code)
	}
	if srv.store.Len() != 0 {
		t.Fatal("expected idle event to be dropped")
	}

	srv.do(t, http.MethodPost, "/recording/start", "")

	rec := srv.do(t, http.MethodPost, "/events", `{"type":"click","details":{"tagName":"BUTTON"},"priority":"high"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", rec.Code)
	}
	all := srv.store.All()
	last := all[len(all)-1]
	if last.Type != "click" || last.Priority != domain.PriorityHigh || last.Details["tagName"] != "BUTTON" {
		t.Fatalf("unexpected record %+v", last)
	}

	if rec := srv.do(t, http.MethodPost, "/events", `{"type":" "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected empty type 400 got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/events", `{"type":"click","bogus":1}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown field 400 got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/events", `{"type":"click"}{"type":"click"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected two objects 400 got %d", rec.Code)
	}
}

func TestRouter_LogEventRateLimited(t *testing.T) {
	srv := newTestServer(t, func(d *Deps) { d.Limiter = middleware.NewRateLimiter(0.001, 1) })
	srv.do(t, http.MethodPost, "/recording/start", "")

	headers := []string{auth.HeaderCaptureContext, "tab-1"}
	if rec := srv.do(t, http.MethodPost, "/events", `{"type":"click"}`, headers...); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/events", `{"type":"click"}`, headers...); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", rec.Code)
	}
}

func TestRouter_EventLogAndDownload(t *testing.T) {
	srv := newTestServer(t, func(d *Deps) { d.Product = "acme" })
	srv.do(t, http.MethodPost, "/recording/start", "")

	rec := srv.do(t, http.MethodGet, "/events/log", "")
	resp := decodeResponse(t, rec)
	if !resp.Success || resp.Format != "xml" || !strings.HasPrefix(resp.Log, `<?xml version="1.0" encoding="UTF-8"?>`) {
		t.Fatalf("unexpected log response %+v", resp)
	}

	rec = srv.do(t, http.MethodGet, "/events/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, `attachment; filename="acme_events_`) || !strings.HasSuffix(cd, `.xml"`) {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
	if !strings.Contains(rec.Body.String(), "<type>navigation</type>") {
		t.Fatalf("unexpected export body %s", rec.Body.String())
	}
}

func TestRouter_SaveExport(t *testing.T) {
	srv := newTestServer(t, nil)
	if rec := srv.do(t, http.MethodPost, "/events/export", ""); rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without sink got %d", rec.Code)
	}

	exp := &stubExporter{}
	srv = newTestServer(t, func(d *Deps) { d.Exporter = exp })
	rec := srv.do(t, http.MethodPost, "/events/export", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/exports/steepgraph_events_x.xml") || !strings.HasSuffix(exp.saved, "</eventLog>") {
		t.Fatalf("unexpected export result body=%s saved=%q", rec.Body.String(), exp.saved)
	}

	srv = newTestServer(t, func(d *Deps) { d.Exporter = &stubExporter{err: errors.New("bucket gone")} })
	if rec := srv.do(t, http.MethodPost, "/events/export", ""); rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", rec.Code)
	}
}

func TestRouter_Messages(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, "/messages", `{"action":"startRecording"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if !resp.Success || resp.RequestID == "" {
		t.Fatalf("expected success with generated request id, got %+v", resp)
	}

	rec = srv.do(t, http.MethodPost, "/messages", `{"action":"checkRecordingState","requestId":"r-1"}`)
	resp = decodeResponse(t, rec)
	if resp.IsRecording == nil || !*resp.IsRecording || resp.RequestID != "r-1" {
		t.Fatalf("unexpected state response %+v", resp)
	}

	rec = srv.do(t, http.MethodPost, "/messages", `{"action":"startRecording"}`)
	if resp := decodeResponse(t, rec); resp.Success || resp.Error != "Already recording" {
		t.Fatalf("expected conflict reply, got %+v", resp)
	}

	rec = srv.do(t, http.MethodPost, "/messages", `{"action":"logEvent","type":"click"}`, auth.HeaderCaptureContext, "tab-1")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected notify 202 got %d", rec.Code)
	}
	deadline := time.Now().Add(2 * time.Second)
	for srv.store.Len() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected notified event to be appended, log has %d records", srv.store.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if rec := srv.do(t, http.MethodPost, "/messages", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected missing action 400 got %d", rec.Code)
	}
	rec = srv.do(t, http.MethodPost, "/messages", `{"action":"dance"}`)
	if resp := decodeResponse(t, rec); resp.Success || !strings.Contains(resp.Error, "unknown action") {
		t.Fatalf("expected unknown action failure got %+v", resp)
	}
}

func TestRouter_BrowserRoutesFeedAuthority(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.do(t, http.MethodPost, "/recording/start", "")

	if rec := srv.do(t, http.MethodPut, "/browser/tabs/2", `{"url":"https://shop.example/help"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/browser/tabs/2/activate", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/browser/navigation", `{"tabId":2,"frameId":0,"url":"https://shop.example/faq"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPut, "/browser/windows/1", `{"state":"minimized","width":1280,"height":720}`); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/browser/downloads", `{"filename":"r.pdf","url":"https://shop.example/r.pdf"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/browser/tabs/99/activate", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown tab got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPut, "/browser/tabs/abc", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id got %d", rec.Code)
	}

	types := make([]string, 0, srv.store.Len())
	for _, rec := range srv.store.All() {
		types = append(types, rec.Type)
	}
	want := "navigation,windowState,tabswitch,navigation,windowStateChange,download"
	if got := strings.Join(types, ","); got != want {
		t.Fatalf("expected %s got %s", want, got)
	}
}

func TestRouter_StreamEvents(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.handler)
	defer ts.Close()

	if rec := srv.do(t, http.MethodGet, "/events/stream?since_seq=-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative since_seq got %d", rec.Code)
	}

	srv.do(t, http.MethodPost, "/recording/start", "")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events/stream?since_seq=1", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = srv.authority.LogEvent(context.Background(), "click", map[string]any{"n": 1}, "")
	}()

	scanner := bufio.NewScanner(resp.Body)
	var seqs []string
	for len(seqs) < 2 && scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "id: ") {
			seqs = append(seqs, strings.TrimPrefix(line, "id: "))
		}
		if strings.HasPrefix(line, "data: ") && !bytes.Contains([]byte(line), []byte(`"seq"`)) {
			t.Fatalf("unexpected data line %q", line)
		}
	}
	if fmt.Sprint(seqs) != "[2 3]" {
		t.Fatalf("expected events 2 and 3 after cursor 1, got %v", seqs)
	}
}

func TestRouter_StreamResetsOnNewSession(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.handler)
	defer ts.Close()

	srv.do(t, http.MethodPost, "/recording/start", "")
	_ = srv.authority.LogEvent(context.Background(), "click", nil, "")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var before, after []string
	sawReset := false
	for len(after) < 5 && scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "event: reset":
			sawReset = true
		case strings.HasPrefix(line, "id: ") && !sawReset:
			before = append(before, strings.TrimPrefix(line, "id: "))
			if len(before) == 3 {
				// A new session that outgrows the cursor before the next poll.
				srv.store.Clear()
				for i := 0; i < 5; i++ {
					if _, err := srv.store.Append(domain.EventRecord{Type: "click", Time: time.Now()}); err != nil {
						t.Fatalf("append: %v", err)
					}
				}
			}
		case strings.HasPrefix(line, "id: "):
			after = append(after, strings.TrimPrefix(line, "id: "))
		}
	}

	if fmt.Sprint(before) != "[1 2 3]" {
		t.Fatalf("unexpected first session ids %v", before)
	}
	if !sawReset {
		t.Fatal("expected a reset event for the new session")
	}
	if fmt.Sprint(after) != "[1 2 3 4 5]" {
		t.Fatalf("expected every new session event, got %v", after)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{err: domain.ErrAlreadyRecording, want: http.StatusConflict},
		{err: domain.ErrNotRecording, want: http.StatusConflict},
		{err: domain.ErrNoActiveTab, want: http.StatusConflict},
		{err: domain.ErrInvalidEvent, want: http.StatusBadRequest},
		{err: domain.ErrTabNotFound, want: http.StatusNotFound},
		{err: messaging.ErrMailboxFull, want: http.StatusTooManyRequests},
		{err: fmt.Errorf("x: %w", messaging.ErrRequestTimeout), want: http.StatusGatewayTimeout},
		{err: messaging.ErrMailboxClosed, want: http.StatusServiceUnavailable},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v): expected %d got %d", tc.err, tc.want, got)
		}
	}
}
