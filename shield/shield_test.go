package shield

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/docextract/kit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(APIHeaders())(okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/formats", nil))

	want := map[string]string{
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestSecurityHeaders_EmptySkipped(t *testing.T) {
	h := SecurityHeaders(HeaderConfig{XFrameOptions: "DENY"})(okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if _, ok := w.Header()["Content-Security-Policy"]; ok {
		t.Error("empty CSP was set")
	}
}

func TestHeadToGet(t *testing.T) {
	var method string
	h := HeadToGet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { method = r.Method }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("HEAD", "/health", nil))
	if method != http.MethodGet {
		t.Errorf("method = %s, want GET", method)
	}
}

func TestMaxBody_DeclaredLength(t *testing.T) {
	// WHAT: Content-Length above the cap.
	// WHY: Oversized uploads are refused before any byte is read.
	called := false
	h := MaxBody(10)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/extract", strings.NewReader(strings.Repeat("x", 11))))

	if w.Code != http.StatusRequestEntityTooLarge || called {
		t.Errorf("code = %d, called = %v", w.Code, called)
	}
	if !strings.Contains(w.Body.String(), `"error"`) {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestMaxBody_ChunkedCapped(t *testing.T) {
	// WHAT: A body without Content-Length that exceeds the cap.
	// WHY: Chunked uploads must fail on read instead of filling the disk.
	var readErr error
	h := MaxBody(10)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	req := httptest.NewRequest("POST", "/api/extract", io.MultiReader(strings.NewReader(strings.Repeat("y", 20))))
	req.ContentLength = -1
	h.ServeHTTP(httptest.NewRecorder(), req)
	if readErr == nil {
		t.Error("expected read error past the limit")
	}
}

func TestMaxBody_WithinLimit(t *testing.T) {
	var got []byte
	h := MaxBody(10)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/", strings.NewReader("small")))
	if string(got) != "small" {
		t.Errorf("body = %q", got)
	}
}

func TestTraceID(t *testing.T) {
	// WHAT: A request through TraceID.
	// WHY: Handlers, response headers and logs must share one trace id.
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var ctxTrace, transport string
	var reqLogger *slog.Logger
	h := TraceID(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxTrace = kit.GetTraceID(r.Context())
		transport = kit.GetTransport(r.Context())
		reqLogger = GetLogger(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/formats", nil))

	header := w.Header().Get("X-Trace-ID")
	if !strings.HasPrefix(header, "tr_") || header != ctxTrace {
		t.Errorf("header %q, context %q", header, ctxTrace)
	}
	if _, ok := kit.IDTime(header); !ok {
		t.Errorf("trace id %q is not a UUIDv7", header)
	}
	if transport != "http" {
		t.Errorf("transport = %q", transport)
	}
	if reqLogger == slog.Default() {
		t.Error("per-request logger not set")
	}
	out := buf.String()
	for _, want := range []string{"trace_id=" + header, "status=418", "path=/api/formats"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
}

func TestGetLogger_Default(t *testing.T) {
	if GetLogger(httptest.NewRequest("GET", "/", nil).Context()) != slog.Default() {
		t.Error("expected slog.Default()")
	}
}

func TestRateLimiter(t *testing.T) {
	// WHAT: Three requests from one IP against a limit of two.
	// WHY: The third is refused with 429 and a Retry-After hint.
	rl := NewRateLimiter(2, time.Minute)
	h := rl.Middleware(okHandler())

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for range 3 {
		req := httptest.NewRequest("POST", "/api/extract", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	other := httptest.NewRequest("POST", "/api/extract", nil)
	other.RemoteAddr = "10.0.0.2:5555"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, other)
	if w.Code != http.StatusOK {
		t.Errorf("other IP code = %d", w.Code)
	}
}

func TestRateLimiter_WindowResets(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	if ok, _ := rl.allow("1.2.3.4"); !ok {
		t.Fatal("first request refused")
	}
	if ok, _ := rl.allow("1.2.3.4"); ok {
		t.Fatal("second request allowed")
	}
	now = now.Add(61 * time.Second)
	if ok, _ := rl.allow("1.2.3.4"); !ok {
		t.Error("request after window refused")
	}

	now = now.Add(2 * time.Minute)
	rl.gc()
	if _, ok := rl.buckets.Load("1.2.3.4"); ok {
		t.Error("expired bucket not collected")
	}
}

func TestRateLimiter_Exclude(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, "/health")
	h := rl.Middleware(okHandler())
	for range 3 {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("excluded path code = %d", w.Code)
		}
	}
}

func TestExtractIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.7:1234"
	if got := ExtractIP(r); got != "192.0.2.7" {
		t.Errorf("RemoteAddr: %q", got)
	}
	r.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	if got := ExtractIP(r); got != "203.0.113.9" {
		t.Errorf("X-Forwarded-For: %q", got)
	}
}

func TestAPIStack(t *testing.T) {
	stack := APIStack(StackConfig{MaxBody: 4, RateLimit: 5, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if len(stack) != 5 {
		t.Fatalf("stack len = %d, want 5", len(stack))
	}
	h := chain(okHandler(), stack...)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("HEAD", "/health", nil))
	if w.Code != http.StatusOK || w.Header().Get("X-Trace-ID") == "" || w.Header().Get("X-Frame-Options") != "DENY" {
		t.Errorf("code = %d headers = %v", w.Code, w.Header())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/extract", strings.NewReader("too long")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body code = %d", w.Code)
	}

	if n := len(APIStack(StackConfig{})); n != 3 {
		t.Errorf("minimal stack len = %d, want 3", n)
	}
}
