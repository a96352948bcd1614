package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewContextHasIDs(t *testing.T) {
	tc := New()
	if len(tc.TraceID) != 32 {
		t.Errorf("TraceID length = %d, want 32", len(tc.TraceID))
	}
	if len(tc.SpanID) != 16 {
		t.Errorf("SpanID length = %d, want 16", len(tc.SpanID))
	}
}

func TestNewChildInheritsTraceID(t *testing.T) {
	parent := New()
	child := NewChild(parent)

	if child.TraceID != parent.TraceID {
		t.Error("child should inherit parent trace ID")
	}
	if child.ParentSpanID != parent.SpanID {
		t.Error("child parent span should be parent's span")
	}
	if child.SpanID == parent.SpanID {
		t.Error("child should get a fresh span ID")
	}
}

func TestContextRoundTrip(t *testing.T) {
	tc := New()
	ctx := WithContext(context.Background(), tc)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("FromContext should find injected context")
	}
	if got.TraceID != tc.TraceID {
		t.Errorf("TraceID = %q, want %q", got.TraceID, tc.TraceID)
	}
}

func TestEnsureContextCreatesWhenMissing(t *testing.T) {
	ctx, tc := EnsureContext(context.Background())
	if tc.TraceID == "" {
		t.Error("EnsureContext should create a trace ID")
	}

	ctx2, tc2 := EnsureContext(ctx)
	if tc2.TraceID != tc.TraceID {
		t.Error("EnsureContext should reuse existing context")
	}
	if ctx2 != ctx {
		t.Error("EnsureContext should not rewrap an existing context")
	}
}

func TestSpanLifecycle(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test_op")
	span.SetAttr("key", "value")
	span.End()

	if span.Duration() <= 0 {
		t.Error("ended span should have positive duration")
	}
	if _, ok := FromContext(ctx); !ok {
		t.Error("StartSpan should inject context")
	}
}

func TestMiddlewarePropagatesHeader(t *testing.T) {
	var got Context
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(TraceIDKey, "abc123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got.TraceID != "abc123" {
		t.Errorf("TraceID = %q, want abc123", got.TraceID)
	}
}

func TestMiddlewareCreatesContext(t *testing.T) {
	var got Context
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if got.TraceID == "" {
		t.Error("middleware should create a trace ID when header is absent")
	}
}
