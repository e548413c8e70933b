package flow

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/piewared/authcore/pkg/identity"
)

func TestContextWithUser_RoundTrip(t *testing.T) {
	ctx := context.Background()
	user := &identity.User{ID: uuid.New(), Email: "test@example.com"}

	ctx = ContextWithUser(ctx, user)

	got, ok := UserFromContext(ctx)
	if !ok {
		t.Fatal("UserFromContext returned false, want true")
	}
	if got.ID != user.ID {
		t.Errorf("ID = %q, want %q", got.ID, user.ID)
	}
	if got.Email != "test@example.com" {
		t.Errorf("Email = %q, want %q", got.Email, "test@example.com")
	}
}

func TestUserFromContext_Empty(t *testing.T) {
	ctx := context.Background()

	got, ok := UserFromContext(ctx)
	if ok {
		t.Error("UserFromContext returned true on empty context, want false")
	}
	if got != nil {
		t.Error("UserFromContext returned non-nil user on empty context")
	}
}

func TestMustUserFromContext_Panics(t *testing.T) {
	ctx := context.Background()

	defer func() {
		if recover() == nil {
			t.Error("MustUserFromContext did not panic on empty context")
		}
	}()

	MustUserFromContext(ctx)
}

func TestMustUserFromContext_Returns(t *testing.T) {
	ctx := context.Background()
	user := &identity.User{ID: uuid.New()}
	ctx = ContextWithUser(ctx, user)

	got := MustUserFromContext(ctx)
	if got.ID != user.ID {
		t.Errorf("ID = %q, want %q", got.ID, user.ID)
	}
}

func TestContextWithSessionID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithSessionID(ctx, "sess-abc")

	got, ok := SessionIDFromContext(ctx)
	if !ok {
		t.Fatal("SessionIDFromContext returned false, want true")
	}
	if got != "sess-abc" {
		t.Errorf("SessionIDFromContext = %q, want %q", got, "sess-abc")
	}
}

func TestSessionIDFromContext_Empty(t *testing.T) {
	ctx := context.Background()

	got, ok := SessionIDFromContext(ctx)
	if ok {
		t.Error("SessionIDFromContext returned true on empty context, want false")
	}
	if got != "" {
		t.Errorf("SessionIDFromContext = %q on empty context, want empty string", got)
	}
}

func TestTraceIDFromContext_NoTrace(t *testing.T) {
	ctx := context.Background()

	traceID, ok := TraceIDFromContext(ctx)
	if ok {
		t.Error("TraceIDFromContext returned true with no trace, want false")
	}
	if traceID != "" {
		t.Errorf("TraceIDFromContext = %q, want empty string", traceID)
	}
}

func TestTraceIDFromContext_WithTrace(t *testing.T) {
	traceIDBytes := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	spanIDBytes := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID(traceIDBytes),
		SpanID:     trace.SpanID(spanIDBytes),
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	traceID, ok := TraceIDFromContext(ctx)
	if !ok {
		t.Fatal("TraceIDFromContext returned false, want true")
	}
	if len(traceID) != 32 {
		t.Errorf("TraceID length = %d, want 32", len(traceID))
	}
}
