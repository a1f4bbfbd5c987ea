package logging

import (
	"errors"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewOperationErrorNil(t *testing.T) {
	if err := NewOperationError("op", "s", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewOperationError("usecase.analyze", "sess-1", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find cause")
	}
	want := "usecase.analyze (session_id=sess-1): boom"
	if err.Error() != want {
		t.Fatalf("unexpected message: %q", err.Error())
	}

	bare := NewOperationError("store.get", "", cause)
	if bare.Error() != "store.get: boom" {
		t.Fatalf("unexpected message: %q", bare.Error())
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("not-a-level")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug should be disabled at info level")
	}
}
