package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewBuildsBothEncodings(t *testing.T) {
	for _, json := range []bool{false, true} {
		l, err := New(json, true)
		if err != nil {
			t.Fatalf("New(json=%v): %v", json, err)
		}
		if !l.Core().Enabled(zapcore.DebugLevel) {
			t.Fatalf("debug level should be enabled")
		}
	}

	l, err := New(false, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug level should be disabled by default")
	}
}

func TestPostingFields(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	l := zap.New(core)

	l.Info("matched", Posting("p-42", "v2")...)

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["posting_id"] != "p-42" || ctx["matching_version"] != "v2" {
		t.Fatalf("unexpected fields %v", ctx)
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatalf("OrNop(nil) must return a usable logger")
	}
	l := zap.NewExample()
	if OrNop(l) != l {
		t.Fatalf("OrNop should pass through non-nil loggers")
	}
}
