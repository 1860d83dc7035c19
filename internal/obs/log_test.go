package obs

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetLoggerRestore(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := SetLogger(zap.New(core))

	LogRequest(zap.String("path", "/healthz"), zap.Int("status", 200))
	restore()

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Message != "request_complete" {
		t.Fatalf("unexpected msg: %q", entries[0].Message)
	}
	if got := entries[0].ContextMap()["path"]; got != "/healthz" {
		t.Fatalf("unexpected path field: %v", got)
	}
	Logger().Info("after restore")
	if len(logs.All()) != 1 {
		t.Fatal("restored logger still writes to the observer core")
	}
}

func TestConfigureLevelRejectsUnknown(t *testing.T) {
	if err := ConfigureLevel("chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
