package logging

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_LevelAndFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	log, err := New("debug", dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level to be enabled")
	}
	log.Info("hello")
	_ = log.Sync()

	if _, err := os.Stat(filepath.Join(dir, "campusguard.log")); err != nil {
		t.Errorf("expected log file: %v", err)
	}
}

func TestNew_BadLevelFallsBackToInfo(t *testing.T) {
	log, err := New("loud", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should be disabled at default level")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("expected non-nil logger")
	}
}
