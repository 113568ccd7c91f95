package logx

import (
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger("test-component")
	if logger == nil {
		t.Fatal("Expected non-nil logger")
	}
	if logger.Component() != "test-component" {
		t.Errorf("Expected component 'test-component', got '%s'", logger.Component())
	}
}

func TestRingBufferCapturesEntries(t *testing.T) {
	logger := NewLogger("buffer-test")
	logger.Info("hello %s", "world")

	entries := RecentEntries("buffer-test", time.Time{})
	if len(entries) == 0 {
		t.Fatal("Expected at least one buffered entry")
	}

	last := entries[len(entries)-1]
	if last.Component != "buffer-test" {
		t.Errorf("Expected component 'buffer-test', got '%s'", last.Component)
	}
	if last.Level != string(LevelInfo) {
		t.Errorf("Expected level INFO, got '%s'", last.Level)
	}
	if last.Message != "hello world" {
		t.Errorf("Expected message 'hello world', got '%s'", last.Message)
	}
}

func TestRecentEntriesFiltersByComponent(t *testing.T) {
	NewLogger("alpha").Info("from alpha")
	NewLogger("beta").Info("from beta")

	entries := RecentEntries("alpha", time.Time{})
	for _, entry := range entries {
		if entry.Component != "alpha" {
			t.Errorf("Expected only 'alpha' entries, got '%s'", entry.Component)
		}
	}
}

func TestDebugDisabledByDefault(t *testing.T) {
	SetDebug(false, nil)
	logger := NewLogger("debug-test")

	before := len(RecentEntries("debug-test", time.Time{}))
	logger.Debug("should not appear")
	after := len(RecentEntries("debug-test", time.Time{}))

	if after != before {
		t.Error("Expected debug message to be suppressed when debug disabled")
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	SetDebug(true, []string{"statefile"})
	defer SetDebug(false, nil)

	if !isDebugEnabledFor("statefile") {
		t.Error("Expected debug enabled for statefile domain")
	}
	if isDebugEnabledFor("pilot") {
		t.Error("Expected debug disabled for pilot domain")
	}

	SetDebug(true, nil)
	if !isDebugEnabledFor("pilot") {
		t.Error("Expected debug enabled for all domains when no filter set")
	}
}

func TestRingBufferCap(t *testing.T) {
	buf := &ringBuffer{maxSize: 3}
	for i := 0; i < 5; i++ {
		buf.add(Entry{Component: "cap-test", Message: "m"})
	}
	if len(buf.entries) != 3 {
		t.Errorf("Expected buffer capped at 3, got %d", len(buf.entries))
	}
}
