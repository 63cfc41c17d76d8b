package logging

import "testing"

func TestNewLogger(t *testing.T) {
	for _, enc := range []string{"", "json", "console"} {
		logger, err := NewLogger("DEBUG", enc)
		if err != nil {
			t.Fatalf("encoding %q: unexpected error: %v", enc, err)
		}
		if !logger.Core().Enabled(-1) {
			t.Fatalf("encoding %q: expected debug level enabled", enc)
		}
	}
}

func TestNewLoggerRejectsBadInput(t *testing.T) {
	if _, err := NewLogger("verbose", "json"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := NewLogger("info", "xml"); err == nil {
		t.Fatal("expected error for unknown encoding")
	}
}
