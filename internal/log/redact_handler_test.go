package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T) (*slog.Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(NewRedactHandler(h)), &buf
}

func TestRedactsSensitiveKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"api key", "api_key", "hunter2"},
		{"login", "login", "alice"},
		// The value must not be a substring of any attribute key, which
		// legitimately survives redaction.
		{"refresh token", "refresh_token", "s3cr3t-refresh"},
		{"authorization header", "Authorization", "whatever"},
		{"cookie", "cookie", "session=abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, buf := newBufferLogger(t)
			logger.Info("request", tt.key, tt.value)

			out := buf.String()
			if strings.Contains(out, tt.value) {
				t.Errorf("output leaked value %q: %s", tt.value, out)
			}
			if !strings.Contains(out, MaskValue) {
				t.Errorf("output missing mask: %s", out)
			}
		})
	}
}

func TestRedactsSensitiveValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
	}{
		{"jwt", "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxIn0.abc123"},
		{"bearer", "Bearer abcdef123456"},
		{"long opaque token", strings.Repeat("a", 48)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, buf := newBufferLogger(t)
			logger.Info("request", "header_value", tt.value)

			if strings.Contains(buf.String(), tt.value) {
				t.Errorf("output leaked value %q: %s", tt.value, buf.String())
			}
		})
	}
}

func TestPassesOrdinaryAttrs(t *testing.T) {
	t.Parallel()

	logger, buf := newBufferLogger(t)
	logger.Info("search", "query", "1boy_1girl", "page", 3)

	out := buf.String()
	if !strings.Contains(out, "1boy_1girl") {
		t.Errorf("ordinary attribute was redacted: %s", out)
	}
	if strings.Contains(out, MaskValue) {
		t.Errorf("unexpected redaction: %s", out)
	}
}

func TestRedactsInsideGroups(t *testing.T) {
	t.Parallel()

	logger, buf := newBufferLogger(t)
	logger.Info("auth", slog.Group("pixiv", slog.String("refresh_token", "tok"), slog.String("user", "bob")))

	out := buf.String()
	if strings.Contains(out, "tok\"") || strings.Contains(out, "=tok") {
		t.Errorf("group attribute leaked: %s", out)
	}
	if !strings.Contains(out, "bob") {
		t.Errorf("non-sensitive group attribute redacted: %s", out)
	}
}

func TestVerboseToggle(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLogger(&buf, false)
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug output emitted without verbose: %s", buf.String())
	}

	buf.Reset()
	logger = NewLogger(&buf, true)
	logger.Debug("visible")
	if buf.Len() == 0 {
		t.Error("debug output missing with verbose")
	}
}
