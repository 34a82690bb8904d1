package testutil

import (
	"bytes"
	"io"
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger for hub and handler tests. Output is only
// shown with -v since the hub logs every connect and disconnect.
func TestLogger(t *testing.T) *log.Logger {
	var out io.Writer = io.Discard
	if testing.Verbose() {
		out = os.Stdout
	}

	logger := log.New(out, "[huddle-test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(io.Discard)
	})
	return logger
}

// CaptureLogger returns a logger writing into the returned buffer.
func CaptureLogger(t *testing.T) (*log.Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	return log.New(buf, "[huddle-test] ", 0), buf
}
