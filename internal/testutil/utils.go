package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger builds the logger injected into chat server components under
// test, matching the prefix style main uses.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[groupchat-test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}
