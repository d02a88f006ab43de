package testutil

import (
	"log"
	"strings"
	"sync"
	"testing"
)

// testWriter forwards log output to the test log until the test ends.
// Goroutines that outlive the test write into the void instead of
// tripping the testing package.
type testWriter struct {
	mu   sync.Mutex
	t    *testing.T
	done bool
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done {
		w.t.Log(strings.TrimSuffix(string(p), "\n"))
	}
	return len(p), nil
}

func TestLogger(t *testing.T) *log.Logger {
	w := &testWriter{t: t}
	t.Cleanup(func() {
		w.mu.Lock()
		w.done = true
		w.mu.Unlock()
	})
	return log.New(w, "[test] ", log.LstdFlags)
}
