package test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/log"

	util_log "github.com/grafana/spancache/pkg/util/log"
)

var _ log.Logger = (*TestingLogger)(nil)

// TestingLogger writes log lines through t.Log and goes quiet once the test
// is done.
type TestingLogger struct {
	t    testing.TB
	mtx  *sync.Mutex
	done atomic.Bool
}

func NewTestingLogger(t testing.TB) *TestingLogger {
	logger := &TestingLogger{
		t:   t,
		mtx: &sync.Mutex{},
	}
	t.Cleanup(func() {
		logger.done.Store(true)
	})
	return logger
}

// UseTestingLogger points the shared logger at t for the duration of the test.
func UseTestingLogger(t testing.TB) {
	original := util_log.Logger
	util_log.Logger = NewTestingLogger(t)
	t.Cleanup(func() {
		util_log.Logger = original
	})
}

func (l *TestingLogger) Log(keyvals ...interface{}) error {
	if l.done.Load() {
		return nil
	}

	keyvals = append([]interface{}{time.Now().String()}, keyvals...)

	l.mtx.Lock()
	defer l.mtx.Unlock()

	if l.done.Load() {
		return nil
	}

	l.t.Log(keyvals...)
	return nil
}
