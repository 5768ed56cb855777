package log

import "sync"

var (
	globalMu sync.RWMutex
	global   = Default()
)

// SetGlobal replaces the process-wide logger. It is called once at startup,
// after the CLI has parsed --log-format and --log-level; components read it
// through L() and are never re-initialized mid-process.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = l
}

// L returns the process-wide logger
func L() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}
