// Package filelog gives a running flash session a durable, timestamped
// trail independent of whatever terminal UI is attached: a FileLogger
// singleton that appends one line per event to a per-run log file.
package filelog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger appends timestamped lines to one file per run under the user's
// cache directory.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
}

var (
	instance *Logger
	once     sync.Once
)

// Get returns the process-wide singleton Logger, opening its backing file
// on first use (mirrors the reference's GetLogger/loggerOnce pair).
func Get() *Logger {
	once.Do(func() {
		instance = &Logger{}
		instance.init()
	})
	return instance
}

func (l *Logger) init() {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "filelog: could not resolve cache dir: %v\n", err)
		return
	}

	logDir := filepath.Join(cacheDir, "dnx", "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "filelog: could not create %s: %v\n", logDir, err)
		return
	}

	name := fmt.Sprintf("dnx_%s.log", time.Now().Format("20060102_150405"))
	path := filepath.Join(logDir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "filelog: could not open %s: %v\n", path, err)
		return
	}

	l.file = file
	l.writer = bufio.NewWriter(file)
	l.path = path
}

// Path reports where this run's log file lives, or "" if it could not be
// opened (a disabled logger is a silent no-op, never a fatal error).
func (l *Logger) Path() string { return l.path }

// Logf writes one timestamped line. A Logger whose file failed to open
// discards writes rather than panicking — a durable trail is a nicety,
// not a correctness requirement of the session it's attached to.
func (l *Logger) Logf(level, format string, args ...any) {
	if l == nil || l.writer == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().Format("2006/01/02 15:04:05")
	fmt.Fprintf(l.writer, "[%s] %s: %s\n", ts, level, fmt.Sprintf(format, args...))
	l.writer.Flush()
}

// Close flushes and closes the backing file.
func (l *Logger) Close() {
	if l == nil || l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Flush()
	l.file.Close()
}
