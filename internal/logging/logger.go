// Package logging provides the session-wide rotating file logger.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger writes to a rotating file and never to stdout/stderr directly —
// terminal rendering is the session kernel's job, not the logger's.
type Logger struct {
	mu            sync.Mutex
	out           *log.Logger
	rotatingFile  *lumberjack.Logger
	jsonMode      bool
	correlationID string
}

var (
	global     *Logger
	globalOnce sync.Once
)

// Get returns the process-wide logger, creating it on first use. There is
// no "skip prompts" flag here: user interaction policy lives in the
// session kernel, not the logger.
func Get() *Logger {
	globalOnce.Do(func() {
		global = New(".codeloom/session.log")
	})
	return global
}

// New creates a standalone logger rotating at path — used by tests and by
// any session that wants an isolated log file instead of the global one.
func New(path string) *Logger {
	rf := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    15, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	return &Logger{
		out:          log.New(rf, "", log.LstdFlags),
		rotatingFile: rf,
	}
}

// SetJSONMode switches between plain-text and one-JSON-object-per-line
// logging.
func (l *Logger) SetJSONMode(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jsonMode = on
}

func (l *Logger) SetCorrelationID(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.correlationID = id
}

func (l *Logger) Close() error { return l.rotatingFile.Close() }

func (l *Logger) Log(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode {
		_ = json.NewEncoder(l.out.Writer()).Encode(map[string]any{"level": "info", "msg": msg, "cid": l.correlationID})
		return
	}
	l.out.Print(msg)
}

func (l *Logger) Logf(format string, args ...interface{}) {
	l.Log(fmt.Sprintf(format, args...))
}

func (l *Logger) LogError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode {
		_ = json.NewEncoder(l.out.Writer()).Encode(map[string]any{"level": "error", "error": err.Error(), "cid": l.correlationID})
		return
	}
	l.out.Printf("error: %s", err)
}
