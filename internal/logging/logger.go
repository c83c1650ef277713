package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// RequestLog represents one execute() call's log entry.
type RequestLog struct {
	Timestamp          time.Time `json:"timestamp"`
	SandboxID          string    `json:"sandbox_id"`
	TraceID            string    `json:"trace_id,omitempty"`
	SpanID             string    `json:"span_id,omitempty"`
	DurationMs         int64     `json:"duration_ms"`
	Success            bool      `json:"success"`
	PythonError        string    `json:"python_error,omitempty"`
	FuelConsumed       uint64    `json:"fuel_consumed,omitempty"`
	CallbackCount      int64     `json:"callback_count,omitempty"`
	FromComponentCache bool      `json:"from_component_cache,omitempty"`
}

// Logger handles request logging
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes a request log entry
func (l *Logger) Log(entry *RequestLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	// Console output (human-readable)
	if l.console {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		cache := ""
		if entry.FromComponentCache {
			cache = " [cached]"
		}
		fmt.Printf("[execute] %s %s %dms%s\n",
			status, entry.SandboxID, entry.DurationMs, cache)
		if entry.PythonError != "" {
			fmt.Printf("[execute]   python error: %s\n", entry.PythonError)
		}
	}

	// File output (JSON)
	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
