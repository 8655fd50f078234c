package logging

import (
	"log"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the level by name in JSON output.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ParseLevel maps a level name to a Level. Unknown names return false.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	}
	return LevelInfo, false
}

// Category groups log entries by subsystem.
type Category string

const (
	CatSystem    Category = "system"
	CatCodec     Category = "codec"
	CatRepair    Category = "repair"
	CatLibrary   Category = "library"
	CatHTTP      Category = "http"
	CatWebSocket Category = "websocket"
)

// Entry is a single log record.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Stats summarizes the buffered entries.
type Stats struct {
	Total      int              `json:"total"`
	Capacity   int              `json:"capacity"`
	ByLevel    map[string]int   `json:"byLevel"`
	ByCategory map[Category]int `json:"byCategory"`
}

// Logger keeps the most recent entries in a ring buffer.
type Logger struct {
	mu       sync.RWMutex
	entries  []Entry
	next     int
	full     bool
	minLevel Level
	echo     bool
}

var (
	defaultLogger *Logger
	initOnce      sync.Once
)

// New creates a logger holding at most maxEntries records at or above minLevel.
func New(maxEntries int, minLevel Level) *Logger {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Logger{
		entries:  make([]Entry, maxEntries),
		minLevel: minLevel,
	}
}

// Init sets up the process-wide logger. Only the first call has an effect.
func Init(maxEntries int, minLevel Level) {
	initOnce.Do(func() {
		defaultLogger = New(maxEntries, minLevel)
	})
}

// Get returns the process-wide logger, initializing it with defaults if needed.
func Get() *Logger {
	Init(1000, LevelInfo)
	return defaultLogger
}

// SetEcho mirrors new entries to the standard logger (stderr).
func (l *Logger) SetEcho(enabled bool) {
	l.mu.Lock()
	l.echo = enabled
	l.mu.Unlock()
}

// SetLevel changes the minimum level that is recorded.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.minLevel = level
	l.mu.Unlock()
}

// Log records an entry if it meets the minimum level.
func (l *Logger) Log(level Level, cat Category, msg string, data map[string]any) {
	l.mu.Lock()
	if level < l.minLevel {
		l.mu.Unlock()
		return
	}
	l.entries[l.next] = Entry{
		Timestamp: time.Now(),
		Level:     level,
		Category:  cat,
		Message:   msg,
		Data:      data,
	}
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	echo := l.echo
	l.mu.Unlock()

	if echo {
		if len(data) > 0 {
			log.Printf("[%s] %s: %s %v", level, cat, msg, data)
		} else {
			log.Printf("[%s] %s: %s", level, cat, msg)
		}
	}
}

// GetEntries returns up to limit entries, newest first, optionally filtered by
// minimum level and category.
func (l *Logger) GetEntries(limit int, minLevel *Level, category *Category) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := []Entry{}
	count := l.count()
	for i := 0; i < count && (limit <= 0 || len(result) < limit); i++ {
		idx := (l.next - 1 - i + len(l.entries)) % len(l.entries)
		e := l.entries[idx]
		if minLevel != nil && e.Level < *minLevel {
			continue
		}
		if category != nil && e.Category != *category {
			continue
		}
		result = append(result, e)
	}
	return result
}

// Stats returns counts of buffered entries by level and category.
func (l *Logger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Stats{
		Capacity:   len(l.entries),
		ByLevel:    make(map[string]int),
		ByCategory: make(map[Category]int),
	}
	count := l.count()
	for i := 0; i < count; i++ {
		idx := (l.next - 1 - i + len(l.entries)) % len(l.entries)
		e := l.entries[idx]
		s.ByLevel[e.Level.String()]++
		s.ByCategory[e.Category]++
	}
	s.Total = count
	return s
}

// Clear drops all buffered entries.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		l.entries[i] = Entry{}
	}
	l.next = 0
	l.full = false
}

func (l *Logger) count() int {
	if l.full {
		return len(l.entries)
	}
	return l.next
}

// Debug logs at debug level on the process-wide logger.
func Debug(cat Category, msg string, data map[string]any) {
	Get().Log(LevelDebug, cat, msg, data)
}

// Info logs at info level on the process-wide logger.
func Info(cat Category, msg string, data map[string]any) {
	Get().Log(LevelInfo, cat, msg, data)
}

// Warn logs at warn level on the process-wide logger.
func Warn(cat Category, msg string, data map[string]any) {
	Get().Log(LevelWarn, cat, msg, data)
}

// Error logs at error level on the process-wide logger.
func Error(cat Category, msg string, data map[string]any) {
	Get().Log(LevelError, cat, msg, data)
}
