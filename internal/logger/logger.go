package logger

import (
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Format selects how each log line is rendered.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

var (
	mu           sync.RWMutex
	currentLevel = LevelInfo
	format       = FormatText
	logger       = stdlog.New(os.Stdout, "", 0)
	outputFile   *os.File
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name to a Level. Unknown names return false.
func ParseLevel(level string) (Level, bool) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return LevelInfo, false
}

func SetLevel(level string) {
	l, ok := ParseLevel(level)
	if !ok {
		return
	}
	mu.Lock()
	currentLevel = l
	mu.Unlock()
}

// SetFormat switches between "text" and "json" output.
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(f) {
	case "json":
		format = FormatJSON
	default:
		format = FormatText
	}
}

// SetOutput directs log lines to "stdout", "stderr" or a file path.
// The file is opened in append mode and created if missing.
func SetOutput(output string) error {
	var w io.Writer
	var f *os.File

	switch strings.ToLower(output) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		var err error
		f, err = os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", output, err)
		}
		w = f
	}

	mu.Lock()
	defer mu.Unlock()

	if outputFile != nil {
		_ = outputFile.Close()
	}
	outputFile = f
	logger = stdlog.New(w, "", 0)
	return nil
}

// SetWriter directs log lines to w. Used by tests to capture output.
func SetWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = stdlog.New(w, "", 0)
}

// Enabled reports whether messages at level would be written.
func Enabled(level Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return level >= currentLevel
}

type jsonLine struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"msg"`
}

func log(level Level, msgFormat string, v ...any) {
	mu.RLock()
	defer mu.RUnlock()

	if level < currentLevel {
		return
	}

	now := time.Now()
	message := fmt.Sprintf(msgFormat, v...)

	if format == FormatJSON {
		line, err := json.Marshal(jsonLine{
			Time:    now.Format(time.RFC3339Nano),
			Level:   level.String(),
			Message: message,
		})
		if err == nil {
			logger.Println(string(line))
			return
		}
	}

	timestamp := now.Format("2006-01-02 15:04:05")
	prefix := fmt.Sprintf("[%s] [%s] ", timestamp, level.String())
	logger.Println(prefix + message)
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
