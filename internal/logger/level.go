package logger

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var current atomic.Int32

func init() {
	current.Store(int32(LevelInfo))
}

// SetLevel accepts DEBUG, INFO, WARN/WARNING or ERROR in any case.
// Anything else means INFO.
func SetLevel(s string) {
	lvl := LevelInfo
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		lvl = LevelDebug
	case "warn", "warning":
		lvl = LevelWarn
	case "error":
		lvl = LevelError
	}
	current.Store(int32(lvl))
}

func Enabled(l Level) bool {
	return Level(current.Load()) <= l
}

func output(l Level, tag, format string, v ...any) {
	if !Enabled(l) {
		return
	}
	// depth 3 so Lshortfile names the caller, not this file
	log.Output(3, tag+fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) { output(LevelDebug, "[DEBUG] ", format, v...) }
func Infof(format string, v ...any)  { output(LevelInfo, "[INFO] ", format, v...) }
func Warnf(format string, v ...any)  { output(LevelWarn, "[WARN] ", format, v...) }
func Errorf(format string, v ...any) { output(LevelError, "[ERROR] ", format, v...) }
