// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"log/slog"
	"slices"
	"strings"
)

// LogLevel is the severity carried by log and exception messages.
type LogLevel string

const (
	LogException LogLevel = "EXCEPTION" // only on exception messages
	LogError     LogLevel = "ERROR"
	LogWarn      LogLevel = "WARN"
	LogInfo      LogLevel = "INFO"
	LogDebug     LogLevel = "DEBUG"
	LogTrace     LogLevel = "TRACE"
)

// levelOrder lists the levels from most to least severe.
var levelOrder = []LogLevel{LogException, LogError, LogWarn, LogInfo, LogDebug, LogTrace}

// rank is the position of l in levelOrder. Unknown levels rank last.
func (l LogLevel) rank() int {
	if i := slices.Index(levelOrder, l); i >= 0 {
		return i
	}
	return len(levelOrder)
}

// Admits reports whether a message at level passes a threshold of l. An
// empty or unknown threshold admits everything.
func (l LogLevel) Admits(level LogLevel) bool {
	return level.rank() <= l.rank()
}

// SlogLevel maps l onto the host's slog levels.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogException, LogError:
		return slog.LevelError
	case LogWarn:
		return slog.LevelWarn
	case LogInfo:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// ParseLogLevel reads a configuration value such as "debug" or "warning".
// Anything unrecognized is LogInfo.
func ParseLogLevel(s string) LogLevel {
	l := LogLevel(strings.ToUpper(strings.TrimSpace(s)))
	if l == "WARNING" {
		return LogWarn
	}
	if slices.Contains(levelOrder, l) {
		return l
	}
	return LogInfo
}
