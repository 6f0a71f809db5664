package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Environment variables selecting the log handler.
const (
	envLogFormat = "DOCTOR_LOG_FORMAT"
	envLogLevel  = "DOCTOR_LOG_LEVEL"
)

// newLogger builds the process logger on w. DOCTOR_LOG_FORMAT=json selects
// JSON output; DOCTOR_LOG_LEVEL is debug, info, warn or error (default warn,
// so the summary table stays readable).
func newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv(envLogLevel))}
	if strings.EqualFold(os.Getenv(envLogFormat), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	}
	return slog.LevelWarn
}
