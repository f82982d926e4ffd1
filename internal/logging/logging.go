// Package logging builds the process-wide activity logger. The daemon logs
// to a size-rotated file inside the vault; foreground runs mirror every line
// to stderr as well.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a logger writing to a rotated log file at path. With
// alsoStderr set, lines are mirrored to stderr for foreground use.
func New(path string, alsoStderr bool) *log.Logger {
	rotated := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    5, // megabytes per file
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
	var w io.Writer = rotated
	if alsoStderr {
		w = io.MultiWriter(rotated, os.Stderr)
	}
	return log.New(w, "[shield] ", log.LstdFlags)
}
