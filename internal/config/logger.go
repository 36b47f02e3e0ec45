package config

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger returns the root logger writing to the rotating log file, and to
// stderr as well when verbose is set. Close the returned io.Closer on exit.
func NewLogger(s LogSettings, verbose bool) (*log.Logger, io.Closer) {
	if s.File == "" {
		if verbose {
			return log.New(os.Stderr, "", log.LstdFlags), nopCloser{}
		}
		return log.New(io.Discard, "", 0), nopCloser{}
	}

	_ = os.MkdirAll(filepath.Dir(s.File), 0755)
	rotating := &lumberjack.Logger{
		Filename:   s.File,
		MaxSize:    s.MaxSizeMB,
		MaxBackups: s.MaxBackups,
		MaxAge:     s.MaxAgeDays,
		Compress:   true,
	}

	var w io.Writer = rotating
	if verbose {
		w = io.MultiWriter(rotating, os.Stderr)
	}
	return log.New(w, "", log.LstdFlags), rotating
}

// Component derives a logger for one component from the root logger, in the
// "[name] " prefix style.
func Component(root *log.Logger, name string) *log.Logger {
	return log.New(root.Writer(), "["+name+"] ", root.Flags())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
