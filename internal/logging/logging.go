// Package logging provides leveled wrappers around the standard logger.
// Output goes to stdout and, when a directory is configured, to a daily
// file under that directory.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

type Logger struct {
	info *log.Logger
	warn *log.Logger
	err  *log.Logger
}

// New builds a Logger writing every level to w.
func New(w io.Writer, prefix string) *Logger {
	flags := log.LstdFlags | log.LUTC
	return &Logger{
		info: log.New(w, prefix+"INFO: ", flags),
		warn: log.New(w, prefix+"WARN: ", flags),
		err:  log.New(w, prefix+"ERROR: ", flags),
	}
}

// Discard returns a Logger that drops everything. Useful in tests.
func Discard() *Logger { return New(io.Discard, "") }

// Setup creates dir if needed and returns a Logger writing to stdout and
// to dir/YYYY-MM-DD.log. The returned closer releases the file.
func Setup(dir, prefix string) (*Logger, io.Closer, error) {
	if dir == "" {
		return New(os.Stdout, prefix), nopCloser{}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("mkdir log dir: %w", err)
	}

	name := filepath.Join(dir, time.Now().Format("2006-01-02")+".log")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	return New(io.MultiWriter(os.Stdout, f), prefix), f, nil
}

func (l *Logger) Infof(format string, v ...any)  { l.info.Printf(format, v...) }
func (l *Logger) Warnf(format string, v ...any)  { l.warn.Printf(format, v...) }
func (l *Logger) Errorf(format string, v ...any) { l.err.Printf(format, v...) }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Std exposes the info-level logger for code that takes a *log.Logger.
func (l *Logger) Std() *log.Logger { return l.info }
