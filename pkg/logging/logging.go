// Package logging builds the per-component loggers.
package logging

import (
	"io"
	"log"
	"os"

	"github.com/harrisonrobin/sheetsync/pkg/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Output returns stderr, teed to a rotating file when cfg names one. The
// returned closer releases the file and is a no-op otherwise.
func Output(cfg config.LogConfig) (io.Writer, io.Closer) {
	if cfg.File == "" {
		return os.Stderr, io.NopCloser(nil)
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return io.MultiWriter(os.Stderr, file), file
}

// New returns a logger writing to w with a bracketed component prefix.
func New(w io.Writer, component string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	return log.New(w, "["+component+"] ", log.LstdFlags)
}
