package log

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	mu      sync.Mutex
	logFile *os.File
	writer  *bufio.Writer
)

// NewLogger builds the process logger. Output always goes to stdout; when
// debug is enabled a buffered log file is also written under dir. suffix is
// appended to the file name so parallel instances do not clobber each other.
func NewLogger(debug bool, dir string, suffix string) (*slog.Logger, error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	out := io.Writer(os.Stdout)
	if debug {
		if dir == "" {
			dir = "logs"
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating log directory %s: %w", dir, err)
		}

		name := fmt.Sprintf("micebot-%s", time.Now().Format("2006-01-02-15-04-05"))
		if suffix != "" {
			name += "-" + suffix
		}

		mu.Lock()
		f, err := os.Create(filepath.Join(dir, name+".log"))
		if err != nil {
			mu.Unlock()
			return nil, fmt.Errorf("error creating log file: %w", err)
		}
		logFile = f
		writer = bufio.NewWriterSize(f, 32*1024)
		out = io.MultiWriter(os.Stdout, writer)
		mu.Unlock()
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: level,
	})), nil
}

// FlushLog forces buffered log lines to disk. Safe to call from recover paths.
func FlushLog() {
	mu.Lock()
	defer mu.Unlock()
	if writer != nil {
		_ = writer.Flush()
	}
}

// FlushAndClose flushes and closes the log file. Call once on shutdown.
func FlushAndClose() {
	mu.Lock()
	defer mu.Unlock()
	if writer != nil {
		_ = writer.Flush()
		writer = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}
