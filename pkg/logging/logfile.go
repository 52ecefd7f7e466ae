package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Rotation defaults.
const (
	DefaultMaxSize  = 10 * 1024 * 1024
	DefaultMaxFiles = 5
)

var errClosed = errors.New("log file closed")

// FileWriter is an io.Writer appending to a log file that is rotated to
// path.1 .. path.N once it grows past MaxSize.
type FileWriter struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	maxSize  int64
	maxFiles int
	written  int64
}

// OpenFile opens path for appending, creating its directory. Zero sizes
// select the defaults.
func OpenFile(path string, maxSize int64, maxFiles int) (*FileWriter, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	w := &FileWriter{file: f, path: path, maxSize: maxSize, maxFiles: maxFiles}
	if info, err := f.Stat(); err == nil {
		w.written = info.Size()
	}
	return w, nil
}

// Write implements io.Writer. slog handlers write one record per call, so
// rotation never splits a record.
func (w *FileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return 0, errClosed
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	if err != nil {
		return n, err
	}
	if w.written >= w.maxSize {
		w.rotate()
	}
	return n, nil
}

// Close closes the log file. Closing twice is a no-op.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *FileWriter) rotate() {
	w.file.Close()
	w.file = nil

	for i := w.maxFiles - 1; i > 0; i-- {
		os.Rename(fmt.Sprintf("%s.%d", w.path, i), fmt.Sprintf("%s.%d", w.path, i+1))
	}
	os.Rename(w.path, w.path+".1")
	os.Remove(fmt.Sprintf("%s.%d", w.path, w.maxFiles+1))

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		// the default handler may be writing here; report on stderr
		fmt.Fprintf(os.Stderr, "reopen rotated log %s: %v\n", w.path, err)
		return
	}
	w.file = f
	w.written = 0
}
