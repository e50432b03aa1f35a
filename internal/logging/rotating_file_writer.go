package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotatingFileWriter appends to a file and, once MaxSizeBytes would be exceeded, shifts
// it to path.1, path.2, ... keeping at most MaxBackups old files.
type RotatingFileWriter struct {
	mu   sync.Mutex
	opts Options
	file *os.File
	size int64
}

type Options struct {
	Path         string
	MaxSizeBytes int64
	MaxBackups   int
}

func NewRotatingFileWriter(opts Options) (*RotatingFileWriter, error) {
	if opts.Path == "" {
		return nil, errors.New("log path is required")
	}
	if opts.MaxSizeBytes <= 0 {
		return nil, errors.New("max log size must be > 0")
	}
	if opts.MaxBackups < 0 {
		opts.MaxBackups = 0
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, err
	}

	w := &RotatingFileWriter{opts: opts}
	if err := w.open(os.O_APPEND); err != nil {
		return nil, err
	}
	if w.size > opts.MaxSizeBytes {
		if err := w.rotateLocked(); err != nil {
			w.file.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}

	// a single line larger than the limit still goes into an empty file
	if w.size > 0 && w.size+int64(len(p)) > w.opts.MaxSizeBytes {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingFileWriter) open(flag int) error {
	f, err := os.OpenFile(w.opts.Path, os.O_CREATE|os.O_WRONLY|flag, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.size = 0
	if stat, err := f.Stat(); err == nil {
		w.size = stat.Size()
	}
	return nil
}

func (w *RotatingFileWriter) rotateLocked() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return err
		}
		w.file = nil
	}

	if err := shiftBackups(w.opts.Path, w.opts.MaxBackups); err != nil {
		return err
	}
	return w.open(os.O_TRUNC)
}

func shiftBackups(path string, maxBackups int) error {
	if maxBackups == 0 {
		return removeIfExists(path)
	}
	if err := removeIfExists(backupPath(path, maxBackups)); err != nil {
		return err
	}
	for idx := maxBackups - 1; idx >= 0; idx-- {
		src := backupPath(path, idx)
		if err := os.Rename(src, backupPath(path, idx+1)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// backupPath(p, 0) is the live file.
func backupPath(path string, idx int) string {
	if idx == 0 {
		return path
	}
	return fmt.Sprintf("%s.%d", path, idx)
}
