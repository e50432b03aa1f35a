package logging

import (
	"io"
	"log"
	"os"
)

// Setup points the standard logger at stdout and, when path is set, a rotating file.
// The returned closer flushes and closes the file.
func Setup(path string, maxSizeMB, maxBackups int) (io.Closer, error) {
	log.SetFlags(log.LstdFlags | log.LUTC | log.Lshortfile)
	if path == "" {
		log.SetOutput(os.Stdout)
		return io.NopCloser(nil), nil
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}

	w, err := NewRotatingFileWriter(Options{
		Path:         path,
		MaxSizeBytes: int64(maxSizeMB) << 20,
		MaxBackups:   maxBackups,
	})
	if err != nil {
		return nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, w))
	return w, nil
}
