package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const rotationStamp = "20060102-150405.000000"

// RotationConfig controls when a RotatingWriter starts a new file and which
// rotated files it keeps.
type RotationConfig struct {
	Path       string
	MaxSizeMB  int  // rotate once the file would exceed this; <= 0 means 100
	MaxAgeDays int  // drop rotated files older than this; 0 keeps them
	MaxBackups int  // keep at most this many rotated files; 0 keeps all
	Compress   bool // gzip rotated files
}

// RotatingWriter is an append-only file writer that rotates once the file
// exceeds a size limit. It is safe for concurrent use. The application log
// and the audit trail both write through it.
type RotatingWriter struct {
	cfg     RotationConfig
	maxSize int64

	mu   sync.Mutex
	file *os.File
	size int64

	// background gzip and retention work, drained by Close
	pending sync.WaitGroup
}

// NewRotatingWriter opens (or creates) cfg.Path for appending
func NewRotatingWriter(cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("rotating writer needs a path")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, size, err := openAppend(cfg.Path)
	if err != nil {
		return nil, err
	}

	w := &RotatingWriter{
		cfg:     cfg,
		maxSize: int64(cfg.MaxSizeMB) * 1024 * 1024,
		file:    file,
		size:    size,
	}
	w.background(w.prune)
	return w, nil
}

func openAppend(path string) (*os.File, int64, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("failed to stat log file: %w", err)
	}
	return file, info.Size(), nil
}

// Write appends p, rotating first when p would push the file past the
// limit. A single line larger than the limit still lands in one file.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Rotate forces a rotation regardless of size
func (w *RotatingWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return os.ErrClosed
	}
	return w.rotateLocked()
}

// Close closes the current file and waits for pending compression
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	var err error
	if w.file != nil {
		err = w.file.Close()
		w.file = nil
	}
	w.mu.Unlock()

	w.pending.Wait()
	return err
}

func (w *RotatingWriter) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return err
	}

	rotated := w.cfg.Path + "." + time.Now().Format(rotationStamp)
	if err := os.Rename(w.cfg.Path, rotated); err != nil {
		return err
	}

	file, _, err := openAppend(w.cfg.Path)
	if err != nil {
		w.file = nil
		return err
	}
	w.file, w.size = file, 0

	w.background(func() {
		if w.cfg.Compress {
			_ = gzipFile(rotated)
		}
		w.prune()
	})
	return nil
}

func (w *RotatingWriter) background(fn func()) {
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		fn()
	}()
}

// backups lists rotated files grouped by rotation stamp, oldest first. A
// file caught mid-compression appears with its .gz sibling in one group.
func (w *RotatingWriter) backups() [][]string {
	matches, err := filepath.Glob(w.cfg.Path + ".*")
	if err != nil {
		return nil
	}

	prefix := filepath.Base(w.cfg.Path) + "."
	groups := make(map[string][]string)
	for _, m := range matches {
		stamp := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), ".gz")
		if _, err := time.Parse(rotationStamp, stamp); err != nil {
			continue
		}
		groups[stamp] = append(groups[stamp], m)
	}

	stamps := make([]string, 0, len(groups))
	for s := range groups {
		stamps = append(stamps, s)
	}
	sort.Strings(stamps)

	out := make([][]string, len(stamps))
	for i, s := range stamps {
		out[i] = groups[s]
	}
	return out
}

// prune applies MaxAgeDays and MaxBackups to the rotated files
func (w *RotatingWriter) prune() {
	groups := w.backups()
	remove := func(paths []string) {
		for _, p := range paths {
			os.Remove(p)
		}
	}

	if w.cfg.MaxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -w.cfg.MaxAgeDays)
		kept := groups[:0]
		for _, g := range groups {
			if info, err := os.Stat(g[0]); err == nil && info.ModTime().Before(cutoff) {
				remove(g)
				continue
			}
			kept = append(kept, g)
		}
		groups = kept
	}

	if w.cfg.MaxBackups > 0 && len(groups) > w.cfg.MaxBackups {
		for _, g := range groups[:len(groups)-w.cfg.MaxBackups] {
			remove(g)
		}
	}
}

// gzipFile replaces path with path.gz
func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		gzw.Close()
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := gzw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
