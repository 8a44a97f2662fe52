package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileSink is a rotating, per-key audit log that also implements
// Logger, so it can stand in anywhere a Logger is expected (most
// usefully as a dispatcher's TraceSink). General Logger calls land
// under defaultLogKey; WriteLine lets a caller route records under any
// other key, e.g. one per session. It is adapted from the teacher's
// console log writer: per-key open file handles guarded by one mutex,
// a "current" symlink per key, and age-based cleanup. The ANSI-console
// cleaning and screen-redraw deduplication that writer did for SOL
// text has no analogue for structured packet/session records and is
// dropped; what is kept is the file lifecycle shape.
type FileSink struct {
	basePath      string
	retentionDays int

	mu    sync.Mutex
	files map[string]*os.File
}

// NewFileSink creates a sink rooted at basePath. Records are grouped
// into files by an arbitrary caller-supplied key (e.g. a session id);
// Logger method calls, including dispatcher trace lines, go under
// defaultLogKey.
func NewFileSink(basePath string, retentionDays int) *FileSink {
	return &FileSink{
		basePath:      basePath,
		retentionDays: retentionDays,
		files:         make(map[string]*os.File),
	}
}

var _ Logger = (*FileSink)(nil)

// defaultLogKey groups general Logger calls (as opposed to records
// written through WriteLine under a caller-chosen key) into their own
// file.
const defaultLogKey = "daemon"

func (s *FileSink) Debugf(format string, args ...interface{}) { s.logf("DEBUG", format, args...) }
func (s *FileSink) Infof(format string, args ...interface{})  { s.logf("INFO", format, args...) }
func (s *FileSink) Warnf(format string, args ...interface{})  { s.logf("WARN", format, args...) }
func (s *FileSink) Errorf(format string, args ...interface{}) { s.logf("ERROR", format, args...) }

func (s *FileSink) Error(err error) {
	if err == nil {
		return
	}
	s.logf("ERROR", "%v", err)
}

func (s *FileSink) logf(level, format string, args ...interface{}) {
	line := fmt.Sprintf("%s [%s] %s", time.Now().Format(time.RFC3339), level, fmt.Sprintf(format, args...))
	s.WriteLine(defaultLogKey, []byte(line))
}

// WriteLine appends line plus a trailing newline to the file for key,
// creating the directory and file (and "current" symlink) on first
// use.
func (s *FileSink) WriteLine(key string, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.getOrCreateFile(key)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		return err
	}
	if len(line) == 0 || line[len(line)-1] != '\n' {
		if _, err := f.Write([]byte{'\n'}); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileSink) getOrCreateFile(key string) (*os.File, error) {
	if f, ok := s.files[key]; ok {
		return f, nil
	}

	dir := filepath.Join(s.basePath, key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}

	symlinkPath := filepath.Join(dir, "current.log")
	if target, err := os.Readlink(symlinkPath); err == nil {
		if f, err := os.OpenFile(filepath.Join(dir, target), os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			s.files[key] = f
			return f, nil
		}
	}

	name := time.Now().Format("2006-01-02_15-04-05") + ".log"
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("logging: create log file: %w", err)
	}
	s.files[key] = f
	os.Remove(symlinkPath)
	os.Symlink(name, symlinkPath)
	return f, nil
}

// Rotate closes key's current file, forcing the next WriteLine to
// start a fresh one.
func (s *FileSink) Rotate(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[key]; ok {
		delete(s.files, key)
		return f.Close()
	}
	return nil
}

// Cleanup removes log files older than the configured retention
// period. A non-positive RetentionDays disables cleanup.
func (s *FileSink) Cleanup() {
	if s.retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return
	}
	for _, keyDir := range entries {
		if !keyDir.IsDir() {
			continue
		}
		dir := filepath.Join(s.basePath, keyDir.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, fi := range files {
			if fi.IsDir() || filepath.Ext(fi.Name()) != ".log" {
				continue
			}
			info, err := fi.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				os.Remove(filepath.Join(dir, fi.Name()))
			}
		}
	}
}

// Close closes every open file handle.
func (s *FileSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, f := range s.files {
		f.Close()
		delete(s.files, k)
	}
}
