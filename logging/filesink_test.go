package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSinkWriteLineCreatesKeyedFile(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(dir, 0)
	defer s.Close()

	if err := s.WriteLine("session-1", []byte("hello")); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}

	current, err := os.Readlink(filepath.Join(dir, "session-1", "current.log"))
	if err != nil {
		t.Fatalf("Readlink current.log: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "session-1", current))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("file contents = %q, want %q", data, "hello\n")
	}
}

func TestFileSinkImplementsLogger(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(dir, 0)
	defer s.Close()

	var l Logger = s
	l.Infof("opcode %d dispatched", 1)
	l.Errorf("boom: %v", "bad")

	data, err := os.ReadFile(filepath.Join(dir, defaultLogKey, mustReadlink(t, dir)))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "opcode 1 dispatched") {
		t.Fatalf("log contents %q missing Infof line", data)
	}
	if !strings.Contains(string(data), "boom: bad") {
		t.Fatalf("log contents %q missing Errorf line", data)
	}
}

func mustReadlink(t *testing.T, basePath string) string {
	t.Helper()
	target, err := os.Readlink(filepath.Join(basePath, defaultLogKey, "current.log"))
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	return target
}

func TestFileSinkCleanupHonorsRetentionDays(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(dir, 0)
	if err := s.WriteLine("session-1", []byte("hello")); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	s.Close()

	// retentionDays <= 0 disables Cleanup entirely.
	s.Cleanup()
	entries, err := os.ReadDir(filepath.Join(dir, "session-1"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("Cleanup removed files despite non-positive RetentionDays")
	}
}
