package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// newSmallWriter returns a writer whose limit is a few bytes so tests can
// trigger rotation without writing a megabyte.
func newSmallWriter(t *testing.T, backups int, limit int64) (*RotatingWriter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), LogFileName)
	rw, err := NewRotatingWriter(path, RotationConfig{MaxBackups: backups})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	rw.maxBytes = limit
	t.Cleanup(func() { rw.Close() })
	return rw, path
}

func TestRotatingWriter_RotatesAtLimit(t *testing.T) {
	rw, path := newSmallWriter(t, 2, 10)

	for _, s := range []string{"aaaaaaaa\n", "bbbbbbbb\n", "cccccccc\n"} {
		if _, err := rw.Write([]byte(s)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	rw.Close()

	current, _ := os.ReadFile(path)
	b1, _ := os.ReadFile(path + ".1")
	b2, _ := os.ReadFile(path + ".2")
	if string(current) != "cccccccc\n" {
		t.Errorf("current = %q", current)
	}
	if string(b1) != "bbbbbbbb\n" {
		t.Errorf("backup .1 = %q", b1)
	}
	if string(b2) != "aaaaaaaa\n" {
		t.Errorf("backup .2 = %q", b2)
	}
}

func TestRotatingWriter_DropsOldestBackup(t *testing.T) {
	rw, path := newSmallWriter(t, 1, 4)
	for _, s := range []string{"one\n", "two\n", "tri\n"} {
		rw.Write([]byte(s))
	}
	rw.Close()

	if _, err := os.Stat(path + ".2"); !os.IsNotExist(err) {
		t.Error("expected no second backup")
	}
	b1, _ := os.ReadFile(path + ".1")
	if string(b1) != "two\n" {
		t.Errorf("backup .1 = %q", b1)
	}
}

func TestRotatingWriter_NoBackupsTruncates(t *testing.T) {
	rw, path := newSmallWriter(t, 0, 4)
	rw.Write([]byte("old\n"))
	rw.Write([]byte("new\n"))
	rw.Close()

	data, _ := os.ReadFile(path)
	if string(data) != "new\n" {
		t.Errorf("file = %q, want only the newest line", data)
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("expected no backup when MaxBackups is 0")
	}
}

func TestRotatingWriter_Compress(t *testing.T) {
	rw, path := newSmallWriter(t, 2, 4)
	rw.compress = true
	rw.Write([]byte("old\n"))
	rw.Write([]byte("new\n"))
	if err := rw.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	if _, err := os.Stat(path + ".1.gz"); err != nil {
		t.Errorf("expected compressed backup: %v", err)
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("uncompressed backup should be removed after compression")
	}
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	rw, _ := newSmallWriter(t, 1, 0)
	rw.Close()
	if _, err := rw.Write([]byte("x")); err == nil || !strings.Contains(err.Error(), "closed") {
		t.Errorf("Write after Close = %v, want closed error", err)
	}
}

func TestRotatingWriter_AppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), LogFileName)
	if err := os.WriteFile(path, []byte("existing\n"), 0644); err != nil {
		t.Fatal(err)
	}
	rw, err := NewRotatingWriter(path, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()
	if rw.Size() != int64(len("existing\n")) {
		t.Errorf("Size() = %d", rw.Size())
	}
}
