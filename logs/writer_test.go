package logs

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteBlockCreatesFileAndSymlink(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 30)
	defer w.Close()

	if err := w.WriteBlock("host->card", []byte{0x21, 0x00, 0x00, 0x02, 0x01, 0x02}); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	today := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, today+".log"))
	if err != nil {
		t.Fatalf("reading trace file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("trace file is empty")
	}

	target, err := os.Readlink(filepath.Join(dir, "current.log"))
	if err != nil {
		t.Fatalf("reading current.log symlink: %v", err)
	}
	if target != today+".log" {
		t.Fatalf("want current.log -> %s, got %s", today+".log", target)
	}
}

func TestRotateReopensFile(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 0)
	defer w.Close()

	if err := w.WriteBlock("host->card", []byte{0x01}); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if err := w.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := w.WriteBlock("card->host", []byte{0x02}); err != nil {
		t.Fatalf("WriteBlock after rotate: %v", err)
	}
}

func TestCleanupRemovesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "2000-01-01.log")
	if err := os.WriteFile(old, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().AddDate(0, 0, -60)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatal(err)
	}

	w := NewWriter(dir, 30)
	w.Cleanup()

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("want expired trace file removed, stat err = %v", err)
	}
}
