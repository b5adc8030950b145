// Package logs implements the rotating block-trace log: one line per block
// transmitted or received, timestamped and hex-dumped, with daily rotation
// and retention-based cleanup.
package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Writer appends block-trace lines to a rotating log file under basePath.
// It is safe for concurrent use.
type Writer struct {
	basePath      string
	retentionDays int

	mu   sync.Mutex
	file *os.File
	day  string // date of the currently open file, "2006-01-02"
}

// NewWriter opens (or prepares to open, lazily) a trace log under basePath,
// retaining files for retentionDays (0 disables cleanup).
func NewWriter(basePath string, retentionDays int) *Writer {
	return &Writer{basePath: basePath, retentionDays: retentionDays}
}

// WriteBlock appends one trace line: timestamp, direction ("host->card" or
// "card->host"), and the raw wire bytes in hex.
func (w *Writer) WriteBlock(direction string, raw []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.currentFile()
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%s %-11s % x\n", time.Now().Format(time.RFC3339Nano), direction, raw)
	_, err = f.WriteString(line)
	return err
}

// currentFile returns today's file, rotating automatically at midnight.
func (w *Writer) currentFile() (*os.File, error) {
	today := time.Now().Format("2006-01-02")
	if w.file != nil && w.day == today {
		return w.file, nil
	}
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}

	if err := os.MkdirAll(w.basePath, 0755); err != nil {
		return nil, fmt.Errorf("logs: creating trace directory: %w", err)
	}
	path := filepath.Join(w.basePath, today+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("logs: opening trace file: %w", err)
	}

	current := filepath.Join(w.basePath, "current.log")
	os.Remove(current)
	os.Symlink(today+".log", current)

	w.file = f
	w.day = today
	return f, nil
}

// Rotate closes the current file so the next WriteBlock reopens today's
// file (in append mode) even within the same day.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Close()
		w.file = nil
		w.day = ""
	}
	return nil
}

// Cleanup removes trace files older than retentionDays.
func (w *Writer) Cleanup() {
	if w.retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -w.retentionDays)

	entries, err := os.ReadDir(w.basePath)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(w.basePath, entry.Name())
			if err := os.Remove(path); err == nil {
				log.Infof("logs: removed expired trace file %s", path)
			}
		}
	}
}

// Close closes the currently open file, if any.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
}
