// Log file rotation for the HeliCal rig controller
//
// Size-based rotation with a bounded number of timestamped backups.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	// Filename is the path to the log file.
	Filename string

	// MaxSize is the rotation threshold in megabytes (default 10).
	MaxSize int

	// MaxBackups bounds how many rotated files are kept (default 5).
	MaxBackups int
}

// RotatingFileWriter is an io.Writer that renames the file aside and
// reopens it once a write would push it past the size threshold.
// Rotated files carry a timestamp: rig.20260830-142501.log.
type RotatingFileWriter struct {
	mu         sync.Mutex
	filename   string
	maxSize    int64
	maxBackups int
	size       int64
	file       *os.File
}

// NewRotatingFileWriter opens (or creates) the log file and applies
// the config defaults.
func NewRotatingFileWriter(config RotationConfig) (*RotatingFileWriter, error) {
	if config.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 10
	}
	if config.MaxBackups <= 0 {
		config.MaxBackups = 5
	}
	w := &RotatingFileWriter{
		filename:   config.Filename,
		maxSize:    int64(config.MaxSize) * 1024 * 1024,
		maxBackups: config.MaxBackups,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingFileWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.filename), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(w.filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write implements io.Writer, rotating first when p would overflow
// the threshold.
func (w *RotatingFileWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log file: %w", err)
		}
	}
	n, err = w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close current file: %w", err)
	}
	ext := filepath.Ext(w.filename)
	rotated := fmt.Sprintf("%s.%s%s",
		strings.TrimSuffix(w.filename, ext), time.Now().Format("20060102-150405"), ext)
	if err := os.Rename(w.filename, rotated); err != nil {
		w.open()
		return fmt.Errorf("rename log file: %w", err)
	}
	go w.pruneBackups()
	return w.open()
}

// pruneBackups deletes the oldest rotated files beyond maxBackups.
// The embedded timestamp makes name order chronological.
func (w *RotatingFileWriter) pruneBackups() {
	dir := filepath.Dir(w.filename)
	base := filepath.Base(w.filename)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var backups []string
	for _, entry := range entries {
		if name := entry.Name(); name != base && isRotatedName(name, prefix, ext) {
			backups = append(backups, name)
		}
	}
	sort.Strings(backups)
	for len(backups) > w.maxBackups {
		os.Remove(filepath.Join(dir, backups[0]))
		backups = backups[1:]
	}
}

// isRotatedName matches prefix.YYYYMMDD-HHMMSS.ext.
func isRotatedName(name, prefix, ext string) bool {
	if !strings.HasPrefix(name, prefix+".") {
		return false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix+"."), ext)
	if len(stamp) != 15 || stamp[8] != '-' {
		return false
	}
	_, err1 := strconv.Atoi(stamp[:8])
	_, err2 := strconv.Atoi(stamp[9:])
	return err1 == nil && err2 == nil
}

// Close closes the underlying file.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// CurrentSize returns the size of the live log file.
func (w *RotatingFileWriter) CurrentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// MultiWriter fans writes out to several writers; the first error
// stops the fan-out.
type MultiWriter struct {
	writers []io.Writer
}

func NewMultiWriter(writers ...io.Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (mw *MultiWriter) Write(p []byte) (n int, err error) {
	for _, w := range mw.writers {
		if n, err = w.Write(p); err != nil {
			return n, err
		}
	}
	return len(p), nil
}

// NewFileLogger builds a logger writing to a rotating file, colors
// off. Both the logger and the writer are returned so the caller can
// close the file.
func NewFileLogger(prefix string, config RotationConfig) (*Logger, *RotatingFileWriter, error) {
	writer, err := NewRotatingFileWriter(config)
	if err != nil {
		return nil, nil, err
	}
	logger := New(prefix)
	logger.SetWriter(writer)
	logger.SetColorize(false)
	return logger, writer, nil
}
