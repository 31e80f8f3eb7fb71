// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var now = time.Now

// LogFile is used to setup a file based logger that also performs log rotation
type LogFile struct {
	// Name of the log file
	fileName string

	// Path to the log file
	logPath string

	// Duration between each file rotation operation
	duration time.Duration

	// LastCreated represents the creation time of the latest log
	LastCreated time.Time

	// FileInfo is the pointer to the current file being written to
	FileInfo *os.File

	// MaxBytes is the maximum number of desired bytes for a log file
	MaxBytes int

	// BytesWritten is the number of bytes written in the current log file
	BytesWritten int64

	// Max rotated files to keep before removing them. Zero keeps all of
	// them, a negative value disables rotation.
	MaxFiles int

	// acquire is the mutex utilized to ensure we have no concurrency issues
	acquire sync.Mutex
}

func (l *LogFile) openNew() error {
	newFilePath := filepath.Join(l.logPath, l.fileName)

	// Try creating or opening the active log file. Since the active log file
	// always has the same name, append log entries to prevent overwriting
	// previous log data.
	filePointer, err := os.OpenFile(newFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return err
	}
	stat, err := filePointer.Stat()
	if err != nil {
		filePointer.Close()
		return err
	}

	l.FileInfo = filePointer
	l.LastCreated = now()
	l.BytesWritten = stat.Size()
	return nil
}

func (l *LogFile) rotate() error {
	if l.MaxFiles < 0 {
		return nil
	}
	timeElapsed := now().Sub(l.LastCreated)
	if timeElapsed <= l.duration && (l.MaxBytes <= 0 || l.BytesWritten < int64(l.MaxBytes)) {
		return nil
	}

	if err := l.FileInfo.Close(); err != nil {
		return err
	}
	if err := l.renameCurrentFile(); err != nil {
		return err
	}
	if err := l.pruneFiles(); err != nil {
		return err
	}
	return l.openNew()
}

func (l *LogFile) archivePrefix() (string, string) {
	ext := filepath.Ext(l.fileName)
	return strings.TrimSuffix(l.fileName, ext) + "-", ext
}

func (l *LogFile) renameCurrentFile() error {
	prefix, ext := l.archivePrefix()
	stamp := strconv.FormatInt(now().UnixNano(), 10)
	src := filepath.Join(l.logPath, l.fileName)
	dst := filepath.Join(l.logPath, prefix+stamp+ext)
	return os.Rename(src, dst)
}

func (l *LogFile) pruneFiles() error {
	if l.MaxFiles == 0 {
		return nil
	}

	prefix, ext := l.archivePrefix()
	pattern := filepath.Join(l.logPath, prefix+"*"+ext)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	sort.Strings(matches)

	stale := len(matches) - l.MaxFiles
	for i := 0; i < stale; i++ {
		if err := os.Remove(matches[i]); err != nil {
			return fmt.Errorf("failed removing old log file: %w", err)
		}
	}
	return nil
}

// Write is used to implement io.Writer.
func (l *LogFile) Write(b []byte) (int, error) {
	l.acquire.Lock()
	defer l.acquire.Unlock()

	// Create a new file if we have no file to write to
	if l.FileInfo == nil {
		if err := l.openNew(); err != nil {
			return 0, err
		}
	}
	// Check for the last contact and rotate if necessary
	if err := l.rotate(); err != nil {
		return 0, err
	}

	n, err := l.FileInfo.Write(b)
	l.BytesWritten += int64(n)
	return n, err
}
