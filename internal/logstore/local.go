// Package logstore writes per-stage logs to disk and publishes them to
// remote archives.
package logstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local writes stage logs under <baseDir>/<runID>/<NN>-<stage>.log.
type Local struct {
	baseDir string
}

// NewLocal creates a local log writer rooted at baseDir.
func NewLocal(baseDir string) *Local {
	return &Local{baseDir: baseDir}
}

// RunDir returns the directory holding a run's logs.
func (l *Local) RunDir(runID string) string {
	return filepath.Join(l.baseDir, runID)
}

// StageLog is an open log file for one stage. Writes are hashed as they go.
type StageLog struct {
	Stage string
	Index int
	Path  string

	f *os.File
	h hash.Hash
	w io.Writer
}

// Open creates the log file for the index-th stage (1-based) of a run.
func (l *Local) Open(runID string, index int, stage string) (*StageLog, error) {
	dir := l.RunDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName(index, stage))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening stage log: %w", err)
	}
	h := sha256.New()
	return &StageLog{
		Stage: stage,
		Index: index,
		Path:  path,
		f:     f,
		h:     h,
		w:     io.MultiWriter(f, h),
	}, nil
}

func (s *StageLog) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

// Close closes the file and returns the hex SHA-256 of everything written.
func (s *StageLog) Close() (string, error) {
	if err := s.f.Close(); err != nil {
		return "", fmt.Errorf("closing stage log: %w", err)
	}
	return hex.EncodeToString(s.h.Sum(nil)), nil
}

// FileName returns the log file name for a stage, e.g. "03-sonarqube-analysis.log".
func FileName(index int, stage string) string {
	return fmt.Sprintf("%02d-%s.log", index, sanitize(stage))
}

// HashFile returns the hex SHA-256 of a file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sanitize keeps stage names safe for file names and object keys.
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ' || r == '/':
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "stage"
	}
	return b.String()
}
