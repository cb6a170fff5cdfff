package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

const (
	reportsFile  = "reports.jsonl"
	counterExt   = ".build"
	countersDir  = "build-numbers"
	maxLineBytes = 16 * 1024 * 1024
)

// File stores reports as JSON lines in a directory. Build numbers are kept in
// one small file per pipeline. It is safe for use by one process at a time.
type File struct {
	mu     sync.Mutex
	dir    string
	logger *slog.Logger
}

// NewFile creates a file store rooted at dir.
func NewFile(dir string) *File {
	return &File{dir: dir, logger: slog.Default()}
}

// SetLogger overrides the default logger.
func (f *File) SetLogger(l *slog.Logger) { f.logger = l }

func (f *File) Start(_ context.Context) error {
	if err := os.MkdirAll(filepath.Join(f.dir, countersDir), 0o755); err != nil {
		return fmt.Errorf("creating store dir: %w", err)
	}
	return nil
}

func (f *File) Stop(_ context.Context) error { return nil }

func (f *File) Ping(_ context.Context) error {
	info, err := os.Stat(f.dir)
	if err != nil {
		return fmt.Errorf("store dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store path %s is not a directory", f.dir)
	}
	return nil
}

func (f *File) NextBuildNumber(_ context.Context, pipeline string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.dir, countersDir, safeName(pipeline)+counterExt)
	var n int64
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		n, err = strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing build counter %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return 0, fmt.Errorf("reading build counter: %w", err)
	}
	n++

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("creating store dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(n, 10)+"\n"), 0o644); err != nil {
		return 0, fmt.Errorf("writing build counter: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("writing build counter: %w", err)
	}
	return n, nil
}

func (f *File) PutReport(_ context.Context, report types.RunReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	data = append(data, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("creating store dir: %w", err)
	}
	fh, err := os.OpenFile(filepath.Join(f.dir, reportsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening reports file: %w", err)
	}
	defer func() { _ = fh.Close() }()
	if _, err := fh.Write(data); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func (f *File) GetReport(_ context.Context, runID string) (*types.RunReport, error) {
	var found *types.RunReport
	err := f.scan(func(r types.RunReport) {
		if r.RunID == runID {
			found = &r
		}
	})
	return found, err
}

func (f *File) ListReports(_ context.Context, pipeline string, limit int) ([]types.RunReport, error) {
	latest := make(map[string]types.RunReport)
	err := f.scan(func(r types.RunReport) {
		if pipeline == "" || r.Pipeline == pipeline {
			latest[r.RunID] = r
		}
	})
	if err != nil {
		return nil, err
	}
	all := make([]types.RunReport, 0, len(latest))
	for _, r := range latest {
		all = append(all, r)
	}
	return newestFirst(all, limit), nil
}

// scan calls fn for every stored report in append order. Later lines for the
// same run ID supersede earlier ones.
func (f *File) scan(fn func(types.RunReport)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.Open(filepath.Join(f.dir, reportsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening reports file: %w", err)
	}
	defer func() { _ = fh.Close() }()

	sc := bufio.NewScanner(fh)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var r types.RunReport
		if err := json.Unmarshal(line, &r); err != nil {
			f.logger.Warn("skipping corrupt report line", "error", err)
			continue
		}
		fn(r)
	}
	return sc.Err()
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
