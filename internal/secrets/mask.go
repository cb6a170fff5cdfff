package secrets

import (
	"bytes"
	"io"
	"sort"
	"strings"
	"sync"
)

const maskText = "****"

// Masker replaces known secret values with a fixed placeholder.
type Masker struct {
	replacer *strings.Replacer
	values   [][]byte // longest first
	hold     int      // longest value minus one
}

// NewMasker builds a masker for the given values. Empty values are ignored.
// Longer values are replaced first so a secret containing another is fully hidden.
func NewMasker(values []string) *Masker {
	vals := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return &Masker{}
	}
	sort.Slice(vals, func(i, j int) bool { return len(vals[i]) > len(vals[j]) })
	m := &Masker{hold: len(vals[0]) - 1}
	pairs := make([]string, 0, 2*len(vals))
	for _, v := range vals {
		pairs = append(pairs, v, maskText)
		m.values = append(m.values, []byte(v))
	}
	m.replacer = strings.NewReplacer(pairs...)
	return m
}

// String masks s.
func (m *Masker) String(s string) string {
	if m == nil || m.replacer == nil {
		return s
	}
	return m.replacer.Replace(s)
}

// Writer wraps w so that output is masked before it is written. The tail of
// the stream that could still be the start of a secret is held back until
// more output arrives or Close is called, so a value split across writes or
// spanning several lines is still replaced.
func (m *Masker) Writer(w io.Writer) io.WriteCloser {
	return &maskWriter{m: m, w: w}
}

// safePrefix returns how many leading bytes of buf can be masked and written
// now. No occurrence of a value may straddle the returned offset.
func (m *Masker) safePrefix(buf []byte) int {
	cut := len(buf) - m.hold
	if cut <= 0 {
		return 0
	}
	for moved := true; moved; {
		moved = false
		for _, v := range m.values {
			lo := max(cut-len(v)+1, 0)
			for i := lo; i < cut; i++ {
				if bytes.HasPrefix(buf[i:], v) {
					cut = i
					moved = true
					break
				}
			}
		}
	}
	return cut
}

type maskWriter struct {
	mu  sync.Mutex
	m   *Masker
	w   io.Writer
	buf []byte
}

func (mw *maskWriter) Write(p []byte) (int, error) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.m == nil || mw.m.replacer == nil {
		return mw.w.Write(p)
	}
	mw.buf = append(mw.buf, p...)
	n := mw.m.safePrefix(mw.buf)
	if n == 0 {
		return len(p), nil
	}
	if _, err := io.WriteString(mw.w, mw.m.String(string(mw.buf[:n]))); err != nil {
		return 0, err
	}
	mw.buf = append(mw.buf[:0], mw.buf[n:]...)
	return len(p), nil
}

// Close flushes any held output. It does not close the underlying writer.
func (mw *maskWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if len(mw.buf) == 0 {
		return nil
	}
	_, err := io.WriteString(mw.w, mw.m.String(string(mw.buf)))
	mw.buf = nil
	return err
}
