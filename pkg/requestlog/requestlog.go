// Package requestlog appends human-readable request/response summaries to a
// per-run log file.
package requestlog

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Sternrassler/codemao-client/pkg/logging"
)

// DefaultMaxChars is the body excerpt budget in characters.
const DefaultMaxChars = 100

const (
	headerRule = "**************************************************"
	closeRule  = "=================================================="
	timeLayout = "2006-01-02 15:04:05"
)

// Record is one terminal response.
type Record struct {
	Time            time.Time
	Method          string
	URL             string
	Status          int
	RequestHeaders  http.Header
	ResponseHeaders http.Header
	Body            []byte
}

// Sink receives records. Implementations must be safe for concurrent use.
type Sink interface {
	Write(rec Record) error
	Close() error
}

// FileSink writes record blocks to a single file.
type FileSink struct {
	mu       sync.Mutex
	w        io.WriteCloser
	path     string
	maxChars int
}

// NewFileSink opens (or creates) <dir>/<start unix seconds>.txt for append.
func NewFileSink(dir string, start time.Time, maxChars int) (*FileSink, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	path := filepath.Join(dir, strconv.FormatInt(start.Unix(), 10)+".txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open request log: %w", err)
	}

	return NewWriterSink(f, path, maxChars), nil
}

// NewWriterSink wraps an arbitrary writer. path is informational only.
func NewWriterSink(w io.WriteCloser, path string, maxChars int) *FileSink {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &FileSink{w: w, path: path, maxChars: maxChars}
}

// Path returns the log file path.
func (s *FileSink) Path() string {
	return s.path
}

// Write appends one block for rec.
func (s *FileSink) Write(rec Record) error {
	block := Format(rec, s.maxChars)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, block); err != nil {
		return fmt.Errorf("write request log: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}

// Format renders rec as a log block. Credential headers are redacted and the
// body is cut to maxChars runes.
func Format(rec Record, maxChars int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s]\n", rec.Time.Format(timeLayout))
	fmt.Fprintf(&b, "Method: %s | URL: %s | Status: %d\n", rec.Method, rec.URL, rec.Status)
	b.WriteString(headerRule + "\n")
	fmt.Fprintf(&b, "Request Headers: %s\n", formatHeaders(logging.RedactHeaders(rec.RequestHeaders)))
	fmt.Fprintf(&b, "Response Headers: %s\n", formatHeaders(logging.RedactHeaders(rec.ResponseHeaders)))
	b.WriteString(headerRule + "\n")
	fmt.Fprintf(&b, "Response: %s\n", Truncate(string(rec.Body), maxChars))
	b.WriteString(closeRule + "\n")

	return b.String()
}

// Truncate cuts s to max runes, appending "..." when anything was removed.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

func formatHeaders(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(h[k], ", "))
	}
	return "{" + strings.Join(parts, "; ") + "}"
}
