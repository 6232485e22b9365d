package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Writer appends completed sessions to a daily markdown file.
type Writer struct {
	dir string
	mu  sync.Mutex
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Append writes sess to the file for its completion date and returns the
// file path.
func (w *Writer) Append(sess Session) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	path := w.PathFor(exportTime(sess))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintln(f, FormatMarkdown(sess)); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	return path, nil
}

func (w *Writer) PathFor(t time.Time) string {
	return filepath.Join(w.dir, t.Format("2006-01-02")+".md")
}

func FormatMarkdown(sess Session) string {
	title := strings.TrimSpace(sess.Title)
	if title == "" {
		title = "Untitled Session"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", title)
	fmt.Fprintf(&b, "- Session: `%s`\n", sess.ID)
	fmt.Fprintf(&b, "- Source: %s\n", sess.AudioSource)
	fmt.Fprintf(&b, "- Started: %s\n", sess.StartedAt.Local().Format("15:04:05"))
	fmt.Fprintf(&b, "- Duration: %s\n", (time.Duration(sess.Duration * float64(time.Second))).Round(time.Second))

	b.WriteString("\n### Summary\n\n")
	if sess.Summary != nil {
		b.WriteString(strings.TrimSpace(*sess.Summary))
	}
	b.WriteString("\n\n### Transcript\n\n")
	if sess.Transcript != nil && strings.TrimSpace(*sess.Transcript) != "" {
		b.WriteString(strings.TrimSpace(*sess.Transcript))
	} else {
		b.WriteString("_No transcript._")
	}
	b.WriteString("\n")

	return b.String()
}

func exportTime(sess Session) time.Time {
	if sess.CompletedAt != nil {
		return sess.CompletedAt.Local()
	}
	return sess.StartedAt.Local()
}
