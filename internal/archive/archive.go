// Package archive exports completed sessions: a markdown entry in the daily
// file on disk, then an optional upload of that file.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/sjawhar/livescribe/internal/storage"
)

type SessionGetter interface {
	GetSession(id string) (storage.Session, error)
}

// Uploader pushes a day's export file somewhere durable.
type Uploader interface {
	Sync(ctx context.Context, localPath, date string) error
}

type Archiver struct {
	store    SessionGetter
	writer   *storage.Writer
	uploader Uploader
}

// New returns an Archiver. uploader may be nil.
func New(store SessionGetter, writer *storage.Writer, uploader Uploader) *Archiver {
	return &Archiver{store: store, writer: writer, uploader: uploader}
}

func (a *Archiver) Archive(ctx context.Context, sessionID string) error {
	sess, err := a.store.GetSession(sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if sess.Status != storage.StatusCompleted {
		return fmt.Errorf("archive session %s: status is %s", sessionID, sess.Status)
	}

	path, err := a.writer.Append(sess)
	if err != nil {
		return fmt.Errorf("export session %s: %w", sessionID, err)
	}
	slog.Info("archive: exported session", "session_id", sessionID, "path", path)

	if a.uploader == nil {
		return nil
	}

	date := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := a.uploader.Sync(ctx, path, date); err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	slog.Info("archive: uploaded export", "session_id", sessionID, "date", date)
	return nil
}
