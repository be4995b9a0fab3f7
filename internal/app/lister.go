package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"assetsync/internal/checkpoint"
	"assetsync/internal/contenttype"
	"assetsync/internal/keymap"
	"assetsync/internal/worker"

	"go.uber.org/zap"
)

// FileLister builds upload tasks from the local source tree
type FileLister struct {
	mapper      *keymap.Mapper
	extensions  map[string]struct{}
	contentType contenttype.Resolver
	logger      *zap.Logger
}

// NewFileLister creates a lister accepting files with one of extensions
func NewFileLister(mapper *keymap.Mapper, extensions []string, resolver contenttype.Resolver, logger *zap.Logger) *FileLister {
	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		exts[strings.ToLower(ext)] = struct{}{}
	}
	if resolver == nil {
		resolver = contenttype.Lookup
	}
	return &FileLister{
		mapper:      mapper,
		extensions:  exts,
		contentType: resolver,
		logger:      logger,
	}
}

func (l *FileLister) accepts(path string) bool {
	_, ok := l.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// List walks the source root and returns one task per matching file, in
// lexical path order.
func (l *FileLister) List(ctx context.Context) ([]worker.Task, error) {
	var (
		tasks     []worker.Task
		totalSize int64
	)

	err := filepath.WalkDir(l.mapper.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() || !l.accepts(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		task, err := l.task(path, info.Size())
		if err != nil {
			return err
		}

		tasks = append(tasks, task)
		totalSize += task.Size
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", l.mapper.Root(), err)
	}

	l.logger.Info("Finished listing files",
		zap.Int("total_files", len(tasks)),
		zap.Int64("total_size_bytes", totalSize),
	)
	return tasks, nil
}

// ListFailed returns tasks for the files whose last ledger outcome was a
// failure. Records whose file is gone are logged and dropped.
func (l *FileLister) ListFailed(records []*checkpoint.Record) []worker.Task {
	tasks := make([]worker.Task, 0, len(records))
	for _, rec := range records {
		path, err := l.mapper.Path(rec.Key)
		if err != nil {
			path = rec.LocalPath
		}

		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				l.logger.Warn("Failed file no longer exists", zap.String("key", rec.Key), zap.String("path", path))
			} else {
				l.logger.Warn("Cannot stat failed file", zap.String("key", rec.Key), zap.Error(err))
			}
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		task, err := l.task(path, info.Size())
		if err != nil {
			l.logger.Warn("Skipping failed file", zap.String("key", rec.Key), zap.Error(err))
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks
}

func (l *FileLister) task(path string, size int64) (worker.Task, error) {
	key, err := l.mapper.Key(path)
	if err != nil {
		return worker.Task{}, err
	}
	return worker.Task{
		LocalPath:   path,
		Key:         key,
		ContentType: l.contentType(path),
		Size:        size,
	}, nil
}
