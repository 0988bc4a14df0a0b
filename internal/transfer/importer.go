// Package transfer copies directories between the local filesystem and an
// owner's tree.
package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/michael-freling/file-drive/internal/tree"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

type TreeService interface {
	Get(ctx context.Context, ownerID string, id string) (tree.Node, error)
	ListChildren(ctx context.Context, ownerID string, parentID *string) ([]tree.Node, error)
	CreateFolder(ctx context.Context, ownerID string, name string, parentID *string) (tree.Node, error)
	CreateFile(ctx context.Context, ownerID string, name string, parentID *string, contents io.Reader, mimeType *string) (tree.Node, error)
	OpenFile(ctx context.Context, ownerID string, id string) (tree.Node, io.ReadCloser, error)
}

type Importer struct {
	logger      *slog.Logger
	service     TreeService
	fs          afero.Fs
	concurrency int
}

func NewImporter(logger *slog.Logger, service TreeService, fs afero.Fs, concurrency int) *Importer {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Importer{
		logger:      logger,
		service:     service,
		fs:          fs,
		concurrency: concurrency,
	}
}

type importFile struct {
	sourcePath string
	parentID   string
}

// Import copies sourcePath into parentID, or into the owner's root when
// parentID is nil. Folders are created first, one at a time, and files are
// uploaded concurrently afterwards. A failed folder aborts the import; a
// failed file is recorded in progressNotifier and the rest continue.
func (importer *Importer) Import(
	ctx context.Context,
	ownerID string,
	sourcePath string,
	parentID *string,
	progressNotifier *ProgressNotifier,
) (tree.Node, error) {
	sourcePath = filepath.Clean(sourcePath)
	stat, err := importer.fs.Stat(sourcePath)
	if err != nil {
		return tree.Node{}, fmt.Errorf("fs.Stat: %w", err)
	}
	if !stat.IsDir() {
		node, err := importer.importFile(ctx, ownerID, sourcePath, parentID)
		if err != nil {
			progressNotifier.addFailure(sourcePath, err)
			return tree.Node{}, err
		}
		progressNotifier.addSuccess()
		return node, nil
	}

	root, err := importer.service.CreateFolder(ctx, ownerID, filepath.Base(sourcePath), parentID)
	if err != nil {
		return tree.Node{}, fmt.Errorf("service.CreateFolder: %w", err)
	}

	folderIDs := map[string]string{sourcePath: root.ID}
	files := make([]importFile, 0)
	// afero.Walk visits a directory before its entries, in lexical order
	err = afero.Walk(importer.fs, sourcePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == sourcePath {
			return nil
		}
		parentID, ok := folderIDs[filepath.Dir(path)]
		if !ok {
			return fmt.Errorf("parent of %s is not imported", path)
		}
		switch {
		case info.IsDir():
			folder, err := importer.service.CreateFolder(ctx, ownerID, info.Name(), &parentID)
			if err != nil {
				return fmt.Errorf("service.CreateFolder: %w: %s", err, path)
			}
			folderIDs[path] = folder.ID
		case info.Mode().IsRegular():
			files = append(files, importFile{sourcePath: path, parentID: parentID})
		default:
			importer.logger.InfoContext(ctx, "skipped a file that is not regular", "path", path)
		}
		return nil
	})
	if err != nil {
		return tree.Node{}, fmt.Errorf("afero.Walk: %w", err)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(importer.concurrency)
	for _, file := range files {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				progressNotifier.addFailure(file.sourcePath, err)
				return nil
			}
			if _, err := importer.importFile(egCtx, ownerID, file.sourcePath, &file.parentID); err != nil {
				progressNotifier.addFailure(file.sourcePath, err)
				return nil
			}
			progressNotifier.addSuccess()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return root, fmt.Errorf("errgroup.Wait: %w", err)
	}

	importer.logger.InfoContext(ctx, "imported a directory",
		"source", sourcePath,
		"folders", len(folderIDs),
		"completed", progressNotifier.Completed,
		"failed", progressNotifier.Failed,
	)
	return root, progressNotifier.Err()
}

func (importer *Importer) importFile(ctx context.Context, ownerID string, sourcePath string, parentID *string) (tree.Node, error) {
	file, err := importer.fs.Open(sourcePath)
	if err != nil {
		return tree.Node{}, fmt.Errorf("fs.Open: %w", err)
	}
	defer file.Close()

	name := filepath.Base(sourcePath)
	var mimeType *string
	if byExtension := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExtension != "" {
		mimeType = &byExtension
	}
	node, err := importer.service.CreateFile(ctx, ownerID, name, parentID, file, mimeType)
	if err != nil {
		return tree.Node{}, fmt.Errorf("service.CreateFile: %w: %s", err, sourcePath)
	}
	return node, nil
}
