package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/michael-freling/file-drive/internal/tree"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

type Exporter struct {
	logger      *slog.Logger
	service     TreeService
	fs          afero.Fs
	concurrency int
}

func NewExporter(logger *slog.Logger, service TreeService, fs afero.Fs, concurrency int) *Exporter {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Exporter{
		logger:      logger,
		service:     service,
		fs:          fs,
		concurrency: concurrency,
	}
}

type exportFile struct {
	node            tree.Node
	destinationPath string
}

// Export writes the subtree of id below destinationDirectory. Every
// destination is checked before anything is written, and an existing file
// is never overwritten. Files whose download fails are recorded in
// progressNotifier.
func (exporter *Exporter) Export(
	ctx context.Context,
	ownerID string,
	id string,
	destinationDirectory string,
	progressNotifier *ProgressNotifier,
) error {
	root, err := exporter.service.Get(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("service.Get: %w", err)
	}

	folders, files, err := exporter.plan(ctx, ownerID, root, destinationDirectory)
	if err != nil {
		return err
	}
	for _, file := range files {
		if _, err := exporter.fs.Stat(file.destinationPath); err == nil {
			return fmt.Errorf("file already exists: %s", file.destinationPath)
		}
	}
	exporter.logger.InfoContext(ctx, "Validation completed successfully. Start exporting files",
		"destination", destinationDirectory,
		"folders", len(folders),
		"files", len(files),
	)

	for _, folder := range folders {
		if err := exporter.fs.MkdirAll(folder, 0755); err != nil {
			return fmt.Errorf("fs.MkdirAll: %w", err)
		}
	}

	var exportedCount int64
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(exporter.concurrency)
	for _, file := range files {
		eg.Go(func() error {
			if err := exporter.exportFile(egCtx, ownerID, file); err != nil {
				progressNotifier.addFailure(file.destinationPath, err)
				return nil
			}
			atomic.AddInt64(&exportedCount, 1)
			progressNotifier.addSuccess()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("errgroup.Wait: %w", err)
	}

	exporter.logger.InfoContext(ctx, "exported a subtree",
		"id", id,
		"destination", destinationDirectory,
		"exported", atomic.LoadInt64(&exportedCount),
		"total", len(files),
	)
	return progressNotifier.Err()
}

// plan lists the subtree breadth first and maps it onto local paths.
func (exporter *Exporter) plan(ctx context.Context, ownerID string, root tree.Node, destinationDirectory string) ([]string, []exportFile, error) {
	rootPath, err := localPath(destinationDirectory, root.Name)
	if err != nil {
		return nil, nil, err
	}
	if !root.IsFolder() {
		return nil, []exportFile{{node: root, destinationPath: rootPath}}, nil
	}

	type pending struct {
		node tree.Node
		path string
	}
	folders := []string{rootPath}
	files := make([]exportFile, 0)
	seen := map[string]struct{}{rootPath: {}}
	queue := []pending{{node: root, path: rootPath}}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		current := queue[0]
		queue = queue[1:]

		children, err := exporter.service.ListChildren(ctx, ownerID, &current.node.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("service.ListChildren: %w", err)
		}
		for _, child := range children {
			path, err := localPath(current.path, child.Name)
			if err != nil {
				return nil, nil, err
			}
			// sibling names are not unique in the tree
			if _, ok := seen[path]; ok {
				return nil, nil, fmt.Errorf("two nodes are exported to %s", path)
			}
			seen[path] = struct{}{}

			if child.IsFolder() {
				folders = append(folders, path)
				queue = append(queue, pending{node: child, path: path})
				continue
			}
			files = append(files, exportFile{node: child, destinationPath: path})
		}
	}
	return folders, files, nil
}

func localPath(directory string, name string) (string, error) {
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%q cannot be used as a local file name", name)
	}
	return filepath.Join(directory, name), nil
}

func (exporter *Exporter) exportFile(ctx context.Context, ownerID string, file exportFile) error {
	_, reader, err := exporter.service.OpenFile(ctx, ownerID, file.node.ID)
	if err != nil {
		return fmt.Errorf("service.OpenFile: %w", err)
	}
	defer reader.Close()

	destination, err := exporter.fs.OpenFile(file.destinationPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("fs.OpenFile: %w", err)
	}
	if _, err := io.Copy(destination, reader); err != nil {
		destination.Close()
		return fmt.Errorf("io.Copy: %w", err)
	}
	if err := destination.Close(); err != nil {
		return fmt.Errorf("destination.Close: %w", err)
	}
	return nil
}
