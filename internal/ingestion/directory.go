package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/54b3r/ragctx-go/internal/errkind"
	"github.com/54b3r/ragctx-go/internal/extract"
)

// FileError records a file that failed to index.
type FileError struct {
	// File is the file name (or path, for extraction failures).
	File string `json:"file"`
	// Kind is the error kind, e.g. "provider" or "input".
	Kind errkind.Kind `json:"kind"`
	// Err is the failure.
	Err error `json:"-"`
	// Message is Err rendered for JSON output.
	Message string `json:"error"`
}

// Report summarises a directory indexing run. One failing file never stops
// the others.
type Report struct {
	Context string      `json:"context"`
	Indexed []*Result   `json:"indexed"`
	Failed  []FileError `json:"failed"`
	// TotalDocuments and TotalFiles are the context totals after the run.
	TotalDocuments int `json:"total_documents"`
	TotalFiles     int `json:"total_files"`
}

// DirOptions controls IndexDirectory.
type DirOptions struct {
	// Recursive descends into subdirectories. Hidden directories are
	// always skipped.
	Recursive bool
	// Progress, when set, is called once per file name after it was
	// processed, with the error (nil on success).
	Progress func(file string, err error)
}

// IndexPath extracts, chunks and indexes a single file on disk. The file is
// recorded under its base name.
func (p *Pipeline) IndexPath(ctx context.Context, res Residency, path, contextName string) (*Result, error) {
	chunks, err := p.chunkFile(path)
	if err != nil {
		return nil, err
	}
	return p.IndexFile(ctx, res, chunks, filepath.Base(path), contextName)
}

// IndexText chunks already-extracted text and indexes it as fileName.
func (p *Pipeline) IndexText(ctx context.Context, res Residency, text, fileName, contextName string) (*Result, error) {
	meta := map[string]string{
		"source":    fileName,
		"file_type": strings.ToLower(filepath.Ext(fileName)),
		"loaded_at": p.now().Format(time.RFC3339),
	}
	chunks := p.splitter.Split(text, meta, isMarkdown(fileName))
	return p.IndexFile(ctx, res, chunks, fileName, contextName)
}

// IndexDirectory indexes every supported file under root into contextName.
// Files sharing a base name are indexed together as one file name. It fails
// outright only when root is unusable or holds no supported file; otherwise
// per-file failures are collected in the report.
func (p *Pipeline) IndexDirectory(ctx context.Context, res Residency, root, contextName string, opts DirOptions) (*Report, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("ingestion: directory %s: %w", root, errkind.ErrNotFound)
		}
		return nil, fmt.Errorf("ingestion: stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ingestion: %s is not a directory: %w", root, errkind.ErrInput)
	}

	paths, err := discover(root, opts.Recursive)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no supported files (%s) in %s", ErrEmptyInput, strings.Join(extract.Extensions(), ", "), root)
	}

	// Group by base name, keeping discovery order.
	var names []string
	byName := make(map[string][]string)
	for _, path := range paths {
		n := filepath.Base(path)
		if _, ok := byName[n]; !ok {
			names = append(names, n)
		}
		byName[n] = append(byName[n], path)
	}

	report := &Report{Context: contextName}
	fail := func(file string, err error) {
		report.Failed = append(report.Failed, FileError{File: file, Kind: errkind.Of(err), Err: err, Message: err.Error()})
		if opts.Progress != nil {
			opts.Progress(file, err)
		}
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			fail(name, err)
			continue
		}

		var chunks []Chunk
		var extractErr error
		for _, path := range byName[name] {
			c, err := p.chunkFile(path)
			if err != nil {
				extractErr = err
				break
			}
			chunks = append(chunks, c...)
		}
		if extractErr != nil {
			fail(name, extractErr)
			continue
		}
		renumber(chunks)

		r, err := p.IndexFile(ctx, res, chunks, name, contextName)
		if err != nil {
			p.log.Warn("ingestion: file failed",
				slog.String("context", contextName),
				slog.String("file", name),
				slog.Any("error", err),
			)
			fail(name, err)
			continue
		}
		report.Indexed = append(report.Indexed, r)
		report.Context = r.Context
		report.TotalDocuments = r.TotalDocuments
		report.TotalFiles = r.TotalFiles
		if opts.Progress != nil {
			opts.Progress(name, nil)
		}
	}

	if len(report.Indexed) == 0 {
		if meta, err := p.mgr.Metadata(contextName); err == nil {
			report.TotalDocuments = meta.TotalDocuments
			report.TotalFiles = len(meta.IndexedFiles)
		}
	}
	return report, nil
}

// chunkFile extracts and splits one file.
func (p *Pipeline) chunkFile(path string) ([]Chunk, error) {
	text, err := extract.File(path)
	if err != nil {
		return nil, err
	}
	return p.splitter.Split(text, FileMetadata(path, p.now()), isMarkdown(path)), nil
}

// renumber fixes chunk positions after several same-named files were joined.
func renumber(chunks []Chunk) {
	for i := range chunks {
		chunks[i].Index = i
		chunks[i].Total = len(chunks)
		if chunks[i].Metadata != nil {
			chunks[i].Metadata["chunk_index"] = fmt.Sprint(i)
			chunks[i].Metadata["total_chunks"] = fmt.Sprint(len(chunks))
		}
	}
}

// discover lists supported files under root in lexical order.
func discover(root string, recursive bool) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if !recursive || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && !strings.HasPrefix(d.Name(), ".") && extract.Supported(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingestion: walk %s: %w", root, err)
	}
	slices.Sort(paths)
	return paths, nil
}
