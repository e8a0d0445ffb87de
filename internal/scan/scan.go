package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/gur-shatz/go-integrity/internal/glob"
	"github.com/gur-shatz/go-integrity/internal/hasher"
	"github.com/gur-shatz/go-integrity/internal/manifest"
)

// Options controls a directory scan.
type Options struct {
	Algorithm string
	Patterns  []glob.Pattern
	Workers   int      // 0 = runtime.NumCPU(), 1 = sequential
	Exclude   []string // file paths never included, e.g. the manifest itself
}

// Skip is a file that was found but could not be digested.
type Skip struct {
	Path string
	Err  error
}

// Result is the outcome of a scan.
type Result struct {
	Entries map[string]string // full path -> digest
	Skipped []Skip
	Ignored []string // symlinks and special files, not followed
}

// Scan walks root recursively and digests every selected regular file.
// Keys are filepath.Join(root, rel). An unreadable file or subdirectory is
// recorded in Skipped and the walk continues; only an unusable root fails.
func Scan(ctx context.Context, root string, opts Options) (*Result, error) {
	if _, err := hasher.New(opts.Algorithm); err != nil {
		return nil, err
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan root: %w", &fs.PathError{Op: "scan", Path: root, Err: syscall.ENOTDIR})
	}

	// A symlinked root is followed once; entries below it never are.
	walkRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("scan root: %w", err)
	}

	excluded := make(map[string]bool, 2*len(opts.Exclude))
	for _, p := range opts.Exclude {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		excluded[abs] = true
		if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
			excluded[filepath.Join(dir, filepath.Base(abs))] = true
		}
	}
	isExcluded := func(paths ...string) bool {
		for _, p := range paths {
			if abs, err := filepath.Abs(p); err == nil && excluded[abs] {
				return true
			}
		}
		return false
	}

	matcher := glob.NewMatcher(opts.Patterns)
	result := &Result{Entries: make(map[string]string)}
	var files []string

	err = filepath.WalkDir(walkRoot, func(p string, d fs.DirEntry, err error) error {
		if p == walkRoot {
			return err
		}

		rel, relErr := filepath.Rel(walkRoot, p)
		if relErr != nil {
			return relErr
		}
		// keys keep the root the caller gave
		key := filepath.Join(root, rel)

		if err != nil {
			result.Skipped = append(result.Skipped, Skip{Path: key, Err: err})
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if matcher.PruneDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			if matcher.Match(rel) {
				result.Ignored = append(result.Ignored, key)
			}
			return nil
		}
		if !matcher.Match(rel) {
			return nil
		}
		if len(excluded) > 0 && isExcluded(key, p) {
			return nil
		}
		files = append(files, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	if err := digestAll(ctx, files, opts, result); err != nil {
		return nil, err
	}

	sort.Slice(result.Skipped, func(i, j int) bool {
		return result.Skipped[i].Path < result.Skipped[j].Path
	})
	sort.Strings(result.Ignored)
	return result, nil
}

// digestAll hashes files on a bounded pool. Per-file failures become Skips.
func digestAll(ctx context.Context, files []string, opts Options, result *Result) error {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, f := range files {
		f := f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			digest, err := hasher.Digest(f, opts.Algorithm)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Skipped = append(result.Skipped, Skip{Path: f, Err: err})
				return nil
			}
			result.Entries[f] = digest
			return nil
		})
	}
	return g.Wait()
}

// Generate scans root and writes the resulting manifest to manifestPath.
// Nothing is written if the scan itself fails.
func Generate(ctx context.Context, root, manifestPath string, format manifest.Format, opts Options) (*Result, error) {
	opts.Exclude = append(append([]string(nil), opts.Exclude...), manifestPath)

	result, err := Scan(ctx, root, opts)
	if err != nil {
		return nil, err
	}

	if err := manifest.Write(manifestPath, result.Entries, format); err != nil {
		return nil, err
	}
	return result, nil
}
