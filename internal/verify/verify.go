package verify

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gur-shatz/go-integrity/internal/hasher"
	"github.com/gur-shatz/go-integrity/internal/manifest"
)

// Status classifies a manifest entry against the file on disk.
type Status int

const (
	Intact  Status = iota // digest matches
	Changed               // digest differs
	Missing               // file no longer exists
	Errored               // file exists but could not be read
)

func (this Status) String() string {
	switch this {
	case Intact:
		return "intact"
	case Changed:
		return "changed"
	case Missing:
		return "missing"
	case Errored:
		return "unreadable"
	}
	return fmt.Sprintf("status(%d)", int(this))
}

// MarshalText renders the status name in JSON and YAML output.
func (this Status) MarshalText() ([]byte, error) {
	return []byte(this.String()), nil
}

// Result is the verification outcome for one entry.
type Result struct {
	Path    string `json:"path"`
	Status  Status `json:"status"`
	Stored  string `json:"stored"`
	Current string `json:"current,omitempty"`
	Err     error  `json:"-"`
}

// String renders the human-readable report line, e.g. "File changed: a.txt".
func (this Result) String() string {
	return fmt.Sprintf("File %s: %s", this.Status, this.Path)
}

// Report holds the results of one verification, sorted by path.
type Report struct {
	Algorithm string   `json:"algorithm"`
	Results   []Result `json:"results"`
}

// Counts returns the number of results per status.
func (this *Report) Counts() map[Status]int {
	counts := make(map[Status]int, 4)
	for _, r := range this.Results {
		counts[r.Status]++
	}
	return counts
}

// OK is true when every entry is intact.
func (this *Report) OK() bool {
	for _, r := range this.Results {
		if r.Status != Intact {
			return false
		}
	}
	return true
}

// Failed returns the results that are not intact.
func (this *Report) Failed() []Result {
	var failed []Result
	for _, r := range this.Results {
		if r.Status != Intact {
			failed = append(failed, r)
		}
	}
	return failed
}

// Options controls verification.
type Options struct {
	Algorithm string
	Format    manifest.Format
	Workers   int // 0 = runtime.NumCPU(), 1 = sequential
}

// Verify reads the manifest at manifestPath and checks every entry.
// A malformed manifest or an unsupported algorithm fails the whole call;
// per-file read errors are reported as Errored results.
func Verify(ctx context.Context, manifestPath string, opts Options) (*Report, error) {
	if _, err := hasher.New(opts.Algorithm); err != nil {
		return nil, err
	}

	entries, err := manifest.Read(manifestPath, opts.Format)
	if err != nil {
		return nil, err
	}
	return VerifyEntries(ctx, entries, opts)
}

// VerifyEntries checks an in-memory path->digest mapping.
func VerifyEntries(ctx context.Context, entries map[string]string, opts Options) (*Report, error) {
	if _, err := hasher.New(opts.Algorithm); err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	report := &Report{
		Algorithm: hasher.Normalize(opts.Algorithm),
		Results:   make([]Result, 0, len(entries)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for path, stored := range entries {
		path, stored := path, stored
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r := Check(path, stored, opts.Algorithm)

			mu.Lock()
			report.Results = append(report.Results, r)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(report.Results, func(i, j int) bool {
		return report.Results[i].Path < report.Results[j].Path
	})
	return report, nil
}

// Check classifies a single entry. The algorithm is assumed valid.
func Check(path, stored, algorithm string) Result {
	r := Result{Path: path, Stored: stored}

	if _, err := os.Lstat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.Status = Missing
			return r
		}
		r.Status = Errored
		r.Err = err
		return r
	}

	current, err := hasher.Digest(path, algorithm)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.Status = Missing
			return r
		}
		r.Status = Errored
		r.Err = err
		return r
	}

	r.Current = current
	if strings.EqualFold(current, stored) {
		r.Status = Intact
	} else {
		r.Status = Changed
	}
	return r
}
