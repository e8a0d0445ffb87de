// Package integrity computes and verifies file digests for a directory tree.
//
// A manifest records one digest per regular file under a root directory.
// Verifying the manifest later classifies each entry as intact, changed,
// missing, or unreadable. Nothing runs on import; callers drive the four
// operations: Digest, WriteManifest, GenerateManifest and VerifyIntegrity.
package integrity

import (
	"context"

	"github.com/gur-shatz/go-integrity/internal/glob"
	"github.com/gur-shatz/go-integrity/internal/hasher"
	"github.com/gur-shatz/go-integrity/internal/manifest"
	"github.com/gur-shatz/go-integrity/internal/scan"
	"github.com/gur-shatz/go-integrity/internal/verify"
	"github.com/gur-shatz/go-integrity/pkg/config"
)

type (
	Result     = verify.Result
	Status     = verify.Status
	Report     = verify.Report
	ScanResult = scan.Result
	Skip       = scan.Skip
	Format     = manifest.Format
	Entry      = manifest.Entry
	ChangeSet  = manifest.ChangeSet
	ParseError = manifest.ParseError
)

const (
	Intact  = verify.Intact
	Changed = verify.Changed
	Missing = verify.Missing
	Errored = verify.Errored
)

const (
	FormatAuto  = manifest.FormatAuto
	FormatText  = manifest.FormatText
	FormatJSONL = manifest.FormatJSONL
)

const (
	DefaultAlgorithm = hasher.DefaultAlgorithm
	ChunkSize        = hasher.ChunkSize
)

var (
	ErrUnsupportedAlgorithm = hasher.ErrUnsupportedAlgorithm
	ErrParse                = manifest.ErrParse
)

// Options are shared by generation and verification. Both must use the
// same Algorithm or every entry verifies as changed.
type Options struct {
	Algorithm string
	Format    Format
	Workers   int
	Include   []string // glob patterns relative to root, "!" negates
	Exclude   []string
}

// OptionsFromConfig maps a loaded config onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Algorithm: cfg.Algorithm,
		Format:    cfg.ManifestFormat(),
		Workers:   cfg.Workers,
		Include:   cfg.Include,
		Exclude:   cfg.Exclude,
	}
}

// Digest returns the lowercase hex digest of the file at path.
func Digest(path, algorithm string) (string, error) {
	return hasher.Digest(path, algorithm)
}

// Algorithms lists the supported algorithm identifiers.
func Algorithms() []string {
	return hasher.Algorithms()
}

// ParseFormat validates a manifest format name. The empty string means
// auto, which picks jsonl for .jsonl and .ndjson files and text otherwise.
func ParseFormat(s string) (Format, error) {
	return manifest.ParseFormat(s)
}

// WriteManifest writes path->digest entries to a manifest file.
func WriteManifest(path string, entries map[string]string, format Format) error {
	return manifest.Write(path, entries, format)
}

// ReadManifest parses a manifest file.
func ReadManifest(path string, format Format) (map[string]string, error) {
	return manifest.Read(path, format)
}

// DiffManifests compares two manifests by path and digest.
func DiffManifests(old, new map[string]string) ChangeSet {
	return manifest.Diff(old, new)
}

// GenerateManifest digests every selected regular file under root and
// writes the manifest. Files that cannot be read are returned in Skipped.
func GenerateManifest(ctx context.Context, root, manifestPath string, opts Options) (*ScanResult, error) {
	scanOpts, err := opts.scanOptions()
	if err != nil {
		return nil, err
	}
	return scan.Generate(ctx, root, manifestPath, opts.Format, scanOpts)
}

// ScanTree digests root without writing a manifest.
func ScanTree(ctx context.Context, root string, opts Options) (*ScanResult, error) {
	scanOpts, err := opts.scanOptions()
	if err != nil {
		return nil, err
	}
	return scan.Scan(ctx, root, scanOpts)
}

// VerifyIntegrity re-digests every manifest entry and classifies it.
func VerifyIntegrity(ctx context.Context, manifestPath string, opts Options) (*Report, error) {
	return verify.Verify(ctx, manifestPath, opts.verifyOptions())
}

// VerifyEntries classifies an in-memory manifest.
func VerifyEntries(ctx context.Context, entries map[string]string, opts Options) (*Report, error) {
	return verify.VerifyEntries(ctx, entries, opts.verifyOptions())
}

func (this Options) scanOptions() (scan.Options, error) {
	patterns, err := glob.ParsePatterns(this.Include, this.Exclude)
	if err != nil {
		return scan.Options{}, err
	}
	return scan.Options{
		Algorithm: this.Algorithm,
		Patterns:  patterns,
		Workers:   this.Workers,
	}, nil
}

func (this Options) verifyOptions() verify.Options {
	return verify.Options{
		Algorithm: this.Algorithm,
		Format:    this.Format,
		Workers:   this.Workers,
	}
}
