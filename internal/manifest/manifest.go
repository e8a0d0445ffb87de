package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// maxLineLen bounds a single manifest line. Long paths exceed bufio's 64K default.
const maxLineLen = 1 << 20

// Format selects the on-disk line encoding.
type Format string

const (
	FormatAuto  Format = "auto"  // by file extension
	FormatText  Format = "text"  // path:digest
	FormatJSONL Format = "jsonl" // {"path":...,"digest":...}
)

// ErrParse is wrapped by every *ParseError.
var ErrParse = errors.New("malformed manifest line")

// ParseError reports a manifest line that could not be parsed.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (this *ParseError) Error() string {
	return fmt.Sprintf("manifest line %d: %s: %q", this.Line, this.Reason, this.Text)
}

func (this *ParseError) Unwrap() error {
	return ErrParse
}

// Entry is a single file and its digest.
type Entry struct {
	Path   string `json:"path"`
	Digest string `json:"digest"`
}

// ChangeSet describes the differences between two manifests.
type ChangeSet struct {
	Added    []string
	Modified []string
	Removed  []string
}

// IsEmpty returns true if there are no changes.
func (this *ChangeSet) IsEmpty() bool {
	return len(this.Added) == 0 && len(this.Modified) == 0 && len(this.Removed) == 0
}

// ParseFormat validates a format name. The empty string means auto.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatAuto, nil
	case FormatAuto, FormatText, FormatJSONL:
		return f, nil
	default:
		return "", fmt.Errorf("unknown manifest format %q (want auto, text or jsonl)", s)
	}
}

// Resolve turns FormatAuto into a concrete format based on the
// manifest path: .jsonl and .ndjson are JSONL, anything else is text.
func Resolve(path string, format Format) Format {
	if format != FormatAuto && format != "" {
		return format
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL
	}
	return FormatText
}

// Sorted returns the entries ordered by path.
func Sorted(entries map[string]string) []Entry {
	sorted := make([]Entry, 0, len(entries))
	for p, d := range entries {
		sorted = append(sorted, Entry{Path: p, Digest: d})
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Path < sorted[j].Path
	})
	return sorted
}

// Read parses a manifest file into a map of path->digest. It stops at the
// first malformed line.
func Read(path string, format Format) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	entries, err := Decode(f, Resolve(path, format))
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return entries, nil
}

// Decode parses manifest lines from r. Empty lines are skipped, CRLF line
// endings and a missing final newline are tolerated. Duplicate paths keep
// the last digest.
func Decode(r io.Reader, format Format) (map[string]string, error) {
	entries := make(map[string]string)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLen)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		var e Entry
		var err error
		if format == FormatJSONL {
			e, err = parseJSONLine(line)
		} else {
			e, err = parseTextLine(line)
		}
		if err != nil {
			return nil, &ParseError{Line: lineNo, Text: line, Reason: err.Error()}
		}
		entries[e.Path] = e.Digest
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// parseTextLine splits on the last colon. Digests are hex and never
// contain one, so paths with colons survive.
func parseTextLine(line string) (Entry, error) {
	i := strings.LastIndexByte(line, ':')
	if i < 0 {
		return Entry{}, errors.New("missing ':' separator")
	}
	e := Entry{Path: line[:i], Digest: line[i+1:]}
	return e, e.validate()
}

func parseJSONLine(line string) (Entry, error) {
	var e Entry
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return Entry{}, err
	}
	return e, e.validate()
}

func (this Entry) validate() error {
	if this.Path == "" {
		return errors.New("empty path")
	}
	if this.Digest == "" {
		return errors.New("empty digest")
	}
	for _, c := range this.Digest {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return errors.New("digest is not hexadecimal")
		}
	}
	return nil
}

// Write writes a map of path->digest to a manifest file, truncating any
// previous content. Entries are sorted by path.
func Write(path string, entries map[string]string, format Format) (retErr error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("close manifest: %w", err)
		}
	}()

	return Encode(f, entries, Resolve(path, format))
}

// Encode writes the entries to w, one line each.
func Encode(w io.Writer, entries map[string]string, format Format) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, e := range Sorted(entries) {
		if format == FormatJSONL {
			if err := enc.Encode(e); err != nil {
				return fmt.Errorf("encode %s: %w", e.Path, err)
			}
			continue
		}
		fmt.Fprintf(bw, "%s:%s\n", e.Path, e.Digest)
	}
	return bw.Flush()
}

// Diff compares old and new manifests and returns a ChangeSet.
func Diff(old, new map[string]string) ChangeSet {
	var cs ChangeSet

	for path, newDigest := range new {
		oldDigest, exists := old[path]
		if !exists {
			cs.Added = append(cs.Added, path)
		} else if !strings.EqualFold(oldDigest, newDigest) {
			cs.Modified = append(cs.Modified, path)
		}
	}

	for path := range old {
		if _, exists := new[path]; !exists {
			cs.Removed = append(cs.Removed, path)
		}
	}

	sort.Strings(cs.Added)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Removed)

	return cs
}
