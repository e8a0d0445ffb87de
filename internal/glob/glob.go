package glob

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Pattern represents a single glob pattern, either include or exclude.
type Pattern struct {
	Raw     string
	Negated bool
}

// ParsePatterns converts include and exclude lists to a Pattern slice.
// Include entries prefixed with "!" are treated as exclusions too.
func ParsePatterns(include, exclude []string) ([]Pattern, error) {
	patterns := make([]Pattern, 0, len(include)+len(exclude))
	for _, raw := range include {
		p := Pattern{Raw: raw}
		if len(raw) > 0 && raw[0] == '!' {
			p = Pattern{Raw: raw[1:], Negated: true}
		}
		patterns = append(patterns, p)
	}
	for _, raw := range exclude {
		patterns = append(patterns, Pattern{Raw: raw, Negated: true})
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p.Raw) {
			return nil, fmt.Errorf("invalid glob %q", p.Raw)
		}
	}
	return patterns, nil
}

// Matcher decides whether a slash-separated path relative to the scan root
// is selected. With no include patterns every path is included.
type Matcher struct {
	includes []string
	excludes []string
}

// NewMatcher builds a Matcher from parsed patterns.
func NewMatcher(patterns []Pattern) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		if p.Negated {
			m.excludes = append(m.excludes, p.Raw)
		} else {
			m.includes = append(m.includes, p.Raw)
		}
	}
	return m
}

// Match reports whether the file at rel is selected.
func (this *Matcher) Match(rel string) bool {
	if this.Excluded(rel) {
		return false
	}
	if len(this.includes) == 0 {
		return true
	}
	for _, p := range this.includes {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Excluded reports whether rel matches an exclude pattern. A directory
// matched by "dir" or "dir/**" can be pruned from a walk.
func (this *Matcher) Excluded(rel string) bool {
	for _, p := range this.excludes {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// PruneDir reports whether an entire directory can be skipped.
func (this *Matcher) PruneDir(rel string) bool {
	if this.Excluded(rel) {
		return true
	}
	for _, p := range this.excludes {
		if ok, _ := doublestar.Match(p, rel+"/"); ok {
			return true
		}
	}
	return false
}
