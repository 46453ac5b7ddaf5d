package diff

import (
	"fmt"
	"slices"
	"strings"

	"github.com/devantler-tech/fluxdiff/pkg/apis/manifest"
	"github.com/pmezard/go-difflib/difflib"
)

const (
	// DefaultContextLines is the number of unchanged lines shown around a change.
	DefaultContextLines = 6
	// DefaultLimitBytes caps a single resource's diff.
	DefaultLimitBytes = 10000
	// TruncationMarker is appended to a diff cut at the byte limit.
	TruncationMarker = "... (diff truncated)\n"

	devNull    = "/dev/null"
	livePrefix = "live/"
	prPrefix   = "pr/"
)

// ChangeType classifies a resource difference.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// Options configures the engine.
type Options struct {
	// ContextLines is the unified diff context; negative values mean zero.
	ContextLines int
	// LimitBytes caps each entry's text; zero or negative means unlimited.
	LimitBytes int
}

// Entry is the diff of one resource.
type Entry struct {
	Key       manifest.ResourceKey
	Change    ChangeType
	Text      string
	Truncated bool
}

// Result is the ordered list of differing resources.
type Result struct {
	Entries []Entry
}

// Empty reports whether the two sets were equivalent.
func (r *Result) Empty() bool {
	return r == nil || len(r.Entries) == 0
}

// Patch concatenates every entry into a single unified diff.
func (r *Result) Patch() string {
	if r.Empty() {
		return ""
	}

	var builder strings.Builder
	for _, entry := range r.Entries {
		builder.WriteString(entry.Text)
	}

	return builder.String()
}

// Keys returns the keys of entries with the given change type.
func (r *Result) Keys(change ChangeType) []manifest.ResourceKey {
	if r == nil {
		return nil
	}

	var keys []manifest.ResourceKey

	for _, entry := range r.Entries {
		if entry.Change == change {
			keys = append(keys, entry.Key)
		}
	}

	return keys
}

// Summary counts entries per change type.
func (r *Result) Summary() map[ChangeType]int {
	counts := map[ChangeType]int{}
	if r == nil {
		return counts
	}

	for _, entry := range r.Entries {
		counts[entry.Change]++
	}

	return counts
}

// Engine computes resource diffs.
type Engine struct {
	opts Options
}

// NewEngine creates a new diff engine.
func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Diff compares pr against live with the given context and byte limit.
func Diff(pr, live *manifest.ManifestSet, contextLines, limitBytes int) (*Result, error) {
	return NewEngine(Options{ContextLines: contextLines, LimitBytes: limitBytes}).Compute(pr, live)
}

// Compute compares pr against live. An empty Result means no differences.
func (e *Engine) Compute(pr, live *manifest.ManifestSet) (*Result, error) {
	result := &Result{}

	for _, key := range unionKeys(pr, live) {
		prText, err := canonicalText(pr, key)
		if err != nil {
			return nil, err
		}

		liveText, err := canonicalText(live, key)
		if err != nil {
			return nil, err
		}

		entry, changed, err := e.compare(key, liveText, prText)
		if err != nil {
			return nil, err
		}

		if changed {
			result.Entries = append(result.Entries, entry)
		}
	}

	return result, nil
}

func (e *Engine) compare(key manifest.ResourceKey, liveText, prText *string) (Entry, bool, error) {
	entry := Entry{Key: key}
	fromFile, toFile := livePrefix+key.Path(), prPrefix+key.Path()

	var before, after string

	switch {
	case liveText == nil && prText == nil:
		return Entry{}, false, nil
	case liveText == nil:
		entry.Change = ChangeAdded
		fromFile = devNull
		after = *prText
	case prText == nil:
		entry.Change = ChangeRemoved
		toFile = devNull
		before = *liveText
	case *liveText == *prText:
		return Entry{}, false, nil
	default:
		entry.Change = ChangeModified
		before, after = *liveText, *prText
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(before),
		B:        splitLines(after),
		FromFile: fromFile,
		ToFile:   toFile,
		Context:  max(e.opts.ContextLines, 0),
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("diff %s: %w", key, err)
	}

	entry.Text, entry.Truncated = Truncate(text, e.opts.LimitBytes)

	return entry, true, nil
}

// Truncate cuts text to at most limit bytes, ending on a line boundary, and
// appends TruncationMarker. A limit of zero or less disables truncation.
func Truncate(text string, limit int) (string, bool) {
	if limit <= 0 || len(text) <= limit {
		return text, false
	}

	cut := text[:limit]

	idx := strings.LastIndexByte(cut, '\n')
	if idx < 0 {
		return TruncationMarker, true
	}

	return cut[:idx+1] + TruncationMarker, true
}

func unionKeys(pr, live *manifest.ManifestSet) []manifest.ResourceKey {
	keys := append(pr.Keys(), live.Keys()...)
	slices.SortFunc(keys, manifest.ResourceKey.Compare)

	return slices.Compact(keys)
}

func canonicalText(set *manifest.ManifestSet, key manifest.ResourceKey) (*string, error) {
	m, ok := set.Get(key)
	if !ok {
		return nil, nil //nolint:nilnil // absence is not an error
	}

	out, err := manifest.Encode(m.Object)
	if err != nil {
		return nil, err
	}

	text := string(out)

	return &text, nil
}

// splitLines splits text into lines that keep their newline. Unlike
// difflib.SplitLines it does not add a trailing empty line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}

	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	} else {
		lines[len(lines)-1] += "\n"
	}

	return lines
}
