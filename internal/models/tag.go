package models

import (
	"fmt"
	"strconv"
	"strings"
)

// TagOccurrence is one inline tag found in a document, positioned relative to
// the start of the file. Line and Column are zero-based; Offset is a byte offset.
type TagOccurrence struct {
	Tag    string `json:"tag"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Offset int    `json:"offset"`
}

// Fingerprint returns the identity key of the occurrence: tag-line-column-offset.
func (t TagOccurrence) Fingerprint() string {
	return t.Tag + "-" + strconv.Itoa(t.Line) + "-" + strconv.Itoa(t.Column) + "-" + strconv.Itoa(t.Offset)
}

// Fingerprints returns the fingerprint of every occurrence, in order.
func Fingerprints(tags []TagOccurrence) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.Fingerprint()
	}
	return out
}

// ParseFingerprint reverses Fingerprint. The three position fields are split
// off from the right because tag text may itself contain dashes.
func ParseFingerprint(fp string) (TagOccurrence, error) {
	var nums [3]int
	rest := fp
	for i := 2; i >= 0; i-- {
		idx := strings.LastIndex(rest, "-")
		if idx < 0 {
			return TagOccurrence{}, fmt.Errorf("models: malformed fingerprint %q", fp)
		}
		n, err := strconv.Atoi(rest[idx+1:])
		if err != nil {
			return TagOccurrence{}, fmt.Errorf("models: malformed fingerprint %q: %w", fp, err)
		}
		nums[i] = n
		rest = rest[:idx]
	}
	return TagOccurrence{Tag: rest, Line: nums[0], Column: nums[1], Offset: nums[2]}, nil
}

// FingerprintTag returns the tag text encoded in fp, or fp itself when it
// cannot be parsed.
func FingerprintTag(fp string) string {
	occ, err := ParseFingerprint(fp)
	if err != nil {
		return fp
	}
	return occ.Tag
}
