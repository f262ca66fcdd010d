// Package parser extracts the header and positioned inline tags from Markdown content.
package parser

import (
	"bytes"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/starford/tagledger/internal/frontmatter"
	"github.com/starford/tagledger/internal/models"
)

var tagRe = regexp.MustCompile(`(?:^|[\s(\[,;])#([\p{L}_][\p{L}\p{N}_/-]*)`)

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	BodyOffset  int
	Tags        []models.TagOccurrence
}

// Parse splits the header from the body and collects every inline tag in
// document order. Positions are relative to the start of data.
func Parse(data []byte) *Result {
	res := &Result{Body: string(data)}
	if b, ok := frontmatter.Locate(data); ok {
		res.BodyOffset = b.End
		res.Body = string(data[b.End:])
		var fm map[string]interface{}
		// Invalid YAML leaves Frontmatter nil; tags are still extracted from the body.
		if err := yaml.Unmarshal(data[b.ContentStart:b.ContentEnd], &fm); err == nil {
			res.Frontmatter = fm
		}
	}
	res.Tags = extractTags(data, res.BodyOffset)
	return res
}

// Tags is a shorthand for Parse(data).Tags.
func Tags(data []byte) []models.TagOccurrence {
	return Parse(data).Tags
}

// extractTags scans data line by line from start, skipping fenced code blocks
// and inline code spans.
func extractTags(data []byte, start int) []models.TagOccurrence {
	out := []models.TagOccurrence{}
	line := bytes.Count(data[:start], []byte("\n"))
	inFence := false
	var fence []byte

	for pos := start; pos < len(data); line++ {
		end := bytes.IndexByte(data[pos:], '\n')
		var text []byte
		if end < 0 {
			text = data[pos:]
			end = len(data)
		} else {
			text = data[pos : pos+end]
			end = pos + end + 1
		}

		trimmed := bytes.TrimLeft(text, " \t")
		if marker := fenceMarker(trimmed); marker != nil {
			switch {
			case !inFence:
				inFence, fence = true, marker
			case bytes.HasPrefix(trimmed, fence):
				inFence, fence = false, nil
			}
			pos = end
			continue
		}
		if inFence {
			pos = end
			continue
		}

		masked := maskCodeSpans(text)
		for _, m := range tagRe.FindAllSubmatchIndex(masked, -1) {
			col := m[2] - 1 // position of '#'
			out = append(out, models.TagOccurrence{
				Tag:    string(text[col:m[3]]),
				Line:   line,
				Column: col,
				Offset: pos + col,
			})
		}
		pos = end
	}
	return out
}

func fenceMarker(line []byte) []byte {
	for _, m := range [][]byte{[]byte("```"), []byte("~~~")} {
		if bytes.HasPrefix(line, m) {
			return m
		}
	}
	return nil
}

// maskCodeSpans returns a copy of line with the contents of `code` spans
// replaced by spaces, keeping byte positions intact.
func maskCodeSpans(line []byte) []byte {
	if bytes.IndexByte(line, '`') < 0 {
		return line
	}
	out := make([]byte, len(line))
	copy(out, line)
	open := -1
	for i, c := range out {
		if c != '`' {
			continue
		}
		if open < 0 {
			open = i
			continue
		}
		for j := open; j <= i; j++ {
			out[j] = ' '
		}
		open = -1
	}
	return out
}
