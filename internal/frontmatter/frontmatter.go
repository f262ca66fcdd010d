// Package frontmatter reads and writes tag detail records stored in the YAML
// header block at the top of a Markdown document.
//
// Records live under a single key as a YAML sequence. Each entry is either
// null (the occurrence has no detail) or a flat mapping of attribute names to
// string or null values. Typed items are nested under the reserved key
// ItemsKey as name: [type, raw] pairs. Every other key of the header is
// preserved on write.
package frontmatter

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/starford/tagledger/internal/models"
)

const (
	delim = "---"
	bom   = "\xef\xbb\xbf"

	// DefaultKey is the header key records are stored under unless configured otherwise.
	DefaultKey = "tag-details"

	// ItemsKey is the reserved record key holding typed items.
	ItemsKey = "$items"
)

// ErrMalformedHeader is returned by Encode when an existing header cannot be
// parsed as a YAML mapping and therefore cannot be rewritten safely.
var ErrMalformedHeader = errors.New("frontmatter: malformed header block")

// Block is the location of the header inside a document.
type Block struct {
	Start        int // offset of the opening delimiter
	ContentStart int // first byte of the YAML text
	ContentEnd   int // end of the YAML text (start of the closing delimiter)
	End          int // first byte after the closing delimiter line
}

// Locate finds the header block. The opening "---" must be the first line
// of the document, optionally after a UTF-8 byte order mark; a document that
// never closes the block has no header.
func Locate(doc []byte) (Block, bool) {
	start := bomLen(doc)
	line, next := readLine(doc, start)
	if !isDelim(line) {
		return Block{}, false
	}
	for pos := next; pos < len(doc); {
		line, nxt := readLine(doc, pos)
		if isDelim(line) {
			return Block{Start: start, ContentStart: next, ContentEnd: pos, End: nxt}, true
		}
		pos = nxt
	}
	return Block{}, false
}

func bomLen(doc []byte) int {
	if bytes.HasPrefix(doc, []byte(bom)) {
		return len(bom)
	}
	return 0
}

// Header returns the raw YAML text of the header, or nil when there is none.
func Header(doc []byte) []byte {
	b, ok := Locate(doc)
	if !ok {
		return nil
	}
	return doc[b.ContentStart:b.ContentEnd]
}

// Decode returns the records stored under key. A missing or malformed header,
// a missing key, or a value that is not a sequence all yield an empty list.
func Decode(doc []byte, key string) []*models.Record {
	out := []*models.Record{}
	b, ok := Locate(doc)
	if !ok {
		return out
	}
	var root yaml.Node
	if err := yaml.Unmarshal(doc[b.ContentStart:b.ContentEnd], &root); err != nil {
		return out
	}
	m := mappingOf(&root)
	if m == nil {
		return out
	}
	_, val := lookup(m, key)
	val = deref(val)
	if val == nil || val.Kind != yaml.SequenceNode {
		return out
	}
	for _, item := range val.Content {
		out = append(out, decodeRecord(deref(item)))
	}
	return out
}

// Has reports whether the header of doc defines key, whatever its value.
func Has(doc []byte, key string) bool {
	b, ok := Locate(doc)
	if !ok {
		return false
	}
	var root yaml.Node
	if err := yaml.Unmarshal(doc[b.ContentStart:b.ContentEnd], &root); err != nil {
		return false
	}
	m := mappingOf(&root)
	if m == nil {
		return false
	}
	i, _ := lookup(m, key)
	return i >= 0
}

// Encode writes records under key into the document header and returns the
// new document. An existing value for key is replaced in place; otherwise the
// key is appended to the header, and a header is created at the top of the
// document if there is none.
func Encode(doc []byte, key string, records []*models.Record) ([]byte, error) {
	value := encodeRecords(records)

	b, ok := Locate(doc)
	if !ok {
		m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		setKey(m, key, value)
		text, err := marshal(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{m}})
		if err != nil {
			return nil, err
		}
		var out bytes.Buffer
		n := bomLen(doc)
		out.Grow(len(doc) + len(text) + 8)
		out.Write(doc[:n])
		out.WriteString(delim + "\n")
		out.Write(text)
		out.WriteString(delim + "\n")
		out.Write(doc[n:])
		return out.Bytes(), nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(doc[b.ContentStart:b.ContentEnd], &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if root.Kind == 0 {
		// Empty header.
		root = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	m := mappingOf(&root)
	if m == nil {
		return nil, fmt.Errorf("%w: header is not a mapping", ErrMalformedHeader)
	}
	setKey(m, key, value)

	text, err := marshal(&root)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	out.Grow(len(doc) + len(text))
	out.Write(doc[:b.Start])
	out.WriteString(delim + "\n")
	out.Write(text)
	out.WriteString(delim + "\n")
	out.Write(doc[b.End:])
	return out.Bytes(), nil
}

func marshal(n *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return nil, fmt.Errorf("frontmatter: encode header: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("frontmatter: encode header: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeRecords(records []*models.Record) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	if len(records) == 0 {
		seq.Style = yaml.FlowStyle
	}
	for _, r := range records {
		seq.Content = append(seq.Content, encodeRecord(r))
	}
	return seq
}

func encodeRecord(r *models.Record) *yaml.Node {
	if r == nil {
		return nullNode()
	}
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	if r.Len() == 0 && len(r.Items()) == 0 {
		m.Style = yaml.FlowStyle
	}
	for _, a := range r.Attributes() {
		m.Content = append(m.Content, strNode(a.Name), optStrNode(a.Value))
	}
	if items := r.Items(); len(items) > 0 {
		im := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, it := range items {
			var typ *string
			if it.Item.Type != nil {
				typ = models.Str(string(*it.Item.Type))
			}
			pair := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: yaml.FlowStyle,
				Content: []*yaml.Node{optStrNode(typ), optStrNode(it.Item.Raw)}}
			im.Content = append(im.Content, strNode(it.Name), pair)
		}
		m.Content = append(m.Content, strNode(ItemsKey), im)
	}
	return m
}

func decodeRecord(n *yaml.Node) *models.Record {
	if n == nil || isNull(n) || n.Kind != yaml.MappingNode {
		return nil
	}
	r := models.NewRecord()
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], deref(n.Content[i+1])
		if k.Kind != yaml.ScalarNode || v == nil {
			continue
		}
		if k.Value == ItemsKey && v.Kind == yaml.MappingNode {
			decodeItems(r, v)
			continue
		}
		if isNull(v) {
			r.Set(k.Value, nil)
			continue
		}
		if v.Kind == yaml.ScalarNode {
			r.Set(k.Value, models.Str(v.Value))
		}
	}
	return r
}

func decodeItems(r *models.Record, m *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		k, v := m.Content[i], deref(m.Content[i+1])
		if k.Kind != yaml.ScalarNode || v == nil || v.Kind != yaml.SequenceNode || len(v.Content) != 2 {
			continue
		}
		var item models.TypedItem
		if t := deref(v.Content[0]); t != nil && t.Kind == yaml.ScalarNode && !isNull(t) {
			typ := models.ItemType(t.Value)
			item.Type = &typ
		}
		if raw := deref(v.Content[1]); raw != nil && raw.Kind == yaml.ScalarNode && !isNull(raw) {
			item.Raw = models.Str(raw.Value)
		}
		r.SetItem(k.Value, item)
	}
}

// mappingOf returns the top-level mapping of a parsed document, or nil.
func mappingOf(root *yaml.Node) *yaml.Node {
	n := root
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return nil
		}
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return nil
	}
	return n
}

func lookup(m *yaml.Node, key string) (int, *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if k := m.Content[i]; k.Kind == yaml.ScalarNode && k.Value == key {
			return i, m.Content[i+1]
		}
	}
	return -1, nil
}

func setKey(m *yaml.Node, key string, value *yaml.Node) {
	if i, _ := lookup(m, key); i >= 0 {
		m.Content[i+1] = value
		return
	}
	m.Content = append(m.Content, strNode(key), value)
}

func deref(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}

func strNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func optStrNode(s *string) *yaml.Node {
	if s == nil {
		return nullNode()
	}
	return strNode(*s)
}

func nullNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}

func readLine(doc []byte, pos int) ([]byte, int) {
	if pos >= len(doc) {
		return nil, len(doc)
	}
	i := bytes.IndexByte(doc[pos:], '\n')
	if i < 0 {
		return doc[pos:], len(doc)
	}
	return doc[pos : pos+i], pos + i + 1
}

func isDelim(line []byte) bool {
	return string(bytes.TrimRight(line, "\r")) == delim
}
