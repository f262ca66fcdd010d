package models

import (
	"bytes"
	"encoding/json"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ItemType tags the raw value of a typed detail item.
type ItemType string

// Supported item types.
const (
	ItemText     ItemType = "text"
	ItemNumber   ItemType = "number"
	ItemDate     ItemType = "date"
	ItemLink     ItemType = "link"
	ItemCheckbox ItemType = "checkbox"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	switch t {
	case ItemText, ItemNumber, ItemDate, ItemLink, ItemCheckbox:
		return true
	}
	return false
}

// TypedItem is a detail value with an optional type tag. Both halves may be absent.
type TypedItem struct {
	Type *ItemType `json:"type"`
	Raw  *string   `json:"raw"`
}

// Attribute is a single name/value pair of a Record. A nil Value is null.
type Attribute struct {
	Name  string  `json:"name"`
	Value *string `json:"value"`
}

// NamedItem is a single entry of a Record's typed items.
type NamedItem struct {
	Name string    `json:"name"`
	Item TypedItem `json:"item"`
}

// Record is the detail attached to one tag occurrence. Attribute and item
// order is insertion order and is preserved through every encoding.
type Record struct {
	attrs *orderedmap.OrderedMap[string, *string]
	items *orderedmap.OrderedMap[string, TypedItem]
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{
		attrs: orderedmap.New[string, *string](),
		items: orderedmap.New[string, TypedItem](),
	}
}

// Str returns a pointer to s.
func Str(s string) *string { return &s }

// Set stores value under name, keeping the original position of an existing key.
func (r *Record) Set(name string, value *string) {
	r.attrs.Set(name, value)
}

// Get returns the value stored under name.
func (r *Record) Get(name string) (*string, bool) {
	return r.attrs.Get(name)
}

// Delete removes name and reports whether it was present.
func (r *Record) Delete(name string) bool {
	_, ok := r.attrs.Delete(name)
	return ok
}

// Len returns the number of attributes.
func (r *Record) Len() int { return r.attrs.Len() }

// Attributes returns an ordered snapshot of the attributes.
func (r *Record) Attributes() []Attribute {
	out := make([]Attribute, 0, r.attrs.Len())
	for p := r.attrs.Oldest(); p != nil; p = p.Next() {
		out = append(out, Attribute{Name: p.Key, Value: p.Value})
	}
	return out
}

// SetItem stores a typed item under name.
func (r *Record) SetItem(name string, item TypedItem) {
	r.items.Set(name, item)
}

// Item returns the typed item stored under name.
func (r *Record) Item(name string) (TypedItem, bool) {
	return r.items.Get(name)
}

// DeleteItem removes a typed item and reports whether it was present.
func (r *Record) DeleteItem(name string) bool {
	_, ok := r.items.Delete(name)
	return ok
}

// Items returns an ordered snapshot of the typed items.
func (r *Record) Items() []NamedItem {
	out := make([]NamedItem, 0, r.items.Len())
	for p := r.items.Oldest(); p != nil; p = p.Next() {
		out = append(out, NamedItem{Name: p.Key, Item: p.Value})
	}
	return out
}

// Clone returns a deep copy of r. Cloning a nil record yields nil.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := NewRecord()
	for p := r.attrs.Oldest(); p != nil; p = p.Next() {
		c.attrs.Set(p.Key, clonePtr(p.Value))
	}
	for p := r.items.Oldest(); p != nil; p = p.Next() {
		c.items.Set(p.Key, TypedItem{Type: clonePtr(p.Value.Type), Raw: clonePtr(p.Value.Raw)})
	}
	return c
}

// Equal reports whether r and o hold the same attributes and items in the same order.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == nil && o == nil
	}
	if r.attrs.Len() != o.attrs.Len() || r.items.Len() != o.items.Len() {
		return false
	}
	for a, b := r.attrs.Oldest(), o.attrs.Oldest(); a != nil; a, b = a.Next(), b.Next() {
		if a.Key != b.Key || !ptrEqual(a.Value, b.Value) {
			return false
		}
	}
	for a, b := r.items.Oldest(), o.items.Oldest(); a != nil; a, b = a.Next(), b.Next() {
		if a.Key != b.Key || !ptrEqual(a.Value.Type, b.Value.Type) || !ptrEqual(a.Value.Raw, b.Value.Raw) {
			return false
		}
	}
	return true
}

// Summary renders the attributes as "name: value" pairs for shadow text.
// Null values are skipped.
func (r *Record) Summary() string {
	if r == nil {
		return ""
	}
	var parts []string
	for p := r.attrs.Oldest(); p != nil; p = p.Next() {
		if p.Value == nil || *p.Value == "" {
			continue
		}
		parts = append(parts, p.Key+": "+*p.Value)
	}
	return strings.Join(parts, ", ")
}

// MarshalJSON encodes the record as {"attributes":{...},"items":{...}} with
// keys in record order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"attributes":{`)
	for i, a := range r.Attributes() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONPair(&buf, a.Name, a.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`},"items":{`)
	for i, it := range r.Items() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONPair(&buf, it.Name, it.Item); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

func writeJSONPair(buf *bytes.Buffer, key string, value any) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

// CloneRecords deep-copies a record slice, preserving nil slots.
func CloneRecords(in []*Record) []*Record {
	out := make([]*Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// RecordsEqual compares two record slices slot by slot.
func RecordsEqual(a, b []*Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
