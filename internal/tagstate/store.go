// Package tagstate keeps the last known tag layout of every file and converts
// it to and from the plain nested form used by the persistence layer.
package tagstate

import (
	"sort"

	"github.com/starford/tagledger/internal/models"
)

// Keys of the plain tree. They match the plugin data layout so existing data
// files load unchanged.
const (
	FingerprintsKey = "MetaFileTagDetails"
	RecordsKey      = "TagDetailData"
)

// Store maps file paths to their FileTagState. It is not safe for concurrent
// use; the owner serialises access.
type Store struct {
	files map[string]*models.FileTagState
}

// New returns an empty store.
func New() *Store {
	return &Store{files: make(map[string]*models.FileTagState)}
}

// Get returns a copy of the state for path.
func (s *Store) Get(path string) (*models.FileTagState, bool) {
	st, ok := s.files[path]
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

// Set stores a copy of st for path.
func (s *Store) Set(path string, st *models.FileTagState) {
	c := st.Clone()
	c.Normalize()
	s.files[path] = c
}

// Delete forgets the state for path. It is used to roll back a Set whose
// save failed; states of removed files are otherwise kept.
func (s *Store) Delete(path string) {
	delete(s.files, path)
}

// Paths returns every known path in sorted order.
func (s *Store) Paths() []string {
	out := make([]string, 0, len(s.files))
	for p := range s.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of files held.
func (s *Store) Len() int { return len(s.files) }

// Encode converts the store into plain maps, slices, strings and nils.
// The store itself is not modified.
func (s *Store) Encode() map[string]any {
	fps := make(map[string]any, len(s.files))
	recs := make(map[string]any, len(s.files))
	for path, st := range s.files {
		list := make([]any, len(st.Fingerprints))
		for i, fp := range st.Fingerprints {
			list[i] = fp
		}
		fps[path] = list

		rl := make([]any, len(st.Records))
		for i, r := range st.Records {
			rl[i] = EncodeRecord(r)
		}
		recs[path] = rl
	}
	return map[string]any{
		FingerprintsKey: fps,
		RecordsKey:      recs,
	}
}

// Decode rebuilds a store from a plain tree. Missing or mistyped entries are
// treated as empty; Decode never fails.
func Decode(tree map[string]any) *Store {
	s := New()
	fps, _ := tree[FingerprintsKey].(map[string]any)
	recs, _ := tree[RecordsKey].(map[string]any)

	for path, raw := range fps {
		st := models.NewFileTagState()
		list, _ := raw.([]any)
		for _, v := range list {
			fp, _ := v.(string)
			st.Fingerprints = append(st.Fingerprints, fp)
		}
		rl, _ := recs[path].([]any)
		for _, v := range rl {
			st.Records = append(st.Records, DecodeRecord(v))
		}
		st.Normalize()
		s.files[path] = st
	}
	return s
}

// EncodeRecord converts a record to its plain form. Attributes and items are
// stored as lists of objects so their order survives any map-based encoding.
func EncodeRecord(r *models.Record) any {
	if r == nil {
		return nil
	}
	attrs := make([]any, 0, r.Len())
	for _, a := range r.Attributes() {
		attrs = append(attrs, map[string]any{"name": a.Name, "value": optString(a.Value)})
	}
	items := []any{}
	for _, it := range r.Items() {
		var typ any
		if it.Item.Type != nil {
			typ = string(*it.Item.Type)
		}
		items = append(items, map[string]any{"name": it.Name, "type": typ, "raw": optString(it.Item.Raw)})
	}
	return map[string]any{"attributes": attrs, "items": items}
}

// DecodeRecord is the inverse of EncodeRecord. Anything that is not an object
// decodes as an absent record. A flat name→value object, as written by older
// plugin versions, is accepted too.
func DecodeRecord(v any) *models.Record {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	r := models.NewRecord()
	attrs, hasAttrs := obj["attributes"].([]any)
	items, hasItems := obj["items"].([]any)
	if !hasAttrs && !hasItems {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			r.Set(k, toOptString(obj[k]))
		}
		return r
	}
	for _, a := range attrs {
		m, ok := a.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		r.Set(name, toOptString(m["value"]))
	}
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		var item models.TypedItem
		if t, ok := m["type"].(string); ok {
			typ := models.ItemType(t)
			item.Type = &typ
		}
		item.Raw = toOptString(m["raw"])
		r.SetItem(name, item)
	}
	return r
}

func optString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func toOptString(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}
