// Package settings owns the persisted tag-detail settings aggregate: the
// feature switch, the storage mode, per-tag schemas and every file's tag
// state. It is loaded from and saved to a Persister explicitly.
package settings

import (
	"context"
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tagledger/internal/models"
	"github.com/starford/tagledger/internal/tagstate"
)

// Plain tree keys.
const (
	useTagDetailKey = "UseTagDetail"
	storeInKey      = "StoreTagDetailInYaml"
	schemasKey      = "TagSettings"
)

// StorageMode selects where records are persisted besides plugin data.
type StorageMode string

// Storage modes.
const (
	StoreInYAML   StorageMode = "yaml"
	StoreInPlugin StorageMode = "plugin"
)

var tagNameRe = regexp.MustCompile(`^#[\p{L}_][\p{L}\p{N}_/-]*$`)

// Persister is the generic key/value persistence of the host. Load returns
// nil or an empty map when nothing has been saved yet.
type Persister interface {
	Load(ctx context.Context) (map[string]any, error)
	Save(ctx context.Context, tree map[string]any) error
}

// SchemaAttribute is an attribute seeded into new records, with an optional default.
type SchemaAttribute struct {
	Name    string  `yaml:"name" json:"name"`
	Default *string `yaml:"default" json:"default"`
}

// SchemaItem is a typed item seeded into new records.
type SchemaItem struct {
	Name string          `yaml:"name" json:"name"`
	Type models.ItemType `yaml:"type" json:"type"`
}

// TagSchema describes the detail a tag starts with when detail is first attached.
type TagSchema struct {
	Tag        string            `yaml:"tag" json:"tag"`
	Attributes []SchemaAttribute `yaml:"attributes" json:"attributes"`
	Items      []SchemaItem      `yaml:"items" json:"items"`
}

// Validate validates the schema.
func (s TagSchema) Validate() error {
	if err := validation.ValidateStruct(&s,
		validation.Field(&s.Tag, validation.Required, validation.Match(tagNameRe)),
	); err != nil {
		return err
	}
	for _, a := range s.Attributes {
		if a.Name == "" {
			return fmt.Errorf("schema %s: attribute name is required", s.Tag)
		}
	}
	for _, it := range s.Items {
		if it.Name == "" || !it.Type.Valid() {
			return fmt.Errorf("schema %s: invalid item %q of type %q", s.Tag, it.Name, it.Type)
		}
	}
	return nil
}

// NewRecord returns a record seeded from the schema.
func (s TagSchema) NewRecord() *models.Record {
	r := models.NewRecord()
	for _, a := range s.Attributes {
		var v *string
		if a.Default != nil {
			v = models.Str(*a.Default)
		}
		r.Set(a.Name, v)
	}
	for _, it := range s.Items {
		typ := it.Type
		r.SetItem(it.Name, models.TypedItem{Type: &typ})
	}
	return r
}

// Settings is the persisted aggregate. The owner serialises access.
type Settings struct {
	UseTagDetail bool
	StoreIn      StorageMode
	Schemas      []TagSchema
	Files        *tagstate.Store
}

// Options are the user-editable parts of Settings.
type Options struct {
	UseTagDetail bool        `json:"use_tag_detail"`
	StoreIn      StorageMode `json:"store_in"`
	Schemas      []TagSchema `json:"schemas"`
}

// Validate validates the options.
func (o *Options) Validate() error {
	if err := validation.ValidateStruct(o,
		validation.Field(&o.StoreIn, validation.Required, validation.In(StoreInYAML, StoreInPlugin)),
	); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(o.Schemas))
	for _, s := range o.Schemas {
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := seen[s.Tag]; dup {
			return fmt.Errorf("schema %s: duplicate tag", s.Tag)
		}
		seen[s.Tag] = struct{}{}
	}
	return nil
}

// New returns settings with the given options and no file state.
func New(opts Options) *Settings {
	return &Settings{
		UseTagDetail: opts.UseTagDetail,
		StoreIn:      opts.StoreIn,
		Schemas:      opts.Schemas,
		Files:        tagstate.New(),
	}
}

// Options returns the user-editable parts of s.
func (s *Settings) Options() Options {
	schemas := make([]TagSchema, len(s.Schemas))
	copy(schemas, s.Schemas)
	return Options{UseTagDetail: s.UseTagDetail, StoreIn: s.StoreIn, Schemas: schemas}
}

// Apply replaces the user-editable parts of s.
func (s *Settings) Apply(opts Options) {
	s.UseTagDetail = opts.UseTagDetail
	s.StoreIn = opts.StoreIn
	s.Schemas = opts.Schemas
}

// Schema returns the schema for tag.
func (s *Settings) Schema(tag string) (TagSchema, bool) {
	for _, sc := range s.Schemas {
		if sc.Tag == tag {
			return sc, true
		}
	}
	return TagSchema{}, false
}

// Load reads the aggregate from p. Keys that were never saved fall back to defaults.
func Load(ctx context.Context, p Persister, defaults Options) (*Settings, error) {
	tree, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("settings: load: %w", err)
	}
	return Decode(tree, defaults), nil
}

// Save writes the aggregate to p.
func (s *Settings) Save(ctx context.Context, p Persister) error {
	if err := p.Save(ctx, s.Encode()); err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	return nil
}

// Encode converts the aggregate into its plain tree.
func (s *Settings) Encode() map[string]any {
	tree := s.Files.Encode()
	tree[useTagDetailKey] = s.UseTagDetail
	tree[storeInKey] = string(s.StoreIn)
	schemas := make([]any, 0, len(s.Schemas))
	for _, sc := range s.Schemas {
		schemas = append(schemas, encodeSchema(sc))
	}
	tree[schemasKey] = schemas
	return tree
}

// Decode rebuilds the aggregate from a plain tree, using defaults for absent keys.
func Decode(tree map[string]any, defaults Options) *Settings {
	s := New(defaults)
	s.Files = tagstate.Decode(tree)
	if v, ok := tree[useTagDetailKey].(bool); ok {
		s.UseTagDetail = v
	}
	if v, ok := tree[storeInKey].(string); ok && (v == string(StoreInYAML) || v == string(StoreInPlugin)) {
		s.StoreIn = StorageMode(v)
	}
	if list, ok := tree[schemasKey].([]any); ok {
		s.Schemas = nil
		for _, v := range list {
			if sc, ok := decodeSchema(v); ok {
				s.Schemas = append(s.Schemas, sc)
			}
		}
	}
	return s
}

func encodeSchema(sc TagSchema) map[string]any {
	attrs := make([]any, 0, len(sc.Attributes))
	for _, a := range sc.Attributes {
		var def any
		if a.Default != nil {
			def = *a.Default
		}
		attrs = append(attrs, map[string]any{"name": a.Name, "default": def})
	}
	items := make([]any, 0, len(sc.Items))
	for _, it := range sc.Items {
		items = append(items, map[string]any{"name": it.Name, "type": string(it.Type)})
	}
	return map[string]any{"tag": sc.Tag, "attributes": attrs, "items": items}
}

func decodeSchema(v any) (TagSchema, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return TagSchema{}, false
	}
	var sc TagSchema
	sc.Tag, _ = m["tag"].(string)
	if sc.Tag == "" {
		return TagSchema{}, false
	}
	attrs, _ := m["attributes"].([]any)
	for _, a := range attrs {
		am, ok := a.(map[string]any)
		if !ok {
			continue
		}
		attr := SchemaAttribute{}
		attr.Name, _ = am["name"].(string)
		if d, ok := am["default"].(string); ok {
			attr.Default = models.Str(d)
		}
		sc.Attributes = append(sc.Attributes, attr)
	}
	items, _ := m["items"].([]any)
	for _, it := range items {
		im, ok := it.(map[string]any)
		if !ok {
			continue
		}
		name, _ := im["name"].(string)
		typ, _ := im["type"].(string)
		sc.Items = append(sc.Items, SchemaItem{Name: name, Type: models.ItemType(typ)})
	}
	return sc, true
}
