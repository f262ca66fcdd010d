package tagstate

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/starford/tagledger/internal/models"
)

func sampleState() *models.FileTagState {
	r := models.NewRecord()
	r.Set("zeta", models.Str("last-alpha"))
	r.Set("alpha", nil)
	typ := models.ItemNumber
	r.SetItem("points", models.TypedItem{Type: &typ, Raw: models.Str("3")})
	r.SetItem("blank", models.TypedItem{})
	return &models.FileTagState{
		Fingerprints: []string{"#a-0-0-0", "#b-1-0-9"},
		Records:      []*models.Record{r, nil},
	}
}

func TestStore_GetSetCopies(t *testing.T) {
	s := New()
	if _, ok := s.Get("x.md"); ok {
		t.Fatal("expected no state for unknown path")
	}
	st := sampleState()
	s.Set("x.md", st)
	st.Fingerprints[0] = "mutated"

	got, ok := s.Get("x.md")
	if !ok || got.Fingerprints[0] != "#a-0-0-0" {
		t.Fatalf("stored state was aliased: %+v", got)
	}
	got.Records[0].Set("zeta", nil)
	again, _ := s.Get("x.md")
	if v, _ := again.Records[0].Get("zeta"); v == nil {
		t.Error("Get must return a copy")
	}
}

func TestStore_EncodeDecodeThroughJSON(t *testing.T) {
	s := New()
	s.Set("x.md", sampleState())
	s.Set("empty.md", models.NewFileTagState())

	tree := s.Encode()
	data, err := json.Marshal(tree)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var plain map[string]any
	if err := json.Unmarshal(data, &plain); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	back := Decode(plain)
	if !slices.Equal(back.Paths(), []string{"empty.md", "x.md"}) {
		t.Fatalf("paths = %v", back.Paths())
	}
	got, _ := back.Get("x.md")
	want := sampleState()
	if !slices.Equal(got.Fingerprints, want.Fingerprints) {
		t.Errorf("fingerprints = %v", got.Fingerprints)
	}
	if !models.RecordsEqual(got.Records, want.Records) {
		t.Errorf("records differ after round trip")
	}
	empty, _ := back.Get("empty.md")
	if empty.Len() != 0 || len(empty.Records) != 0 {
		t.Errorf("empty state = %+v", empty)
	}
}

func TestStore_EncodeDoesNotMutate(t *testing.T) {
	s := New()
	s.Set("x.md", sampleState())
	_ = s.Encode()
	got, _ := s.Get("x.md")
	if !models.RecordsEqual(got.Records, sampleState().Records) {
		t.Error("Encode mutated the store")
	}
}

func TestDecode_MissingAndMistyped(t *testing.T) {
	if s := Decode(nil); s.Len() != 0 {
		t.Errorf("nil tree len = %d", s.Len())
	}
	tree := map[string]any{
		FingerprintsKey: map[string]any{
			"a.md": []any{"#a-0-0-0", 42, "#b-0-3-3"},
			"b.md": "not a list",
		},
		RecordsKey: "not a map",
	}
	s := Decode(tree)
	a, ok := s.Get("a.md")
	if !ok || a.Len() != 3 || len(a.Records) != 3 {
		t.Fatalf("a.md = %+v", a)
	}
	if a.Fingerprints[1] != "" {
		t.Errorf("mistyped fingerprint = %q, want empty", a.Fingerprints[1])
	}
	b, ok := s.Get("b.md")
	if !ok || b.Len() != 0 {
		t.Errorf("b.md = %+v", b)
	}
}

func TestDecodeRecord_FlatLegacyForm(t *testing.T) {
	r := DecodeRecord(map[string]any{"b": "2", "a": nil})
	attrs := r.Attributes()
	if len(attrs) != 2 || attrs[0].Name != "a" || attrs[0].Value != nil || *attrs[1].Value != "2" {
		t.Errorf("attrs = %+v", attrs)
	}
	if DecodeRecord("junk") != nil {
		t.Error("non-object should decode as absent")
	}
}
