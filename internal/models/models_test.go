package models

import (
	"encoding/json"
	"testing"
)

func TestFingerprint(t *testing.T) {
	occ := TagOccurrence{Tag: "#todo", Line: 3, Column: 7, Offset: 42}
	if got := occ.Fingerprint(); got != "#todo-3-7-42" {
		t.Fatalf("Fingerprint = %q", got)
	}
}

func TestParseFingerprint_DashedTag(t *testing.T) {
	want := TagOccurrence{Tag: "#follow-up-2", Line: 0, Column: 12, Offset: 12}
	got, err := ParseFingerprint(want.Fingerprint())
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestParseFingerprint_Malformed(t *testing.T) {
	for _, fp := range []string{"", "#tag", "#tag-1-2", "#tag-1-x-3"} {
		if _, err := ParseFingerprint(fp); err == nil {
			t.Errorf("ParseFingerprint(%q) should fail", fp)
		}
	}
}

func TestFingerprintTag(t *testing.T) {
	if got := FingerprintTag("#a-b-1-2-3"); got != "#a-b" {
		t.Errorf("got %q", got)
	}
	if got := FingerprintTag("garbage"); got != "garbage" {
		t.Errorf("unparsable fingerprint should be returned as is, got %q", got)
	}
}

func sampleRecord() *Record {
	r := NewRecord()
	r.Set("status", Str("open"))
	r.Set("owner", nil)
	typ := ItemDate
	r.SetItem("due", TypedItem{Type: &typ, Raw: Str("2024-05-01")})
	return r
}

func TestRecord_CloneIsDeep(t *testing.T) {
	r := sampleRecord()
	c := r.Clone()
	if !r.Equal(c) {
		t.Fatal("clone should equal original")
	}

	c.Set("status", Str("done"))
	c.SetItem("due", TypedItem{Raw: Str("tomorrow")})
	if v, _ := r.Get("status"); *v != "open" {
		t.Errorf("original attribute changed to %q", *v)
	}
	if it, _ := r.Item("due"); *it.Raw != "2024-05-01" {
		t.Errorf("original item changed to %q", *it.Raw)
	}
	if r.Equal(c) {
		t.Error("modified clone should differ")
	}

	var nilRec *Record
	if nilRec.Clone() != nil {
		t.Error("clone of nil should be nil")
	}
}

func TestRecord_EqualRespectsOrderAndNull(t *testing.T) {
	a := NewRecord()
	a.Set("x", Str("1"))
	a.Set("y", Str("2"))

	b := NewRecord()
	b.Set("y", Str("2"))
	b.Set("x", Str("1"))
	if a.Equal(b) {
		t.Error("different order should not be equal")
	}

	c := NewRecord()
	c.Set("x", Str("1"))
	c.Set("y", nil)
	if a.Equal(c) {
		t.Error("null and value should not be equal")
	}

	if a.Equal(nil) {
		t.Error("record should not equal nil")
	}
	var n *Record
	if !n.Equal(nil) {
		t.Error("nil should equal nil")
	}
}

func TestRecord_SetKeepsPosition(t *testing.T) {
	r := sampleRecord()
	r.Set("status", Str("done"))
	attrs := r.Attributes()
	if len(attrs) != 2 || attrs[0].Name != "status" || *attrs[0].Value != "done" {
		t.Fatalf("attributes = %+v", attrs)
	}
	if !r.Delete("owner") || r.Delete("owner") {
		t.Error("Delete should report presence")
	}
	if !r.DeleteItem("due") || len(r.Items()) != 0 {
		t.Error("DeleteItem should remove the item")
	}
}

func TestRecord_Summary(t *testing.T) {
	r := sampleRecord()
	r.Set("room", Str("A1"))
	r.Set("empty", Str(""))
	if got := r.Summary(); got != "status: open, room: A1" {
		t.Errorf("Summary = %q", got)
	}
	var n *Record
	if n.Summary() != "" {
		t.Error("nil summary should be empty")
	}
}

func TestRecord_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(sampleRecord())
	if err != nil {
		t.Fatal(err)
	}
	want := `{"attributes":{"status":"open","owner":null},"items":{"due":{"type":"date","raw":"2024-05-01"}}}`
	if string(data) != want {
		t.Errorf("got  %s\nwant %s", data, want)
	}

	data, err = json.Marshal([]*Record{nil, NewRecord()})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `[null,{"attributes":{},"items":{}}]` {
		t.Errorf("got %s", data)
	}
}

func TestFileTagState_CloneAndNormalize(t *testing.T) {
	s := &FileTagState{
		Fingerprints: []string{"#a-0-0-0", "#b-0-3-3"},
		Records:      []*Record{sampleRecord()},
	}
	s.Normalize()
	if len(s.Records) != 2 || s.Records[1] != nil {
		t.Fatalf("Normalize should pad with nil, got %d records", len(s.Records))
	}

	c := s.Clone()
	c.Fingerprints[0] = "changed"
	c.Records[0].Set("status", Str("done"))
	if s.Fingerprints[0] != "#a-0-0-0" {
		t.Error("clone shares fingerprints")
	}
	if v, _ := s.Records[0].Get("status"); *v != "open" {
		t.Error("clone shares records")
	}

	s.Records = append(s.Records, NewRecord())
	s.Normalize()
	if len(s.Records) != 2 {
		t.Errorf("Normalize should truncate, got %d records", len(s.Records))
	}
}

func TestItemType_Valid(t *testing.T) {
	if !ItemCheckbox.Valid() || ItemType("blob").Valid() {
		t.Error("Valid mismatch")
	}
}
