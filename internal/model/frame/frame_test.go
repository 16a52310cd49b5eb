package frame

import (
	"encoding/json"
	"testing"
)

func TestDecode(t *testing.T) {
	raw := []byte(`{"type":"content_chunk","message_id":"m1","content":"Hel","sequence":3,"is_final":true}`)

	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode err: %v", err)
	}
	if f.Type != TypeContentChunk || f.MessageID != "m1" || f.Content != "Hel" {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if f.Sequence == nil || *f.Sequence != 3 {
		t.Fatalf("sequence not decoded: %v", f.Sequence)
	}
	if !f.IsFinal {
		t.Fatal("is_final not decoded")
	}
}

func TestDecodeMissingType(t *testing.T) {
	if _, err := Decode([]byte(`{"content":"orphan"}`)); err != ErrMissingType {
		t.Fatalf("expected ErrMissingType, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{nope`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDecodeUnknownTypePasses(t *testing.T) {
	f, err := Decode([]byte(`{"type":"someday_maybe"}`))
	if err != nil {
		t.Fatalf("unknown types should decode: %v", err)
	}
	if f.Type != Type("someday_maybe") {
		t.Fatalf("unexpected type: %s", f.Type)
	}
}

func TestSequenceOmittedWhenAbsent(t *testing.T) {
	f, err := Decode([]byte(`{"type":"content_chunk","content":"x"}`))
	if err != nil {
		t.Fatalf("Decode err: %v", err)
	}
	// A chunk without a sequence must stay distinguishable from sequence 0.
	if f.Sequence != nil {
		t.Fatalf("absent sequence decoded as %d", *f.Sequence)
	}
}

func TestNewPreferenceUpdate(t *testing.T) {
	f, err := NewPreferenceUpdate("alice", map[string]any{"kind": "topic", "item": "science"})
	if err != nil {
		t.Fatalf("NewPreferenceUpdate err: %v", err)
	}
	if f.Type != TypePreferenceUpdate || f.UserID != "alice" {
		t.Fatalf("unexpected frame: %+v", f)
	}

	var data map[string]any
	if err := json.Unmarshal(f.PreferenceData, &data); err != nil {
		t.Fatalf("preference data not valid JSON: %v", err)
	}
	if data["item"] != "science" {
		t.Fatalf("preference data lost: %v", data)
	}

	if _, err := NewPreferenceUpdate("alice", func() {}); err == nil {
		t.Fatal("unmarshalable data should error")
	}
}
