package stage

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestAdvanceSaturates(t *testing.T) {
	cases := map[string]string{
		Pre:   Mid,
		Mid:   Post,
		Post:  Post,
		"":    Mid,
		"bad": Mid,
	}
	for in, want := range cases {
		if got := Advance(in); got != want {
			t.Fatalf("Advance(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParse(t *testing.T) {
	if v, err := Parse(" MID "); err != nil || v != Mid {
		t.Fatalf("parse mid: %q %v", v, err)
	}
	if _, err := Parse("later"); !errors.Is(err, ErrInvalidStage) {
		t.Fatalf("expected ErrInvalidStage, got %v", err)
	}
}

func TestWriteMetadataPreservesUnknownKeys(t *testing.T) {
	raw := `{"note":"call back friday","score":{"a":1,"b":[1,2]},"coach_stage":"pre"}`
	out, err := WriteMetadata(raw, Post, "2024-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(out), &fields); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(fields["note"]) != `"call back friday"` {
		t.Fatalf("note lost: %s", fields["note"])
	}
	if string(fields["score"]) != `{"a":1,"b":[1,2]}` {
		t.Fatalf("score changed: %s", fields["score"])
	}
	s, at, err := ReadMetadata(out)
	if err != nil || s != Post || at != "2024-01-01T00:00:00Z" {
		t.Fatalf("read back: %q %q %v", s, at, err)
	}
}

func TestMetadataEmptyAndInvalid(t *testing.T) {
	s, at, err := ReadMetadata("")
	if err != nil || s != "" || at != "" {
		t.Fatalf("empty blob: %q %q %v", s, at, err)
	}
	out, err := WriteMetadata("", Mid, "2024-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("write empty: %v", err)
	}
	if s, _, _ := ReadMetadata(out); s != Mid {
		t.Fatalf("expected mid, got %q", s)
	}
	if _, err := WriteMetadata("not json", Mid, "x"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestReadMetadataRejectsMistypedKeys(t *testing.T) {
	for _, raw := range []string{
		`{"coach_stage":3}`,
		`{"coach_stage":"mid","coach_stage_updated_at":false}`,
	} {
		_, _, err := ReadMetadata(raw)
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			t.Fatalf("%s: expected type error, got %v", raw, err)
		}
	}
}
