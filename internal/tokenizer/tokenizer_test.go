package tokenizer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeVocab(t *testing.T, vf vocabFile) string {
	t.Helper()
	raw, err := json.Marshal(vf)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testVocab() vocabFile {
	return vocabFile{
		Vocab: map[string]int{
			"<|endoftext|>": 0,
			"<|pad|>":       1,
			"hello":         2,
			"Ġworld":   3,
			"Ġh":       4,
			"h":             5,
			"e":             6,
			"l":             7,
			"o":             8,
			"w":             9,
		},
		EOSToken: "<|endoftext|>",
		PadToken: "<|pad|>",
	}
}

func TestNew(t *testing.T) {
	tok, err := New(writeVocab(t, testVocab()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if tok.VocabSize() != 10 {
		t.Errorf("VocabSize() = %d, want 10", tok.VocabSize())
	}
	if tok.EOSID != 0 || tok.PadID != 1 {
		t.Errorf("EOSID=%d PadID=%d, want 0 and 1", tok.EOSID, tok.PadID)
	}
	if !tok.IsSpecial(0) || !tok.IsSpecial(1) {
		t.Error("eos and pad should be special")
	}
	if tok.IsSpecial(2) {
		t.Error("hello should not be special")
	}
}

func TestNewMissingEOS(t *testing.T) {
	vf := testVocab()
	vf.EOSToken = ""
	if _, err := New(writeVocab(t, vf)); err == nil {
		t.Error("expected error for missing eos_token")
	}
}

func TestNewPadFallsBackToEOS(t *testing.T) {
	vf := testVocab()
	vf.PadToken = ""
	tok, err := New(writeVocab(t, vf))
	if err != nil {
		t.Fatal(err)
	}
	if tok.PadID != tok.EOSID {
		t.Errorf("PadID = %d, want EOSID %d", tok.PadID, tok.EOSID)
	}
}

func TestDecode(t *testing.T) {
	tok, err := New(writeVocab(t, testVocab()))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		ids         []int32
		skipSpecial bool
		want        string
	}{
		{"plain", []int32{2, 3}, true, "hello world"},
		{"keeps specials", []int32{2, 3, 0}, false, "hello world<|endoftext|>"},
		{"skips specials", []int32{1, 2, 3, 0}, true, "hello world"},
		{"out of range dropped", []int32{2, 99, -1, 3}, true, "hello world"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tok.Decode(tt.ids, tt.skipSpecial); got != tt.want {
				t.Errorf("Decode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	tok, err := New(writeVocab(t, testVocab()))
	if err != nil {
		t.Fatal(err)
	}

	ids := tok.Encode("hello world")
	if !reflect.DeepEqual(ids, []int32{2, 3}) {
		t.Errorf("Encode() = %v, want [2 3]", ids)
	}
	if got := tok.Decode(ids, true); got != "hello world" {
		t.Errorf("round trip = %q", got)
	}
}

func TestEncodeLongestMatch(t *testing.T) {
	tok, err := New(writeVocab(t, testVocab()))
	if err != nil {
		t.Fatal(err)
	}
	// "hello h" -> whole-word token then marker+h token
	ids := tok.Encode("hello h")
	if !reflect.DeepEqual(ids, []int32{2, 4}) {
		t.Errorf("Encode() = %v, want [2 4]", ids)
	}
}

func TestEncodeUnknownRunes(t *testing.T) {
	tok, err := New(writeVocab(t, testVocab()))
	if err != nil {
		t.Fatal(err)
	}
	// No unk token configured: unknown bytes are skipped
	ids := tok.Encode("zzz")
	if len(ids) != 0 {
		t.Errorf("Encode() = %v, want empty", ids)
	}
}
