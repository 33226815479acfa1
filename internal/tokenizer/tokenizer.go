package tokenizer

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// spaceMarker is the byte-level BPE word-boundary prefix.
const spaceMarker = "Ġ"

type Tokenizer struct {
	Tokens  []string
	Vocab   map[string]int
	special map[int]bool

	EOSID int32
	PadID int32
	UnkID int32
}

type vocabFile struct {
	Vocab         map[string]int `json:"vocab"`
	SpecialTokens []string       `json:"special_tokens"`
	EOSToken      string         `json:"eos_token"`
	PadToken      string         `json:"pad_token"`
	UnkToken      string         `json:"unk_token"`
}

// New loads a tokenizer from a tokenizer.json sidecar.
func New(path string) (*Tokenizer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var vf vocabFile
	if err := json.Unmarshal(raw, &vf); err != nil {
		return nil, fmt.Errorf("parse tokenizer %s: %w", path, err)
	}
	if len(vf.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer %s has an empty vocab", path)
	}

	maxID := 0
	for _, id := range vf.Vocab {
		if id < 0 {
			return nil, fmt.Errorf("negative token id %d in %s", id, path)
		}
		if id > maxID {
			maxID = id
		}
	}

	t := &Tokenizer{
		Tokens:  make([]string, maxID+1),
		Vocab:   vf.Vocab,
		special: make(map[int]bool),
		EOSID:   -1,
		PadID:   -1,
		UnkID:   -1,
	}
	for tok, id := range vf.Vocab {
		t.Tokens[id] = tok
	}
	for _, tok := range vf.SpecialTokens {
		if id, ok := vf.Vocab[tok]; ok {
			t.special[id] = true
		}
	}

	lookup := func(tok string) int32 {
		if tok == "" {
			return -1
		}
		id, ok := vf.Vocab[tok]
		if !ok {
			return -1
		}
		t.special[id] = true
		return int32(id)
	}
	t.EOSID = lookup(vf.EOSToken)
	t.PadID = lookup(vf.PadToken)
	t.UnkID = lookup(vf.UnkToken)

	if t.EOSID < 0 {
		return nil, fmt.Errorf("tokenizer %s has no eos_token", path)
	}
	if t.PadID < 0 {
		// Common for decoder-only vocabs; reuse eos for padding.
		t.PadID = t.EOSID
	}
	return t, nil
}

func (t *Tokenizer) VocabSize() int {
	return len(t.Tokens)
}

func (t *Tokenizer) IsSpecial(id int32) bool {
	return t.special[int(id)]
}

// Decode maps token ids back to text. Out-of-range ids are dropped.
func (t *Tokenizer) Decode(ids []int32, skipSpecial bool) string {
	var b strings.Builder
	for _, id := range ids {
		if id < 0 || int(id) >= len(t.Tokens) {
			continue
		}
		if skipSpecial && t.special[int(id)] {
			continue
		}
		tok := t.Tokens[id]
		if strings.HasPrefix(tok, spaceMarker) {
			b.WriteString(" ")
			b.WriteString(tok[len(spaceMarker):])
		} else {
			b.WriteString(tok)
		}
	}
	return b.String()
}

// Encode greedily matches the longest known token at each position. Spaces
// fold into the following word via the byte-level marker. Unknown runes map
// to the unk token when the vocab has one, else they are skipped.
func (t *Tokenizer) Encode(text string) []int32 {
	var ids []int32
	words := strings.Split(text, " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		if i > 0 {
			w = spaceMarker + w
		}
		ids = append(ids, t.encodeWord(w)...)
	}
	return ids
}

func (t *Tokenizer) encodeWord(w string) []int32 {
	var ids []int32
	for len(w) > 0 {
		matched := false
		for end := len(w); end > 0; end-- {
			if id, ok := t.Vocab[w[:end]]; ok {
				ids = append(ids, int32(id))
				w = w[end:]
				matched = true
				break
			}
		}
		if !matched {
			if t.UnkID >= 0 {
				ids = append(ids, t.UnkID)
			}
			// skip one byte and retry
			w = w[1:]
		}
	}
	return ids
}
