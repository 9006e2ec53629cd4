// Package tiktoken wraps the tiktoken-go encoder for token budgeting.
package tiktoken

import (
	"github.com/pkoukk/tiktoken-go"
)

type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New looks the encoding up by model name first, then by encoding name.
func New(name string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, err
		}
	}
	return &Tokenizer{enc: enc}, nil
}

func (t *Tokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *Tokenizer) CountTokens(text string) int {
	return len(t.Encode(text))
}

func (t *Tokenizer) Decode(ids []int) string {
	return t.enc.Decode(ids)
}
