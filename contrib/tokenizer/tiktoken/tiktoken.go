// Package tiktoken provides the token estimator used by the context window
// builder, backed by OpenAI's BPE vocabularies.
package tiktoken

import (
	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding matches current-generation chat models.
const DefaultEncoding = "o200k_base"

type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New resolves an encoding by model name first, then by encoding name.
func New(name string) (*Tokenizer, error) {
	if name == "" {
		name = DefaultEncoding
	}
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

// CountTokens reports how many tokens the text encodes to.
func (t *Tokenizer) CountTokens(text string) int {
	return len(t.Encode(text))
}

func (t *Tokenizer) DecodeIds(ids []int) string {
	return t.enc.Decode(ids)
}
