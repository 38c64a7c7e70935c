package oracle

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// TiktokenCounter counts tokens with the cl100k_base BPE. Encoding
// setup can fail (the embedded ranks are loaded lazily), in which case
// the counter degrades to a chars/4 estimate rather than failing runs
// whose only use of token counts is reporting.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter builds a counter for the given encoding, or
// cl100k_base when name is empty.
func NewTiktokenCounter(name string) *TiktokenCounter {
	if name == "" {
		name = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		log.Warn().
			Err(err).
			Str("encoding", name).
			Msg("tiktoken unavailable, falling back to character estimate")
		return &TiktokenCounter{}
	}
	return &TiktokenCounter{enc: enc}
}

// Count returns the number of tokens in text.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.enc == nil {
		return estimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// estimateTokens approximates 1 token per 4 characters, rounded up.
func estimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}
