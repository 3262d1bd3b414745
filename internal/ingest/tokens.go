package ingest

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens the way the embedding model tokenizes.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter creates a counter using the cl100k_base encoding. If the
// encoding cannot be loaded the counter falls back to a runes/4 estimate.
func NewTokenCounter() *TokenCounter {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{encoding: encoding}
}

// Count returns the token count of text.
func (c *TokenCounter) Count(text string) int {
	if c.encoding == nil {
		return utf8.RuneCountInString(text) / 4
	}
	return len(c.encoding.Encode(text, nil, nil))
}
