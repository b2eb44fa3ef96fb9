package provider

import (
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts AI tokens in a string. The formatter uses it to
// keep formatted context inside the caller's budget.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter returns a counter backed by the cl100k_base
// encoding. Initialization can fail when the encoding data is
// unavailable; callers fall back to EstimateCounter.
func NewTiktokenCounter() (TokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &tiktokenCounter{enc: enc}, nil
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateCounter approximates tokens as one per four bytes, the usual
// rule of thumb for English prose.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	return (len(text) + 3) / 4
}
