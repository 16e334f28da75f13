package assemble

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures and truncates text in model tokens.
type TokenCounter interface {
	Count(text string) int
	// Head keeps the first max tokens of text.
	Head(text string, max int) string
	// Tail keeps the last max tokens of text.
	Tail(text string, max int) string
}

// NewTokenCounter returns a cl100k_base tiktoken counter. When the encoding
// cannot be loaded (it is fetched on first use) the estimate counter is used.
func NewTokenCounter() TokenCounter {
	tiktokenOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			sharedTiktoken = &tiktokenCounter{enc: enc}
		}
	})
	if sharedTiktoken != nil {
		return sharedTiktoken
	}
	return EstimateCounter{}
}

var (
	tiktokenOnce   sync.Once
	sharedTiktoken *tiktokenCounter
)

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

func (c *tiktokenCounter) Head(text string, max int) string {
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= max {
		return text
	}
	if max <= 0 {
		return ""
	}
	return trimPartialRunes(c.enc.Decode(tokens[:max]))
}

func (c *tiktokenCounter) Tail(text string, max int) string {
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= max {
		return text
	}
	if max <= 0 {
		return ""
	}
	return trimPartialRunes(c.enc.Decode(tokens[len(tokens)-max:]))
}

// trimPartialRunes drops the bytes of a rune cut in half at either end.
// Byte-level BPE tokens do not respect rune boundaries, so a decoded slice
// of tokens may start or end inside a multi-byte character.
func trimPartialRunes(s string) string {
	for i := 0; i < utf8.UTFMax-1 && s != ""; i++ {
		r, size := utf8.DecodeRuneInString(s)
		if r != utf8.RuneError || size != 1 {
			break
		}
		s = s[1:]
	}
	for i := 0; i < utf8.UTFMax-1 && s != ""; i++ {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size != 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}

// EstimateCounter approximates one token per four characters.
type EstimateCounter struct{}

const charsPerToken = 4

func (EstimateCounter) Count(text string) int {
	n := len([]rune(text))
	return (n + charsPerToken - 1) / charsPerToken
}

func (EstimateCounter) Head(text string, max int) string {
	r := []rune(text)
	limit := max * charsPerToken
	if len(r) <= limit {
		return text
	}
	if limit <= 0 {
		return ""
	}
	return string(r[:limit])
}

func (EstimateCounter) Tail(text string, max int) string {
	r := []rune(text)
	limit := max * charsPerToken
	if len(r) <= limit {
		return text
	}
	if limit <= 0 {
		return ""
	}
	return string(r[len(r)-limit:])
}
