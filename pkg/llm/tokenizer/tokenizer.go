// Package tokenizer provides client-side token counting for budget checks.
//
// Counts are used to gate summarization and trimming thresholds, not for
// billing, so small deviations from a provider's exact tokenizer are fine.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// encodingName is the BPE encoding used for counting. cl100k_base is close
// enough across the models we target for threshold purposes.
const encodingName = "cl100k_base"

// Tokenizer counts tokens using a local BPE encoding.
type Tokenizer struct {
	encoding *tiktoken.Tiktoken
}

// New creates a Tokenizer. Returns an error if the encoding cannot be loaded;
// callers may fall back to CountTokensApprox in that case.
func New() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load encoding %s: %w", encodingName, err)
	}
	return &Tokenizer{encoding: enc}, nil
}

// CountTokens returns the token count for a single string.
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// CountTokensApprox is a dependency-free fallback using the rough estimate of
// 1 token per 4 characters. Used when New fails (e.g. encoding data missing).
func CountTokensApprox(text string) int {
	return len(text) / 4
}
