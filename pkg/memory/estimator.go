package memory

import (
	"encoding/json"
	"fmt"

	"github.com/recallhq/recall/pkg/llm/tokenizer"
)

// Estimator approximates the token cost a summarizer would incur to process a
// value as text. It is cheap and deterministic: the value is serialized to
// JSON and counted locally. Only ordering and rough magnitude matter — the
// estimate gates soft budgets, not a hard protocol limit.
type Estimator struct {
	tok *tokenizer.Tokenizer
}

// NewEstimator creates an Estimator. If the BPE encoding cannot be loaded the
// estimator falls back to a chars/4 approximation rather than failing.
func NewEstimator() *Estimator {
	tok, err := tokenizer.New()
	if err != nil {
		// Fall back to the approximate counter
		tok = nil
	}
	return &Estimator{tok: tok}
}

// Estimate returns a non-negative token estimate for an arbitrary value.
func (e *Estimator) Estimate(v interface{}) int {
	if v == nil {
		return 0
	}

	var text string
	switch t := v.(type) {
	case string:
		text = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			// Unserializable values still cost something; use the stringified
			// form so the estimate stays monotonic-ish.
			text = fmt.Sprintf("%v", v)
		} else {
			text = string(b)
		}
	}

	if e.tok != nil {
		return e.tok.CountTokens(text)
	}
	return tokenizer.CountTokensApprox(text)
}

// EstimateSTM returns the estimate for a whole observation log.
func (e *Estimator) EstimateSTM(stm []Observation) int {
	return e.Estimate(stm)
}
