package memory

import (
	"context"
	"fmt"

	"github.com/recallhq/recall/pkg/llm"
	"github.com/recallhq/recall/pkg/types"
)

// Summarizer is the language-model capability the memory core depends on.
// Every method returns a fully validated document; a non-nil error always
// means the caller should retain its prior state.
type Summarizer interface {
	// MergeIntoProfile folds a slice of observations into the profile and
	// returns the complete replacement document.
	MergeIntoProfile(ctx context.Context, profile LTMProfile, observations []Observation) (LTMProfile, error)

	// CondenseProfile rewrites an over-budget profile. The result is not
	// guaranteed to fit the budget; the caller re-measures it.
	CondenseProfile(ctx context.Context, profile LTMProfile, budget int) (LTMProfile, error)

	// RederiveBoard rebuilds the working-memory board from the current board,
	// the profile, and a recent window of observations. The result is a full
	// replacement; the current board is evidence, not a base to patch.
	RederiveBoard(ctx context.Context, board WMBoard, profile LTMProfile, recent []Observation) (WMBoard, error)

	// CondenseBoard rewrites an over-budget board.
	CondenseBoard(ctx context.Context, board WMBoard, budget int) (WMBoard, error)

	// Answer responds to a free-form question grounded in the snapshot.
	Answer(ctx context.Context, snapshot *Snapshot, question string) (string, error)
}

// LLMSummarizer implements Summarizer on top of any llm.Provider.
type LLMSummarizer struct {
	provider llm.Provider
}

// NewLLMSummarizer creates a summarizer backed by the given provider.
func NewLLMSummarizer(provider llm.Provider) *LLMSummarizer {
	return &LLMSummarizer{provider: provider}
}

func (s *LLMSummarizer) complete(ctx context.Context, system, prompt string) (string, error) {
	messages := []*types.Message{
		types.NewSystemMessage(system),
		types.NewUserMessage(prompt),
	}

	response, err := s.provider.Complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("memory: summarizer completion failed: %w", err)
	}

	return response.Content, nil
}

// MergeIntoProfile implements Summarizer.
func (s *LLMSummarizer) MergeIntoProfile(ctx context.Context, profile LTMProfile, observations []Observation) (LTMProfile, error) {
	raw, err := s.complete(ctx, mergeSystemPrompt, buildMergePrompt(profile, observations))
	if err != nil {
		return LTMProfile{}, err
	}
	return DecodeLTM(raw)
}

// CondenseProfile implements Summarizer.
func (s *LLMSummarizer) CondenseProfile(ctx context.Context, profile LTMProfile, budget int) (LTMProfile, error) {
	raw, err := s.complete(ctx, condenseSystemPrompt, buildCondenseLTMPrompt(profile, budget))
	if err != nil {
		return LTMProfile{}, err
	}
	return DecodeLTM(raw)
}

// RederiveBoard implements Summarizer.
func (s *LLMSummarizer) RederiveBoard(ctx context.Context, board WMBoard, profile LTMProfile, recent []Observation) (WMBoard, error) {
	raw, err := s.complete(ctx, rederiveSystemPrompt, buildRederivePrompt(board, profile, recent))
	if err != nil {
		return WMBoard{}, err
	}
	return DecodeWM(raw)
}

// CondenseBoard implements Summarizer.
func (s *LLMSummarizer) CondenseBoard(ctx context.Context, board WMBoard, budget int) (WMBoard, error) {
	raw, err := s.complete(ctx, condenseSystemPrompt, buildCondenseWMPrompt(board, budget))
	if err != nil {
		return WMBoard{}, err
	}
	return DecodeWM(raw)
}

// Answer implements Summarizer.
func (s *LLMSummarizer) Answer(ctx context.Context, snapshot *Snapshot, question string) (string, error) {
	return s.complete(ctx, querySystemPrompt, buildQueryPrompt(snapshot, question))
}
