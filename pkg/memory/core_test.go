package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall/pkg/config"
	"github.com/recallhq/recall/pkg/logging"
	"github.com/recallhq/recall/pkg/types"
)

// stubSummarizer lets each test script the summarizer's behavior per method.
type stubSummarizer struct {
	mergeFn    func(LTMProfile, []Observation) (LTMProfile, error)
	condenseFn func(LTMProfile, int) (LTMProfile, error)
	rederiveFn func(WMBoard, LTMProfile, []Observation) (WMBoard, error)
	boardFn    func(WMBoard, int) (WMBoard, error)
	answerFn   func(*Snapshot, string) (string, error)

	mergeCalls    int
	condenseCalls int
	rederiveCalls int
	boardCalls    int
}

func (s *stubSummarizer) MergeIntoProfile(_ context.Context, p LTMProfile, obs []Observation) (LTMProfile, error) {
	s.mergeCalls++
	if s.mergeFn == nil {
		return p, nil
	}
	return s.mergeFn(p, obs)
}

func (s *stubSummarizer) CondenseProfile(_ context.Context, p LTMProfile, budget int) (LTMProfile, error) {
	s.condenseCalls++
	if s.condenseFn == nil {
		return p, nil
	}
	return s.condenseFn(p, budget)
}

func (s *stubSummarizer) RederiveBoard(_ context.Context, b WMBoard, p LTMProfile, recent []Observation) (WMBoard, error) {
	s.rederiveCalls++
	if s.rederiveFn == nil {
		return NewWMBoard(), nil
	}
	return s.rederiveFn(b, p, recent)
}

func (s *stubSummarizer) CondenseBoard(_ context.Context, b WMBoard, budget int) (WMBoard, error) {
	s.boardCalls++
	if s.boardFn == nil {
		return b, nil
	}
	return s.boardFn(b, budget)
}

func (s *stubSummarizer) Answer(_ context.Context, snap *Snapshot, question string) (string, error) {
	if s.answerFn == nil {
		return "", nil
	}
	return s.answerFn(snap, question)
}

// memStore is an in-memory Store that records saves.
type memStore struct {
	mu       sync.Mutex
	snapshot *Snapshot
	saves    int
	saveErr  error
}

func (m *memStore) Load(context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return nil, ErrNoSnapshot
	}
	return m.snapshot.Clone(), nil
}

func (m *memStore) Save(_ context.Context, s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snapshot = s.Clone()
	m.saves++
	return nil
}

func testConfig() config.MemoryConfig {
	return config.MemoryConfig{
		STMBudget:          8000,
		LTMBudget:          8000,
		WMBudget:           4000,
		ConsolidationSlice: 3000,
		WMWindow:           20,
	}
}

func newTestCore(t *testing.T, stub *stubSummarizer, store *memStore, cfg config.MemoryConfig) *Core {
	t.Helper()
	logger, _ := logging.NewLogger("memory-test")
	core, err := NewCore(context.Background(), stub, store, NewEstimator(), logger, cfg)
	require.NoError(t, err)
	return core
}

func sampleResult() *types.AnalysisResult {
	return &types.AnalysisResult{
		Summary: "User refactored a Go service and ran its test suite.",
		ExplicitDirectives: []types.Directive{
			{Command: "open", Target: "terminal"},
		},
		ExplicitStatements: []types.Statement{
			{Statement: "I hate this flaky test", Type: "frustration"},
			{Statement: "I want to ship this by Friday", Type: "goal"},
		},
		InferredInsights: []types.Insight{
			{Insight: "comfortable with table-driven tests", Basis: "wrote several without reference"},
		},
	}
}

func TestIngestAppendsObservationsInOrder(t *testing.T) {
	stub := &stubSummarizer{}
	core := newTestCore(t, stub, &memStore{}, testConfig())

	require.NoError(t, core.Ingest(context.Background(), sampleResult()))

	state := core.GetState()
	require.Len(t, state.ShortTermMemory, 5)
	assert.Equal(t, KindVideoAnalysisSummary, state.ShortTermMemory[0].Kind)
	assert.Equal(t, KindExplicitDirective, state.ShortTermMemory[1].Kind)
	assert.Equal(t, KindExplicitStatement, state.ShortTermMemory[2].Kind)
	assert.Equal(t, KindExplicitStatement, state.ShortTermMemory[3].Kind)
	assert.Equal(t, KindInferredInsight, state.ShortTermMemory[4].Kind)
}

func TestIngestNilResult(t *testing.T) {
	stub := &stubSummarizer{}
	core := newTestCore(t, stub, &memStore{}, testConfig())

	require.Error(t, core.Ingest(context.Background(), nil))
	assert.Empty(t, core.GetState().ShortTermMemory)
}

func TestIngestEmptyResultStillAddsSummaryEntry(t *testing.T) {
	stub := &stubSummarizer{}
	core := newTestCore(t, stub, &memStore{}, testConfig())

	require.NoError(t, core.Ingest(context.Background(), &types.AnalysisResult{}))

	state := core.GetState()
	require.Len(t, state.ShortTermMemory, 1)
	assert.Equal(t, KindVideoAnalysisSummary, state.ShortTermMemory[0].Kind)
}

func TestGetStateReturnsIsolatedCopy(t *testing.T) {
	stub := &stubSummarizer{}
	core := newTestCore(t, stub, &memStore{}, testConfig())
	require.NoError(t, core.Ingest(context.Background(), sampleResult()))

	first := core.GetState()
	first.ShortTermMemory = nil
	first.LongTermMemory.SkillsAndKnowledge["confirmed_skills"] = []string{"tampered"}
	first.WorkingMemory.EstablishedFacts = append(first.WorkingMemory.EstablishedFacts, "tampered")

	second := core.GetState()
	assert.Len(t, second.ShortTermMemory, 5)
	assert.Empty(t, second.LongTermMemory.SkillsAndKnowledge["confirmed_skills"])
	assert.NotContains(t, second.WorkingMemory.EstablishedFacts, "tampered")
}

func TestConsolidationMovesOldestEntriesIntoProfile(t *testing.T) {
	merged := NewLTMProfile()
	merged.ProfileSummary = "A Go developer who refactors services."
	stub := &stubSummarizer{
		mergeFn: func(LTMProfile, []Observation) (LTMProfile, error) {
			return merged, nil
		},
	}

	cfg := testConfig()
	cfg.STMBudget = 1 // every ingest exceeds the budget
	core := newTestCore(t, stub, &memStore{}, cfg)

	require.NoError(t, core.Ingest(context.Background(), sampleResult()))

	state := core.GetState()
	assert.Equal(t, 1, stub.mergeCalls)
	assert.Equal(t, merged.ProfileSummary, state.LongTermMemory.ProfileSummary)
	// All five observations fit the default slice, so STM drains entirely.
	assert.Empty(t, state.ShortTermMemory)
}

func TestConsolidationFailureRetainsState(t *testing.T) {
	stub := &stubSummarizer{
		mergeFn: func(LTMProfile, []Observation) (LTMProfile, error) {
			return LTMProfile{}, errors.New("model unavailable")
		},
	}

	cfg := testConfig()
	cfg.STMBudget = 1
	core := newTestCore(t, stub, &memStore{}, cfg)

	require.NoError(t, core.Ingest(context.Background(), sampleResult()))

	state := core.GetState()
	// Observations stay in STM and the profile is untouched.
	assert.Len(t, state.ShortTermMemory, 5)
	assert.Equal(t, "", state.LongTermMemory.ProfileSummary)
}

func TestConsolidationSkipsWhenOldestEntryExceedsSlice(t *testing.T) {
	stub := &stubSummarizer{}

	cfg := testConfig()
	cfg.STMBudget = 1
	cfg.ConsolidationSlice = 0 // nothing can fit
	core := newTestCore(t, stub, &memStore{}, cfg)

	require.NoError(t, core.Ingest(context.Background(), sampleResult()))

	assert.Equal(t, 0, stub.mergeCalls)
	assert.Len(t, core.GetState().ShortTermMemory, 5)
}

func TestTrimLTMAcceptsCondensedProfileUnderBudget(t *testing.T) {
	small := NewLTMProfile()
	small.ProfileSummary = "Condensed."
	stub := &stubSummarizer{
		condenseFn: func(LTMProfile, int) (LTMProfile, error) {
			return small, nil
		},
	}

	store := &memStore{snapshot: bloatedSnapshot()}
	cfg := testConfig()
	cfg.LTMBudget = 500
	core := newTestCore(t, stub, store, cfg)

	require.NoError(t, core.Ingest(context.Background(), &types.AnalysisResult{Summary: "tiny"}))

	state := core.GetState()
	assert.Equal(t, 1, stub.condenseCalls)
	assert.Equal(t, "Condensed.", state.LongTermMemory.ProfileSummary)
}

func TestTrimLTMFallsBackToProjection(t *testing.T) {
	stub := &stubSummarizer{
		condenseFn: func(LTMProfile, int) (LTMProfile, error) {
			return LTMProfile{}, errors.New("model unavailable")
		},
	}

	store := &memStore{snapshot: bloatedSnapshot()}
	cfg := testConfig()
	cfg.LTMBudget = 500
	core := newTestCore(t, stub, store, cfg)

	require.NoError(t, core.Ingest(context.Background(), &types.AnalysisResult{Summary: "tiny"}))

	state := core.GetState()
	profile := state.LongTermMemory
	// Priority fields survive the projection; the bloat does not.
	assert.Equal(t, []string{"Go", "SQL"}, profile.SkillsAndKnowledge["confirmed_skills"])
	assert.Equal(t, []string{"dark mode"}, profile.PreferencesAndHabits["ui_preferences"])
	assert.Empty(t, profile.Workflows)
	assert.NotContains(t, profile.SkillsAndKnowledge, "padding")
}

func TestTrimLTMMinimalSafeWhenSummaryAloneOverBudget(t *testing.T) {
	stub := &stubSummarizer{
		condenseFn: func(LTMProfile, int) (LTMProfile, error) {
			return LTMProfile{}, errors.New("model unavailable")
		},
	}

	snap := bloatedSnapshot()
	snap.LongTermMemory.ProfileSummary = strings.Repeat("verbose self description ", 400)
	for i := 0; i < 20; i++ {
		snap.LongTermMemory.SkillsAndKnowledge["confirmed_skills"] = append(
			snap.LongTermMemory.SkillsAndKnowledge["confirmed_skills"],
			fmt.Sprintf("skill-%d", i))
	}

	store := &memStore{snapshot: snap}
	cfg := testConfig()
	cfg.LTMBudget = 500
	core := newTestCore(t, stub, store, cfg)

	require.NoError(t, core.Ingest(context.Background(), &types.AnalysisResult{Summary: "tiny"}))

	profile := core.GetState().LongTermMemory
	// Minimal-safe keeps the summary plus at most five skills and preferences.
	assert.LessOrEqual(t, len(profile.SkillsAndKnowledge["confirmed_skills"]), 5)
	assert.LessOrEqual(t, len(profile.PreferencesAndHabits["ui_preferences"]), 5)
	assert.Empty(t, profile.Challenges)
	assert.Empty(t, profile.GoalsAndMotivations)
}

func TestTrimLTMNoopUnderBudget(t *testing.T) {
	stub := &stubSummarizer{}
	core := newTestCore(t, stub, &memStore{}, testConfig())

	require.NoError(t, core.Ingest(context.Background(), sampleResult()))

	assert.Equal(t, 0, stub.condenseCalls)
}

func TestRederiveReplacesBoard(t *testing.T) {
	stub := &stubSummarizer{
		rederiveFn: func(_ WMBoard, _ LTMProfile, recent []Observation) (WMBoard, error) {
			board := NewWMBoard()
			board.EstablishedFacts = []string{fmt.Sprintf("saw %d observations", len(recent))}
			return board, nil
		},
	}
	core := newTestCore(t, stub, &memStore{}, testConfig())

	require.NoError(t, core.Ingest(context.Background(), sampleResult()))

	state := core.GetState()
	assert.Equal(t, 1, stub.rederiveCalls)
	assert.Equal(t, []string{"saw 5 observations"}, state.WorkingMemory.EstablishedFacts)
}

func TestRederiveFailureRetainsPriorBoard(t *testing.T) {
	calls := 0
	stub := &stubSummarizer{
		rederiveFn: func(WMBoard, LTMProfile, []Observation) (WMBoard, error) {
			calls++
			if calls == 1 {
				board := NewWMBoard()
				board.CorroboratedHypotheses = []string{"works in Go"}
				return board, nil
			}
			return WMBoard{}, fmt.Errorf("%w: unexpected key notes", ErrInvalidShape)
		},
	}
	core := newTestCore(t, stub, &memStore{}, testConfig())

	require.NoError(t, core.Ingest(context.Background(), sampleResult()))
	require.NoError(t, core.Ingest(context.Background(), sampleResult()))

	state := core.GetState()
	assert.Equal(t, []string{"works in Go"}, state.WorkingMemory.CorroboratedHypotheses)
	// The failed cycle still appended its observations.
	assert.Len(t, state.ShortTermMemory, 10)
}

func TestRederiveReceivesCurrentBoard(t *testing.T) {
	// A summarizer that just echoes the board it was handed must leave
	// working memory unchanged across ingests.
	stub := &stubSummarizer{
		rederiveFn: func(board WMBoard, _ LTMProfile, _ []Observation) (WMBoard, error) {
			return board, nil
		},
	}
	core := newTestCore(t, stub, &memStore{}, testConfig())

	require.NoError(t, core.Ingest(context.Background(), sampleResult()))
	core.mu.Lock()
	core.snapshot.WorkingMemory.EstablishedFacts = []string{"uses dark mode"}
	core.mu.Unlock()

	require.NoError(t, core.Ingest(context.Background(), sampleResult()))

	assert.Equal(t, []string{"uses dark mode"}, core.GetState().WorkingMemory.EstablishedFacts)
}

func TestRederiveWindowLimitsObservations(t *testing.T) {
	var seen int
	stub := &stubSummarizer{
		rederiveFn: func(_ WMBoard, _ LTMProfile, recent []Observation) (WMBoard, error) {
			seen = len(recent)
			return NewWMBoard(), nil
		},
	}

	cfg := testConfig()
	cfg.WMWindow = 3
	core := newTestCore(t, stub, &memStore{}, cfg)

	require.NoError(t, core.Ingest(context.Background(), sampleResult()))

	assert.Equal(t, 3, seen)
}

func TestTrimWMTruncatesLocallyBeforeCondensing(t *testing.T) {
	oversized := NewWMBoard()
	for i := 0; i < 30; i++ {
		filler := strings.Repeat(fmt.Sprintf("hypothesis %d about the user's habits ", i), 10)
		oversized.CorroboratedHypotheses = append(oversized.CorroboratedHypotheses, filler)
		oversized.UntestedHypotheses = append(oversized.UntestedHypotheses, filler)
	}
	oversized.EstablishedFacts = []string{"uses dark mode"}

	stub := &stubSummarizer{
		rederiveFn: func(WMBoard, LTMProfile, []Observation) (WMBoard, error) {
			return oversized.Clone(), nil
		},
		boardFn: func(b WMBoard, _ int) (WMBoard, error) {
			return WMBoard{}, errors.New("model unavailable")
		},
	}

	cfg := testConfig()
	cfg.WMBudget = 50
	core := newTestCore(t, stub, &memStore{}, cfg)

	require.NoError(t, core.Ingest(context.Background(), sampleResult()))

	board := core.GetState().WorkingMemory
	// Condense failed, so the locally truncated board stands.
	assert.Len(t, board.CorroboratedHypotheses, 10)
	assert.Len(t, board.UntestedHypotheses, 5)
	assert.Equal(t, []string{"uses dark mode"}, board.EstablishedFacts)
}

func TestTrimWMAcceptsCondensedBoard(t *testing.T) {
	oversized := NewWMBoard()
	for i := 0; i < 30; i++ {
		filler := strings.Repeat(fmt.Sprintf("hypothesis %d about the user's habits ", i), 10)
		oversized.CorroboratedHypotheses = append(oversized.CorroboratedHypotheses, filler)
	}

	condensed := NewWMBoard()
	condensed.CorroboratedHypotheses = []string{"works on Go services"}

	stub := &stubSummarizer{
		rederiveFn: func(WMBoard, LTMProfile, []Observation) (WMBoard, error) {
			return oversized.Clone(), nil
		},
		boardFn: func(WMBoard, int) (WMBoard, error) {
			return condensed.Clone(), nil
		},
	}

	cfg := testConfig()
	cfg.WMBudget = 50
	core := newTestCore(t, stub, &memStore{}, cfg)

	require.NoError(t, core.Ingest(context.Background(), sampleResult()))

	board := core.GetState().WorkingMemory
	assert.Equal(t, 1, stub.boardCalls)
	assert.Equal(t, condensed.CorroboratedHypotheses, board.CorroboratedHypotheses)
}

func TestIngestPersistsSnapshotAndBumpsRevision(t *testing.T) {
	stub := &stubSummarizer{}
	store := &memStore{}
	core := newTestCore(t, stub, store, testConfig())

	require.NoError(t, core.Ingest(context.Background(), sampleResult()))
	require.NoError(t, core.Ingest(context.Background(), sampleResult()))

	// Each ingest persists right after the append and again at cycle end.
	assert.Equal(t, 4, store.saves)
	assert.Equal(t, uint64(4), core.Revision())
	assert.False(t, store.snapshot.LastUpdated.IsZero())
}

func TestIngestPersistsAppendBeforeConsolidation(t *testing.T) {
	store := &memStore{}
	var savesAtMerge int
	var persistedSTM int
	stub := &stubSummarizer{
		mergeFn: func(p LTMProfile, _ []Observation) (LTMProfile, error) {
			savesAtMerge = store.saves
			persistedSTM = len(store.snapshot.ShortTermMemory)
			return p, nil
		},
	}

	cfg := testConfig()
	cfg.STMBudget = 1
	core := newTestCore(t, stub, store, cfg)

	require.NoError(t, core.Ingest(context.Background(), sampleResult()))

	// The appended observations were on disk before the merge started, so a
	// crash mid-completion cannot lose them.
	assert.Equal(t, 1, savesAtMerge)
	assert.Equal(t, 5, persistedSTM)
}

func TestConsolidationSuccessPersistsImmediately(t *testing.T) {
	store := &memStore{}
	merged := NewLTMProfile()
	merged.ProfileSummary = "Persisted mid-cycle."
	stub := &stubSummarizer{
		mergeFn: func(LTMProfile, []Observation) (LTMProfile, error) {
			return merged, nil
		},
	}

	cfg := testConfig()
	cfg.STMBudget = 1
	core := newTestCore(t, stub, store, cfg)

	require.NoError(t, core.Ingest(context.Background(), sampleResult()))

	// Three saves: after the append, after the successful consolidation, and
	// at the end of the cycle.
	assert.Equal(t, 3, store.saves)
	assert.Equal(t, merged.ProfileSummary, store.snapshot.LongTermMemory.ProfileSummary)
	assert.Empty(t, store.snapshot.ShortTermMemory)
}

func TestIngestSurvivesStoreFailure(t *testing.T) {
	stub := &stubSummarizer{}
	store := &memStore{saveErr: errors.New("disk full")}
	core := newTestCore(t, stub, store, testConfig())

	require.NoError(t, core.Ingest(context.Background(), sampleResult()))
	assert.Len(t, core.GetState().ShortTermMemory, 5)
}

func TestIngestEmitsEvents(t *testing.T) {
	stub := &stubSummarizer{}
	core := newTestCore(t, stub, &memStore{}, testConfig())

	events := make(chan *types.MemoryEvent, 32)
	core.SetEventChannel(events)

	require.NoError(t, core.Ingest(context.Background(), sampleResult()))
	close(events)

	var seen []types.MemoryEventType
	for ev := range events {
		seen = append(seen, ev.Type)
	}
	assert.Contains(t, seen, types.EventTypeObservationsAppended)
	assert.Contains(t, seen, types.EventTypeWMRederived)
	assert.Contains(t, seen, types.EventTypeSnapshotSaved)
}

func TestQuery(t *testing.T) {
	stub := &stubSummarizer{
		answerFn: func(snap *Snapshot, question string) (string, error) {
			return fmt.Sprintf("asked %q with %d observations", question, len(snap.ShortTermMemory)), nil
		},
	}
	core := newTestCore(t, stub, &memStore{}, testConfig())
	require.NoError(t, core.Ingest(context.Background(), sampleResult()))

	answer, err := core.Query(context.Background(), "what does the user work on?")
	require.NoError(t, err)
	assert.Equal(t, `asked "what does the user work on?" with 5 observations`, answer)

	_, err = core.Query(context.Background(), "")
	require.Error(t, err)
}

func TestNewCoreLoadsExistingSnapshot(t *testing.T) {
	snap := NewSnapshot()
	snap.LongTermMemory.ProfileSummary = "Restored."
	store := &memStore{snapshot: snap}

	core := newTestCore(t, &stubSummarizer{}, store, testConfig())
	assert.Equal(t, "Restored.", core.GetState().LongTermMemory.ProfileSummary)
}

// bloatedSnapshot builds a snapshot whose profile comfortably exceeds a
// 500-token budget while its priority fields fit well under it.
func bloatedSnapshot() *Snapshot {
	snap := NewSnapshot()
	snap.LongTermMemory.ProfileSummary = "A developer."
	snap.LongTermMemory.SkillsAndKnowledge["confirmed_skills"] = []string{"Go", "SQL"}
	snap.LongTermMemory.PreferencesAndHabits["ui_preferences"] = []string{"dark mode"}
	for i := 0; i < 100; i++ {
		snap.LongTermMemory.SkillsAndKnowledge["padding"] = append(
			snap.LongTermMemory.SkillsAndKnowledge["padding"],
			strings.Repeat(fmt.Sprintf("low value observation %d ", i), 5))
	}
	return snap
}
