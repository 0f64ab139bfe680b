package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/recallhq/recall/pkg/config"
	"github.com/recallhq/recall/pkg/logging"
	"github.com/recallhq/recall/pkg/types"
)

// Local truncation caps applied before asking the summarizer to condense an
// over-budget working-memory board. Established facts are never truncated.
const (
	wmMaxCorroborated = 10
	wmMaxUntested     = 5
)

// Caps for the minimal-safe profile, the last rung of the LTM trim chain.
const minimalSafeEntries = 5

// Core is the memory consolidation engine. It owns the three memory tiers,
// applies the budget policies on every ingest, and persists the resulting
// snapshot. All mutations are serialized through a single mutex; ingest
// cycles for successive recordings never interleave.
//
// The core is fail-safe by construction: a summarizer or store failure is
// logged and the affected step keeps its prior state, but the ingest itself
// still completes with the new observations appended.
type Core struct {
	mu       sync.Mutex
	snapshot *Snapshot
	revision uint64

	summarizer Summarizer
	store      Store
	estimator  *Estimator
	logger     *logging.Logger
	cfg        config.MemoryConfig

	eventCh chan<- *types.MemoryEvent
}

// NewCore loads the persisted snapshot (starting empty when none exists) and
// returns a ready core.
func NewCore(ctx context.Context, summarizer Summarizer, store Store, estimator *Estimator, logger *logging.Logger, cfg config.MemoryConfig) (*Core, error) {
	snapshot, err := store.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		snapshot = NewSnapshot()
	} else if err != nil {
		return nil, fmt.Errorf("memory: load snapshot: %w", err)
	}

	return &Core{
		snapshot:   snapshot,
		summarizer: summarizer,
		store:      store,
		estimator:  estimator,
		logger:     logger,
		cfg:        cfg,
	}, nil
}

// SetEventChannel registers a channel that receives memory events as they
// occur. Sends are non-blocking; a full or absent channel never stalls an
// ingest cycle.
func (c *Core) SetEventChannel(ch chan<- *types.MemoryEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventCh = ch
}

func (c *Core) emit(event *types.MemoryEvent) {
	if c.eventCh == nil {
		return
	}
	select {
	case c.eventCh <- event:
	default:
		// Slow consumers lose events rather than blocking memory updates.
	}
}

// Ingest runs a full memory cycle for one analysis result: decompose into
// observations, append to STM, consolidate and trim against budgets, then
// re-derive working memory. The snapshot is persisted after the append, after
// a successful consolidation, and at the end of the cycle. It returns an
// error only for invalid input; downstream failures degrade to retained
// prior state.
func (c *Core) Ingest(ctx context.Context, result *types.AnalysisResult) error {
	if result == nil {
		return fmt.Errorf("memory: nil analysis result")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	observations := decompose(result, time.Now().UTC())
	c.snapshot.ShortTermMemory = append(c.snapshot.ShortTermMemory, observations...)
	c.logger.Infof("appended %d observations to STM", len(observations))
	c.emit(types.NewMemoryEvent(types.EventTypeObservationsAppended, "analysis result decomposed").
		WithCount(len(observations)))

	// Persist the append before any summarizer call so a crash during a slow
	// completion never loses the new observations.
	c.persist(ctx)

	if stmTokens := c.estimator.EstimateSTM(c.snapshot.ShortTermMemory); stmTokens > c.cfg.STMBudget {
		c.consolidate(ctx, stmTokens)
	}

	if ltmTokens := c.estimator.Estimate(c.snapshot.LongTermMemory); ltmTokens > c.cfg.LTMBudget {
		c.trimLTM(ctx, ltmTokens)
	}

	c.rederiveWM(ctx)

	if wmTokens := c.estimator.Estimate(c.snapshot.WorkingMemory); wmTokens > c.cfg.WMBudget {
		c.trimWM(ctx, wmTokens)
	}

	c.persist(ctx)

	return nil
}

// GetState returns a deep copy of the current snapshot. Reading state never
// mutates memory.
func (c *Core) GetState() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Clone()
}

// Revision returns a counter that increments on every persisted change,
// usable as a cache key component.
func (c *Core) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision
}

// Query answers a free-form question about the user, grounded in the current
// snapshot. It never mutates memory.
func (c *Core) Query(ctx context.Context, question string) (string, error) {
	if question == "" {
		return "", fmt.Errorf("memory: empty question")
	}

	c.mu.Lock()
	snapshot := c.snapshot.Clone()
	c.mu.Unlock()

	answer, err := c.summarizer.Answer(ctx, snapshot, question)
	if err != nil {
		return "", fmt.Errorf("memory: answer query: %w", err)
	}
	return answer, nil
}

// consolidate migrates the oldest slice of STM into the LTM profile. On any
// failure the profile and the log are both left untouched.
func (c *Core) consolidate(ctx context.Context, stmTokens int) {
	c.emit(types.NewMemoryEvent(types.EventTypeConsolidationStart, "STM over budget").
		WithTokens(stmTokens))

	// Oldest first; append order already holds, but restored snapshots may
	// have been edited out of band.
	stm := c.snapshot.ShortTermMemory
	sort.SliceStable(stm, func(i, j int) bool {
		return stm[i].Timestamp.Before(stm[j].Timestamp)
	})

	slice := c.collectSlice(stm)
	if len(slice) == 0 {
		c.logger.Warnf("consolidation skipped: oldest STM entry alone exceeds the %d token slice", c.cfg.ConsolidationSlice)
		c.emit(types.NewMemoryEvent(types.EventTypeConsolidationError, "no entries fit the consolidation slice"))
		return
	}

	merged, err := c.summarizer.MergeIntoProfile(ctx, c.snapshot.LongTermMemory.Clone(), slice)
	if err != nil {
		c.logger.Errorf("consolidation failed, retaining prior state: %v", err)
		c.emit(types.NewMemoryEvent(types.EventTypeConsolidationError, err.Error()))
		return
	}

	c.snapshot.LongTermMemory = merged
	c.snapshot.ShortTermMemory = append([]Observation{}, stm[len(slice):]...)
	c.persist(ctx)
	c.logger.Infof("consolidated %d STM entries into the profile", len(slice))
	c.emit(types.NewMemoryEvent(types.EventTypeConsolidationComplete, "profile replaced").
		WithCount(len(slice)))
}

// collectSlice takes entries from the front of the sorted log while their
// cumulative estimate stays within the consolidation slice.
func (c *Core) collectSlice(stm []Observation) []Observation {
	var slice []Observation
	total := 0
	for _, obs := range stm {
		cost := c.estimator.Estimate(obs)
		if total+cost > c.cfg.ConsolidationSlice {
			break
		}
		total += cost
		slice = append(slice, obs)
	}
	return slice
}

// trimLTM reduces an over-budget profile through a three-rung fallback chain:
// summarizer condense, then priority projection, then the minimal-safe
// profile. Each rung only applies when the previous one still misses budget.
func (c *Core) trimLTM(ctx context.Context, ltmTokens int) {
	c.logger.Infof("LTM over budget (%d > %d), trimming", ltmTokens, c.cfg.LTMBudget)

	condensed, err := c.summarizer.CondenseProfile(ctx, c.snapshot.LongTermMemory.Clone(), c.cfg.LTMBudget)
	if err == nil {
		if tokens := c.estimator.Estimate(condensed); tokens <= c.cfg.LTMBudget {
			c.snapshot.LongTermMemory = condensed
			c.emit(types.NewMemoryEvent(types.EventTypeLTMTrimmed, "condensed by summarizer").
				WithTokens(tokens))
			return
		}
		c.logger.Warnf("condensed profile still over budget, projecting")
	} else {
		c.logger.Errorf("profile condense failed, projecting: %v", err)
	}

	projected := c.projectProfile()
	if tokens := c.estimator.Estimate(projected); tokens <= c.cfg.LTMBudget {
		c.snapshot.LongTermMemory = projected
		c.emit(types.NewMemoryEvent(types.EventTypeLTMTrimmed, "priority projection").
			WithTokens(tokens))
		return
	}

	minimal := c.minimalSafeProfile()
	c.snapshot.LongTermMemory = minimal
	c.logger.Warnf("projection still over budget, reduced profile to minimal-safe form")
	c.emit(types.NewMemoryEvent(types.EventTypeLTMTrimmed, "minimal-safe profile").
		WithTokens(c.estimator.Estimate(minimal)))
}

// projectProfile rebuilds the profile from its highest-priority fields,
// adding each field only while the running estimate stays within budget.
func (c *Core) projectProfile() LTMProfile {
	current := c.snapshot.LongTermMemory
	out := NewLTMProfile()
	out.ProfileSummary = current.ProfileSummary

	fields := []struct {
		section func(*LTMProfile) map[string][]string
		name    string
		values  []string
	}{
		{func(p *LTMProfile) map[string][]string { return p.SkillsAndKnowledge }, fieldConfirmedSkills, current.SkillsAndKnowledge[fieldConfirmedSkills]},
		{func(p *LTMProfile) map[string][]string { return p.PreferencesAndHabits }, fieldUIPreferences, current.PreferencesAndHabits[fieldUIPreferences]},
		{func(p *LTMProfile) map[string][]string { return p.PreferencesAndHabits }, fieldToolPreferences, current.PreferencesAndHabits[fieldToolPreferences]},
		{func(p *LTMProfile) map[string][]string { return p.GoalsAndMotivations }, fieldStatedGoals, current.GoalsAndMotivations[fieldStatedGoals]},
		{func(p *LTMProfile) map[string][]string { return p.Challenges }, fieldRecurringFrustrations, current.Challenges[fieldRecurringFrustrations]},
	}

	total := c.estimator.Estimate(out)
	for _, f := range fields {
		if len(f.values) == 0 {
			continue
		}
		cost := c.estimator.Estimate(f.values)
		if total+cost > c.cfg.LTMBudget {
			break
		}
		f.section(&out)[f.name] = append([]string(nil), f.values...)
		total += cost
	}

	return out
}

// minimalSafeProfile is the floor of the trim chain: the summary plus a
// handful of the strongest skills and preferences.
func (c *Core) minimalSafeProfile() LTMProfile {
	current := c.snapshot.LongTermMemory
	out := NewLTMProfile()
	out.ProfileSummary = current.ProfileSummary

	if skills := current.SkillsAndKnowledge[fieldConfirmedSkills]; len(skills) > 0 {
		out.SkillsAndKnowledge[fieldConfirmedSkills] = append([]string(nil), skills[:min(len(skills), minimalSafeEntries)]...)
	}
	if prefs := current.PreferencesAndHabits[fieldUIPreferences]; len(prefs) > 0 {
		out.PreferencesAndHabits[fieldUIPreferences] = append([]string(nil), prefs[:min(len(prefs), minimalSafeEntries)]...)
	}

	return out
}

// rederiveWM rebuilds the working-memory board from the recent observation
// window. A rejected or failed response keeps the prior board.
func (c *Core) rederiveWM(ctx context.Context) {
	stm := c.snapshot.ShortTermMemory
	if len(stm) == 0 {
		return
	}

	window := stm
	if len(window) > c.cfg.WMWindow {
		window = window[len(window)-c.cfg.WMWindow:]
	}

	board, err := c.summarizer.RederiveBoard(ctx, c.snapshot.WorkingMemory.Clone(), c.snapshot.LongTermMemory.Clone(), window)
	if err != nil {
		c.logger.Errorf("working memory re-derivation failed, retaining prior board: %v", err)
		c.emit(types.NewMemoryEvent(types.EventTypeWMRederivationError, err.Error()))
		return
	}

	c.snapshot.WorkingMemory = board
	c.emit(types.NewMemoryEvent(types.EventTypeWMRederived, "board replaced").
		WithCount(len(board.UntestedHypotheses) + len(board.CorroboratedHypotheses) + len(board.EstablishedFacts)))
}

// trimWM reduces an over-budget board: local truncation first (established
// facts are kept whole), then at most one summarizer condense. A failed or
// still-oversized condense keeps the truncated board.
func (c *Core) trimWM(ctx context.Context, wmTokens int) {
	c.logger.Infof("WM over budget (%d > %d), trimming", wmTokens, c.cfg.WMBudget)

	board := c.snapshot.WorkingMemory.Clone()
	dropped := 0
	if len(board.CorroboratedHypotheses) > wmMaxCorroborated {
		dropped += len(board.CorroboratedHypotheses) - wmMaxCorroborated
		board.CorroboratedHypotheses = board.CorroboratedHypotheses[:wmMaxCorroborated]
	}
	if len(board.UntestedHypotheses) > wmMaxUntested {
		dropped += len(board.UntestedHypotheses) - wmMaxUntested
		board.UntestedHypotheses = board.UntestedHypotheses[:wmMaxUntested]
	}
	c.snapshot.WorkingMemory = board

	tokens := c.estimator.Estimate(board)
	if tokens <= c.cfg.WMBudget {
		c.emit(types.NewMemoryEvent(types.EventTypeWMTrimmed, "local truncation").
			WithCount(dropped).WithTokens(tokens))
		return
	}

	condensed, err := c.summarizer.CondenseBoard(ctx, board.Clone(), c.cfg.WMBudget)
	if err != nil {
		c.logger.Errorf("board condense failed, keeping truncated board: %v", err)
		c.emit(types.NewMemoryEvent(types.EventTypeWMTrimmed, "local truncation (condense failed)").
			WithCount(dropped).WithTokens(tokens))
		return
	}

	c.snapshot.WorkingMemory = condensed
	c.emit(types.NewMemoryEvent(types.EventTypeWMTrimmed, "condensed by summarizer").
		WithCount(dropped).WithTokens(c.estimator.Estimate(condensed)))
}

// persist saves the snapshot and bumps the revision. Persistence failures are
// logged; in-memory state stays authoritative for the process lifetime.
func (c *Core) persist(ctx context.Context) {
	c.snapshot.LastUpdated = time.Now().UTC()
	c.revision++

	if err := c.store.Save(ctx, c.snapshot); err != nil {
		c.logger.Errorf("snapshot save failed: %v", err)
		return
	}
	c.emit(types.NewMemoryEvent(types.EventTypeSnapshotSaved, "snapshot persisted").
		WithCount(len(c.snapshot.ShortTermMemory)))
}
