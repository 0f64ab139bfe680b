package memory

import (
	"time"

	"github.com/recallhq/recall/pkg/types"
)

// ObservationKind classifies a short-term memory entry.
type ObservationKind string

const (
	KindVideoAnalysisSummary ObservationKind = "video_analysis_summary"
	KindExplicitDirective    ObservationKind = "explicit_directive"
	KindExplicitStatement    ObservationKind = "explicit_statement"
	KindInferredInsight      ObservationKind = "inferred_insight"
	KindAnalysisComplete     ObservationKind = "analysis_complete"
)

// Observation is a single immutable short-term memory entry. Observations are
// created when an analysis result is decomposed and removed only by
// consolidation, which migrates their content into the LTM profile first.
type Observation struct {
	Timestamp time.Time       `json:"timestamp"`
	Kind      ObservationKind `json:"kind"`
	Payload   interface{}     `json:"payload"`
}

// LTMProfile is the durable hierarchical user profile. It always has exactly
// these seven sections; trimming may shrink the arrays inside a section but
// the section keys themselves survive every normal-path mutation.
type LTMProfile struct {
	ProfileSummary       string              `json:"profile_summary"`
	SkillsAndKnowledge   map[string][]string `json:"skills_and_knowledge"`
	PreferencesAndHabits map[string][]string `json:"preferences_and_habits"`
	Workflows            map[string][]string `json:"workflows"`
	Challenges           map[string][]string `json:"challenges"`
	GoalsAndMotivations  map[string][]string `json:"goals_and_motivations"`
	TraitsAndAttitudes   map[string][]string `json:"traits_and_attitudes"`
}

// Well-known LTM field names used by the trim fallback chain.
const (
	fieldConfirmedSkills       = "confirmed_skills"
	fieldUIPreferences         = "ui_preferences"
	fieldToolPreferences       = "tool_preferences"
	fieldStatedGoals           = "stated_goals"
	fieldRecurringFrustrations = "recurring_frustrations"
)

// NewLTMProfile returns an empty profile with all seven sections present.
func NewLTMProfile() LTMProfile {
	return LTMProfile{
		SkillsAndKnowledge:   map[string][]string{},
		PreferencesAndHabits: map[string][]string{},
		Workflows:            map[string][]string{},
		Challenges:           map[string][]string{},
		GoalsAndMotivations:  map[string][]string{},
		TraitsAndAttitudes:   map[string][]string{},
	}
}

// Normalize replaces nil section maps with empty ones so the seven-section
// shape holds regardless of how the profile was decoded.
func (p *LTMProfile) Normalize() {
	if p.SkillsAndKnowledge == nil {
		p.SkillsAndKnowledge = map[string][]string{}
	}
	if p.PreferencesAndHabits == nil {
		p.PreferencesAndHabits = map[string][]string{}
	}
	if p.Workflows == nil {
		p.Workflows = map[string][]string{}
	}
	if p.Challenges == nil {
		p.Challenges = map[string][]string{}
	}
	if p.GoalsAndMotivations == nil {
		p.GoalsAndMotivations = map[string][]string{}
	}
	if p.TraitsAndAttitudes == nil {
		p.TraitsAndAttitudes = map[string][]string{}
	}
}

// Clone returns a deep copy of the profile.
func (p LTMProfile) Clone() LTMProfile {
	out := p
	out.SkillsAndKnowledge = cloneSection(p.SkillsAndKnowledge)
	out.PreferencesAndHabits = cloneSection(p.PreferencesAndHabits)
	out.Workflows = cloneSection(p.Workflows)
	out.Challenges = cloneSection(p.Challenges)
	out.GoalsAndMotivations = cloneSection(p.GoalsAndMotivations)
	out.TraitsAndAttitudes = cloneSection(p.TraitsAndAttitudes)
	return out
}

func cloneSection(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// WMBoard is the working-memory board: three ranked lists of short
// evidence-annotated strings. Entries embed their own evidentiary basis as a
// trailing bracketed citation by convention.
type WMBoard struct {
	UntestedHypotheses     []string `json:"untested_hypotheses"`
	CorroboratedHypotheses []string `json:"corroborated_hypotheses"`
	EstablishedFacts       []string `json:"established_facts"`
}

// NewWMBoard returns an empty board with all three arrays present.
func NewWMBoard() WMBoard {
	return WMBoard{
		UntestedHypotheses:     []string{},
		CorroboratedHypotheses: []string{},
		EstablishedFacts:       []string{},
	}
}

// Normalize replaces nil arrays with empty ones so the three-array shape
// always holds.
func (b *WMBoard) Normalize() {
	if b.UntestedHypotheses == nil {
		b.UntestedHypotheses = []string{}
	}
	if b.CorroboratedHypotheses == nil {
		b.CorroboratedHypotheses = []string{}
	}
	if b.EstablishedFacts == nil {
		b.EstablishedFacts = []string{}
	}
}

// Clone returns a deep copy of the board.
func (b WMBoard) Clone() WMBoard {
	return WMBoard{
		UntestedHypotheses:     append([]string(nil), b.UntestedHypotheses...),
		CorroboratedHypotheses: append([]string(nil), b.CorroboratedHypotheses...),
		EstablishedFacts:       append([]string(nil), b.EstablishedFacts...),
	}
}

// Snapshot is the single logical persisted document holding all three tiers.
type Snapshot struct {
	ShortTermMemory []Observation `json:"shortTermMemory"`
	LongTermMemory  LTMProfile    `json:"longTermMemory"`
	WorkingMemory   WMBoard       `json:"workingMemory"`
	LastUpdated     time.Time     `json:"lastUpdated"`
}

// NewSnapshot returns an empty snapshot with all tiers at their defaults.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		ShortTermMemory: []Observation{},
		LongTermMemory:  NewLTMProfile(),
		WorkingMemory:   NewWMBoard(),
	}
}

// Normalize applies tier defaults to a decoded snapshot.
func (s *Snapshot) Normalize() {
	if s.ShortTermMemory == nil {
		s.ShortTermMemory = []Observation{}
	}
	s.LongTermMemory.Normalize()
	s.WorkingMemory.Normalize()
}

// Clone returns a deep copy of the snapshot. Observation payloads are shared;
// observations are immutable once created so sharing is safe.
func (s *Snapshot) Clone() *Snapshot {
	return &Snapshot{
		ShortTermMemory: append([]Observation(nil), s.ShortTermMemory...),
		LongTermMemory:  s.LongTermMemory.Clone(),
		WorkingMemory:   s.WorkingMemory.Clone(),
		LastUpdated:     s.LastUpdated,
	}
}

// decompose turns an analysis result into the observation sequence appended
// to STM: the summary entry first, then directives, statements, and insights,
// in their source order. The fixed ordering keeps ingests reproducible.
func decompose(res *types.AnalysisResult, now time.Time) []Observation {
	obs := make([]Observation, 0, res.ObservationCount())

	obs = append(obs, Observation{
		Timestamp: now,
		Kind:      KindVideoAnalysisSummary,
		Payload:   map[string]interface{}{"summary": res.SummaryText()},
	})

	for _, d := range res.ExplicitDirectives {
		obs = append(obs, Observation{Timestamp: now, Kind: KindExplicitDirective, Payload: d})
	}
	for _, st := range res.ExplicitStatements {
		obs = append(obs, Observation{Timestamp: now, Kind: KindExplicitStatement, Payload: st})
	}
	for _, in := range res.InferredInsights {
		obs = append(obs, Observation{Timestamp: now, Kind: KindInferredInsight, Payload: in})
	}

	return obs
}
