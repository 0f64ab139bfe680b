package types

// Directive is an explicit instruction the user gave during a recording
// ("open the terminal", "always use dark mode").
type Directive struct {
	Command    string                 `json:"command"`
	Target     string                 `json:"target,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Certainty  float64                `json:"certainty,omitempty"`
	Context    string                 `json:"context,omitempty"`
}

// Statement is something the user explicitly said or typed about themselves,
// their goals, or their environment.
type Statement struct {
	Statement string  `json:"statement"`
	Type      string  `json:"type,omitempty"`
	Certainty float64 `json:"certainty,omitempty"`
	Context   string  `json:"context,omitempty"`
}

// Insight is a behavior-level inference drawn by the annotation model rather
// than stated by the user.
type Insight struct {
	Insight   string  `json:"insight"`
	Type      string  `json:"type,omitempty"`
	Basis     string  `json:"basis,omitempty"`
	Certainty float64 `json:"certainty,omitempty"`
}

// AnalysisResult is the loosely-typed annotation produced for one recording.
// All fields are optional; the inference service is treated as a black box
// and absent fields simply yield fewer observations.
type AnalysisResult struct {
	Summary                string      `json:"summary,omitempty"`
	RelevantContextSummary string      `json:"relevantContextSummary,omitempty"`
	ExplicitDirectives     []Directive `json:"explicit_directives,omitempty"`
	ExplicitStatements     []Statement `json:"explicit_statements,omitempty"`
	InferredInsights       []Insight   `json:"inferred_insights,omitempty"`
}

// SummaryText returns the result's summary, preferring the Summary field and
// falling back to RelevantContextSummary when Summary is empty.
func (r *AnalysisResult) SummaryText() string {
	if r.Summary != "" {
		return r.Summary
	}
	return r.RelevantContextSummary
}

// ObservationCount returns the number of observations this result decomposes
// into: one summary entry plus one per directive, statement, and insight.
func (r *AnalysisResult) ObservationCount() int {
	return 1 + len(r.ExplicitDirectives) + len(r.ExplicitStatements) + len(r.InferredInsights)
}
