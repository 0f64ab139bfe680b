package memory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const mergeSystemPrompt = "You are the memory consolidation engine for a personal observation system. " +
	"You maintain a long-term user profile built from screen-recording analysis. " +
	"You integrate new observations into the existing profile, resolving conflicts in favor of newer evidence. " +
	"Respond with a single JSON object and nothing else."

const condenseSystemPrompt = "You are the memory compaction engine for a personal observation system. " +
	"You rewrite memory documents to fit a token budget while preserving the most durable, " +
	"identity-relevant information. Respond with a single JSON object and nothing else."

const rederiveSystemPrompt = "You are the hypothesis engine for a personal observation system. " +
	"You maintain a working board of hypotheses about the user's current activity and intent, " +
	"derived from the current board, recent observations, and the long-term profile. " +
	"Respond with a single JSON object and nothing else."

const querySystemPrompt = "You answer questions about a user based on their memory system. " +
	"Ground every claim in the memory documents provided; if the memory does not support an answer, say so."

// ltmSchemaHint renders the exact document shape the merge and condense
// prompts expect back. Keeping it in one place means the prompts and the
// decoder never drift apart.
func ltmSchemaHint() string {
	var b strings.Builder
	b.WriteString("{\n")
	b.WriteString(`  "profile_summary": "one paragraph describing the user",` + "\n")
	b.WriteString(`  "skills_and_knowledge": {"confirmed_skills": [], "learning_areas": [], "domain_expertise": []},` + "\n")
	b.WriteString(`  "preferences_and_habits": {"ui_preferences": [], "tool_preferences": [], "work_patterns": []},` + "\n")
	b.WriteString(`  "workflows": {"development": [], "communication": [], "research": []},` + "\n")
	b.WriteString(`  "challenges": {"recurring_frustrations": [], "blockers": []},` + "\n")
	b.WriteString(`  "goals_and_motivations": {"stated_goals": [], "inferred_goals": []},` + "\n")
	b.WriteString(`  "traits_and_attitudes": {"communication_style": [], "risk_tolerance": []}` + "\n")
	b.WriteString("}")
	return b.String()
}

// buildMergePrompt asks the summarizer to fold a slice of STM observations
// into the existing profile, returning a full replacement document.
func buildMergePrompt(profile LTMProfile, observations []Observation) string {
	var b strings.Builder

	b.WriteString("Integrate the new observations below into the user's long-term profile.\n")
	b.WriteString("Return the COMPLETE updated profile — every section, not a diff.\n")
	b.WriteString("Promote repeated observations into stronger claims. When new evidence contradicts ")
	b.WriteString("the existing profile, prefer the new evidence. Drop nothing that is still supported.\n\n")

	b.WriteString("## Current profile\n")
	b.WriteString(mustJSON(profile))
	b.WriteString("\n\n")

	b.WriteString("## New observations (oldest first)\n")
	writeObservations(&b, observations)
	b.WriteString("\n")

	b.WriteString("## Required output shape\n")
	b.WriteString(ltmSchemaHint())
	b.WriteString("\n\nRespond with exactly one JSON object in that shape. The six sections are maps of named string arrays; use these names and add others only when the evidence demands it.")

	return b.String()
}

// buildCondenseLTMPrompt asks the summarizer to shrink an over-budget profile.
func buildCondenseLTMPrompt(profile LTMProfile, budget int) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("The user profile below exceeds its budget of %d tokens. Rewrite it to fit.\n", budget))
	b.WriteString("Preserve the profile summary, confirmed skills, and stated preferences above all else.\n")
	b.WriteString("Merge near-duplicate entries, drop stale or weakly-supported ones, and shorten phrasing.\n")
	b.WriteString("Return the COMPLETE condensed profile with every section present.\n\n")

	b.WriteString("## Profile\n")
	b.WriteString(mustJSON(profile))
	b.WriteString("\n\n")

	b.WriteString("## Required output shape\n")
	b.WriteString(ltmSchemaHint())
	b.WriteString("\n\nRespond with exactly one JSON object in that shape.")

	return b.String()
}

// buildRederivePrompt asks the summarizer to rebuild the working-memory board
// as a full replacement, given the current board, the profile, and a recent
// window of observations.
func buildRederivePrompt(board WMBoard, profile LTMProfile, recent []Observation) string {
	var b strings.Builder

	b.WriteString("Derive the user's current working-memory board from the current board, ")
	b.WriteString("recent observations, and long-term profile below. Return a COMPLETE replacement ")
	b.WriteString("board: promote current entries the new evidence corroborates, demote or drop ")
	b.WriteString("the ones it contradicts, and add new claims the observations support.\n\n")

	b.WriteString("Sort each claim by evidential strength:\n")
	b.WriteString("- untested_hypotheses: plausible guesses from a single observation\n")
	b.WriteString("- corroborated_hypotheses: supported by multiple independent observations\n")
	b.WriteString("- established_facts: directly stated by the user or beyond reasonable doubt\n\n")

	b.WriteString("## Current working-memory board\n")
	b.WriteString(mustJSON(board))
	b.WriteString("\n\n")

	b.WriteString("## Long-term profile\n")
	b.WriteString(mustJSON(profile))
	b.WriteString("\n\n")

	b.WriteString("## Recent observations (oldest first)\n")
	writeObservations(&b, recent)
	b.WriteString("\n")

	b.WriteString("Respond with exactly one JSON object with exactly these three keys, each an array of strings:\n")
	b.WriteString(`{"untested_hypotheses": [], "corroborated_hypotheses": [], "established_facts": []}`)

	return b.String()
}

// buildCondenseWMPrompt asks the summarizer to shrink an over-budget board
// that has already been locally truncated.
func buildCondenseWMPrompt(board WMBoard, budget int) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("The working-memory board below still exceeds its budget of %d tokens. Condense it.\n", budget))
	b.WriteString("Merge overlapping claims and shorten phrasing. Established facts matter most, ")
	b.WriteString("then corroborated hypotheses, then untested ones.\n\n")

	b.WriteString("## Board\n")
	b.WriteString(mustJSON(board))
	b.WriteString("\n\n")

	b.WriteString("Respond with exactly one JSON object with exactly these three keys, each an array of strings:\n")
	b.WriteString(`{"untested_hypotheses": [], "corroborated_hypotheses": [], "established_facts": []}`)

	return b.String()
}

// buildQueryPrompt assembles all three memory tiers into a grounding context
// for answering a free-form question about the user.
func buildQueryPrompt(snapshot *Snapshot, question string) string {
	var b strings.Builder

	b.WriteString("Answer the question below using only the memory documents provided.\n\n")

	b.WriteString("## Long-term profile\n")
	b.WriteString(mustJSON(snapshot.LongTermMemory))
	b.WriteString("\n\n")

	b.WriteString("## Working memory\n")
	b.WriteString(mustJSON(snapshot.WorkingMemory))
	b.WriteString("\n\n")

	b.WriteString("## Recent observations (oldest first)\n")
	writeObservations(&b, snapshot.ShortTermMemory)
	b.WriteString("\n")

	b.WriteString("## Question\n")
	b.WriteString(question)

	return b.String()
}

func writeObservations(b *strings.Builder, observations []Observation) {
	if len(observations) == 0 {
		b.WriteString("(none)\n")
		return
	}
	for _, obs := range observations {
		b.WriteString(fmt.Sprintf("- [%s] %s: %s\n",
			obs.Timestamp.Format(time.RFC3339), obs.Kind, mustJSON(obs.Payload)))
	}
}

// mustJSON renders a value for prompt embedding. Marshal failures degrade to
// fmt formatting rather than aborting a consolidation cycle.
func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
