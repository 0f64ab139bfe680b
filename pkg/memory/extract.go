package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidShape indicates a summarizer response parsed as JSON but did not
// match the expected document shape.
var ErrInvalidShape = errors.New("memory: response has invalid shape")

// ExtractJSON pulls a JSON object out of a free-text model response. The
// response may wrap the document in a fenced code block and surround it with
// prose; everything outside the outermost braces is discarded.
func ExtractJSON(raw string) (string, error) {
	jsonStr := raw

	// Remove markdown code fences if present
	if idx := strings.Index(jsonStr, "```json"); idx != -1 {
		jsonStr = jsonStr[idx+7:]
		if endIdx := strings.Index(jsonStr, "```"); endIdx != -1 {
			jsonStr = jsonStr[:endIdx]
		}
	} else if idx := strings.Index(jsonStr, "```"); idx != -1 {
		jsonStr = jsonStr[idx+3:]
		if endIdx := strings.Index(jsonStr, "```"); endIdx != -1 {
			jsonStr = jsonStr[:endIdx]
		}
	}

	// Find JSON object boundaries
	start := strings.Index(jsonStr, "{")
	end := strings.LastIndex(jsonStr, "}")

	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("memory: no JSON object found in response")
	}

	return strings.TrimSpace(jsonStr[start : end+1]), nil
}

// ltmSectionKeys are the six mapping sections of the profile; profile_summary
// is validated separately because it is a plain string.
var ltmSectionKeys = []string{
	"skills_and_knowledge",
	"preferences_and_habits",
	"workflows",
	"challenges",
	"goals_and_motivations",
	"traits_and_attitudes",
}

// DecodeLTM parses a raw summarizer response into a complete LTM profile.
// The response must contain a JSON object with a profile_summary string and
// all six mapping sections of named string arrays; anything else is rejected
// so the caller retains the prior profile.
func DecodeLTM(raw string) (LTMProfile, error) {
	jsonStr, err := ExtractJSON(raw)
	if err != nil {
		return LTMProfile{}, err
	}

	var candidate map[string]json.RawMessage
	if err := json.Unmarshal([]byte(jsonStr), &candidate); err != nil {
		return LTMProfile{}, fmt.Errorf("memory: decode LTM response: %w", err)
	}

	summaryRaw, ok := candidate["profile_summary"]
	if !ok {
		return LTMProfile{}, fmt.Errorf("%w: missing profile_summary", ErrInvalidShape)
	}
	var summary string
	if err := json.Unmarshal(summaryRaw, &summary); err != nil {
		return LTMProfile{}, fmt.Errorf("%w: profile_summary is not a string", ErrInvalidShape)
	}

	for _, key := range ltmSectionKeys {
		sectionRaw, ok := candidate[key]
		if !ok {
			return LTMProfile{}, fmt.Errorf("%w: missing section %s", ErrInvalidShape, key)
		}
		var section map[string][]string
		if err := json.Unmarshal(sectionRaw, &section); err != nil {
			return LTMProfile{}, fmt.Errorf("%w: section %s is not a mapping of string arrays", ErrInvalidShape, key)
		}
	}

	var profile LTMProfile
	if err := json.Unmarshal([]byte(jsonStr), &profile); err != nil {
		return LTMProfile{}, fmt.Errorf("memory: decode LTM profile: %w", err)
	}
	profile.Normalize()

	return profile, nil
}

// wmKeys is the exact key set a working-memory response must carry.
var wmKeys = map[string]struct{}{
	"untested_hypotheses":     {},
	"corroborated_hypotheses": {},
	"established_facts":       {},
}

// DecodeWM parses a raw summarizer response into a working-memory board.
// The response must be an object with exactly the three board keys, each an
// array of strings. Extra keys, missing keys, or non-array values are all
// rejected — there is no partial merge.
func DecodeWM(raw string) (WMBoard, error) {
	jsonStr, err := ExtractJSON(raw)
	if err != nil {
		return WMBoard{}, err
	}

	var candidate map[string]json.RawMessage
	if err := json.Unmarshal([]byte(jsonStr), &candidate); err != nil {
		return WMBoard{}, fmt.Errorf("memory: decode WM response: %w", err)
	}

	if len(candidate) != len(wmKeys) {
		return WMBoard{}, fmt.Errorf("%w: expected exactly %d keys, got %d", ErrInvalidShape, len(wmKeys), len(candidate))
	}

	board := NewWMBoard()
	for key, value := range candidate {
		if _, ok := wmKeys[key]; !ok {
			return WMBoard{}, fmt.Errorf("%w: unexpected key %s", ErrInvalidShape, key)
		}
		var entries []string
		if err := json.Unmarshal(value, &entries); err != nil {
			return WMBoard{}, fmt.Errorf("%w: %s is not an array of strings", ErrInvalidShape, key)
		}
		switch key {
		case "untested_hypotheses":
			board.UntestedHypotheses = entries
		case "corroborated_hypotheses":
			board.CorroboratedHypotheses = entries
		case "established_facts":
			board.EstablishedFacts = entries
		}
	}
	board.Normalize()

	return board, nil
}
