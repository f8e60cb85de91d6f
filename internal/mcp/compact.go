package mcp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ashita-ai/factstore/internal/model"
)

const maxCompactValue = 200

// compactFact returns a minimal representation of a fact for MCP responses.
// The subject is dropped because callers already named it, and long values
// such as note bodies are truncated.
func compactFact(f model.Fact) map[string]any {
	m := map[string]any{
		"id":          f.ID,
		"value":       truncate(f.Value, maxCompactValue),
		"source_type": f.SourceType,
		"confidence":  f.Confidence,
		"valid_from":  f.ValidFrom,
		"current":     f.IsCurrent(),
	}
	if f.ValidUntil != nil {
		m["valid_until"] = f.ValidUntil
	}
	if f.SourceID != nil {
		m["source_id"] = *f.SourceID
	}
	return m
}

// compactGrouped applies compactFact throughout a grouped read.
func compactGrouped(g model.GroupedFacts) map[string]map[string][]map[string]any {
	out := make(map[string]map[string][]map[string]any, len(g))
	for factType, byKey := range g {
		keys := make(map[string][]map[string]any, len(byKey))
		for key, fs := range byKey {
			items := make([]map[string]any, len(fs))
			for i, f := range fs {
				items[i] = compactFact(f)
			}
			keys[key] = items
		}
		out[factType] = keys
	}
	return out
}

// compactConflict returns the parts of a conflict record a reviewing agent
// acts on.
func compactConflict(c model.ConflictRecord) map[string]any {
	m := map[string]any{
		"fact_type":            c.Slot.FactType,
		"key":                  c.Slot.Key,
		"incoming_value":       truncate(c.IncomingValue, maxCompactValue),
		"incoming_source_type": c.IncomingSourceType,
		"incoming_confidence":  c.IncomingConfidence,
		"reason":               c.Reason,
	}
	if c.Existing != nil {
		m["existing_value"] = truncate(c.Existing.Value, maxCompactValue)
		m["existing_source_type"] = c.Existing.SourceType
		m["existing_confidence"] = c.Existing.Confidence
		m["existing_fact_id"] = c.Existing.ID
	}
	return m
}

// summarizeFacts creates a one or two sentence synthesis of a grouped read.
func summarizeFacts(g model.GroupedFacts) string {
	if len(g) == 0 {
		return "No facts recorded for this entity."
	}
	types := make([]string, 0, len(g))
	total := 0
	for factType, byKey := range g {
		types = append(types, factType)
		for _, fs := range byKey {
			total += len(fs)
		}
	}
	sort.Strings(types)
	return fmt.Sprintf("%d fact(s) across %d type(s): %s.", total, len(types), strings.Join(types, ", "))
}

// summarizeHistory describes how a slot's value has evolved.
func summarizeHistory(history []model.Fact) string {
	if len(history) == 0 {
		return "Nothing has been recorded for this slot."
	}
	latest := history[0]
	state := "current"
	if !latest.IsCurrent() {
		state = "retired"
	}
	line := fmt.Sprintf("Latest value %q from %s (%.0f%% confidence, %s).",
		truncate(latest.Value, 100), latest.SourceType, latest.Confidence*100, state)
	if len(history) > 1 {
		line += fmt.Sprintf(" Superseded %d earlier value(s).", len(history)-1)
	}
	return line
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
