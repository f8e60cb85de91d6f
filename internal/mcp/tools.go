package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/factstore/internal/ctxutil"
	"github.com/ashita-ai/factstore/internal/entitykey"
	"github.com/ashita-ai/factstore/internal/model"
)

var entityTypes = []string{
	string(model.EntityPerson),
	string(model.EntityOrganization),
	string(model.EntityDeal),
	string(model.EntityConversation),
}

func (s *Server) registerTools() {
	// factstore_add_fact: write a fact through conflict detection.
	s.mcpServer.AddTool(
		mcplib.NewTool("factstore_add_fact",
			mcplib.WithDescription(`Record a sourced fact about a person, organization, deal or conversation.

The fact store keeps one current value per (entity, fact_type, key) and never
overwrites history. Your fact is classified against the current value:
- NEW: nothing was recorded yet; your fact becomes current.
- DUPLICATE: the same value is already current; nothing is written.
- UPDATE: same source, or strictly higher confidence; yours supersedes it.
- CONFLICT: a different source with equal or higher confidence holds a
  different value. Nothing is written and requires_manual_review is true.

Call factstore_history first when you expect to change an existing value.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("entity_type",
				mcplib.Description("Kind of entity the fact is about"),
				mcplib.Enum(entityTypes...),
				mcplib.Required(),
			),
			mcplib.WithString("entity_id", mcplib.Description("UUID of the entity"), mcplib.Required()),
			mcplib.WithString("fact_type",
				mcplib.Description("Fact category, e.g. metric, note, NOTE, profile, pipeline"),
				mcplib.Required(),
			),
			mcplib.WithString("key", mcplib.Description("Attribute within the category, e.g. mrr"), mcplib.Required()),
			mcplib.WithString("value", mcplib.Description("The asserted value as text"), mcplib.Required()),
			mcplib.WithString("source_type",
				mcplib.Description("Producer of the fact, e.g. attio, gmail, manual, granola"),
				mcplib.Required(),
			),
			mcplib.WithString("source_id", mcplib.Description("Identifier of the source record")),
			mcplib.WithString("source_url", mcplib.Description("Public URL of the source record")),
			mcplib.WithNumber("confidence",
				mcplib.Description("How reliable the value is (0.0-1.0). Defaults to 1.0."),
				mcplib.Min(0),
				mcplib.Max(1),
			),
			mcplib.WithString("valid_from", mcplib.Description("RFC3339 time the value became true. Defaults to now.")),
			mcplib.WithString("created_by", mcplib.Description("Who is recording the fact")),
		),
		s.handleAddFact,
	)

	// factstore_get_facts: grouped read for one entity.
	s.mcpServer.AddTool(
		mcplib.NewTool("factstore_get_facts",
			mcplib.WithDescription(`Read the facts recorded for an entity, grouped by fact_type and key.

Only current values are returned unless include_historical is true.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("entity_type", mcplib.Enum(entityTypes...), mcplib.Required()),
			mcplib.WithString("entity_id", mcplib.Description("UUID of the entity"), mcplib.Required()),
			mcplib.WithString("fact_type", mcplib.Description("Optional fact type filter")),
			mcplib.WithString("key", mcplib.Description("Optional key filter")),
			mcplib.WithBoolean("include_historical", mcplib.Description("Include superseded values")),
		),
		s.handleGetFacts,
	)

	// factstore_history: every value a slot has held.
	s.mcpServer.AddTool(
		mcplib.NewTool("factstore_history",
			mcplib.WithDescription("Show every value ever recorded for one (entity, fact_type, key) slot, newest first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("entity_type", mcplib.Enum(entityTypes...), mcplib.Required()),
			mcplib.WithString("entity_id", mcplib.Description("UUID of the entity"), mcplib.Required()),
			mcplib.WithString("fact_type", mcplib.Required()),
			mcplib.WithString("key", mcplib.Required()),
		),
		s.handleHistory,
	)

	// factstore_entity_key: canonical key computation, no storage access.
	s.mcpServer.AddTool(
		mcplib.NewTool("factstore_entity_key",
			mcplib.WithDescription(`Compute the canonical key used to deduplicate a person or organization.

People are keyed by lowercased email, else by normalized name.
Organizations are keyed by domain (taken from website when given), else by
normalized name with legal suffixes removed.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("kind", mcplib.Enum("person", "organization"), mcplib.Required()),
			mcplib.WithString("email"),
			mcplib.WithString("first_name"),
			mcplib.WithString("last_name"),
			mcplib.WithString("name", mcplib.Description("Organization name")),
			mcplib.WithString("domain"),
			mcplib.WithString("website", mcplib.Description("Website URL or contact email")),
		),
		s.handleEntityKey,
	)
}

func (s *Server) handleAddFact(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := model.AddFactRequest{
		EntityType: request.GetString("entity_type", ""),
		EntityID:   request.GetString("entity_id", ""),
		FactType:   request.GetString("fact_type", ""),
		Key:        request.GetString("key", ""),
		Value:      request.GetString("value", ""),
		SourceType: request.GetString("source_type", ""),
		SourceID:   optionalString(request, "source_id"),
		SourceURL:  optionalString(request, "source_url"),
		CreatedBy:  optionalString(request, "created_by"),
	}
	if c, ok := request.GetArguments()["confidence"].(float64); ok {
		req.Confidence = &c
	}
	if v := request.GetString("valid_from", ""); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return errorResult("valid_from must be an RFC3339 timestamp"), nil
		}
		req.ValidFrom = &t
	}

	in, err := req.ToInput()
	if err != nil {
		return s.toolError(ctx, "add fact", err), nil
	}
	res, err := s.factSvc.AddFactWithConflictDetection(ctx, in)
	if err != nil {
		return s.toolError(ctx, "add fact", err), nil
	}

	out := map[string]any{
		"classification":         res.Classification,
		"resolution":             res.Resolution,
		"requires_manual_review": res.RequiresManualReview,
	}
	if res.FactID != nil {
		out["fact_id"] = res.FactID
	}
	if res.SupersededID != nil {
		out["superseded_id"] = res.SupersededID
	}
	if res.Conflict != nil {
		out["conflict"] = compactConflict(*res.Conflict)
		if !s.lookups.WasLookedUp(in.Slot()) {
			out["hint"] = "Call factstore_history for this slot to review the current value before resubmitting."
		}
	}
	return jsonResult(out)
}

func (s *Server) handleGetFacts(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	subject, err := model.ParseSubject(request.GetString("entity_type", ""), request.GetString("entity_id", ""))
	if err != nil {
		return s.toolError(ctx, "get facts", err), nil
	}
	grouped, err := s.factSvc.GetFacts(ctx, model.FactQuery{
		Subject:           subject,
		FactType:          request.GetString("fact_type", ""),
		Key:               request.GetString("key", ""),
		IncludeHistorical: request.GetBool("include_historical", false),
	})
	if err != nil {
		return s.toolError(ctx, "get facts", err), nil
	}
	for factType, byKey := range grouped {
		for key := range byKey {
			s.lookups.Record(model.Slot{Subject: subject, FactType: factType, Key: key})
		}
	}
	return jsonResult(map[string]any{
		"summary": summarizeFacts(grouped),
		"facts":   compactGrouped(grouped),
	})
}

func (s *Server) handleHistory(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	subject, err := model.ParseSubject(request.GetString("entity_type", ""), request.GetString("entity_id", ""))
	if err != nil {
		return s.toolError(ctx, "history", err), nil
	}
	slot := model.Slot{
		Subject:  subject,
		FactType: request.GetString("fact_type", ""),
		Key:      request.GetString("key", ""),
	}
	history, err := s.factSvc.History(ctx, slot)
	if err != nil {
		return s.toolError(ctx, "history", err), nil
	}
	s.lookups.Record(slot)

	items := make([]map[string]any, len(history))
	for i, f := range history {
		items[i] = compactFact(f)
	}
	return jsonResult(map[string]any{
		"summary": summarizeHistory(history),
		"facts":   items,
	})
}

func (s *Server) handleEntityKey(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	switch request.GetString("kind", "") {
	case "person":
		key := entitykey.PersonKey(entitykey.Person{
			Email:     request.GetString("email", ""),
			FirstName: request.GetString("first_name", ""),
			LastName:  request.GetString("last_name", ""),
		})
		return jsonResult(map[string]any{"canonical_key": key})
	case "organization":
		domain := strings.TrimSpace(request.GetString("domain", ""))
		if domain == "" {
			if d, ok := entitykey.ExtractDomain(request.GetString("website", "")); ok {
				domain = d
			}
		}
		out := map[string]any{
			"canonical_key": entitykey.OrgKey(entitykey.Organization{Domain: domain, Name: request.GetString("name", "")}),
		}
		if domain != "" {
			out["domain"] = strings.ToLower(domain)
		}
		return jsonResult(out)
	default:
		return errorResult("kind must be person or organization"), nil
	}
}

// toolError turns a service error into a tool-level error result. Validation
// messages are shown to the caller; anything else is logged and reported
// generically.
func (s *Server) toolError(ctx context.Context, op string, err error) *mcplib.CallToolResult {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return errorResult(verr.Error())
	}
	s.logger.Error("mcp: "+op+" failed", "request_id", ctxutil.RequestID(ctx), "error", err)
	return errorResult(fmt.Sprintf("failed to %s", op))
}

func optionalString(request mcplib.CallToolRequest, key string) *string {
	v := request.GetString(key, "")
	if v == "" {
		return nil
	}
	return &v
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
