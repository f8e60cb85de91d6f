package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// review-conflict: walks a reviewer through an escalated fact.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("review-conflict",
			mcplib.WithPromptDescription("Review a conflicting fact that was escalated for manual review"),
			mcplib.WithArgument("entity_type", mcplib.ArgumentDescription("Entity type of the conflicting slot"), mcplib.RequiredArgument()),
			mcplib.WithArgument("entity_id", mcplib.ArgumentDescription("Entity UUID of the conflicting slot"), mcplib.RequiredArgument()),
			mcplib.WithArgument("fact_type", mcplib.ArgumentDescription("Fact type of the conflicting slot"), mcplib.RequiredArgument()),
			mcplib.WithArgument("key", mcplib.ArgumentDescription("Key of the conflicting slot"), mcplib.RequiredArgument()),
		),
		s.handleReviewConflictPrompt,
	)

	// producer-setup: system prompt snippet for agents that write facts.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("producer-setup",
			mcplib.WithPromptDescription("How to write facts so they survive conflict detection"),
		),
		s.handleProducerSetupPrompt,
	)
}

func (s *Server) handleReviewConflictPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	args := request.Params.Arguments
	entityType, entityID, factType, key := args["entity_type"], args["entity_id"], args["fact_type"], args["key"]
	if entityType == "" || entityID == "" || factType == "" || key == "" {
		return nil, fmt.Errorf("entity_type, entity_id, fact_type and key arguments are required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Review the conflict on %s/%s", factType, key),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`A fact for %s %s (%s / %s) was escalated for manual review.

1. CALL factstore_history with entity_type="%s", entity_id="%s", fact_type="%s", key="%s".

2. COMPARE the current value with the rejected one:
   - Which source is authoritative for this attribute?
   - Which value is more recent in the real world?

3. DECIDE:
   - If the current value is right, do nothing. The rejected value was never stored.
   - If the rejected value is right, resubmit it with factstore_add_fact using
     source_type="manual" and a confidence above the current fact's confidence.`,
						entityType, entityID, factType, key, entityType, entityID, factType, key),
				},
			},
		},
	}, nil
}

func (s *Server) handleProducerSetupPrompt(_ context.Context, _ mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "Fact store workflow for producers",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `You can record facts about people, organizations, deals and conversations
with factstore_add_fact. Every fact names its source and a confidence.

## Rules

- One current value per (entity, fact_type, key). Earlier values stay in history.
- Submitting the current value again is a no-op (DUPLICATE).
- A new value from the same source_type replaces the old one.
- A new value from another source replaces it only with strictly higher confidence.
  Otherwise the result is CONFLICT with requires_manual_review=true; nothing is written.

## Good practice

- Use one stable source_type per producer (see the factstore://taxonomy resource).
- Read before you overwrite: factstore_get_facts or factstore_history.
- Be honest about confidence: 1.0 for a system of record, lower for
  values extracted from email or call transcripts.
- Use factstore_entity_key to check whether two references name the same entity.`,
				},
			},
		},
	}, nil
}
