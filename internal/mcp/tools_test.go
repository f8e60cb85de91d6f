package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/factstore/internal/model"
	"github.com/ashita-ai/factstore/internal/service/facts"
	"github.com/ashita-ai/factstore/internal/storage/memstore"
	"github.com/ashita-ai/factstore/internal/testutil"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	svc := facts.New(memstore.New(), testutil.TestLogger(), facts.Options{})
	t.Cleanup(svc.WaitHooks)
	return New(svc, model.DefaultTaxonomy(), testutil.TestLogger(), "test")
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func decodeTool(t *testing.T, result *mcplib.CallToolResult) map[string]any {
	t.Helper()
	require.False(t, result.IsError, parseToolText(t, result))
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &out))
	return out
}

func mrrArgs(orgID uuid.UUID, value, source string, confidence float64) map[string]any {
	return map[string]any{
		"entity_type": "organization",
		"entity_id":   orgID.String(),
		"fact_type":   "metric",
		"key":         "mrr",
		"value":       value,
		"source_type": source,
		"confidence":  confidence,
	}
}

func TestHandleAddFact_Lifecycle(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	org := uuid.New()

	res, err := s.handleAddFact(ctx, toolRequest("factstore_add_fact", mrrArgs(org, "50000", "attio", 0.9)))
	require.NoError(t, err)
	out := decodeTool(t, res)
	assert.Equal(t, "NEW", out["classification"])
	assert.Equal(t, "new", out["resolution"])
	assert.NotEmpty(t, out["fact_id"])

	res, err = s.handleAddFact(ctx, toolRequest("factstore_add_fact", mrrArgs(org, "50000", "gmail", 0.5)))
	require.NoError(t, err)
	out = decodeTool(t, res)
	assert.Equal(t, "DUPLICATE", out["classification"])

	res, err = s.handleAddFact(ctx, toolRequest("factstore_add_fact", mrrArgs(org, "75000", "gmail", 0.6)))
	require.NoError(t, err)
	out = decodeTool(t, res)
	assert.Equal(t, "CONFLICT", out["classification"])
	assert.Equal(t, true, out["requires_manual_review"])
	conflict, ok := out["conflict"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "50000", conflict["existing_value"])
	assert.Equal(t, "75000", conflict["incoming_value"])
	assert.Contains(t, out["hint"], "factstore_history")

	_, err = s.handleHistory(ctx, toolRequest("factstore_history", map[string]any{
		"entity_type": "organization", "entity_id": org.String(), "fact_type": "metric", "key": "mrr",
	}))
	require.NoError(t, err)

	res, err = s.handleAddFact(ctx, toolRequest("factstore_add_fact", mrrArgs(org, "75000", "gmail", 0.6)))
	require.NoError(t, err)
	out = decodeTool(t, res)
	assert.Equal(t, "CONFLICT", out["classification"])
	_, hasHint := out["hint"]
	assert.False(t, hasHint, "no hint once the slot has been reviewed")

	res, err = s.handleAddFact(ctx, toolRequest("factstore_add_fact", mrrArgs(org, "75000", "attio", 0.95)))
	require.NoError(t, err)
	out = decodeTool(t, res)
	assert.Equal(t, "UPDATE", out["classification"])
	assert.Equal(t, "superseded-previous", out["resolution"])
	assert.NotEmpty(t, out["superseded_id"])
}

func TestHandleAddFact_DefaultConfidence(t *testing.T) {
	s := newTestServer(t)
	org := uuid.New()
	args := mrrArgs(org, "1", "attio", 0)
	delete(args, "confidence")

	res, err := s.handleAddFact(context.Background(), toolRequest("factstore_add_fact", args))
	require.NoError(t, err)
	decodeTool(t, res)

	g, err := s.factSvc.GetFacts(context.Background(), model.FactQuery{Subject: model.OrganizationSubject(org)})
	require.NoError(t, err)
	require.Len(t, g["metric"]["mrr"], 1)
	assert.Equal(t, model.DefaultConfidence, g["metric"]["mrr"][0].Confidence)
}

func TestHandleAddFact_Invalid(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	args := mrrArgs(uuid.New(), "1", "attio", 0.5)
	args["entity_type"] = "fund"
	res, err := s.handleAddFact(ctx, toolRequest("factstore_add_fact", args))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, parseToolText(t, res), "entity_type")

	args = mrrArgs(uuid.New(), "", "attio", 0.5)
	res, err = s.handleAddFact(ctx, toolRequest("factstore_add_fact", args))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, parseToolText(t, res), "value")

	args = mrrArgs(uuid.New(), "1", "attio", 0.5)
	args["valid_from"] = "yesterday"
	res, err = s.handleAddFact(ctx, toolRequest("factstore_add_fact", args))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, parseToolText(t, res), "RFC3339")
}

func TestHandleGetFacts(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	org := uuid.New()

	for _, args := range []map[string]any{
		mrrArgs(org, "50000", "attio", 0.9),
		mrrArgs(org, "60000", "attio", 0.9),
	} {
		_, err := s.handleAddFact(ctx, toolRequest("factstore_add_fact", args))
		require.NoError(t, err)
	}

	res, err := s.handleGetFacts(ctx, toolRequest("factstore_get_facts", map[string]any{
		"entity_type": "organization", "entity_id": org.String(),
	}))
	require.NoError(t, err)
	out := decodeTool(t, res)
	assert.Equal(t, "1 fact(s) across 1 type(s): metric.", out["summary"])

	res, err = s.handleGetFacts(ctx, toolRequest("factstore_get_facts", map[string]any{
		"entity_type": "organization", "entity_id": org.String(), "include_historical": true,
	}))
	require.NoError(t, err)
	out = decodeTool(t, res)
	assert.Equal(t, "2 fact(s) across 1 type(s): metric.", out["summary"])

	slot := model.Slot{Subject: model.OrganizationSubject(org), FactType: "metric", Key: "mrr"}
	assert.True(t, s.lookups.WasLookedUp(slot))

	res, err = s.handleGetFacts(ctx, toolRequest("factstore_get_facts", map[string]any{
		"entity_type": "organization", "entity_id": "not-a-uuid",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleHistory(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	org := uuid.New()
	for _, v := range []string{"1", "2", "3"} {
		_, err := s.handleAddFact(ctx, toolRequest("factstore_add_fact", mrrArgs(org, v, "attio", 0.9)))
		require.NoError(t, err)
	}

	res, err := s.handleHistory(ctx, toolRequest("factstore_history", map[string]any{
		"entity_type": "organization", "entity_id": org.String(), "fact_type": "metric", "key": "mrr",
	}))
	require.NoError(t, err)
	out := decodeTool(t, res)
	items, ok := out["facts"].([]any)
	require.True(t, ok)
	require.Len(t, items, 3)
	assert.Equal(t, "3", items[0].(map[string]any)["value"])
	assert.Equal(t, true, items[0].(map[string]any)["current"])
	assert.Equal(t, false, items[2].(map[string]any)["current"])

	res, err = s.handleHistory(ctx, toolRequest("factstore_history", map[string]any{
		"entity_type": "organization", "entity_id": org.String(), "fact_type": "metric",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, parseToolText(t, res), "key")
}

func TestHandleEntityKey(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		args       map[string]any
		wantKey    string
		wantDomain string
	}{
		{"person by email", map[string]any{"kind": "person", "email": "Sarah@Acme.io", "first_name": "Sarah"}, "sarah@acme.io", ""},
		{"person by name", map[string]any{"kind": "person", "first_name": "Sarah", "last_name": "Chen"}, "name:sarah_chen", ""},
		{"org by website", map[string]any{"kind": "organization", "name": "Nubank", "website": "https://www.nubank.com.br/about"}, "nubank.com.br", "nubank.com.br"},
		{"org by name", map[string]any{"kind": "organization", "name": "Acme Corp, Inc."}, "name:acme", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.handleEntityKey(ctx, toolRequest("factstore_entity_key", tt.args))
			require.NoError(t, err)
			out := decodeTool(t, res)
			assert.Equal(t, tt.wantKey, out["canonical_key"])
			if tt.wantDomain != "" {
				assert.Equal(t, tt.wantDomain, out["domain"])
			}
		})
	}

	res, err := s.handleEntityKey(ctx, toolRequest("factstore_entity_key", map[string]any{"kind": "fund"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestParseFactsURI(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name      string
		uri       string
		want      model.Subject
		errSubstr string
	}{
		{name: "organization", uri: "factstore://facts/organization/" + id.String(), want: model.OrganizationSubject(id)},
		{name: "person uppercase type", uri: "factstore://facts/PERSON/" + id.String(), want: model.PersonSubject(id)},
		{name: "wrong prefix", uri: "other://facts/person/" + id.String(), errSubstr: "invalid facts URI"},
		{name: "missing id", uri: "factstore://facts/person", errSubstr: "invalid facts URI"},
		{name: "extra segment", uri: "factstore://facts/person/" + id.String() + "/x", errSubstr: "invalid facts URI"},
		{name: "unknown type", uri: "factstore://facts/fund/" + id.String(), errSubstr: "entity_type"},
		{name: "bad uuid", uri: "factstore://facts/deal/123", errSubstr: "entity_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFactsURI(tt.uri)
			if tt.errSubstr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSubstr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResources(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	contents, err := s.handleTaxonomy(ctx, mcplib.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text := contents[0].(mcplib.TextResourceContents).Text
	assert.Contains(t, text, `"attio"`)
	assert.Contains(t, text, `"NOTE"`)

	org := uuid.New()
	_, err = s.handleAddFact(ctx, toolRequest("factstore_add_fact", mrrArgs(org, "50000", "attio", 0.9)))
	require.NoError(t, err)

	var req mcplib.ReadResourceRequest
	req.Params.URI = "factstore://facts/organization/" + org.String()
	contents, err = s.handleEntityFacts(ctx, req)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Contains(t, contents[0].(mcplib.TextResourceContents).Text, `"50000"`)
}

func TestPrompts(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	var req mcplib.GetPromptRequest
	req.Params.Arguments = map[string]string{"entity_type": "organization", "entity_id": "x"}
	_, err := s.handleReviewConflictPrompt(ctx, req)
	require.Error(t, err)

	req.Params.Arguments = map[string]string{
		"entity_type": "organization", "entity_id": "abc", "fact_type": "metric", "key": "mrr",
	}
	res, err := s.handleReviewConflictPrompt(ctx, req)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Contains(t, res.Messages[0].Content.(mcplib.TextContent).Text, `key="mrr"`)

	res, err = s.handleProducerSetupPrompt(ctx, mcplib.GetPromptRequest{})
	require.NoError(t, err)
	assert.Contains(t, res.Messages[0].Content.(mcplib.TextContent).Text, "factstore_add_fact")
}
