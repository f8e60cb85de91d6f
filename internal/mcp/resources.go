package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/factstore/internal/model"
)

const (
	taxonomyURI    = "factstore://taxonomy"
	factsURIPrefix = "factstore://facts/"
)

func (s *Server) registerResources() {
	// factstore://taxonomy: known source and fact types.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			taxonomyURI,
			"Taxonomy",
			mcplib.WithResourceDescription("Source types and fact types in use by producers"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleTaxonomy,
	)

	// factstore://facts/{entity_type}/{entity_id}: current facts for one entity.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			factsURIPrefix+"{entity_type}/{entity_id}",
			"Entity Facts",
			mcplib.WithTemplateDescription("Current facts for one entity, grouped by fact type and key"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleEntityFacts,
	)
}

func (s *Server) handleTaxonomy(_ context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(map[string]any{
		"source_types": s.taxonomy.SourceTypes,
		"fact_types":   s.taxonomy.FactTypes,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal taxonomy: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      taxonomyURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleEntityFacts(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	subject, err := parseFactsURI(uri)
	if err != nil {
		return nil, err
	}
	grouped, err := s.factSvc.GetFacts(ctx, model.FactQuery{Subject: subject})
	if err != nil {
		return nil, fmt.Errorf("mcp: entity facts: %w", err)
	}
	data, err := json.MarshalIndent(map[string]any{
		"subject": subject,
		"facts":   grouped,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal facts: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// parseFactsURI extracts the subject from factstore://facts/{entity_type}/{entity_id}.
func parseFactsURI(uri string) (model.Subject, error) {
	rest, ok := strings.CutPrefix(uri, factsURIPrefix)
	if !ok {
		return model.Subject{}, fmt.Errorf("mcp: invalid facts URI: %s", uri)
	}
	entityType, entityID, ok := strings.Cut(rest, "/")
	if !ok || strings.Contains(entityID, "/") {
		return model.Subject{}, fmt.Errorf("mcp: invalid facts URI: %s", uri)
	}
	subject, err := model.ParseSubject(entityType, entityID)
	if err != nil {
		return model.Subject{}, fmt.Errorf("mcp: invalid facts URI: %w", err)
	}
	return subject, nil
}
