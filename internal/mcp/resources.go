// ABOUTME: MCP resource implementations for the coach engine.
// ABOUTME: Provides coach://athletes, coach://recommendations, and coach://generation-log resources.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) registerResources() {
	// coach://athletes - Every athlete profile
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "coach://athletes",
		Name:        "Athletes",
		Description: "All athlete profiles with risk profile and heart-rate zones",
		MIMEType:    "application/json",
	}, s.handleAthletesResource)

	// coach://recommendations - Latest recommendations per athlete
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "coach://recommendations",
		Name:        "Recent Recommendations",
		Description: "Last 7 recommendations for each athlete",
		MIMEType:    "application/json",
	}, s.handleRecommendationsResource)

	// coach://generation-log - Recent generation attempts per athlete
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "coach://generation-log",
		Name:        "Generation Log",
		Description: "Last 20 generation attempts for each athlete with outcome and error",
		MIMEType:    "application/json",
	}, s.handleGenerationLogResource)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// Resource handlers

func (s *Server) handleAthletesResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	athletes, err := s.repo.ListAthletes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list athletes: %w", err)
	}
	return jsonResource("coach://athletes", athletes)
}

func (s *Server) handleRecommendationsResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	athletes, err := s.repo.ListAthletes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list athletes: %w", err)
	}

	result := make(map[string]any, len(athletes))
	for _, a := range athletes {
		recs, err := s.repo.ListRecommendations(ctx, a.UserID, 7)
		if err != nil {
			return nil, fmt.Errorf("failed to list recommendations: %w", err)
		}
		result[a.UserID] = recs
	}
	return jsonResource("coach://recommendations", result)
}

func (s *Server) handleGenerationLogResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	athletes, err := s.repo.ListAthletes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list athletes: %w", err)
	}

	result := make(map[string]any, len(athletes))
	for _, a := range athletes {
		entries, err := s.repo.ListGenerationLog(ctx, a.UserID, 20)
		if err != nil {
			return nil, fmt.Errorf("failed to list generation log: %w", err)
		}
		result[a.UserID] = entries
	}
	return jsonResource("coach://generation-log", result)
}
