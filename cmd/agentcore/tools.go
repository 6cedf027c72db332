package main

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// registerBuiltinTools wires the workspace's standalone tool implementations
// into the Tool Registry's name/schema/handler shape. LobsterTool predates
// the registry's Handler contract (it exposes Name/Description/Schema/
// Execute directly), so it is adapted here with a thin closure rather than
// rewritten — the subprocess/envelope logic it owns is unrelated to how the
// registry validates and times out a call.
func registerBuiltinTools(reg *tools.Registry, cfg *config.Config) error {
	lobster := tools.NewLobsterTool(tools.LobsterConfig{})
	return reg.Register(tools.Tool{
		Name:        lobster.Name(),
		Description: lobster.Description(),
		Schema:      lobster.Schema(),
		Handler: func(ctx context.Context, tc tools.Context, args json.RawMessage) (json.RawMessage, *models.ToolError) {
			result, err := lobster.Execute(ctx, tc.JobID, args)
			if err != nil {
				return nil, &models.ToolError{Kind: models.ErrExternal, Message: err.Error()}
			}
			return json.RawMessage(result), nil
		},
	})
}
