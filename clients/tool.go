package clients

import "context"

// ToolExecuteRequest is the Tool Executor's POST /execute request body.
type ToolExecuteRequest struct {
	ToolName      string         `json:"tool_name"`
	Args          map[string]any `json:"args"`
	TimeoutMs     int            `json:"timeout_ms"`
	CorrelationID string         `json:"correlation_id"`
}

// ToolExecuteResponse is the Tool Executor's POST /execute response body.
type ToolExecuteResponse struct {
	Status      string   `json:"status"`
	Result      any      `json:"result,omitempty"`
	SideEffects []string `json:"side_effects,omitempty"`
	Error       *string  `json:"error,omitempty"`
}

// ToolExecutor calls the Tool Executor backend.
type ToolExecutor struct {
	*baseClient
}

// NewToolExecutor constructs a ToolExecutor client.
func NewToolExecutor(cfg Config) *ToolExecutor {
	return &ToolExecutor{baseClient: newBaseClient("tool_executor", cfg)}
}

// Execute performs the tool-call stage for a single tool invocation.
func (c *ToolExecutor) Execute(ctx context.Context, req ToolExecuteRequest) (ToolExecuteResponse, error) {
	var resp ToolExecuteResponse
	if err := c.doJSON(ctx, "/execute", req, &resp); err != nil {
		return ToolExecuteResponse{}, err
	}
	return resp, nil
}
