package clients

import "context"

// Message is one chat-history entry sent to the Model Router.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ModelRequest is the Model Router's POST /chat request body.
type ModelRequest struct {
	Messages      []Message `json:"messages"`
	TaskType      string    `json:"task_type"`
	Model         string    `json:"model,omitempty"`
	CorrelationID string    `json:"correlation_id"`
}

// ModelResponse is the Model Router's POST /chat response body.
type ModelResponse struct {
	Response  string     `json:"response"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ModelRouter calls the Model Router backend.
type ModelRouter struct {
	*baseClient
}

// NewModelRouter constructs a ModelRouter client.
func NewModelRouter(cfg Config) *ModelRouter {
	return &ModelRouter{baseClient: newBaseClient("model_router", cfg)}
}

// Chat invokes the model-call stage.
func (c *ModelRouter) Chat(ctx context.Context, req ModelRequest) (ModelResponse, error) {
	var resp ModelResponse
	if err := c.doJSON(ctx, "/chat", req, &resp); err != nil {
		return ModelResponse{}, err
	}
	return resp, nil
}
