package clients

import "context"

// PerceptionFrame is one vision frame submitted for analysis, base64-encoded
// per the spec's vision-typed contract.
type PerceptionFrame struct {
	Encoding string `json:"encoding"`
	Data     string `json:"data"`
}

// PerceptionRequest is the Perception Service's request body.
type PerceptionRequest struct {
	Frames        []PerceptionFrame `json:"frames"`
	TaskType      string            `json:"task_type"`
	CorrelationID string            `json:"correlation_id"`
}

// PerceptionResponse is the Perception Service's response body.
type PerceptionResponse struct {
	Response   string `json:"response"`
	Detections []any  `json:"detections,omitempty"`
}

// Perception calls the Perception Service backend.
type Perception struct {
	*baseClient
}

// NewPerception constructs a Perception client.
func NewPerception(cfg Config) *Perception {
	return &Perception{baseClient: newBaseClient("perception", cfg)}
}

// Analyze performs the vision-analysis sub-stage.
func (c *Perception) Analyze(ctx context.Context, req PerceptionRequest) (PerceptionResponse, error) {
	var resp PerceptionResponse
	if err := c.doJSON(ctx, "/analyze", req, &resp); err != nil {
		return PerceptionResponse{}, err
	}
	return resp, nil
}
