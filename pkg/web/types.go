package web

// IngestEventRequest is the body of POST /events.
type IngestEventRequest struct {
	Kind    string         `json:"kind"    validate:"required,oneof=push pull_request tag release dispatch"`
	Ref     string         `json:"ref"`
	Actor   string         `json:"actor"`
	Payload map[string]any `json:"payload,omitempty"`
}

// DispatchRequest is the body of POST /workflows/:name/dispatch.
type DispatchRequest struct {
	Ref     string         `json:"ref"`
	Actor   string         `json:"actor"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ApprovalRequest is the body of POST /runs/:id/jobs/:jobId/approve.
type ApprovalRequest struct {
	Approved bool   `json:"approved"`
	Approver string `json:"approver"`
}

// IngestEventResponse lists the runs an event started.
type IngestEventResponse struct {
	EventID string   `json:"event_id"`
	RunIDs  []string `json:"run_ids"`
}

// DispatchResponse names the run a manual dispatch started.
type DispatchResponse struct {
	RunID string `json:"run_id"`
}
