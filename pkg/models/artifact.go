package models

import "time"

// Artifact is a named byte payload produced by one job and consumed by
// dependent jobs within the same run. Its lifetime is bounded to the
// owning run.
type Artifact struct {
	RunID      string    `json:"run_id"`
	Name       string    `json:"name"`
	ProducedBy string    `json:"produced_by"`
	Payload    []byte    `json:"payload"`
	CreatedAt  time.Time `json:"created_at"`
}
