// Package models defines the core domain models for pipeline orchestration.
package models

import "time"

// EventKind classifies a normalized repository event.
type EventKind string

const (
	EventKindPush        EventKind = "push"
	EventKindPullRequest EventKind = "pull_request"
	EventKindTag         EventKind = "tag"
	EventKindRelease     EventKind = "release"
	EventKindDispatch    EventKind = "dispatch"
)

// Event is a normalized repository event delivered to the coordinator.
// It is immutable once received; the orchestrator never mutates it.
type Event struct {
	ID         string         `json:"id"`
	Kind       EventKind      `json:"kind"    validate:"required,oneof=push pull_request tag release dispatch"`
	Ref        string         `json:"ref"`
	Actor      string         `json:"actor"`
	Payload    map[string]any `json:"payload,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}
