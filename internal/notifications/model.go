// Package notifications provides the refresh work-queue event model.
//
// A Notification is one unit of version-refresh work: the orchestrator pushes
// it onto the queue when it decides a version needs doing, a queue manager
// claims it, performs the refresh, and writes the terminal outcome back. The
// queue decouples "what needs doing" from "who does it" and retains processed
// notifications as history for audit.
//
// This package defines the domain model and the Queue interface; the
// PostgreSQL implementation lives in internal/storage.
package notifications

import (
	"time"
)

// Notification is one scheduled unit of version-refresh work.
//
// Lifecycle: created by the orchestrator when work is scheduled, sits in the
// pending queue, picked up by exactly one consumer, mutated to a terminal
// (success/failure) state and retained as history. A notification is never
// mutated after reaching terminal state.
type Notification struct {
	// EventID is the opaque identifier minted when the notification is pushed.
	EventID string `json:"eventId"`

	// ParentEventID links a batch-triggering request to the per-version
	// events it spawned ("what triggered this refresh").
	ParentEventID string `json:"parentEventId"`

	ProjectID  string `json:"projectId"`
	GroupID    string `json:"groupId"`
	ArtifactID string `json:"artifactId"`
	VersionID  string `json:"versionId"`

	// FullUpdate forces re-ingestion even when the version already exists.
	FullUpdate bool `json:"fullUpdate"`

	// Transitive requests recomputation of dependency reports for the whole
	// resolved closure, not just the target version.
	Transitive bool `json:"transitive"`

	CreatedAt   time.Time  `json:"createdAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`

	// Completed marks the terminal state; Success distinguishes outcome.
	Completed bool `json:"completed"`
	Success   bool `json:"success"`

	Messages []string `json:"messages,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// New creates a pending notification for one project version.
func New(projectID, groupID, artifactID, versionID string, fullUpdate, transitive bool, parentEventID string) *Notification {
	return &Notification{
		ParentEventID: parentEventID,
		ProjectID:     projectID,
		GroupID:       groupID,
		ArtifactID:    artifactID,
		VersionID:     versionID,
		FullUpdate:    fullUpdate,
		Transitive:    transitive,
	}
}

// AddMessage appends a progress message to the notification log.
func (n *Notification) AddMessage(message string) {
	n.Messages = append(n.Messages, message)
}

// AddError appends an error message to the notification log.
func (n *Notification) AddError(message string) {
	n.Errors = append(n.Errors, message)
}

// Complete moves the notification to its terminal state. The terminal state is
// written exactly once by the consumer that claimed the event.
func (n *Notification) Complete(now time.Time) {
	n.Completed = true
	n.Success = len(n.Errors) == 0
	n.ProcessedAt = &now
}
