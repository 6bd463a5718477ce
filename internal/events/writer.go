package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types the engine appends. Webhook filters and the events API match
// on these names, so they are part of the external surface.
const (
	ProjectCreated    = "project.created"
	ProjectMoved      = "project.moved"
	StatusUpdated     = "project.status_updated"
	ProjectReassigned = "project.reassigned"

	ApprovalRequested = "approval.requested"
	ApprovalDecided   = "approval.decided"
	ReviewRequested   = "review.requested"
	ReviewDecided     = "review.decided"

	CorrectionCreated = "correction.created"
	CorrectionUpdated = "correction.updated"

	QARoundStarted   = "qa.round_started"
	QARoundCompleted = "qa.round_completed"
	BugCreated       = "qa.bug_created"
)

// Writer appends audit events inside the caller's transaction so an event
// row exists iff the mutation it describes committed.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Payload is the free-form JSON body stored alongside an event.
type Payload map[string]any

// Append writes one event row on tx. The entity kind/id name the record the
// event is about; projectID and entityID may be empty and are stored as
// NULL so cross-project events stay queryable.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload Payload) error {
	if evtType == "" {
		return fmt.Errorf("event type is required")
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, orNull(projectID), entityKind, orNull(entityID), actorID, string(data))
	return err
}

func orNull(v string) any {
	if v == "" {
		return nil
	}
	return v
}
