package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types emitted by the engine.
const (
	TypeDirectiveIssued    = "directive.issued"
	TypeDirectiveStarted   = "directive.execution.started"
	TypeDirectiveCompleted = "directive.completed"
	TypeDirectiveFailed    = "directive.failed"
	TypeDirectiveCancelled = "directive.cancelled"
	TypeCriticalPattern    = "pattern.critical"
	TypeMilestone          = "milestone.achieved"
	TypeUserStalled        = "user.stalled"
	TypeRunCompleted       = "run.completed"
)

// Writer appends events to the durable log inside the caller's transaction.
// Publication to external consumers happens after commit, see Publisher.
type Writer struct {
	DB        *sql.DB
	Publisher Publisher
	Now       func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, userID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,user_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(userID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

// Publish fans an already-committed event out to the external bus, if one
// is configured. Fire and forget: delivery failures are the caller's to log.
func (w Writer) Publish(evtType, userID string, payload EventPayload) error {
	if w.Publisher == nil {
		return nil
	}
	if payload == nil {
		payload = EventPayload{}
	}
	payload["user_id"] = userID
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	return w.Publisher.Publish(evtType, data)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
