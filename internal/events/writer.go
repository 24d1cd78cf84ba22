// Package events appends audit rows alongside mutations, inside the same
// transaction, so the log never disagrees with the record it describes.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event type names written by the store.
const (
	TypeProcessCreated   = "process.created"
	TypeStatusChanged    = "process.status_changed"
	TypeDocumentReceived = "process.document_received"
	TypeAnswersUpdated   = "process.answers_updated"
	TypeSubmitted        = "process.submitted"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, processID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,process_id,actor_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, nullable(processID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
