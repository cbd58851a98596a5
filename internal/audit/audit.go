// Package audit records AI-companion safety events to the external
// system of record. The safety core only ever writes here; it never
// reads its own events back for decisions.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of safety event.
type EventType string

const (
	// EventSessionStarted is emitted when a companion session begins.
	EventSessionStarted EventType = "AI_SESSION_STARTED"
	// EventSessionEnded is emitted when a session is finalized, with summary counters.
	EventSessionEnded EventType = "AI_SESSION_ENDED"
	// EventMessageSent is emitted for every recorded message.
	EventMessageSent EventType = "AI_MESSAGE_SENT"
	// EventCrisisDetected is emitted when a message classifies above tier 0.
	EventCrisisDetected EventType = "AI_CRISIS_DETECTED"
	// EventBreakSuggested is emitted when a break reminder is surfaced.
	EventBreakSuggested EventType = "AI_BREAK_SUGGESTED"
)

// RequestMeta carries request attribution for an event.
type RequestMeta struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Event is an immutable safety audit record. Payload never contains
// raw message text; that boundary is enforced by the emitters.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"event_type"`
	UserID    string          `json:"user_id"`
	SubjectID string          `json:"subject_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Meta      *RequestMeta    `json:"request_meta,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Details contains event-specific payload fields.
type Details struct {
	// For message events
	Role           string `json:"role,omitempty"`
	MessageOrdinal int    `json:"message_ordinal,omitempty"`
	CrisisPresent  bool   `json:"crisis_present,omitempty"`

	// For crisis events
	Tier    int      `json:"tier,omitempty"`
	RuleIDs []string `json:"rule_ids,omitempty"`
	Action  string   `json:"action,omitempty"`

	// For break reminders
	ReminderStage int `json:"reminder_stage,omitempty"`

	// For session summaries
	MessageCount    int   `json:"message_count,omitempty"`
	DurationSeconds int64 `json:"duration_seconds,omitempty"`
	CrisisDetected  bool  `json:"crisis_detected,omitempty"`
	CrisisHandled   bool  `json:"crisis_handled,omitempty"`
}

// MarshalDetails encodes details for an event payload.
func MarshalDetails(d Details) json.RawMessage {
	data, _ := json.Marshal(d)
	return data
}

// Sink receives safety events. Implementations must tolerate
// at-least-once delivery; callers treat Record as fire-and-forget.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// NopSink discards events. Used when no audit store is configured.
type NopSink struct{}

func (NopSink) Record(context.Context, Event) error { return nil }

// Service persists safety events to PostgreSQL.
type Service struct {
	db *sql.DB
}

// NewService creates a new audit service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Record inserts one safety event.
func (s *Service) Record(ctx context.Context, event Event) error {
	if s == nil || s.db == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var ip, userAgent string
	if event.Meta != nil {
		ip = event.Meta.IPAddress
		userAgent = event.Meta.UserAgent
	}

	query := `
		INSERT INTO ai_safety_events (
			id, event_type, user_id, subject_id, session_id,
			payload, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Type,
		event.UserID,
		nullString(event.SubjectID),
		nullString(event.SessionID),
		event.Payload,
		nullString(ip),
		nullString(userAgent),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to record event: %w", err)
	}

	return nil
}

// Filter specifies criteria for querying safety events.
type Filter struct {
	UserID    string
	SessionID string
	Type      EventType
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// QueryEvents retrieves safety events with filters, newest first.
func (s *Service) QueryEvents(ctx context.Context, filter Filter) ([]Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}

	query := `
		SELECT id, event_type, user_id, subject_id, session_id,
			   payload, ip_address, user_agent, created_at
		FROM ai_safety_events
		WHERE user_id = $1
	`
	args := []interface{}{filter.UserID}
	argIdx := 2

	if filter.SessionID != "" {
		query += fmt.Sprintf(" AND session_id = $%d", argIdx)
		args = append(args, filter.SessionID)
		argIdx++
	}
	if filter.Type != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.Type)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var subjectID, sessionID, ip, userAgent sql.NullString
		err := rows.Scan(
			&e.ID, &e.Type, &e.UserID, &subjectID, &sessionID,
			&e.Payload, &ip, &userAgent, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.SubjectID = subjectID.String
		e.SessionID = sessionID.String
		if ip.Valid || userAgent.Valid {
			e.Meta = &RequestMeta{IPAddress: ip.String, UserAgent: userAgent.String}
		}
		events = append(events, e)
	}

	return events, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
