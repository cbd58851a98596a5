package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/everkeep/companion-platform/internal/audit"
	"github.com/everkeep/companion-platform/internal/observability/metrics"
	"github.com/everkeep/companion-platform/internal/safety"
	"github.com/everkeep/companion-platform/pkg/logging"
)

var trackerTracer = otel.Tracer("companion/session-tracker")

// Tracker owns session lifecycle and state. All mutations go through
// it; callers only ever see snapshots. Operations against unknown
// session ids are no-ops rather than failures, so a stale reference
// in the chat UI can never crash the flow.
type Tracker struct {
	store   Store
	sink    audit.Sink
	logger  *logging.Logger
	metrics *metrics.SafetyMetrics
	now     func() time.Time
}

// NewTracker creates a session tracker. A nil sink disables audit
// emission; a nil logger falls back to the default.
func NewTracker(store Store, sink audit.Sink, logger *logging.Logger, m *metrics.SafetyMetrics) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Tracker{
		store:   store,
		sink:    sink,
		logger:  logger.Component("session-tracker"),
		metrics: m,
		now:     time.Now,
	}
}

// Stats aggregates a user's sessions. Average duration uses only
// ended sessions; message-count and crisis-rate denominators use all.
type Stats struct {
	TotalSessions          int     `json:"total_sessions"`
	AverageDurationSeconds float64 `json:"average_duration_seconds"`
	AverageMessageCount    float64 `json:"average_message_count"`
	CrisisRate             float64 `json:"crisis_rate"`
}

// StartSession creates a new session with zeroed counters.
func (t *Tracker) StartSession(ctx context.Context, userID, subjectID string, meta *audit.RequestMeta) (*Session, error) {
	ctx, span := trackerTracer.Start(ctx, "session.start")
	defer span.End()

	now := t.now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		SubjectID: subjectID,
		StartedAt: now,
		Messages:  []Message{},
	}

	if err := t.store.Put(ctx, sess); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to start session: %w", err)
	}

	span.SetAttributes(attribute.String("session.id", sess.ID))
	t.metrics.ObserveSessionStarted()
	t.logger.Info("session started", "session_id", sess.ID, "user_id", userID, "subject_id", subjectID)

	t.emit(ctx, audit.Event{
		Type:      audit.EventSessionStarted,
		UserID:    userID,
		SubjectID: subjectID,
		SessionID: sess.ID,
		Meta:      meta,
	})

	return sess.Clone(), nil
}

// AddMessage appends a message, updates counters, and records crisis
// bookkeeping when the classification is above tier 0. Returns nil
// for an unknown session id.
//
// Audit events carry role, ordinal, and a crisis-presence boolean
// only. Raw message content never leaves the session store.
func (t *Tracker) AddMessage(ctx context.Context, sessionID string, role Role, content string, crisis *safety.CrisisResult, meta *audit.RequestMeta) (*Message, error) {
	ctx, span := trackerTracer.Start(ctx, "session.add_message")
	defer span.End()

	if !role.Valid() {
		role = RoleUser
	}

	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: t.now().UTC(),
		Crisis:    crisis,
	}

	updated, err := t.store.Update(ctx, sessionID, func(s *Session) error {
		s.Messages = append(s.Messages, msg)
		s.MessageCount++
		s.recomputeDuration(msg.Timestamp)
		if crisis != nil && crisis.Tier > safety.TierNone {
			s.CrisisDetected = true
			s.unionCrisisRules(crisis.MatchedRuleIDs)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to add message: %w", err)
	}
	if updated == nil {
		t.logger.Warn("message for unknown session dropped", "session_id", sessionID)
		return nil, nil
	}

	crisisPresent := crisis != nil && crisis.Tier > safety.TierNone
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("session.message_count", updated.MessageCount),
		attribute.Bool("session.crisis", crisisPresent),
	)

	// The crisis event must be observable independently of the
	// generic message event, so it is emitted first.
	if crisisPresent {
		t.metrics.ObserveCrisis(int(crisis.Tier), string(crisis.Action))
		t.logger.Warn("crisis detected in session",
			"session_id", sessionID,
			"tier", int(crisis.Tier),
			"rule_ids", crisis.MatchedRuleIDs,
		)
		t.emit(ctx, audit.Event{
			Type:      audit.EventCrisisDetected,
			UserID:    updated.UserID,
			SubjectID: updated.SubjectID,
			SessionID: sessionID,
			Payload: audit.MarshalDetails(audit.Details{
				Tier:    int(crisis.Tier),
				RuleIDs: crisis.MatchedRuleIDs,
				Action:  string(crisis.Action),
			}),
			Meta: meta,
		})
	}

	t.emit(ctx, audit.Event{
		Type:      audit.EventMessageSent,
		UserID:    updated.UserID,
		SubjectID: updated.SubjectID,
		SessionID: sessionID,
		Payload: audit.MarshalDetails(audit.Details{
			Role:           string(role),
			MessageOrdinal: updated.MessageCount,
			CrisisPresent:  crisisPresent,
		}),
		Meta: meta,
	})

	return &msg, nil
}

// MarkBreakReminderShown records that a break reminder was surfaced.
// The first call sets the first flag; the second call sets the second
// flag. Both flags are one-way. No-op on unknown sessions.
func (t *Tracker) MarkBreakReminderShown(ctx context.Context, sessionID string) {
	var stage int
	updated, err := t.store.Update(ctx, sessionID, func(s *Session) error {
		switch {
		case !s.BreakReminderShown:
			s.BreakReminderShown = true
			stage = 1
		case !s.SecondBreakReminderShown:
			s.SecondBreakReminderShown = true
			stage = 2
		default:
			stage = 0
		}
		s.recomputeDuration(t.now().UTC())
		return nil
	})
	if err != nil {
		t.logger.Error("failed to mark break reminder", "session_id", sessionID, "error", err)
		return
	}
	if updated == nil || stage == 0 {
		return
	}

	t.metrics.ObserveBreakReminder()
	t.emit(ctx, audit.Event{
		Type:      audit.EventBreakSuggested,
		UserID:    updated.UserID,
		SubjectID: updated.SubjectID,
		SessionID: sessionID,
		Payload:   audit.MarshalDetails(audit.Details{ReminderStage: stage}),
	})
}

// MarkResourcesShown records that crisis resources were surfaced.
// One-way, no-op on unknown sessions, idempotent.
func (t *Tracker) MarkResourcesShown(ctx context.Context, sessionID string) {
	_, err := t.store.Update(ctx, sessionID, func(s *Session) error {
		s.ResourcesShown = true
		s.recomputeDuration(t.now().UTC())
		return nil
	})
	if err != nil {
		t.logger.Error("failed to mark resources shown", "session_id", sessionID, "error", err)
	}
}

// MarkCrisisHandled records explicit acknowledgment of a crisis.
// Never auto-cleared. No-op on unknown sessions.
func (t *Tracker) MarkCrisisHandled(ctx context.Context, sessionID string) {
	_, err := t.store.Update(ctx, sessionID, func(s *Session) error {
		s.CrisisHandled = true
		s.recomputeDuration(t.now().UTC())
		return nil
	})
	if err != nil {
		t.logger.Error("failed to mark crisis handled", "session_id", sessionID, "error", err)
	}
}

// EndSession finalizes a session, freezing its duration. Returns nil
// for an unknown id. Ending twice keeps the first end time.
func (t *Tracker) EndSession(ctx context.Context, sessionID string, meta *audit.RequestMeta) (*Session, error) {
	ctx, span := trackerTracer.Start(ctx, "session.end")
	defer span.End()

	now := t.now().UTC()
	updated, err := t.store.Update(ctx, sessionID, func(s *Session) error {
		if s.Ended() {
			return nil
		}
		s.recomputeDuration(now)
		s.EndedAt = &now
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to end session: %w", err)
	}
	if updated == nil {
		return nil, nil
	}

	t.metrics.ObserveSessionEnded()
	t.logger.Info("session ended",
		"session_id", sessionID,
		"message_count", updated.MessageCount,
		"duration_seconds", updated.DurationSeconds,
		"crisis_detected", updated.CrisisDetected,
	)

	t.emit(ctx, audit.Event{
		Type:      audit.EventSessionEnded,
		UserID:    updated.UserID,
		SubjectID: updated.SubjectID,
		SessionID: sessionID,
		Payload: audit.MarshalDetails(audit.Details{
			MessageCount:    updated.MessageCount,
			DurationSeconds: updated.DurationSeconds,
			CrisisDetected:  updated.CrisisDetected,
			CrisisHandled:   updated.CrisisHandled,
		}),
		Meta: meta,
	})

	return updated, nil
}

// GetSession returns a snapshot reflecting all prior mutations, or
// nil when the session does not exist.
func (t *Tracker) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := t.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: failed to get session: %w", err)
	}
	return sess, nil
}

// GetSessionStats aggregates all of a user's sessions, optionally
// filtered by subject. Unknown users get zero-value stats.
func (t *Tracker) GetSessionStats(ctx context.Context, userID, subjectID string) (*Stats, error) {
	sessions, err := t.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("session: failed to load sessions for stats: %w", err)
	}

	stats := &Stats{}
	var durationSum int64
	var endedCount, messageSum, crisisCount int

	for _, s := range sessions {
		if subjectID != "" && s.SubjectID != subjectID {
			continue
		}
		stats.TotalSessions++
		messageSum += s.MessageCount
		if s.CrisisDetected {
			crisisCount++
		}
		if s.Ended() {
			endedCount++
			durationSum += s.DurationSeconds
		}
	}

	if endedCount > 0 {
		stats.AverageDurationSeconds = float64(durationSum) / float64(endedCount)
	}
	if stats.TotalSessions > 0 {
		stats.AverageMessageCount = float64(messageSum) / float64(stats.TotalSessions)
		stats.CrisisRate = float64(crisisCount) / float64(stats.TotalSessions)
	}
	return stats, nil
}

// emit delivers an audit event, swallowing sink failures. The chat
// flow must never block on, or break because of, observability.
func (t *Tracker) emit(ctx context.Context, event audit.Event) {
	if err := t.sink.Record(ctx, event); err != nil {
		t.logger.Error("audit sink unreachable, event dropped",
			"event_type", string(event.Type),
			"session_id", event.SessionID,
			"error", err,
		)
	}
}
