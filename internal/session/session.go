// Package session tracks AI-companion conversation sessions: message
// accumulation, crisis bookkeeping, reminder flags, and the
// escalation policy evaluated over session snapshots.
package session

import (
	"time"

	"github.com/everkeep/companion-platform/internal/safety"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one the tracker accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one entry in a session's append-only transcript.
type Message struct {
	ID        string               `json:"id"`
	Role      Role                 `json:"role"`
	Content   string               `json:"content"`
	Timestamp time.Time            `json:"timestamp"`
	Crisis    *safety.CrisisResult `json:"crisis,omitempty"`
}

// Session is one continuous companion conversation. It is owned
// exclusively by the Tracker; callers only ever see snapshots.
type Session struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	SubjectID string `json:"subject_id"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	// DurationSeconds is recomputed on every mutation and frozen by
	// EndSession; it is never derived from the wall clock at read time.
	DurationSeconds int64 `json:"duration_seconds"`

	MessageCount int `json:"message_count"`

	// CrisisDetected is sticky: once any message classifies above
	// tier 0 it stays true for the session's lifetime.
	CrisisDetected bool     `json:"crisis_detected"`
	CrisisRuleIDs  []string `json:"crisis_rule_ids,omitempty"`
	CrisisHandled  bool     `json:"crisis_handled"`

	// One-way flags, false to true only.
	BreakReminderShown       bool `json:"break_reminder_shown"`
	SecondBreakReminderShown bool `json:"second_break_reminder_shown"`
	ResourcesShown           bool `json:"resources_shown"`

	Messages []Message `json:"messages"`
}

// Ended reports whether the session has been finalized.
func (s *Session) Ended() bool {
	return s != nil && s.EndedAt != nil
}

// CrisisEventCount counts messages classified at tier 1 or 2.
// Tier-3 messages are monitoring-only and never escalate.
func (s *Session) CrisisEventCount() int {
	if s == nil {
		return 0
	}
	count := 0
	for _, m := range s.Messages {
		if m.Crisis != nil && m.Crisis.IsCrisis() {
			count++
		}
	}
	return count
}

// Clone returns a deep copy safe to hand to callers as a snapshot.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.EndedAt != nil {
		ended := *s.EndedAt
		out.EndedAt = &ended
	}
	if s.CrisisRuleIDs != nil {
		out.CrisisRuleIDs = append([]string(nil), s.CrisisRuleIDs...)
	}
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			out.Messages[i] = m
			if m.Crisis != nil {
				crisis := *m.Crisis
				if m.Crisis.MatchedRuleIDs != nil {
					crisis.MatchedRuleIDs = append([]string(nil), m.Crisis.MatchedRuleIDs...)
				}
				out.Messages[i].Crisis = &crisis
			}
		}
	}
	return &out
}

// recomputeDuration refreshes DurationSeconds against now, clamping
// at zero. Ended sessions keep their frozen duration.
func (s *Session) recomputeDuration(now time.Time) {
	if s.Ended() {
		return
	}
	d := int64(now.Sub(s.StartedAt) / time.Second)
	if d < 0 {
		d = 0
	}
	s.DurationSeconds = d
}

// unionCrisisRules merges rule ids into CrisisRuleIDs, preserving
// first-seen order and deduplicating. The set is never cleared.
func (s *Session) unionCrisisRules(ruleIDs []string) {
	for _, id := range ruleIDs {
		exists := false
		for _, have := range s.CrisisRuleIDs {
			if have == id {
				exists = true
				break
			}
		}
		if !exists {
			s.CrisisRuleIDs = append(s.CrisisRuleIDs, id)
		}
	}
}
