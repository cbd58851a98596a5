package session

import (
	"time"

	"github.com/everkeep/companion-platform/internal/config"
)

// Thresholds is the immutable, process-wide configuration consulted
// by the escalation policy. It is never stored per session.
type Thresholds struct {
	FirstReminderAfter     time.Duration
	FirstReminderMessages  int
	SecondReminderAfter    time.Duration
	SecondReminderMessages int
	CrisisEscalationCount  int
}

// DefaultThresholds returns the standing product defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FirstReminderAfter:     30 * time.Minute,
		FirstReminderMessages:  15,
		SecondReminderAfter:    60 * time.Minute,
		SecondReminderMessages: 30,
		CrisisEscalationCount:  3,
	}
}

// ThresholdsFromConfig lifts the env-driven values into Thresholds.
func ThresholdsFromConfig(cfg *config.Config) Thresholds {
	if cfg == nil {
		return DefaultThresholds()
	}
	return Thresholds{
		FirstReminderAfter:     cfg.FirstReminderAfter,
		FirstReminderMessages:  cfg.FirstReminderMessages,
		SecondReminderAfter:    cfg.SecondReminderAfter,
		SecondReminderMessages: cfg.SecondReminderMessages,
		CrisisEscalationCount:  cfg.CrisisEscalationCount,
	}
}

// ShouldShowBreakReminder reports whether a break nudge is due. The
// first reminder fires once elapsed time or message volume crosses
// the first thresholds; the second fires on the second thresholds
// after the first was shown. Never true once both are shown.
//
// Pure over the snapshot: elapsed time comes from DurationSeconds,
// which the tracker recomputes on every mutation.
func ShouldShowBreakReminder(s *Session, th Thresholds) bool {
	if s == nil {
		return false
	}

	elapsed := time.Duration(s.DurationSeconds) * time.Second

	if !s.BreakReminderShown {
		return elapsed >= th.FirstReminderAfter || s.MessageCount >= th.FirstReminderMessages
	}
	if !s.SecondBreakReminderShown {
		return elapsed >= th.SecondReminderAfter || s.MessageCount >= th.SecondReminderMessages
	}
	return false
}

// ShouldEscalateCrisis reports whether repeated crisis events warrant
// stronger intervention: crisis was detected and the count of tier-1/2
// messages has reached the configured repeat count. Sessions with only
// tier-3 matches never escalate here; tier 3 is log-only.
func ShouldEscalateCrisis(s *Session, th Thresholds) bool {
	if s == nil || !s.CrisisDetected {
		return false
	}
	if th.CrisisEscalationCount <= 0 {
		return false
	}
	return s.CrisisEventCount() >= th.CrisisEscalationCount
}
