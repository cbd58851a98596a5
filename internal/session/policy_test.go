package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/everkeep/companion-platform/internal/config"
	"github.com/everkeep/companion-platform/internal/safety"
)

func crisisMessage(tier safety.CrisisTier) Message {
	return Message{
		Role: RoleUser,
		Crisis: &safety.CrisisResult{
			Tier:           tier,
			MatchedRuleIDs: []string{"rule"},
		},
	}
}

func TestShouldShowBreakReminder_FreshSession(t *testing.T) {
	th := DefaultThresholds()
	s := &Session{StartedAt: time.Now()}

	assert.False(t, ShouldShowBreakReminder(s, th), "false immediately after start")
}

func TestShouldShowBreakReminder_MessageThreshold(t *testing.T) {
	th := DefaultThresholds()
	s := &Session{MessageCount: 14}

	assert.False(t, ShouldShowBreakReminder(s, th))

	// Crossing 15 messages triggers the first reminder.
	s.MessageCount = 15
	assert.True(t, ShouldShowBreakReminder(s, th))
	s.MessageCount = 16
	assert.True(t, ShouldShowBreakReminder(s, th))
}

func TestShouldShowBreakReminder_TimeThreshold(t *testing.T) {
	th := DefaultThresholds()

	s := &Session{DurationSeconds: int64((29 * time.Minute).Seconds())}
	assert.False(t, ShouldShowBreakReminder(s, th))

	s.DurationSeconds = int64((30 * time.Minute).Seconds())
	assert.True(t, ShouldShowBreakReminder(s, th))
}

func TestShouldShowBreakReminder_SecondSlot(t *testing.T) {
	th := DefaultThresholds()

	s := &Session{
		MessageCount:       16,
		BreakReminderShown: true,
	}
	// First slot fired; second thresholds not yet crossed.
	assert.False(t, ShouldShowBreakReminder(s, th))

	s.MessageCount = 30
	assert.True(t, ShouldShowBreakReminder(s, th))

	s.SecondBreakReminderShown = true
	assert.False(t, ShouldShowBreakReminder(s, th), "never true once both reminders shown")

	s.MessageCount = 500
	s.DurationSeconds = int64((8 * time.Hour).Seconds())
	assert.False(t, ShouldShowBreakReminder(s, th))
}

func TestShouldShowBreakReminder_NilSession(t *testing.T) {
	assert.False(t, ShouldShowBreakReminder(nil, DefaultThresholds()))
}

func TestShouldEscalateCrisis_RepeatCount(t *testing.T) {
	th := DefaultThresholds()
	s := &Session{}

	assert.False(t, ShouldEscalateCrisis(s, th), "no crisis detected yet")

	// Three separate tier-1/2 messages flip the predicate exactly at
	// the third occurrence.
	for i := 0; i < 2; i++ {
		s.Messages = append(s.Messages, crisisMessage(safety.TierImmediate))
		s.CrisisDetected = true
		assert.False(t, ShouldEscalateCrisis(s, th), "after %d crisis events", i+1)
	}
	s.Messages = append(s.Messages, crisisMessage(safety.TierHighConcern))
	assert.True(t, ShouldEscalateCrisis(s, th))
}

func TestShouldEscalateCrisis_TierThreeNeverEscalates(t *testing.T) {
	th := DefaultThresholds()
	s := &Session{CrisisDetected: true}

	for i := 0; i < 10; i++ {
		s.Messages = append(s.Messages, crisisMessage(safety.TierMonitor))
	}
	assert.False(t, ShouldEscalateCrisis(s, th), "tier 3 is log-only")
}

func TestShouldEscalateCrisis_MixedTiers(t *testing.T) {
	th := DefaultThresholds()
	s := &Session{
		CrisisDetected: true,
		Messages: []Message{
			crisisMessage(safety.TierMonitor),
			crisisMessage(safety.TierImmediate),
			crisisMessage(safety.TierMonitor),
			crisisMessage(safety.TierHighConcern),
			{Role: RoleUser},
			crisisMessage(safety.TierImmediate),
		},
	}
	// Exactly three tier-1/2 events among the noise.
	assert.True(t, ShouldEscalateCrisis(s, th))
}

func TestShouldEscalateCrisis_ReferentialTransparency(t *testing.T) {
	th := DefaultThresholds()
	s := &Session{
		CrisisDetected: true,
		Messages: []Message{
			crisisMessage(safety.TierImmediate),
			crisisMessage(safety.TierImmediate),
			crisisMessage(safety.TierImmediate),
		},
	}
	first := ShouldEscalateCrisis(s, th)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ShouldEscalateCrisis(s, th))
	}
}

func TestThresholdsFromConfig(t *testing.T) {
	cfg := &config.Config{
		FirstReminderAfter:     10 * time.Minute,
		FirstReminderMessages:  5,
		SecondReminderAfter:    20 * time.Minute,
		SecondReminderMessages: 10,
		CrisisEscalationCount:  2,
	}
	th := ThresholdsFromConfig(cfg)
	assert.Equal(t, 10*time.Minute, th.FirstReminderAfter)
	assert.Equal(t, 5, th.FirstReminderMessages)
	assert.Equal(t, 2, th.CrisisEscalationCount)

	assert.Equal(t, DefaultThresholds(), ThresholdsFromConfig(nil))
}
