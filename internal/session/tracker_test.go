package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everkeep/companion-platform/internal/audit"
	"github.com/everkeep/companion-platform/internal/safety"
)

// recordingSink captures audit events in order.
type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
	fail   error
}

func (r *recordingSink) Record(_ context.Context, e audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newTestTracker(sink audit.Sink) *Tracker {
	return NewTracker(NewMemoryStore(), sink, nil, nil)
}

func tier1Result() *safety.CrisisResult {
	return &safety.CrisisResult{
		Tier:           safety.TierImmediate,
		MatchedRuleIDs: []string{"t1_want_to_die"},
		Action:         safety.ActionShowResources,
	}
}

func TestTracker_StartSession(t *testing.T) {
	sink := &recordingSink{}
	tr := newTestTracker(sink)

	sess, err := tr.StartSession(context.Background(), "u1", "memorial-7", nil)
	require.NoError(t, err)
	require.NotNil(t, sess)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "u1", sess.UserID)
	assert.Equal(t, "memorial-7", sess.SubjectID)
	assert.Zero(t, sess.MessageCount)
	assert.False(t, sess.CrisisDetected)
	assert.False(t, sess.BreakReminderShown)
	assert.Nil(t, sess.EndedAt)

	require.Len(t, sink.events, 1)
	assert.Equal(t, audit.EventSessionStarted, sink.events[0].Type)
}

func TestTracker_AddMessage(t *testing.T) {
	sink := &recordingSink{}
	tr := newTestTracker(sink)
	ctx := context.Background()

	sess, err := tr.StartSession(ctx, "u1", "memorial-7", nil)
	require.NoError(t, err)

	msg, err := tr.AddMessage(ctx, sess.ID, RoleUser, "hello", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, RoleUser, msg.Role)

	got, err := tr.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.MessageCount)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)
	assert.False(t, got.CrisisDetected)
}

func TestTracker_AddMessageUnknownSession(t *testing.T) {
	tr := newTestTracker(&recordingSink{})

	msg, err := tr.AddMessage(context.Background(), "missing", RoleUser, "hi", nil, nil)
	assert.NoError(t, err, "unknown sessions are not errors")
	assert.Nil(t, msg)
}

func TestTracker_AddMessageCrisisBookkeeping(t *testing.T) {
	sink := &recordingSink{}
	tr := newTestTracker(sink)
	ctx := context.Background()

	sess, _ := tr.StartSession(ctx, "u1", "m1", nil)
	sink.events = nil

	_, err := tr.AddMessage(ctx, sess.ID, RoleUser, "I want to die", tier1Result(), nil)
	require.NoError(t, err)

	got, _ := tr.GetSession(ctx, sess.ID)
	assert.True(t, got.CrisisDetected)
	assert.Equal(t, []string{"t1_want_to_die"}, got.CrisisRuleIDs)

	// Crisis event is emitted before, and independently of, the
	// generic message event.
	require.Equal(t, []audit.EventType{audit.EventCrisisDetected, audit.EventMessageSent}, sink.types())

	// Payloads never contain the raw message text.
	for _, e := range sink.events {
		assert.NotContains(t, string(e.Payload), "I want to die")
	}
}

func TestTracker_CrisisFlagIsSticky(t *testing.T) {
	tr := newTestTracker(&recordingSink{})
	ctx := context.Background()

	sess, _ := tr.StartSession(ctx, "u1", "m1", nil)
	_, err := tr.AddMessage(ctx, sess.ID, RoleUser, "bad day", tier1Result(), nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := tr.AddMessage(ctx, sess.ID, RoleUser, "feeling better now", nil, nil)
		require.NoError(t, err)
	}

	got, _ := tr.GetSession(ctx, sess.ID)
	assert.True(t, got.CrisisDetected, "crisis flag never resets")
	assert.Equal(t, []string{"t1_want_to_die"}, got.CrisisRuleIDs, "rule set never cleared")
}

func TestTracker_CrisisRuleUnionDeduplicates(t *testing.T) {
	tr := newTestTracker(&recordingSink{})
	ctx := context.Background()

	sess, _ := tr.StartSession(ctx, "u1", "m1", nil)
	_, _ = tr.AddMessage(ctx, sess.ID, RoleUser, "x", tier1Result(), nil)
	_, _ = tr.AddMessage(ctx, sess.ID, RoleUser, "y", tier1Result(), nil)
	_, _ = tr.AddMessage(ctx, sess.ID, RoleUser, "z", &safety.CrisisResult{
		Tier:           safety.TierHighConcern,
		MatchedRuleIDs: []string{"t2_hopeless"},
		Action:         safety.ActionOfferResources,
	}, nil)

	got, _ := tr.GetSession(ctx, sess.ID)
	assert.Equal(t, []string{"t1_want_to_die", "t2_hopeless"}, got.CrisisRuleIDs)
}

func TestTracker_MarkBreakReminderShownStages(t *testing.T) {
	sink := &recordingSink{}
	tr := newTestTracker(sink)
	ctx := context.Background()

	sess, _ := tr.StartSession(ctx, "u1", "m1", nil)
	sink.events = nil

	tr.MarkBreakReminderShown(ctx, sess.ID)
	got, _ := tr.GetSession(ctx, sess.ID)
	assert.True(t, got.BreakReminderShown)
	assert.False(t, got.SecondBreakReminderShown)

	tr.MarkBreakReminderShown(ctx, sess.ID)
	got, _ = tr.GetSession(ctx, sess.ID)
	assert.True(t, got.BreakReminderShown)
	assert.True(t, got.SecondBreakReminderShown)

	// Third call changes nothing and emits nothing.
	tr.MarkBreakReminderShown(ctx, sess.ID)
	got, _ = tr.GetSession(ctx, sess.ID)
	assert.True(t, got.SecondBreakReminderShown)

	require.Len(t, sink.events, 2)
	assert.Equal(t, audit.EventBreakSuggested, sink.events[0].Type)
	assert.Contains(t, string(sink.events[0].Payload), `"reminder_stage":1`)
	assert.Contains(t, string(sink.events[1].Payload), `"reminder_stage":2`)
}

func TestTracker_MarkBreakReminderUnknownSessionIsNoop(t *testing.T) {
	tr := newTestTracker(&recordingSink{})
	assert.NotPanics(t, func() {
		tr.MarkBreakReminderShown(context.Background(), "missing")
	})
}

func TestTracker_MarkResourcesShownIdempotent(t *testing.T) {
	tr := newTestTracker(&recordingSink{})
	ctx := context.Background()

	sess, _ := tr.StartSession(ctx, "u1", "m1", nil)

	tr.MarkResourcesShown(ctx, sess.ID)
	tr.MarkResourcesShown(ctx, sess.ID)

	got, _ := tr.GetSession(ctx, sess.ID)
	assert.True(t, got.ResourcesShown)
}

func TestTracker_MarkCrisisHandled(t *testing.T) {
	tr := newTestTracker(&recordingSink{})
	ctx := context.Background()

	sess, _ := tr.StartSession(ctx, "u1", "m1", nil)
	tr.MarkCrisisHandled(ctx, sess.ID)

	got, _ := tr.GetSession(ctx, sess.ID)
	assert.True(t, got.CrisisHandled)

	tr.MarkCrisisHandled(ctx, "missing") // no-op, no panic
}

func TestTracker_EndSessionFreezesDuration(t *testing.T) {
	sink := &recordingSink{}
	tr := newTestTracker(sink)
	ctx := context.Background()

	base := time.Date(2026, 5, 2, 20, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }

	sess, err := tr.StartSession(ctx, "u1", "m1", nil)
	require.NoError(t, err)

	tr.now = func() time.Time { return base.Add(12 * time.Minute) }
	_, err = tr.AddMessage(ctx, sess.ID, RoleUser, "hello", nil, nil)
	require.NoError(t, err)

	tr.now = func() time.Time { return base.Add(25 * time.Minute) }
	ended, err := tr.EndSession(ctx, sess.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, ended)
	require.NotNil(t, ended.EndedAt)
	assert.Equal(t, int64(25*60), ended.DurationSeconds)

	// Further wall-clock movement does not change the frozen value.
	tr.now = func() time.Time { return base.Add(3 * time.Hour) }
	got, _ := tr.GetSession(ctx, sess.ID)
	assert.Equal(t, int64(25*60), got.DurationSeconds)

	last := sink.events[len(sink.events)-1]
	assert.Equal(t, audit.EventSessionEnded, last.Type)
	assert.Contains(t, string(last.Payload), `"message_count":1`)
}

func TestTracker_EndSessionTwiceKeepsFirstEnd(t *testing.T) {
	tr := newTestTracker(&recordingSink{})
	ctx := context.Background()

	base := time.Date(2026, 5, 2, 20, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }
	sess, _ := tr.StartSession(ctx, "u1", "m1", nil)

	tr.now = func() time.Time { return base.Add(10 * time.Minute) }
	first, err := tr.EndSession(ctx, sess.ID, nil)
	require.NoError(t, err)

	tr.now = func() time.Time { return base.Add(50 * time.Minute) }
	second, err := tr.EndSession(ctx, sess.ID, nil)
	require.NoError(t, err)

	assert.True(t, first.EndedAt.Equal(*second.EndedAt))
	assert.Equal(t, first.DurationSeconds, second.DurationSeconds)
}

func TestTracker_EndSessionUnknown(t *testing.T) {
	tr := newTestTracker(&recordingSink{})
	sess, err := tr.EndSession(context.Background(), "missing", nil)
	assert.NoError(t, err)
	assert.Nil(t, sess)
}

func TestTracker_AuditFailureNeverPropagates(t *testing.T) {
	sink := &recordingSink{fail: errors.New("sink down")}
	tr := newTestTracker(sink)
	ctx := context.Background()

	sess, err := tr.StartSession(ctx, "u1", "m1", nil)
	require.NoError(t, err, "audit failure must not break session start")

	msg, err := tr.AddMessage(ctx, sess.ID, RoleUser, "I want to die", tier1Result(), nil)
	require.NoError(t, err, "audit failure must not break message flow")
	require.NotNil(t, msg)

	got, _ := tr.GetSession(ctx, sess.ID)
	assert.True(t, got.CrisisDetected, "state mutation survives sink failure")
}

func TestTracker_GetSessionStats(t *testing.T) {
	tr := newTestTracker(&recordingSink{})
	ctx := context.Background()

	base := time.Date(2026, 5, 2, 20, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }

	// Ended session with crisis: 10 minutes, 2 messages.
	s1, _ := tr.StartSession(ctx, "u1", "m1", nil)
	_, _ = tr.AddMessage(ctx, s1.ID, RoleUser, "x", tier1Result(), nil)
	_, _ = tr.AddMessage(ctx, s1.ID, RoleAssistant, "y", nil, nil)
	tr.now = func() time.Time { return base.Add(10 * time.Minute) }
	_, _ = tr.EndSession(ctx, s1.ID, nil)

	// Ended session, no crisis: 20 minutes, 0 messages.
	tr.now = func() time.Time { return base }
	s2, _ := tr.StartSession(ctx, "u1", "m2", nil)
	tr.now = func() time.Time { return base.Add(20 * time.Minute) }
	_, _ = tr.EndSession(ctx, s2.ID, nil)

	// Open session: 4 messages, excluded from duration average.
	s3, _ := tr.StartSession(ctx, "u1", "m1", nil)
	for i := 0; i < 4; i++ {
		_, _ = tr.AddMessage(ctx, s3.ID, RoleUser, "chat", nil, nil)
	}

	stats, err := tr.GetSessionStats(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalSessions)
	assert.InDelta(t, 900, stats.AverageDurationSeconds, 0.001, "(600+1200)/2 over ended sessions only")
	assert.InDelta(t, 2.0, stats.AverageMessageCount, 0.001, "(2+0+4)/3 over all sessions")
	assert.InDelta(t, 1.0/3.0, stats.CrisisRate, 0.001)

	// Subject filter.
	filtered, err := tr.GetSessionStats(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.Equal(t, 2, filtered.TotalSessions)
	assert.InDelta(t, 0.5, filtered.CrisisRate, 0.001)
}

func TestTracker_GetSessionStatsUnknownUser(t *testing.T) {
	tr := newTestTracker(&recordingSink{})

	stats, err := tr.GetSessionStats(context.Background(), "nobody", "")
	require.NoError(t, err)
	assert.Equal(t, &Stats{}, stats)
}

func TestTracker_MessagesAreAppendOnlyInOrder(t *testing.T) {
	tr := newTestTracker(&recordingSink{})
	ctx := context.Background()

	sess, _ := tr.StartSession(ctx, "u1", "m1", nil)
	contents := []string{"one", "two", "three", "four"}
	for _, c := range contents {
		_, err := tr.AddMessage(ctx, sess.ID, RoleUser, c, nil, nil)
		require.NoError(t, err)
	}

	got, _ := tr.GetSession(ctx, sess.ID)
	require.Len(t, got.Messages, len(contents))
	for i, c := range contents {
		assert.Equal(t, c, got.Messages[i].Content)
	}
}
