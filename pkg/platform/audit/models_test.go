package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "privacy/pkg/domain"
)

type recordingStore struct {
	events []Event
	err    error
}

func (r *recordingStore) Append(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestAuditEventCategory(t *testing.T) {
	t.Run("compliance events", func(t *testing.T) {
		assert.Equal(t, CategoryCompliance, EventDataSubjectDeleted.Category())
		assert.Equal(t, CategoryCompliance, EventRetentionEnforced.Category())
		assert.Equal(t, CategoryCompliance, EventDataAnonymized.Category())
	})
	t.Run("security events", func(t *testing.T) {
		assert.Equal(t, CategorySecurity, EventBreachNotificationRequired.Category())
		assert.Equal(t, CategorySecurity, EventBreachNotificationConfirmed.Category())
	})
	t.Run("unknown defaults to operations", func(t *testing.T) {
		assert.Equal(t, CategoryOperations, AuditEvent("something-else").Category())
	})
}

func TestEventDedupeKey(t *testing.T) {
	ts := time.Unix(0, 1234)
	e := Event{EntityID: "abc", Timestamp: ts}
	assert.Equal(t, "abc@1234", e.DedupeKey())
}

func TestFanout(t *testing.T) {
	t.Run("forwards to every store", func(t *testing.T) {
		a, b := &recordingStore{}, &recordingStore{}
		err := Fanout{a, b}.Append(context.Background(), Event{Action: string(EventPIACreated)})
		require.NoError(t, err)
		assert.Len(t, a.events, 1)
		assert.Len(t, b.events, 1)
	})
	t.Run("keeps going after a failure", func(t *testing.T) {
		a := &recordingStore{err: errors.New("boom")}
		b := &recordingStore{}
		err := Fanout{a, b}.Append(context.Background(), Event{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
		assert.Len(t, b.events, 1)
	})
}

func TestWireRoundTripKeepsSubjectAndAttributes(t *testing.T) {
	in := Event{
		ID:         uuid.New(),
		Category:   CategoryCompliance,
		Timestamp:  time.Date(2025, 3, 1, 10, 0, 0, 42, time.UTC),
		SubjectID:  id.SubjectID(uuid.New()),
		EntityID:   "policy-1",
		Action:     string(EventRetentionEnforced),
		Attributes: map[string]string{"method": "hard_delete"},
	}

	data, err := Marshal(in)
	require.NoError(t, err)
	out, err := Unmarshal(data)
	require.NoError(t, err)
	assert.True(t, in.Timestamp.Equal(out.Timestamp))
	out.Timestamp = in.Timestamp
	assert.Equal(t, in, out)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte(`{"id":"nope"}`))
	require.Error(t, err)
}
