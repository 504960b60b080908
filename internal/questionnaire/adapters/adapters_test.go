package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signals/internal/questionnaire/models"
	"signals/pkg/platform/circuit"
	"signals/pkg/platform/sentinel"
)

type fakeProducer struct {
	err     error
	calls   int
	topic   string
	key     []byte
	payload []byte
}

func (p *fakeProducer) Publish(_ context.Context, topic string, key, value []byte) error {
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.topic, p.key, p.payload = topic, key, value
	return nil
}

func testNotification() models.Notification {
	incident := models.IncidentID(7)
	return models.Notification{
		ID:         uuid.New(),
		Kind:       models.NotificationFeedbackReceived,
		Flow:       models.FlowFeedbackRequest,
		Session:    models.NewSessionID(),
		Incident:   &incident,
		Attributes: map[string]string{"is_satisfied": "true"},
		OccurredAt: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestKafkaNotifierPublishesKeyedBySession(t *testing.T) {
	producer := &fakeProducer{}
	n := NewKafkaNotifier(producer, "signals.notifications")
	notification := testNotification()

	require.NoError(t, n.Notify(context.Background(), notification))

	assert.Equal(t, "signals.notifications", producer.topic)
	assert.Equal(t, notification.Session.String(), string(producer.key))
	var decoded models.Notification
	require.NoError(t, json.Unmarshal(producer.payload, &decoded))
	assert.Equal(t, notification.ID, decoded.ID)
	assert.Equal(t, notification.Session, decoded.Session)
	assert.Equal(t, "true", decoded.Attributes["is_satisfied"])
}

func TestKafkaNotifierOpensCircuit(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	breaker := circuit.New("notifications",
		circuit.WithFailureThreshold(2),
		circuit.WithCooldown(time.Minute),
		circuit.WithClock(func() time.Time { return now }),
	)
	producer := &fakeProducer{err: errors.New("broker down")}
	n := NewKafkaNotifier(producer, "t", WithBreaker(breaker))
	ctx := context.Background()

	require.Error(t, n.Notify(ctx, testNotification()))
	require.Error(t, n.Notify(ctx, testNotification()))
	assert.True(t, breaker.IsOpen())

	err := n.Notify(ctx, testNotification())
	require.ErrorIs(t, err, sentinel.ErrUnavailable)
	assert.Equal(t, 2, producer.calls)

	now = now.Add(time.Minute)
	producer.err = nil
	require.NoError(t, n.Notify(ctx, testNotification()))
	assert.False(t, breaker.IsOpen())
	assert.Equal(t, 3, producer.calls)
}

func TestIncidentLedger(t *testing.T) {
	ledger := NewIncidentLedger(nil)
	ctx := context.Background()
	incident := models.IncidentID(3)

	require.NoError(t, ledger.SetExtraProperties(ctx, incident, map[string]models.Payload{"a": models.PayloadOf(1)}))
	require.NoError(t, ledger.SetExtraProperties(ctx, incident, map[string]models.Payload{"a": models.PayloadOf(2), "b": models.PayloadOf("x")}))
	require.NoError(t, ledger.AddNote(ctx, incident, "No reaction received."))
	require.NoError(t, ledger.TransitionStatus(ctx, incident, models.IncidentStatusInProgress, "reply"))

	props := ledger.Properties(incident)
	assert.True(t, props["a"].Equal(models.PayloadOf(2)))
	assert.True(t, props["b"].Equal(models.PayloadOf("x")))

	history := ledger.History(incident)
	require.Len(t, history, 4)
	assert.Equal(t, "No reaction received.", history[2].Note)
	assert.Equal(t, models.IncidentStatusInProgress, history[3].Status)
	assert.Empty(t, ledger.History(99))
}

func TestFeedbackArchiveIgnoresDuplicateIDs(t *testing.T) {
	archive := NewFeedbackArchive()
	ctx := context.Background()
	f := &models.Feedback{ID: uuid.New(), Session: models.NewSessionID(), IsSatisfied: true, Text: "first"}

	require.NoError(t, archive.CreateFeedback(ctx, f))
	retry := *f
	retry.Text = "second"
	require.NoError(t, archive.CreateFeedback(ctx, &retry))

	list := archive.List()
	require.Len(t, list, 1)
	assert.Equal(t, "first", list[0].Text)
}

func TestLogNotifierNeverFails(t *testing.T) {
	assert.NoError(t, NewLogNotifier(nil).Notify(context.Background(), testNotification()))
}
