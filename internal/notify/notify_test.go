package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/mtlprog/chorequorum/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func sampleEvent() *domain.Event {
	taskID := "7f1c1f3e-3c2b-4a51-9a59-1d1f0e0b6a11"
	return &domain.Event{
		ID:        "e1",
		Type:      domain.EventConflictOpened,
		TaskID:    &taskID,
		Payload:   map[string]any{"eligible_voters": 3},
		CreatedAt: time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC),
	}
}

type failingSink struct{ err error }

func (f failingSink) Notify(context.Context, *domain.Event) error { return f.err }

func TestEncode(t *testing.T) {
	data, err := Encode(sampleEvent())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "conflict_opened", decoded["type"])
	assert.Equal(t, "7f1c1f3e-3c2b-4a51-9a59-1d1f0e0b6a11", decoded["task_id"])
	assert.NotContains(t, decoded, "actor_id", "system events carry no actor")
	assert.Equal(t, float64(3), decoded["payload"].(map[string]any)["eligible_voters"])
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, sink.Notify(context.Background(), sampleEvent()))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "event", line["msg"])
	assert.Equal(t, "conflict_opened", line["type"])
	assert.Equal(t, "7f1c1f3e-3c2b-4a51-9a59-1d1f0e0b6a11", line["task_id"])
}

func TestMulti_DeliversToEverySink(t *testing.T) {
	var a, b Recorder
	sink := Multi{&a, nil, &b}

	require.NoError(t, sink.Notify(context.Background(), sampleEvent()))

	assert.Equal(t, []domain.EventType{domain.EventConflictOpened}, a.Types())
	assert.Equal(t, []domain.EventType{domain.EventConflictOpened}, b.Types())
}

func TestMulti_ReportsFailureButStillDelivers(t *testing.T) {
	boom := errors.New("boom")
	var rec Recorder
	sink := Multi{failingSink{err: boom}, &rec}

	err := sink.Notify(context.Background(), sampleEvent())

	assert.ErrorIs(t, err, boom)
	assert.Len(t, rec.Events(), 1)
}

func TestRecorder_Reset(t *testing.T) {
	var rec Recorder
	require.NoError(t, rec.Notify(context.Background(), sampleEvent()))
	rec.Reset()
	assert.Empty(t, rec.Events())
}

func TestRedisSink_Publish(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping redis test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := DialRedis(ctx, url)
	require.NoError(t, err)
	sink := NewRedisSink(client, "chorequorum.test")
	defer sink.Close()

	sub := redis.NewClient(client.Options())
	defer sub.Close()
	pubsub := sub.Subscribe(ctx, "chorequorum.test")
	defer pubsub.Close()
	_, err = pubsub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, sink.Notify(ctx, sampleEvent()))

	msg, err := pubsub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
	assert.Equal(t, domain.EventConflictOpened, decoded.Type)
	assert.Equal(t, "e1", decoded.ID)
}
