package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/LockerBox/internal/broker/messages"
	"github.com/BearBump/LockerBox/internal/models"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic string
	key   []byte
	value []byte
}

type fakePublisher struct {
	mu  sync.Mutex
	got []published
	err error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, published{topic: topic, key: key, value: value})
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func TestPipeline_HandlePublishesDetection(t *testing.T) {
	pub := &fakePublisher{}
	p := NewPipeline(New(Options{}), pub, "")
	p.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }

	info, ok, err := p.Handle(context.Background(), models.NotificationEvent{
		UserID:    "u1",
		SourceApp: cjApp,
		Text:      "[CJ대한통운] 고객님의 운송장번호 1234567890 택배가 접수되었습니다",
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1234567890", info.TrackingNumber)

	require.Len(t, pub.got, 1)
	require.Equal(t, messages.TopicPackageDetected, pub.got[0].topic)
	require.Equal(t, []byte("u1"), pub.got[0].key)

	var msg messages.PackageDetected
	require.NoError(t, json.Unmarshal(pub.got[0].value, &msg))
	require.Equal(t, "u1", msg.UserID)
	require.Equal(t, info, msg.Detection)
	require.True(t, msg.DetectedAt.Equal(p.now()))
}

func TestPipeline_HandleIgnoresOtherNotifications(t *testing.T) {
	pub := &fakePublisher{}
	p := NewPipeline(New(Options{}), pub, "")

	_, ok, err := p.Handle(context.Background(), models.NotificationEvent{SourceApp: cjApp, Text: "쿠폰이 도착했어요"})
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, pub.count())
}

func TestPipeline_HandlePublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	p := NewPipeline(New(Options{}), pub, "custom.topic")

	info, ok, err := p.Handle(context.Background(), models.NotificationEvent{SourceApp: cjApp, Text: "CJ대한통운 택배 1234567890"})
	require.Error(t, err)
	require.True(t, ok)
	require.Equal(t, "1234567890", info.TrackingNumber)
}

func TestPipeline_RunUntilChannelClosed(t *testing.T) {
	pub := &fakePublisher{}
	p := NewPipeline(New(Options{}), pub, "")

	events := make(chan models.NotificationEvent, 3)
	events <- models.NotificationEvent{SourceApp: cjApp, Text: "CJ대한통운 택배 1234567890"}
	events <- models.NotificationEvent{SourceApp: "com.example.game", Text: "CJ대한통운 택배 1234567890"}
	events <- models.NotificationEvent{SourceApp: cjApp, Text: "한진택배 운송장 512345678901"}
	close(events)

	require.NoError(t, p.Run(context.Background(), events))
	require.Equal(t, 2, pub.count())
}

func TestPipeline_RunStopsOnCancel(t *testing.T) {
	p := NewPipeline(New(Options{}), nil, "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, make(chan models.NotificationEvent)) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}
