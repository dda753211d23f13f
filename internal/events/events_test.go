package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestNewAndDecode(t *testing.T) {
	e, err := New(TypeResultRecorded, ResultRecordedPayload{PlayerID: "p1", Name: "Alice", Time: "02:15", Score: 7})
	require.NoError(t, err)
	assert.Equal(t, TypeResultRecorded, e.Type)
	assert.False(t, e.Time.IsZero())

	payload, err := Decode[ResultRecordedPayload](e)
	require.NoError(t, err)
	assert.Equal(t, "Alice", payload.Name)
	assert.Equal(t, 7, payload.Score)

	_, err = Decode[PlayerLeftPayload](Event{Type: TypePlayerLeft})
	assert.Error(t, err)
}

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster(4)
	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()
	assert.Equal(t, 2, b.Subscribers())

	e, err := New(TypePlayerJoined, PlayerJoinedPayload{PlayerID: "p1"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), e))

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, TypePlayerJoined, got.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	cancel1()
	cancel1()
	_, open := <-ch1
	assert.False(t, open, "cancelled subscriber channel should be closed")
	assert.Equal(t, 1, b.Subscribers())
}

func TestBroadcasterDropsForSlowSubscribers(t *testing.T) {
	b := NewBroadcaster(1)
	_, cancel := b.Subscribe()
	defer cancel()

	e, err := New(TypePlayerLeft, PlayerLeftPayload{PlayerID: "p1", Reason: "eof"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(context.Background(), e))
	}
	assert.Equal(t, int64(2), b.Dropped())
}

func TestMultiPublisherAttemptsEveryPublisher(t *testing.T) {
	ctrl := gomock.NewController(t)
	failing := NewMockPublisher(ctrl)
	healthy := NewMockPublisher(ctrl)

	e, err := New(TypeConfigurationSet, ConfigurationSetPayload{Configuration: "1001"})
	require.NoError(t, err)

	boom := errors.New("boom")
	failing.EXPECT().Publish(gomock.Any(), e).Return(boom)
	healthy.EXPECT().Publish(gomock.Any(), e).Return(nil)

	m := NewMultiPublisher(failing, nil, healthy)
	assert.ErrorIs(t, m.Publish(context.Background(), e), boom)
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), Event{}))
}
