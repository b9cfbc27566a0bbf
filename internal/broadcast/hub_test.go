package broadcast

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basketproof/sentinel/internal/alert"
	"github.com/basketproof/sentinel/internal/station"
)

func recvMsg(t *testing.T, sub *Subscription) []byte {
	t.Helper()
	select {
	case msg, ok := <-sub.C:
		require.True(t, ok, "subscription closed unexpectedly")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestHub_LiveKeyedByStation(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)

	sub := hub.Subscribe(ChannelLive, 4)
	hub.Live("SCC1", station.State{StationID: "SCC1", Score: 0.4})

	var payload map[string]station.State
	require.NoError(t, json.Unmarshal(recvMsg(t, sub), &payload))
	require.Contains(t, payload, "SCC1")
	assert.Equal(t, 0.4, payload["SCC1"].Score)
}

func TestHub_IncidentChannelSeparation(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)

	live := hub.Subscribe(ChannelLive, 4)
	incidents := hub.Subscribe(ChannelIncident, 4)

	hub.Incident(alert.Incident{Station: "SCC1", Type: alert.TypeNudge, Score: 0.7})

	var inc alert.Incident
	require.NoError(t, json.Unmarshal(recvMsg(t, incidents), &inc))
	assert.Equal(t, alert.TypeNudge, inc.Type)

	select {
	case <-live.C:
		t.Fatal("live subscriber received an incident message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)

	sub := hub.Subscribe(ChannelLive, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			hub.Live("SCC1", station.State{StationID: "SCC1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Equal(t, uint64(9), sub.Dropped())
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)

	sub := hub.Subscribe(ChannelLive, 1)
	assert.Equal(t, 1, hub.SubscriberCount(ChannelLive))

	sub.Cancel()
	assert.Equal(t, 0, hub.SubscriberCount(ChannelLive))

	_, ok := <-sub.C
	assert.False(t, ok)

	// Cancel is idempotent.
	sub.Cancel()
}

func TestHub_CloseClosesAllSubscribers(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe(ChannelLive, 1)
	b := hub.Subscribe(ChannelIncident, 1)

	hub.Close()

	_, ok := <-a.C
	assert.False(t, ok)
	_, ok = <-b.C
	assert.False(t, ok)

	// Publishing after close is a no-op, not a panic.
	hub.Live("SCC1", station.State{})

	// Subscribing after close yields an already-closed subscription.
	late := hub.Subscribe(ChannelLive, 1)
	_, ok = <-late.C
	assert.False(t, ok)
}
