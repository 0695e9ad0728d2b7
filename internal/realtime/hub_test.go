package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	h := NewHub(zerolog.Nop())
	go h.Run()
	return h
}

func recvWithin(t *testing.T, ch chan []byte, d time.Duration) []byte {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(d):
		t.Fatal("no delivery within deadline")
		return nil
	}
}

func TestSendToUserDeliversToAllUserConnections(t *testing.T) {
	h := newTestHub()
	userID := uuid.New()

	first := &Client{ID: "c1", UserID: userID, Send: make(chan []byte, 8)}
	second := &Client{ID: "c2", UserID: userID, Send: make(chan []byte, 8)}
	other := &Client{ID: "c3", UserID: uuid.New(), Send: make(chan []byte, 8)}
	h.RegisterClient(first)
	h.RegisterClient(second)
	h.RegisterClient(other)

	// Registration is processed by the run loop; retry until it lands.
	require.Eventually(t, func() bool {
		h.SendToUser(userID, map[string]string{"hello": "ahí"})
		return len(first.Send) > 0 && len(second.Send) > 0
	}, time.Second, 10*time.Millisecond)

	var got map[string]string
	require.NoError(t, json.Unmarshal(recvWithin(t, first.Send, time.Second), &got))
	assert.Equal(t, "ahí", got["hello"])

	assert.Empty(t, other.Send, "other users never see the event")
}

func TestSendToUserDropsSlowConsumer(t *testing.T) {
	h := newTestHub()
	userID := uuid.New()

	slow := &Client{ID: "c1", UserID: userID, Send: make(chan []byte, 1)}
	h.RegisterClient(slow)

	require.Eventually(t, func() bool {
		h.SendToUser(userID, "a")
		return len(slow.Send) == 1
	}, time.Second, 10*time.Millisecond)

	// Buffer full: further sends are dropped, never block.
	done := make(chan struct{})
	go func() {
		h.SendToUser(userID, "b")
		h.SendToUser(userID, "c")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SendToUser blocked on a slow consumer")
	}
	assert.Equal(t, 1, len(slow.Send))
}

func TestUnregisterClosesSendChannel(t *testing.T) {
	h := newTestHub()
	client := &Client{ID: "c1", UserID: uuid.New(), Send: make(chan []byte, 1)}

	h.RegisterClient(client)
	h.UnregisterClient(client)

	require.Eventually(t, func() bool {
		select {
		case _, open := <-client.Send:
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
