package notify

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribePublishDeliversEvent(t *testing.T) {
	h := NewHub()
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	sub := h.Subscribe(serverConn, 100)
	h.Watch(sub.ID, 1)

	done := make(chan Frame, 1)
	go func() {
		f, err := ReadFrame(clientConn)
		require.NoError(t, err)
		require.NoError(t, WriteAck(clientConn, len(f.Body)))
		done <- f
	}()

	h.Publish(Event{TaskID: 1, Kind: EventCompleted})

	select {
	case f := <-done:
		ev, err := decodeEvent(f.Body)
		require.NoError(t, err)
		require.Equal(t, EventCompleted, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected event delivery")
	}
}

func TestProgressRateLimited(t *testing.T) {
	h := NewHub()
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	sub := h.Subscribe(serverConn, 100)
	h.Watch(sub.ID, 1)

	ackLoop := func() {
		for {
			f, err := ReadFrame(clientConn)
			if err != nil {
				return
			}
			_ = WriteAck(clientConn, len(f.Body))
		}
	}
	go ackLoop()

	require.NoError(t, sub.Send(Event{TaskID: 1, Kind: EventProgress, Processed: 1}))
	// second immediate Progress for the same task should be silently dropped
	require.NoError(t, sub.Send(Event{TaskID: 1, Kind: EventProgress, Processed: 2}))
}

func TestGCTerminatedRemovesSubscriber(t *testing.T) {
	h := NewHub()
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	sub := h.Subscribe(serverConn, 999)
	h.Watch(sub.ID, 1)
	require.Equal(t, 1, h.SubscriberCount())

	h.GCTerminated(func(pid int) bool { return pid == 999 })
	require.Equal(t, 0, h.SubscriberCount())
}
