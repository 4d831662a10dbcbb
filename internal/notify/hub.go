package notify

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// progressInterval is the default rate-limit window for Progress events
// per task (§4.7).
const progressInterval = time.Second

// Subscriber is one client's framed datagram channel, opened on first
// subscribe and reused across all of that client's tasks.
type Subscriber struct {
	ID   string
	Pid  int
	conn net.Conn

	mu           sync.Mutex
	lastProgress map[uint32]time.Time

	msgSeq atomic.Int32
	closed atomic.Bool
}

// newSubscriber wraps conn (typically one side of a net.Pipe, or the real
// anonymous socket the IPC layer would hand over) with a stable uuid handle.
func newSubscriber(conn net.Conn, pid int) *Subscriber {
	return &Subscriber{
		ID:           uuid.NewString(),
		Pid:          pid,
		conn:         conn,
		lastProgress: make(map[uint32]time.Time),
	}
}

func (s *Subscriber) nextMsgID() int32 {
	return s.msgSeq.Add(1)
}

// Send delivers an event frame. Progress events are rate-limited per task:
// one arriving within progressInterval of the last sent Progress for that
// task is dropped. Every frame that is sent is written synchronously and
// Send waits for its ack; nothing is dropped or superseded when the
// connection is slow.
func (s *Subscriber) Send(ev Event) error {
	if s.closed.Load() {
		return io.ErrClosedPipe
	}

	if ev.Kind == EventProgress {
		s.mu.Lock()
		last, ok := s.lastProgress[ev.TaskID]
		if ok && time.Since(last) < progressInterval {
			s.mu.Unlock()
			return nil
		}
		s.lastProgress[ev.TaskID] = time.Now()
		s.mu.Unlock()
	}

	body, err := ev.encode()
	if err != nil {
		return err
	}
	frame := Frame{MsgID: s.nextMsgID(), Type: MsgNotifyData, Body: body}
	if err := WriteFrame(s.conn, frame); err != nil {
		return err
	}
	_, err = ReadAck(s.conn)
	return err
}

// Close tears down the subscriber's channel.
func (s *Subscriber) Close() error {
	s.closed.Store(true)
	return s.conn.Close()
}

// Hub fans task events out to subscribers and garbage-collects subscribers
// whose owning pid has terminated.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*Subscriber
	// taskSubs maps a task_id to the set of subscriber ids interested in it.
	taskSubs map[uint32]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subs:     make(map[string]*Subscriber),
		taskSubs: make(map[uint32]map[string]struct{}),
	}
}

// Subscribe opens (or would open) a client's datagram channel and returns
// the handle. conn is typically one side of a net.Pipe in tests, or the
// real anonymous socket the IPC layer hands over in production.
func (h *Hub) Subscribe(conn net.Conn, pid int) *Subscriber {
	s := newSubscriber(conn, pid)
	h.mu.Lock()
	h.subs[s.ID] = s
	h.mu.Unlock()
	return s
}

// Watch registers subscriber subID as interested in taskID's events.
func (h *Hub) Watch(subID string, taskID uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.taskSubs[taskID]
	if !ok {
		set = make(map[string]struct{})
		h.taskSubs[taskID] = set
	}
	set[subID] = struct{}{}
}

// Publish delivers ev to every subscriber watching ev.TaskID. Send errors
// are treated as the subscriber having gone away and it is dropped.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	ids := make([]string, 0, len(h.taskSubs[ev.TaskID]))
	for id := range h.taskSubs[ev.TaskID] {
		ids = append(ids, id)
	}
	subsByID := make(map[string]*Subscriber, len(ids))
	for _, id := range ids {
		if s, ok := h.subs[id]; ok {
			subsByID[id] = s
		}
	}
	h.mu.RUnlock()

	for id, s := range subsByID {
		if err := s.Send(ev); err != nil {
			h.removeSubscriber(id)
		}
	}
}

func (h *Hub) removeSubscriber(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
	for _, set := range h.taskSubs {
		delete(set, id)
	}
}

// GCTerminated drops every subscriber owned by a terminated pid (§4.7:
// "Subscribers are garbage-collected when the peer pid is observed
// terminated").
func (h *Hub) GCTerminated(isTerminated func(pid int) bool) {
	h.mu.Lock()
	var dead []string
	for id, s := range h.subs {
		if isTerminated(s.Pid) {
			dead = append(dead, id)
			_ = s.Close()
		}
	}
	for _, id := range dead {
		delete(h.subs, id)
		for _, set := range h.taskSubs {
			delete(set, id)
		}
	}
	h.mu.Unlock()
}

// SubscriberCount reports the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
