package notify

import "encoding/json"

// EventKind enumerates the notification kinds of §4.7.
type EventKind string

const (
	EventProgress      EventKind = "Progress"
	EventCompleted     EventKind = "Completed"
	EventFailed        EventKind = "Failed"
	EventPause         EventKind = "Pause"
	EventResume        EventKind = "Resume"
	EventRemove        EventKind = "Remove"
	EventHeaderReceive EventKind = "HeaderReceive"
	EventResponse      EventKind = "Response"
)

// stateChangeEvents are never dropped under backpressure; only Progress is
// droppable (§4.7 delivery policy).
var stateChangeEvents = map[EventKind]bool{
	EventCompleted:     true,
	EventFailed:        true,
	EventPause:         true,
	EventResume:        true,
	EventRemove:        true,
	EventHeaderReceive: true,
	EventResponse:      true,
}

func (k EventKind) droppable() bool {
	return k == EventProgress
}

// Event is the payload carried by a NotifyData frame.
type Event struct {
	TaskID    uint32    `json:"task_id"`
	Kind      EventKind `json:"kind"`
	Reason    string    `json:"reason,omitempty"`
	Message   string    `json:"message,omitempty"`
	Processed int64     `json:"processed,omitempty"`
	Total     int64     `json:"total,omitempty"`
}

func (e Event) encode() ([]byte, error) {
	return json.Marshal(e)
}

func decodeEvent(body []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(body, &e)
	return e, err
}
