package task

import "time"

// Action (verb), Mode, Version, NetworkConfig enums from §3.
type ActionKind uint8

const (
	ActionDownload ActionKind = iota
	ActionUpload
)

type Mode uint8

const (
	ModeForeground Mode = iota
	ModeBackground
	ModeAny
)

type Version uint8

const (
	V9 Version = iota
	V10
)

type NetworkConfig uint8

const (
	NetworkAny NetworkConfig = iota
	NetworkWifi
	NetworkCellular
)

// FileSpec is one file participating in the task (§3).
type FileSpec struct {
	Name       string
	Path       string
	FileName   string
	MimeType   string
	IsUserFile bool
	FD         uintptr // borrowed descriptor; never closed by the service
}

// FormItem is one multipart form field (§3).
type FormItem struct {
	Name  string
	Value string
}

// Progress is the progress vector (§3): per-file sizes (-1 = unknown until
// completion), per-file processed bytes, and the running total.
type Progress struct {
	Sizes          []int64
	Processed      []int64
	TotalProcessed int64
}

// FinishEligible reports whether a download has received every known byte.
func (p Progress) FinishEligible() bool {
	var totalSize int64
	for _, s := range p.Sizes {
		if s < 0 {
			return false
		}
		totalSize += s
	}
	return p.TotalProcessed == totalSize
}

// Config is the immutable-after-admission submission payload (§3), separate
// from the mutable runtime Task row so that `get_config` can return it
// without races against progress/state updates.
type Config struct {
	UID           uint64
	TokenID       uint64
	Bundle        string
	AtomicAccount string
	Action        ActionKind
	Mode          Mode
	Version       Version
	URL           string
	Method        string
	Headers       map[string]string
	Body          []byte
	Certs         []string
	Proxy         string
	PinnedCerts   []string
	FileSpecs     []FileSpec
	FormItems     []FormItem

	Cover     bool
	Metered   bool
	Roaming   bool
	Retry     bool
	Redirect  bool
	Gauge     bool
	Precise   bool
	Background bool
	Multipart bool

	NetworkConfig NetworkConfig

	Index     int
	Begins    int64
	Ends      int64
	Priority  int
	MaxSpeed  int64

	ConnectionTimeout time.Duration
	TotalTimeout      time.Duration
}

// Task is the full persistent row (§3): Config plus mutable lifecycle state.
type Task struct {
	ID    uint32
	Config Config

	State  State
	Reason Reason
	Tries  int

	Progress Progress
	Extras   map[string]string
	MimeType string

	CTime time.Time
	MTime time.Time
}

func (t *Task) Kind() Kind {
	if t.Config.Action == ActionUpload {
		return KindUpload
	}
	return KindDownload
}

// QosInfo is the reduced view get_task_qos_info returns (§4.1).
type QosInfo struct {
	TaskID   uint32
	Action   ActionKind
	Mode     Mode
	State    State
	Priority int
}
