// Package store implements C1, the relational task store: a single
// `request_task` table plus a `certs_path` side table, grounded on
// internal/storage/models.go's gorm row shape (generalized from the
// teacher's DownloadTask to the full request-task attribute set of spec §3).
package store

import (
	"time"

	"github.com/oniro-request/requestd/internal/task"
)

// requestTaskRow is the gorm row for the `request_task` table. Complex
// fields (headers, certs, file specs, form items, extras) are stored as
// JSON text, matching the teacher's MetaJSON idiom in storage/models.go.
type requestTaskRow struct {
	TaskID uint32 `gorm:"primaryKey;column:task_id"`

	UID           uint64 `gorm:"index"`
	TokenID       uint64
	Bundle        string `gorm:"index"`
	AtomicAccount string

	Action  uint8 `gorm:"index"`
	Mode    uint8 `gorm:"index"`
	Version uint8

	URL         string
	Method      string
	HeadersJSON string
	Body        []byte
	CertsJSON   string
	Proxy       string
	PinnedCerts string

	FileSpecsJSON string
	FormItemsJSON string

	Cover      bool
	Metered    bool
	Roaming    bool
	Retry      bool
	Redirect   bool
	Gauge      bool
	Precise    bool
	Background bool
	Multipart  bool

	NetworkConfig uint8

	Index    int
	Begins   int64
	Ends     int64
	Priority int
	MaxSpeed int64

	ConnectionTimeoutNS int64
	TotalTimeoutNS      int64

	State  uint8 `gorm:"index"`
	Reason uint8
	Tries  int

	ProgressSizesJSON     string
	ProgressProcessedJSON string
	TotalProcessed        int64

	ExtrasJSON string
	MimeType   string

	CTime time.Time
	MTime time.Time `gorm:"index"`
}

func (requestTaskRow) TableName() string { return "request_task" }

// certPathRow is the `certs_path(task_id, cert_path, idx)` side table.
type certPathRow struct {
	TaskID   uint32 `gorm:"primaryKey;column:task_id"`
	Idx      int    `gorm:"primaryKey"`
	CertPath string
}

func (certPathRow) TableName() string { return "certs_path" }

func actionOf(k task.ActionKind) uint8 { return uint8(k) }
