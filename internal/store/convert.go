package store

import (
	"encoding/json"
	"time"

	"github.com/oniro-request/requestd/internal/task"
)

func rowFromTask(t *task.Task) requestTaskRow {
	headers, _ := json.Marshal(t.Config.Headers)
	certs, _ := json.Marshal(t.Config.Certs)
	fileSpecs, _ := json.Marshal(t.Config.FileSpecs)
	formItems, _ := json.Marshal(t.Config.FormItems)
	sizes, _ := json.Marshal(t.Progress.Sizes)
	processed, _ := json.Marshal(t.Progress.Processed)
	extras, _ := json.Marshal(t.Extras)

	return requestTaskRow{
		TaskID:        t.ID,
		UID:           t.Config.UID,
		TokenID:       t.Config.TokenID,
		Bundle:        t.Config.Bundle,
		AtomicAccount: t.Config.AtomicAccount,
		Action:        actionOf(t.Config.Action),
		Mode:          uint8(t.Config.Mode),
		Version:       uint8(t.Config.Version),
		URL:           t.Config.URL,
		Method:        t.Config.Method,
		HeadersJSON:   string(headers),
		Body:          t.Config.Body,
		CertsJSON:     string(certs),
		Proxy:         t.Config.Proxy,
		PinnedCerts:   joinStrings(t.Config.PinnedCerts),
		FileSpecsJSON: string(fileSpecs),
		FormItemsJSON: string(formItems),

		Cover:      t.Config.Cover,
		Metered:    t.Config.Metered,
		Roaming:    t.Config.Roaming,
		Retry:      t.Config.Retry,
		Redirect:   t.Config.Redirect,
		Gauge:      t.Config.Gauge,
		Precise:    t.Config.Precise,
		Background: t.Config.Background,
		Multipart:  t.Config.Multipart,

		NetworkConfig: uint8(t.Config.NetworkConfig),

		Index:    t.Config.Index,
		Begins:   t.Config.Begins,
		Ends:     t.Config.Ends,
		Priority: t.Config.Priority,
		MaxSpeed: t.Config.MaxSpeed,

		ConnectionTimeoutNS: int64(t.Config.ConnectionTimeout),
		TotalTimeoutNS:      int64(t.Config.TotalTimeout),

		State:  uint8(t.State),
		Reason: uint8(t.Reason),
		Tries:  t.Tries,

		ProgressSizesJSON:     string(sizes),
		ProgressProcessedJSON: string(processed),
		TotalProcessed:        t.Progress.TotalProcessed,

		ExtrasJSON: string(extras),
		MimeType:   t.MimeType,

		CTime: t.CTime,
		MTime: t.MTime,
	}
}

func taskFromRow(r requestTaskRow) *task.Task {
	var headers map[string]string
	_ = json.Unmarshal([]byte(r.HeadersJSON), &headers)
	var certs []string
	_ = json.Unmarshal([]byte(r.CertsJSON), &certs)
	var fileSpecs []task.FileSpec
	_ = json.Unmarshal([]byte(r.FileSpecsJSON), &fileSpecs)
	var formItems []task.FormItem
	_ = json.Unmarshal([]byte(r.FormItemsJSON), &formItems)
	var sizes []int64
	_ = json.Unmarshal([]byte(r.ProgressSizesJSON), &sizes)
	var processed []int64
	_ = json.Unmarshal([]byte(r.ProgressProcessedJSON), &processed)
	var extras map[string]string
	_ = json.Unmarshal([]byte(r.ExtrasJSON), &extras)

	return &task.Task{
		ID: r.TaskID,
		Config: task.Config{
			UID:           r.UID,
			TokenID:       r.TokenID,
			Bundle:        r.Bundle,
			AtomicAccount: r.AtomicAccount,
			Action:        task.ActionKind(r.Action),
			Mode:          task.Mode(r.Mode),
			Version:       task.Version(r.Version),
			URL:           r.URL,
			Method:        r.Method,
			Headers:       headers,
			Body:          r.Body,
			Certs:         certs,
			Proxy:         r.Proxy,
			PinnedCerts:   splitStrings(r.PinnedCerts),
			FileSpecs:     fileSpecs,
			FormItems:     formItems,

			Cover:      r.Cover,
			Metered:    r.Metered,
			Roaming:    r.Roaming,
			Retry:      r.Retry,
			Redirect:   r.Redirect,
			Gauge:      r.Gauge,
			Precise:    r.Precise,
			Background: r.Background,
			Multipart:  r.Multipart,

			NetworkConfig: task.NetworkConfig(r.NetworkConfig),

			Index:    r.Index,
			Begins:   r.Begins,
			Ends:     r.Ends,
			Priority: r.Priority,
			MaxSpeed: r.MaxSpeed,

			ConnectionTimeout: time.Duration(r.ConnectionTimeoutNS),
			TotalTimeout:      time.Duration(r.TotalTimeoutNS),
		},

		State:  task.State(r.State),
		Reason: task.Reason(r.Reason),
		Tries:  r.Tries,

		Progress: task.Progress{
			Sizes:          sizes,
			Processed:      processed,
			TotalProcessed: r.TotalProcessed,
		},
		Extras:   extras,
		MimeType: r.MimeType,

		CTime: r.CTime,
		MTime: r.MTime,
	}
}

func joinStrings(ss []string) string {
	b, _ := json.Marshal(ss)
	return string(b)
}

func splitStrings(s string) []string {
	var out []string
	_ = json.Unmarshal([]byte(s), &out)
	return out
}
