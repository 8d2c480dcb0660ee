package models

import (
	"io"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/samber/mo"
)

// VideoEntry is a catalog item as the video service reports it.
type VideoEntry struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType,omitempty"`
	UploadedAt  string `json:"uploadedAt"`
}

// UploadedTime parses UploadedAt. Both RFC 3339 and RFC 3339 with nanoseconds are accepted.
func (v VideoEntry) UploadedTime() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v.UploadedAt)
}

// HealthStatus is the body of the service health endpoint.
type HealthStatus struct {
	Status string `json:"status"`
}

// OK reports whether the service declared itself healthy.
func (h HealthStatus) OK() bool {
	return h.Status == "ok"
}

// CatalogState is a snapshot of the catalog store.
type CatalogState struct {
	Entries    []VideoEntry     `json:"entries"`
	SelectedID mo.Option[int64] `json:"selectedId"`
	Loading    bool             `json:"loading"`
	LastError  error            `json:"-"`
	FetchedAt  time.Time        `json:"fetchedAt"`
	FromCache  bool             `json:"fromCache"` // entries were restored from the local snapshot
}

// Find returns the entry with the given id.
func (s CatalogState) Find(id int64) (VideoEntry, bool) {
	return lo.Find(s.Entries, func(v VideoEntry) bool { return v.ID == id })
}

// Contains reports whether id is present in Entries.
func (s CatalogState) Contains(id int64) bool {
	return lo.ContainsBy(s.Entries, func(v VideoEntry) bool { return v.ID == id })
}

// Selected returns the selected entry, if any.
func (s CatalogState) Selected() (VideoEntry, bool) {
	id, ok := s.SelectedID.Get()
	if !ok {
		return VideoEntry{}, false
	}
	return s.Find(id)
}

// Clone returns a copy that shares no memory with s.
func (s CatalogState) Clone() CatalogState {
	s.Entries = slices.Clone(s.Entries)
	if s.Entries == nil {
		s.Entries = []VideoEntry{}
	}
	return s
}

// File is a local file offered for upload.
type File interface {
	Name() string
	Size() int64 // negative when unknown
	MediaType() string
	Open() (io.ReadCloser, error)
}

// JobStatus is the lifecycle state of the upload job.
type JobStatus string

const (
	JobIdle      JobStatus = "idle"
	JobSelected  JobStatus = "selected"
	JobUploading JobStatus = "uploading"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

func (s JobStatus) String() string {
	return string(s)
}

// IsActive reports whether a transfer is in flight.
func (s JobStatus) IsActive() bool {
	return s == JobUploading
}

// HasFile reports whether the job holds a chosen file that can be submitted.
func (s JobStatus) HasFile() bool {
	switch s {
	case JobSelected, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// TransferJob is a snapshot of the upload coordinator's job.
type TransferJob struct {
	ID            string    `json:"id,omitempty"`
	File          File      `json:"-"`
	Title         string    `json:"title"`
	Progress      float64   `json:"progress"`
	Indeterminate bool      `json:"indeterminate"`
	Status        JobStatus `json:"status"`
	Err           error     `json:"-"`
}

// FileName returns the chosen file's name or "".
func (j TransferJob) FileName() string {
	if j.File == nil {
		return ""
	}
	return j.File.Name()
}

// UploadRecord is the stored outcome of a submitted upload.
type UploadRecord struct {
	JobID      string           `json:"jobId"`
	FileName   string           `json:"fileName"`
	Title      string           `json:"title"`
	Size       int64            `json:"size"`
	Status     JobStatus        `json:"status"`
	Error      string           `json:"error,omitempty"`
	VideoID    mo.Option[int64] `json:"videoId"`
	FinishedAt time.Time        `json:"finishedAt"`
}
