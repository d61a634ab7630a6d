package document

import (
	"errors"

	"docbrief/internal/storage"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrPublishTimeout = errors.New("timeout waiting for NSQ publish")
)

const PDFContentType = "application/pdf"

// UploadRequest is a raw PDF submitted over HTTP.
type UploadRequest struct {
	FileName    string
	ContentType string
	Body        []byte
	UserID      string
	Profile     string
	StartPage   int
	EndPage     int
}

// TaskRequest submits a PDF that is already in the object store.
type TaskRequest struct {
	ObjectName string `json:"object_name"`
	Bucket     string `json:"bucket"`
	UserID     string `json:"user_id"`
	Profile    string `json:"profile"`
	StartPage  int    `json:"start_page,omitempty"`
	EndPage    int    `json:"end_page,omitempty"`
}

// Handle identifies a queued task.
type Handle struct {
	TaskID     string `json:"task_id"`
	Bucket     string `json:"bucket"`
	ObjectName string `json:"object_name"`
	Checksum   string `json:"checksum,omitempty"`
	Pages      int    `json:"pages,omitempty"`
}

type Detail struct {
	storage.Record
	ArtifactURL string `json:"artifact_url"`
}
