package pipeline

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTask = errors.New("invalid task")

// Task is the queue payload that drives one pipeline run.
type Task struct {
	ID            string    `json:"task_id"`
	Bucket        string    `json:"bucket"`
	ObjectName    string    `json:"object_name"`
	SourceName    string    `json:"source_name,omitempty"`
	UserID        string    `json:"user_id"`
	Profile       string    `json:"profile"`
	Checksum      string    `json:"checksum,omitempty"`
	StartPage     int       `json:"start_page,omitempty"`
	EndPage       int       `json:"end_page,omitempty"` // exclusive; 0 means last page
	CorrelationID string    `json:"correlation_id,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

func (t Task) Validate() error {
	switch {
	case t.ID == "":
		return fmt.Errorf("%w: task_id is required", ErrInvalidTask)
	case t.Bucket == "" || t.ObjectName == "":
		return fmt.Errorf("%w: bucket and object_name are required", ErrInvalidTask)
	case t.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidTask)
	case t.Profile == "":
		return fmt.Errorf("%w: profile is required", ErrInvalidTask)
	case t.StartPage < 0 || (t.EndPage > 0 && t.EndPage <= t.StartPage):
		return fmt.Errorf("%w: page range [%d,%d)", ErrInvalidTask, t.StartPage, t.EndPage)
	}
	return nil
}

func (t Task) pageRange() (int, int) {
	if t.EndPage <= 0 {
		return t.StartPage, -1
	}
	return t.StartPage, t.EndPage
}

type Outcome string

const (
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeCreated   Outcome = "created"
)

type TaskResult struct {
	Outcome      Outcome `json:"outcome"`
	UserID       string  `json:"user_id"`
	ArtifactPath string  `json:"artifact_path"`
	ArtifactURL  string  `json:"artifact_url"`
	DocumentID   string  `json:"document_id"`
	Reason       string  `json:"reason,omitempty"`
}
