package job

import (
	"encoding/json"
	"time"
)

// Job is a pipeline task parked after a terminal failure or exhausted retries.
type Job struct {
	ID         string          `json:"id"`
	TaskID     string          `json:"task_id"`
	ObjectName string          `json:"object_name"`
	Stage      string          `json:"stage"`
	Payload    json.RawMessage `json:"payload"`
	Error      string          `json:"error"`
	Attempts   int             `json:"attempts"`
	CreatedAt  time.Time       `json:"created_at"`
}
