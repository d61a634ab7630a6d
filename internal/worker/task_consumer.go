package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"docbrief/features/job"
	"docbrief/internal/middleware"
	"docbrief/internal/notify"
	"docbrief/internal/pipeline"
)

type Runner interface {
	Run(ctx context.Context, task pipeline.Task, hooks pipeline.Hooks) (*pipeline.TaskResult, error)
}

type FailureRecorder interface {
	Park(ctx context.Context, j *job.Job) error
}

// TaskConsumer runs document.process messages through the pipeline. Returning
// an error makes nsq requeue the message with backoff; returning nil acks it.
type TaskConsumer struct {
	runner      Runner
	failures    FailureRecorder
	notifier    notify.Notifier
	maxAttempts uint16
	timeout     time.Duration
}

func NewTaskConsumer(r Runner, f FailureRecorder, n notify.Notifier, maxAttempts uint16, timeout time.Duration) *TaskConsumer {
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	if n == nil {
		n = notify.LogNotifier{}
	}
	return &TaskConsumer{runner: r, failures: f, notifier: n, maxAttempts: maxAttempts, timeout: timeout}
}

// stageReceived marks tasks that failed before the pipeline started.
const stageReceived = "received"

func (h *TaskConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task pipeline.Task
	if err := json.Unmarshal(m.Body, &task); err != nil {
		// Poison pill: invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	correlationID := task.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)
	ctx = middleware.WithTaskID(ctx, task.ID)

	if err := task.Validate(); err != nil {
		slog.ErrorContext(ctx, "invalid task, parking", "error", err)
		h.park(ctx, task, m, stageReceived, err)
		return nil
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	slog.InfoContext(ctx, "task received", "object", task.ObjectName, "attempt", m.Attempts, "profile", task.Profile)

	var last pipeline.State
	res, err := h.runner.Run(ctx, task, pipeline.Hooks{
		OnState:   func(s pipeline.State) { last = s },
		Heartbeat: func() { touch(m) },
	})
	if err == nil {
		slog.InfoContext(ctx, "task completed", "outcome", res.Outcome, "document_id", res.DocumentID, "state", last.String())
		return nil
	}

	stage := last.String()
	var se *pipeline.StageError
	if errors.As(err, &se) {
		stage = se.State.String()
	}

	if errors.Is(err, pipeline.ErrConsistency) {
		slog.ErrorContext(ctx, "data integrity warning", "stage", stage, "error", err)
	}

	if !pipeline.IsTerminal(err) && m.Attempts < h.maxAttempts {
		slog.WarnContext(ctx, "task failed, requeueing", "stage", stage, "attempt", m.Attempts, "error", err)
		return err
	}

	slog.ErrorContext(ctx, "task failed permanently", "stage", stage, "attempt", m.Attempts, "error", err)
	h.park(ctx, task, m, stage, err)
	return nil
}

func (h *TaskConsumer) park(ctx context.Context, task pipeline.Task, m *nsq.Message, stage string, cause error) {
	// The task context may be exhausted by now.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	failed := &job.Job{
		TaskID:     task.ID,
		ObjectName: task.Bucket + "/" + task.ObjectName,
		Stage:      stage,
		Payload:    json.RawMessage(m.Body),
		Error:      cause.Error(),
		Attempts:   int(m.Attempts),
	}
	if err := h.failures.Park(pctx, failed); err != nil {
		slog.ErrorContext(ctx, "failed to record failed task", "error", err)
	}

	err := h.notifier.Notify(pctx, notify.Notification{
		UserID:  task.UserID,
		Outcome: notify.OutcomeFailed,
		TaskID:  task.ID,
		Reason:  cause.Error(),
	})
	if err != nil {
		slog.WarnContext(ctx, "failure notification failed", "error", err)
	}
}

// touch resets the nsq message timeout while a long stage runs.
func touch(m *nsq.Message) {
	if m.Delegate == nil || m.HasResponded() {
		return
	}
	m.Touch()
}
