package worker_test

import (
	"context"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/mock"

	"docbrief/features/job"
	"docbrief/internal/notify"
	"docbrief/internal/pipeline"
)

type MockRunner struct{ mock.Mock }

func (m *MockRunner) Run(ctx context.Context, task pipeline.Task, hooks pipeline.Hooks) (*pipeline.TaskResult, error) {
	args := m.Called(ctx, task, hooks)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.TaskResult), args.Error(1)
}

type MockFailures struct{ mock.Mock }

func (m *MockFailures) Park(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

type MockNotifier struct{ mock.Mock }

func (m *MockNotifier) Notify(ctx context.Context, n notify.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// touchCounter is an nsq.MessageDelegate that only counts touches.
type touchCounter struct {
	mu      sync.Mutex
	touches int
}

func (d *touchCounter) OnFinish(m *nsq.Message) {}
func (d *touchCounter) OnRequeue(m *nsq.Message, delay time.Duration, backoff bool) {}
func (d *touchCounter) OnTouch(m *nsq.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.touches++
}
