package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"docbrief/internal/config"
)

const publishTimeout = 5 * time.Second

var ErrPublishTimeout = errors.New("timeout waiting for NSQ publish")

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo   Repository
	pub    EventPublisher
	logger *slog.Logger
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger}
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

// Park records a failed task so an operator can retry it later.
func (s *Service) Park(ctx context.Context, j *Job) error {
	if err := s.repo.Save(ctx, j); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "parked failed task", "job_id", j.ID, "task_id", j.TaskID, "stage", j.Stage)
	return nil
}

// Retry republishes the stored task payload and removes the job. The job is
// kept if publishing fails.
func (s *Service) Retry(ctx context.Context, id string) error {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	// go-nsq Publish takes no context.
	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(config.TopicDocumentProcess, job.Payload)
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-time.After(publishTimeout):
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "retried failed task", "job_id", id, "task_id", job.TaskID)
	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
