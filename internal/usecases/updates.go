package usecases

import (
	"context"

	storage "github.com/practice-sem-2/quartier-chat-service/internal/storages"
	"github.com/sirupsen/logrus"
)

const DefaultUpdatesQueueSize = 1024

type updateJob struct {
	kind      string
	publisher storage.UpdatesPublisher
	fn        func(storage.UpdatesPublisher) error
}

// UpdatesQueue writes to the updates stream on its own goroutine, so a slow or
// unreachable stream never holds a request. Updates that don't fit in the
// queue are dropped and logged.
type UpdatesQueue struct {
	jobs   chan updateJob
	logger logrus.FieldLogger
}

func NewUpdatesQueue(size int, logger logrus.FieldLogger) *UpdatesQueue {
	if size <= 0 {
		size = DefaultUpdatesQueueSize
	}
	return &UpdatesQueue{
		jobs:   make(chan updateJob, size),
		logger: logger,
	}
}

// Run publishes queued updates until ctx is done.
func (q *UpdatesQueue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			if err := job.fn(job.publisher); err != nil {
				q.logger.
					WithError(err).
					WithField("update", job.kind).
					Error("can't publish update")
			}
		}
	}
}

func (q *UpdatesQueue) enqueue(job updateJob) {
	select {
	case q.jobs <- job:
	default:
		q.logger.
			WithField("update", job.kind).
			Warn("updates queue is full, dropping update")
	}
}
