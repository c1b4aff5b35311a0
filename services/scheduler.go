package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// PublishInterval is how often scheduled events are checked.
const PublishInterval = time.Minute

// StartPublishScheduler publishes events whose PublishAt has passed, once
// per PublishInterval. Shut the returned scheduler down on exit.
func (s *EventService) StartPublishScheduler(ctx context.Context) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(PublishInterval),
		gocron.NewTask(func() {
			if _, err := s.PublishDueEvents(ctx, s.now()); err != nil {
				s.Log.Error("scheduler: publish due events", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}

	sched.Start()
	s.Log.Info("event publish scheduler started", zap.Duration("interval", PublishInterval))
	return sched, nil
}
