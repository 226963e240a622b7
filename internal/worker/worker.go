package worker

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/stocktake/config"
	"example.com/backstage/services/stocktake/internal/messaging"
	"example.com/backstage/services/stocktake/internal/repository"
	"example.com/backstage/services/stocktake/internal/search"
)

// Worker runs the background jobs of the stocktake service: the overdue
// assignment scan and the audit event indexer.
type Worker struct {
	repo    repository.Repository
	msg     messaging.ServiceBusClient
	elastic *search.ElasticClient
	cfg     config.WorkerConfig
	log     *logrus.Logger
}

// New creates a Worker. The elastic client may be nil, in which case the
// indexer job is not scheduled.
func New(repo repository.Repository, msg messaging.ServiceBusClient, elastic *search.ElasticClient, cfg config.WorkerConfig, log *logrus.Logger) *Worker {
	return &Worker{
		repo:    repo,
		msg:     msg,
		elastic: elastic,
		cfg:     cfg,
		log:     log,
	}
}

// Run schedules the jobs and blocks until the context is cancelled
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return errors.Wrap(err, "failed to create scheduler")
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(w.cfg.OverdueInterval),
			gocron.NewTask(func() {
				if err := w.ScanOverdueAssignments(ctx); err != nil {
					w.log.WithError(err).Error("Overdue assignment scan failed")
				}
			}),
		)
		if err != nil {
			return errors.Wrap(err, "failed to schedule overdue scan")
		}

		if w.elastic != nil {
			_, err = scheduler.NewJob(
				gocron.DurationJob(w.cfg.IndexInterval),
				gocron.NewTask(func() {
					if err := w.IndexPendingEvents(ctx); err != nil {
						w.log.WithError(err).Error("Event indexing failed")
					}
				}),
			)
			if err != nil {
				return errors.Wrap(err, "failed to schedule event indexer")
			}
		}

		scheduler.Start()
		<-ctx.Done()
		return scheduler.Shutdown()
	})

	w.log.WithFields(logrus.Fields{
		"overdue_interval": w.cfg.OverdueInterval,
		"index_interval":   w.cfg.IndexInterval,
		"indexing":         w.elastic != nil,
	}).Info("Worker started")

	return g.Wait()
}

// ScanOverdueAssignments publishes a notification for every assignment whose
// deadline has passed without completion.
func (w *Worker) ScanOverdueAssignments(ctx context.Context) error {
	now := time.Now().UTC()
	assignments, err := w.repo.ListOverdueAssignments(ctx, now)
	if err != nil {
		return errors.Wrap(err, "failed to list overdue assignments")
	}

	for _, assignment := range assignments {
		w.log.WithFields(logrus.Fields{
			"counting_id": assignment.CountingID,
			"phase":       assignment.PhaseNumber,
			"counter_id":  assignment.CounterID,
			"deadline":    assignment.Deadline,
		}).Warn("Assignment overdue")

		if w.msg == nil {
			continue
		}
		notification := messaging.Notification{
			Topic:      messaging.TopicAssignmentOverdue,
			CountingID: assignment.CountingID,
			Payload: map[string]interface{}{
				"phase":         assignment.PhaseNumber,
				"counter_id":    assignment.CounterID,
				"deadline":      assignment.Deadline,
				"counted_items": assignment.CountedItems,
				"total_items":   assignment.TotalItems,
			},
			Time: now,
		}
		if err := w.msg.SendMessage(ctx, notification, ""); err != nil {
			w.log.WithError(err).WithField("counting_id", assignment.CountingID).
				Warn("Failed to publish overdue notification")
		}
	}
	return nil
}

// IndexPendingEvents forwards unindexed audit events to Elasticsearch in
// batches and marks them processed. An event that fails to index stays
// unprocessed and is retried on the next run.
func (w *Worker) IndexPendingEvents(ctx context.Context) error {
	events, err := w.repo.ListUnprocessedEvents(ctx, w.cfg.IndexBatchSize)
	if err != nil {
		return errors.Wrap(err, "failed to list unprocessed events")
	}
	if len(events) == 0 {
		return nil
	}

	indexed := 0
	for i := range events {
		event := &events[i]
		if err := w.elastic.IndexEvent(ctx, event); err != nil {
			w.log.WithError(err).WithField("event_id", event.ID).Warn("Failed to index event")
			continue
		}
		if err := w.repo.MarkEventProcessed(ctx, event.ID); err != nil {
			return errors.Wrap(err, "failed to mark event processed")
		}
		indexed++
	}

	w.log.WithFields(logrus.Fields{
		"indexed": indexed,
		"batch":   len(events),
	}).Debug("Indexed audit events")
	return nil
}
