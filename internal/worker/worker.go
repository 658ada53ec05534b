package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"attendflow/internal/attendance"
	"attendflow/internal/queue"
)

var errMissingRecordID = errors.New("missing record id")

// Loader refreshes the record cache.
type Loader interface {
	Load(ctx context.Context) ([]attendance.Record, error)
}

// Notifier delivers parent notifications.
type Notifier interface {
	NotifyRecord(ctx context.Context, id string) (attendance.Ack, error)
	NotifyAbsent(ctx context.Context) (attendance.Ack, error)
}

// Processor executes notification jobs.
type Processor struct {
	store    Loader
	notifier Notifier
	log      *zap.Logger
}

// New creates a processor.
func New(store Loader, notifier Notifier, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{store: store, notifier: notifier, log: log}
}

// Run consumes q until ctx is done or the job channel closes.
func (p *Processor) Run(ctx context.Context, q queue.Queue) error {
	jobs, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	for job := range jobs {
		if err := p.Handle(ctx, job); err != nil {
			p.log.Error("job failed", zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Error(err))
			continue
		}
		p.log.Info("job done", zap.String("job_id", job.ID), zap.String("type", job.Type))
	}
	return nil
}

// Handle reloads the roster before every job so recipients are picked
// from the backend's state at delivery time.
func (p *Processor) Handle(ctx context.Context, job queue.Job) error {
	if _, err := p.store.Load(ctx); err != nil {
		return fmt.Errorf("reload roster: %w", err)
	}

	var (
		ack attendance.Ack
		err error
	)
	switch job.Type {
	case queue.TypeNotifyAbsent:
		ack, err = p.notifier.NotifyAbsent(ctx)
	case queue.TypeNotifyRecord:
		var payload queue.RecordPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		if payload.RecordID == "" {
			return fmt.Errorf("decode payload: %w", errMissingRecordID)
		}
		ack, err = p.notifier.NotifyRecord(ctx, payload.RecordID)
	default:
		p.log.Warn("skipping unknown job type", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	if err != nil {
		return err
	}
	p.log.Debug("notification acknowledged", zap.String("job_id", job.ID), zap.String("message", ack.Message))
	return nil
}
