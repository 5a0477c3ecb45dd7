package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"performer-slots-backend/internal/models"
)

// EventSink receives audit events. Delivery is at-least-once; consumers
// must be idempotent on EventID.
type EventSink interface {
	Publish(ctx context.Context, event *models.AuditEvent) error
}

// EventDispatcher drains the Redis outbox list that every state change
// appends to and delivers each event to the registered sinks. A failed
// delivery goes back to the head of the outbox and is retried on the next
// pass, which is where the at-least-once guarantee comes from.
type EventDispatcher struct {
	store     *RedisService
	sinks     []EventSink
	log       *logrus.Logger
	batchSize int
	interval  time.Duration
}

func NewEventDispatcher(store *RedisService, log *logrus.Logger, sinks ...EventSink) *EventDispatcher {
	return &EventDispatcher{
		store:     store,
		sinks:     sinks,
		log:       log,
		batchSize: 50,
		interval:  2 * time.Second,
	}
}

// Run loops until the context is cancelled.
func (d *EventDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.processOnce(ctx)
		}
	}
}

func (d *EventDispatcher) processOnce(ctx context.Context) {
	events, err := d.store.PopOutboxEvents(ctx, d.batchSize)
	if err != nil {
		d.log.WithError(err).Error("failed to read event outbox")
		return
	}

	for i, event := range events {
		if err := d.deliver(ctx, event); err != nil {
			// The failed event and everything popped behind it go back to
			// the head of the outbox, in order, for the next pass.
			d.log.WithError(err).WithField("event_id", event.EventID).Warn("event delivery failed, requeueing batch remainder")
			if reqErr := d.store.RequeueOutboxEvents(ctx, events[i:]); reqErr != nil {
				d.log.WithError(reqErr).WithField("event_id", event.EventID).Error("failed to requeue events, delivery lost")
			}
			return
		}
	}
}

func (d *EventDispatcher) deliver(ctx context.Context, event *models.AuditEvent) error {
	for _, sink := range d.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
