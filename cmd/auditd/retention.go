package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/auditkit/pkg/auditstore"
	"github.com/platinummonkey/auditkit/pkg/config"
	"github.com/platinummonkey/auditkit/pkg/observability"
)

const retentionTimeout = 10 * time.Minute

type retentionObserver interface {
	ObserveRetention(purged int64, err error)
}

// retentionJob purges audit logs older than maxAge. It implements cron.Job.
type retentionJob struct {
	store   auditstore.Purger
	maxAge  time.Duration
	metrics retentionObserver
	log     logrus.FieldLogger
	clock   func() time.Time
}

func (j *retentionJob) Run() {
	defer observability.RecoverPanic(j.log, "audit log retention")

	ctx, cancel := context.WithTimeout(context.Background(), retentionTimeout)
	defer cancel()

	cutoff := j.clock().Add(-j.maxAge)
	purged, err := j.store.Cleanup(ctx, cutoff)
	if j.metrics != nil {
		j.metrics.ObserveRetention(purged, err)
	}

	log := j.log.WithField("cutoff", cutoff.Format(time.RFC3339))
	if err != nil {
		log.WithError(err).Error("Audit log retention failed")
		return
	}
	log.WithField("purged", purged).Info("Audit log retention completed")
}

// startRetention schedules the retention job and starts the scheduler
func startRetention(cfg config.RetentionConfig, store auditstore.Purger, metrics retentionObserver, log logrus.FieldLogger) (*cron.Cron, error) {
	job := &retentionJob{
		store:   store,
		maxAge:  cfg.MaxAge,
		metrics: metrics,
		log:     log.WithField("component", "retention"),
		clock:   time.Now,
	}

	c := cron.New()
	if _, err := c.AddJob(cfg.Schedule, job); err != nil {
		return nil, fmt.Errorf("failed to schedule audit log retention: %w", err)
	}
	c.Start()

	log.WithFields(logrus.Fields{
		"schedule": cfg.Schedule,
		"max_age":  cfg.MaxAge.String(),
	}).Info("Audit log retention scheduled")
	return c, nil
}
