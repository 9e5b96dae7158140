package catalogsync

import (
	"context"
	"fmt"
)

// JobName identifies the sync in metrics, locks and the last-run marker.
const JobName = "catalog-sync"

type syncer interface {
	Sync(ctx context.Context) (Result, error)
}

// Job adapts the sync service to the cron registry.
type Job struct {
	svc syncer
}

func NewJob(svc syncer) (*Job, error) {
	if svc == nil {
		return nil, fmt.Errorf("sync service required")
	}
	return &Job{svc: svc}, nil
}

func (j *Job) Name() string { return JobName }

func (j *Job) Run(ctx context.Context) error {
	_, err := j.svc.Sync(ctx)
	return err
}
