package types

import (
	"context"
)

type CronJob func(ctx context.Context) error

type CronManager interface {
	LifecycleManager
	AddJob(name, schedule string, job CronJob) error
	RemoveJob(name string) error
}
