package session

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"collabhub/internal/utils"
)

// Checkpointer periodically flushes every live room. Under sustained editing
// the debouncer never sees a quiet period, so this bounds how much work a
// crash can lose.
type Checkpointer struct {
	registry *Registry
	schedule string
	log      *utils.Logger
	cron     *cron.Cron
}

func NewCheckpointer(reg *Registry, schedule string, log *utils.Logger) *Checkpointer {
	if log == nil {
		log = utils.NopLogger()
	}
	return &Checkpointer{registry: reg, schedule: schedule, log: log, cron: cron.New()}
}

// Start schedules the job. An empty schedule disables checkpoints.
func (c *Checkpointer) Start() error {
	if c.schedule == "" {
		c.log.Info("checkpoints disabled")
		return nil
	}
	if _, err := c.cron.AddFunc(c.schedule, func() { c.Run(context.Background()) }); err != nil {
		return fmt.Errorf("failed to schedule checkpoint job: %w", err)
	}
	c.cron.Start()
	c.log.Info("checkpoints scheduled", "schedule", c.schedule)
	return nil
}

// Run flushes every room once.
func (c *Checkpointer) Run(ctx context.Context) {
	rooms := c.registry.Len()
	if failed := c.registry.FlushAll(ctx, "checkpoint"); failed > 0 {
		c.log.Warn("checkpoint incomplete", "rooms", rooms, "failed", failed)
	}
}

// Stop waits for a running checkpoint to finish.
func (c *Checkpointer) Stop() {
	<-c.cron.Stop().Done()
}
