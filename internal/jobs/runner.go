// Package jobs runs periodic session-scoped tasks, currently the
// heartbeat post. One runner lives as long as its context.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/telemyapp/aegis-meeting-bot/internal/metrics"
)

type Runner struct{}

func NewRunner() *Runner {
	return &Runner{}
}

// Every runs fn immediately and then on every interval tick until ctx is
// cancelled. A non-positive interval disables the job.
func (r *Runner) Every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 {
		return
	}
	go func() {
		r.runOnce(ctx, name, fn)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.runOnce(ctx, name, fn)
			}
		}
	}()
}

func (r *Runner) runOnce(ctx context.Context, name string, fn func(context.Context) error) {
	start := time.Now()
	err := fn(ctx)
	status := "ok"
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		status = "error"
		log.Printf("event=job_run job=%s status=error duration_ms=%d err=%q", name, time.Since(start).Milliseconds(), err.Error())
	}
	metrics.Default().IncCounter("meetingbot_heartbeats_total", map[string]string{"status": status})
}
