// Package workers sizes the goroutine pools the gateway uses to bound
// concurrent work: one pool for in-flight chat turns (so a burst of clients
// can't pile unbounded retrieval/LLM calls onto the RAG backend at once),
// one for fire-and-forget background work that shouldn't block a request.
package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/alitto/pond"
)

// Config sizes both pools.
type Config struct {
	TurnWorkers       int
	BackgroundWorkers int
}

// Pools holds the gateway's managed worker pools.
type Pools struct {
	Turn       *pond.WorkerPool
	Background *pond.WorkerPool
}

// New builds both pools with a shared idle-timeout policy.
func New(config Config) *Pools {
	return &Pools{
		Turn: pond.New(
			config.TurnWorkers,
			config.TurnWorkers*4,
			pond.MinWorkers(1),
			pond.IdleTimeout(30*time.Second),
		),
		Background: pond.New(
			config.BackgroundWorkers,
			config.BackgroundWorkers*4,
			pond.MinWorkers(1),
			pond.IdleTimeout(30*time.Second),
		),
	}
}

// SubmitBackground runs task on the background pool, recovering panics so a
// misbehaving side task (e.g. post-turn telemetry logging) never takes the
// pool down.
func (p *Pools) SubmitBackground(task func()) {
	p.Background.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("background task panicked", "error", r)
			}
		}()
		task()
	})
}

// RunTurn submits task to the turn pool and blocks until it completes or ctx
// is cancelled, bounding how many chat turns run concurrently against the
// RAG backend without making callers manage pool internals.
func (p *Pools) RunTurn(ctx context.Context, task func()) error {
	done := make(chan struct{}, 1)

	p.Turn.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("turn task panicked", "error", r)
			}
			done <- struct{}{}
		}()
		task()
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports pool utilization for the health endpoint.
func (p *Pools) Stats() map[string]interface{} {
	return map[string]interface{}{
		"turn":       poolStats(p.Turn),
		"background": poolStats(p.Background),
	}
}

func poolStats(pool *pond.WorkerPool) map[string]interface{} {
	return map[string]interface{}{
		"running_workers":  pool.RunningWorkers(),
		"idle_workers":     pool.IdleWorkers(),
		"submitted_tasks":  pool.SubmittedTasks(),
		"waiting_tasks":    pool.WaitingTasks(),
		"successful_tasks": pool.SuccessfulTasks(),
		"failed_tasks":     pool.FailedTasks(),
	}
}

// Shutdown stops both pools, waiting for in-flight work to drain.
func (p *Pools) Shutdown() {
	slog.Info("shutting down worker pools")
	p.Turn.StopAndWait()
	p.Background.StopAndWait()
	slog.Info("worker pools stopped")
}
