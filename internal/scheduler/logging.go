package scheduler

import (
	"context"
	"maps"
	"time"

	obscontext "github.com/smallbiznis/paycore/internal/observability/context"
	obslogger "github.com/smallbiznis/paycore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paycore/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun tallies one execution of a job. Its id doubles as the request id
// on every log line the run writes.
type jobRun struct {
	id        string
	job       string
	batchSize int
	started   time.Time
	processed int
	failed    int
	// results counts items per outcome, e.g. settled or unchanged intents.
	results map[string]int
}

type jobRunKey struct{}

func (s *Scheduler) beginRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun) {
	run := &jobRun{
		id:        s.genID.Generate().String(),
		job:       job,
		batchSize: batchSize,
		started:   s.clock.Now(),
		results:   map[string]int{},
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = obscontext.WithRequestID(ctx, run.id)
	s.logger(ctx).Debug("scheduler.job.start",
		zap.String("job", job),
		zap.Int("batch_size", batchSize),
	)
	return ctx, run
}

// runFrom returns the run carried by ctx. Jobs called outside runJob get a
// throwaway run so tallying never needs a nil check.
func runFrom(ctx context.Context) *jobRun {
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return run
	}
	return &jobRun{results: map[string]int{}}
}

func (r *jobRun) done(n int) {
	if n > 0 {
		r.processed += n
	}
}

func (r *jobRun) count(result string) {
	r.results[result]++
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) finishRun(ctx context.Context, run *jobRun) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.started).Milliseconds()),
		zap.Int("processed_count", run.processed),
		zap.Int("error_count", run.failed),
	}
	if len(run.results) > 0 {
		fields = append(fields, zap.Any("results", maps.Clone(run.results)))
	}
	level := zap.InfoLevel
	if run.failed > 0 {
		level = zap.WarnLevel
	}
	if ce := s.logger(ctx).Check(level, "scheduler.job.finish"); ce != nil {
		ce.Write(fields...)
	}
}

// itemFailed logs one failed item and counts it against the run without
// stopping the batch.
func (s *Scheduler) itemFailed(ctx context.Context, msg string, err error, fields ...zap.Field) {
	run := runFrom(ctx)
	run.failed++
	fields = append(fields,
		zap.String("job", run.job),
		zap.String("reason", obsmetrics.ClassifyJobError(err)),
		zap.Error(err),
	)
	s.logger(ctx).Error(msg, fields...)
}
