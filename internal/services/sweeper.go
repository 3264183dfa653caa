package services

import (
	"context"
	"errors"
	"time"

	"github.com/civic-cleanup/escrow/internal/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SweepLeaseKey is the Redis key guarding the review sweep.
const SweepLeaseKey = "lock:review-sweep"

// Lease guards a section that only one process should run at a time.
type Lease interface {
	// Acquire returns ok=false when another holder has the lease. The
	// returned release func is a no-op when ok is false.
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// RedisLease is a SET NX lease with a TTL, so a crashed holder frees it
// eventually.
type RedisLease struct {
	rdb *redis.Client
	key string
	ttl time.Duration
	log *zap.Logger
}

func NewRedisLease(rdb *redis.Client, key string, ttl time.Duration, log *zap.Logger) *RedisLease {
	return &RedisLease{rdb: rdb, key: key, ttl: ttl, log: log}
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (l *RedisLease) Acquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return func() {}, false, err
	}
	if !ok {
		return func() {}, false, nil
	}
	return func() {
		// the caller's ctx may already be cancelled on shutdown
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.rdb, []string{l.key}, token).Err(); err != nil {
			l.log.Warn("failed to release lease", zap.String("key", l.key), zap.Error(err))
		}
	}, true, nil
}

// localLease serializes sweeps within one process.
type localLease struct {
	ch chan struct{}
}

func NewLocalLease() Lease {
	return &localLease{ch: make(chan struct{}, 1)}
}

func (l *localLease) Acquire(ctx context.Context) (func(), bool, error) {
	select {
	case l.ch <- struct{}{}:
		return func() { <-l.ch }, true, nil
	default:
		return func() {}, false, nil
	}
}

type SweepResult struct {
	Scanned   int  `json:"scanned"`
	Completed int  `json:"completed"`
	Disputed  int  `json:"disputed"`
	Failed    int  `json:"failed"`
	Skipped   bool `json:"skipped"`
}

// Sweeper finalizes jobs whose review deadline has passed. Finalization
// itself is idempotent, the lease only keeps processes from duplicating
// work.
type Sweeper struct {
	base
	jobs  *JobService
	lease Lease
}

func NewSweeper(d Deps, jobs *JobService, lease Lease) *Sweeper {
	if lease == nil {
		lease = NewLocalLease()
	}
	return &Sweeper{base: newBase(d), jobs: jobs, lease: lease}
}

func (s *Sweeper) batchSize() int {
	if s.cfg == nil || s.cfg.SweepBatchSize <= 0 {
		return 100
	}
	return s.cfg.SweepBatchSize
}

func (s *Sweeper) SweepExpiredReviews(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	release, ok, err := s.lease.Acquire(ctx)
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return res, err
	}
	if !ok {
		metrics.SweepRuns.WithLabelValues("skipped").Inc()
		s.log.Debug("review sweep skipped, lease held elsewhere")
		res.Skipped = true
		return res, nil
	}
	defer release()

	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	// jobs that failed stay expired and would be listed again
	seen := map[uuid.UUID]bool{}
	limit := s.batchSize()
	for {
		if err := ctx.Err(); err != nil {
			metrics.SweepRuns.WithLabelValues("error").Inc()
			return res, err
		}
		var ids []uuid.UUID
		want := limit + len(seen)
		err := s.inTx(ctx, func(tx *txScope) error {
			var err error
			ids, err = tx.Jobs().ListExpiredReviews(ctx, s.now(), want)
			return err
		})
		if err != nil {
			metrics.SweepRuns.WithLabelValues("error").Inc()
			return res, err
		}

		fresh := 0
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			fresh++
			res.Scanned++
			s.finalize(ctx, id, &res)
		}
		if fresh == 0 || len(ids) < want {
			break
		}
	}

	metrics.SweepRuns.WithLabelValues("ran").Inc()
	if res.Scanned > 0 {
		s.log.Info("review sweep finished",
			zap.Int("scanned", res.Scanned),
			zap.Int("completed", res.Completed),
			zap.Int("disputed", res.Disputed),
			zap.Int("failed", res.Failed),
		)
	}
	return res, nil
}

func (s *Sweeper) finalize(ctx context.Context, id uuid.UUID, res *SweepResult) {
	outcome, err := s.jobs.FinalizeReviewIfEligible(ctx, id)
	if err != nil {
		res.Failed++
		if errors.Is(err, context.Canceled) {
			return
		}
		s.log.Warn("job finalize failed during sweep", zap.String("job_id", id.String()), zap.Error(err))
		return
	}
	switch outcome {
	case FinalizeCompleted:
		res.Completed++
	case FinalizeDisputed:
		res.Disputed++
	}
}

// Run sweeps on every tick until ctx ends.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepExpiredReviews(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("review sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
