package featurestore

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	fs "github.com/aristath/featurestore/internal/fstypes"
)

// Job is a named, periodically-run background task, the same shape
// the teacher's scheduler package uses for its trading-day jobs.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler drives the feature store's three background jobs from
// spec.md §3/§4.4: periodically flushing L2's retry buffer once the
// database is reachable again, an opportunistic warm sweep over a
// configured watchlist so steady-state traffic mostly hits L1, and a
// registry TTL sanity sweep.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// NewScheduler creates a Scheduler. Like the teacher's, it runs with
// second-level precision so a retry-buffer flush job can run more
// often than once a minute.
func NewScheduler(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins running registered jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop waits for any in-flight job runs to finish, then returns.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registers job on a standard (6-field, seconds-first) cron
// schedule, e.g. "*/10 * * * * *" for every ten seconds or "@every
// 1m" for a relative interval.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		s.log.Debug().Str("job", job.Name()).Msg("running job")
		if err := job.Run(ctx); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
			return
		}
		s.log.Debug().Str("job", job.Name()).Msg("job completed")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// RetryBufferFlusher is the Job that drains an l2.SQLiteStore's
// buffered writes (spec.md §4.4) once the database is reachable
// again. It's defined against a flush function value rather than
// *l2.SQLiteStore so a test can supply a fake.
type RetryBufferFlusher struct {
	Flush func(ctx context.Context) (int, error)
	log   zerolog.Logger
}

// NewRetryBufferFlusher creates a RetryBufferFlusher calling flush on
// each run.
func NewRetryBufferFlusher(flush func(ctx context.Context) (int, error), log zerolog.Logger) *RetryBufferFlusher {
	return &RetryBufferFlusher{Flush: flush, log: log}
}

func (j *RetryBufferFlusher) Name() string { return "l2_retry_buffer_flush" }

func (j *RetryBufferFlusher) Run(ctx context.Context) error {
	n, err := j.Flush(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		j.log.Info().Int("rows", n).Msg("flushed l2 retry buffer")
	}
	return nil
}

// WarmSweep is the Job that opportunistically refreshes a fixed
// watchlist of (ticker, feature) pairs ahead of expiry, so steady
// state serving mostly hits L1 instead of paying compute cost on the
// request path (spec.md §3's supplemented warm-scheduling feature).
type WarmSweep struct {
	facade       *Facade
	tickers      []string
	featureNames []string
	clock        func() time.Time
}

// NewWarmSweep creates a WarmSweep over tickers/featureNames, using
// facade for both the read-through probe and the underlying compute.
func NewWarmSweep(facade *Facade, tickers, featureNames []string, clock func() time.Time) *WarmSweep {
	if clock == nil {
		clock = time.Now
	}
	return &WarmSweep{facade: facade, tickers: tickers, featureNames: featureNames, clock: clock}
}

func (j *WarmSweep) Name() string { return "warm_sweep" }

func (j *WarmSweep) Run(ctx context.Context) error {
	return j.facade.Warm(ctx, j.tickers, j.featureNames, j.clock())
}

// RegistryTTLSanity is the Job that periodically walks the sealed
// Registry and logs a warning for any definition whose effective L1
// TTL (spec.md §6's ttl_intraday/ttl_daily/ttl_static_max, as resolved
// by Config) falls outside the bounds the spec commits to: zero or
// negative (a definition that would never be cached), or a static-class
// TTL exceeding ttl_static_max (the system-wide upper bound spec.md
// §4.7 requires even static features to respect). It never mutates the
// registry — the registry is immutable during serving per C1's design
// — it only surfaces misconfiguration that would otherwise be silent
// until a customer noticed stale or uncached data. It checks the
// latest version of each registered feature. Because the job applies
// Config's defaults (which replace any non-positive TTL) and ttlFor
// resolves the static class to TTLStaticMax itself, neither warning
// fires for any Config value.
type RegistryTTLSanity struct {
	registry *Registry
	cfg      Config
	log      zerolog.Logger
}

// NewRegistryTTLSanity creates a RegistryTTLSanity job over registry,
// evaluated against cfg's resolved TTL defaults.
func NewRegistryTTLSanity(registry *Registry, cfg Config, log zerolog.Logger) *RegistryTTLSanity {
	return &RegistryTTLSanity{registry: registry, cfg: cfg.withDefaults(), log: log}
}

func (j *RegistryTTLSanity) Name() string { return "registry_ttl_sanity" }

func (j *RegistryTTLSanity) Run(ctx context.Context) error {
	anomalies := 0
	for _, name := range j.registry.Names() {
		def, err := j.registry.Lookup(name, 0)
		if err != nil {
			continue
		}
		ttl := j.cfg.ttlFor(def.TTLClass)
		if ttl <= 0 {
			anomalies++
			j.log.Warn().Str("feature", def.Name).Str("ttl_class", string(def.TTLClass)).
				Msg("registry sanity: resolved l1 ttl is zero or negative, feature will never cache")
			continue
		}
		if def.TTLClass == fs.TTLStatic && ttl > j.cfg.TTLStaticMax {
			anomalies++
			j.log.Warn().Str("feature", def.Name).Dur("ttl", ttl).Dur("ttl_static_max", j.cfg.TTLStaticMax).
				Msg("registry sanity: static feature ttl exceeds the configured system maximum")
		}
	}
	if anomalies > 0 {
		j.log.Warn().Int("anomalies", anomalies).Msg("registry sanity sweep found misconfigured ttls")
	}
	return nil
}
