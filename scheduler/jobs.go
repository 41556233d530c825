package scheduler

import (
	"context"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/logger"
)

const topPathsPerHour = 10

// BanSweeper lifts expired bans. The firewall executor implements it.
type BanSweeper interface {
	UnbanExpired(ctx context.Context) (int, error)
}

// Store is the slice of the database the maintenance jobs read and write.
type Store interface {
	RetentionSweep(ctx context.Context, horizon time.Time) (*database.RetentionResult, error)
	RequestCountBetween(ctx context.Context, from, to time.Time) (total, unique int64, err error)
	StatusHistogramBetween(ctx context.Context, from, to time.Time) (map[string]int64, error)
	TopPathsBetween(ctx context.Context, from, to time.Time, limit int) ([]database.PathCount, error)
	DurationsBetween(ctx context.Context, from, to time.Time) ([]float64, error)
	CountThreatsBetween(ctx context.Context, from, to time.Time) (int64, error)
	CountBansBetween(ctx context.Context, from, to time.Time) (int64, error)
	InsertStatistic(ctx context.Context, stat *database.Statistic) error
}

// New assembles the maintenance schedule: the expired-ban sweep on its
// configured interval, the retention sweep once a day, and the hourly
// aggregation on the hour.
func New(store Store, sweeper BanSweeper, cfg *config.Scheduler) *Scheduler {
	s := &Scheduler{now: time.Now}
	s.jobs = []Job{
		{
			Name: "ban_sweep",
			Next: Every(time.Duration(cfg.BanSweepSeconds) * time.Second),
			Run:  banSweep(sweeper),
		},
		{
			Name: "retention_sweep",
			Next: DailyAt(int(cfg.RetentionHour)),
			Run:  retentionSweep(store, cfg.RetentionDays, s),
		},
		{
			Name: "hourly_stats",
			Next: HourlyOnTheHour(),
			Run:  hourlyStats(store, s),
		},
	}
	return s
}

func banSweep(sweeper BanSweeper) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		lifted, err := sweeper.UnbanExpired(ctx)
		if err != nil {
			return err
		}
		if lifted > 0 {
			logger.GetLogger().Info().Int("lifted", lifted).Msg("expired bans lifted")
		}
		return nil
	}
}

func retentionSweep(store Store, days int32, s *Scheduler) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		horizon := s.now().AddDate(0, 0, -int(days))
		result, err := store.RetentionSweep(ctx, horizon)
		if err != nil {
			return err
		}
		logger.GetLogger().Info().
			Time("horizon", horizon).
			Int64("fingerprints", result.Fingerprints).
			Int64("access_logs", result.AccessLogs).
			Int64("threat_events", result.ThreatEvents).
			Int64("chains", result.Chains).
			Msg("retention sweep finished")
		return nil
	}
}

func hourlyStats(store Store, s *Scheduler) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		stat, err := CollectHourlyStats(ctx, store, s.now())
		if err != nil {
			return err
		}
		logger.GetLogger().Info().
			Time("period_start", stat.PeriodStart).
			Int64("requests", stat.TotalRequests).
			Int64("threats", stat.ThreatsDetected).
			Int64("bans", stat.BansApplied).
			Msg("hourly statistics aggregated")
		return nil
	}
}

// CollectHourlyStats aggregates the last whole clock hour before now and
// persists it. Re-running for the same hour overwrites the previous row, so
// a late run after downtime is safe.
func CollectHourlyStats(ctx context.Context, store Store, now time.Time) (*database.Statistic, error) {
	to := now.Truncate(time.Hour)
	from := to.Add(-time.Hour)
	stat := &database.Statistic{PeriodStart: from}

	var err error
	stat.TotalRequests, stat.UniqueAddresses, err = store.RequestCountBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	stat.StatusCodes, err = store.StatusHistogramBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if stat.StatusCodes == nil {
		stat.StatusCodes = map[string]int64{}
	}
	stat.TopPaths, err = store.TopPathsBetween(ctx, from, to, topPathsPerHour)
	if err != nil {
		return nil, err
	}
	if stat.TopPaths == nil {
		stat.TopPaths = []database.PathCount{}
	}

	durations, err := store.DurationsBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if len(durations) > 0 {
		mean, err := stats.Mean(durations)
		if err != nil {
			return nil, err
		}
		median, err := stats.Median(durations)
		if err != nil {
			return nil, err
		}
		p95, err := stats.Percentile(durations, 95)
		if err != nil {
			return nil, err
		}
		stat.DurationMean = &mean
		stat.DurationMedian = &median
		stat.DurationP95 = &p95
	}

	stat.ThreatsDetected, err = store.CountThreatsBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	stat.BansApplied, err = store.CountBansBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}

	if err := store.InsertStatistic(ctx, stat); err != nil {
		return nil, err
	}
	return stat, nil
}
