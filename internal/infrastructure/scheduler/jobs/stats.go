package jobs

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/levelhub/chat-leveling/pkg/logger"
)

// StatsSource returns a snapshot of counters.
type StatsSource func() map[string]int64

// ReportStatsJob logs runtime counters at a fixed cadence.
type ReportStatsJob struct {
	sources map[string]StatsSource
	log     *zap.Logger
}

// NewReportStatsJob creates the job. Sources may be added with Add.
func NewReportStatsJob(log *zap.Logger) *ReportStatsJob {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReportStatsJob{
		sources: make(map[string]StatsSource),
		log:     log.With(logger.Component("job.report_stats")),
	}
}

// Add registers a named counter source. Not safe after the scheduler starts.
func (j *ReportStatsJob) Add(name string, src StatsSource) {
	j.sources[name] = src
}

// Name returns the job name.
func (j *ReportStatsJob) Name() string { return "report_stats" }

// Run logs one line per source.
func (j *ReportStatsJob) Run(ctx context.Context) error {
	names := make([]string, 0, len(j.sources))
	for name := range j.sources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		counters := j.sources[name]()
		fields := make([]zap.Field, 0, len(counters)+1)
		fields = append(fields, zap.String("source", name))
		keys := make([]string, 0, len(counters))
		for k := range counters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fields = append(fields, zap.Int64(k, counters[k]))
		}
		j.log.Info("stats", fields...)
	}
	return nil
}
