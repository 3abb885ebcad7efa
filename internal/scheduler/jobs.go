package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// InstrumentSyncer refreshes the cached instrument catalogue.
type InstrumentSyncer interface {
	SyncInstruments(ctx context.Context) (int, error)
}

// InstrumentSyncJob refreshes the instrument cache from the venue.
type InstrumentSyncJob struct {
	syncer  InstrumentSyncer
	timeout time.Duration
	log     zerolog.Logger
}

// NewInstrumentSyncJob creates the job. A zero timeout means no limit.
func NewInstrumentSyncJob(syncer InstrumentSyncer, timeout time.Duration, log zerolog.Logger) *InstrumentSyncJob {
	return &InstrumentSyncJob{
		syncer:  syncer,
		timeout: timeout,
		log:     log.With().Str("job", "instrument_sync").Logger(),
	}
}

func (j *InstrumentSyncJob) Name() string { return "instrument_sync" }

func (j *InstrumentSyncJob) Run(ctx context.Context) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	start := time.Now()
	n, err := j.syncer.SyncInstruments(ctx)
	if err != nil {
		return err
	}
	j.log.Info().Int("instruments", n).Dur("took", time.Since(start)).Msg("Instruments synced")
	return nil
}

// FuncJob adapts a function to Job.
type FuncJob struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (f FuncJob) Name() string                  { return f.JobName }
func (f FuncJob) Run(ctx context.Context) error { return f.Fn(ctx) }
