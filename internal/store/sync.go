package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/models"
)

// SyncDataType represents the type of data being synced.
type SyncDataType string

const (
	SyncTypeInstruments SyncDataType = "instruments"
	SyncTypeCandles     SyncDataType = "candles"
)

// DataFreshness represents the freshness of cached data.
type DataFreshness struct {
	DataType    SyncDataType
	LastUpdated time.Time
	IsFresh     bool
	Age         time.Duration
}

// SyncConfig holds configuration for the sync manager.
type SyncConfig struct {
	// StaleThresholds defines how old data can be before it's considered stale.
	StaleThresholds map[SyncDataType]time.Duration
}

// DefaultSyncConfig returns default sync configuration.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		StaleThresholds: map[SyncDataType]time.Duration{
			SyncTypeInstruments: 24 * time.Hour,
			SyncTypeCandles:     time.Hour,
		},
	}
}

// Source is the remote side of the cache.
type Source interface {
	Instruments(ctx context.Context) ([]models.Instrument, error)
	Bars(ctx context.Context, figi string, tf models.TimeFrame, from, to time.Time) ([]models.Bar, error)
}

// SyncManager keeps the local cache of instruments and candles in step with
// the broker.
type SyncManager struct {
	store  DataStore
	source Source
	config SyncConfig
	log    zerolog.Logger
	now    func() time.Time
}

// NewSyncManager creates a new sync manager.
func NewSyncManager(store DataStore, source Source, config SyncConfig, log zerolog.Logger) *SyncManager {
	if config.StaleThresholds == nil {
		config = DefaultSyncConfig()
	}
	return &SyncManager{
		store:  store,
		source: source,
		config: config,
		log:    log.With().Str("component", "sync").Logger(),
		now:    time.Now,
	}
}

// GetDataFreshness returns the freshness status of cached data.
func (sm *SyncManager) GetDataFreshness(dataType SyncDataType) DataFreshness {
	lastSync := sm.store.GetLastSync(string(dataType))
	age := sm.now().Sub(lastSync)

	threshold := sm.config.StaleThresholds[dataType]
	if threshold == 0 {
		threshold = time.Hour
	}

	return DataFreshness{
		DataType:    dataType,
		LastUpdated: lastSync,
		IsFresh:     !lastSync.IsZero() && age < threshold,
		Age:         age,
	}
}

// SyncInstruments replaces the cached instrument list with the broker's.
func (sm *SyncManager) SyncInstruments(ctx context.Context) (int, error) {
	instruments, err := sm.source.Instruments(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch instruments: %w", err)
	}
	now := sm.now().UTC()
	for i := range instruments {
		instruments[i].UpdatedAt = now
	}
	if err := sm.store.SaveInstruments(ctx, instruments); err != nil {
		return 0, err
	}
	if err := sm.store.SetLastSync(string(SyncTypeInstruments), now); err != nil {
		return 0, err
	}
	sm.log.Info().Int("count", len(instruments)).Msg("Instruments synced")
	return len(instruments), nil
}

// Instrument resolves a FIGI or ticker from the cache. A miss triggers one
// instrument sync when the cache is stale.
func (sm *SyncManager) Instrument(ctx context.Context, key string) (models.Instrument, error) {
	inst, err := sm.store.GetInstrument(ctx, key)
	if err == nil || !errors.Is(err, errors.ErrSymbolNotFound) {
		return inst, err
	}
	if sm.GetDataFreshness(SyncTypeInstruments).IsFresh {
		return models.Instrument{}, err
	}
	if _, syncErr := sm.SyncInstruments(ctx); syncErr != nil {
		return models.Instrument{}, syncErr
	}
	return sm.store.GetInstrument(ctx, key)
}

// Bars returns bars in [from, to]. Bars newer than the latest cached
// complete bar are fetched from the broker first.
func (sm *SyncManager) Bars(ctx context.Context, figi string, tf models.TimeFrame, from, to time.Time) ([]models.Bar, error) {
	latest, err := sm.store.GetCandlesFreshness(ctx, figi, tf)
	if err != nil {
		return nil, err
	}

	fetchFrom := from
	if !latest.IsZero() && !latest.Before(from) {
		fetchFrom = latest.Add(tf.Duration())
	}
	if fetchFrom.Before(to) {
		fresh, err := sm.source.Bars(ctx, figi, tf, fetchFrom, to)
		if err != nil {
			cached, cacheErr := sm.store.GetCandles(ctx, figi, tf, from, to)
			if cacheErr != nil || len(cached) == 0 {
				return nil, err
			}
			sm.log.Warn().Err(err).Str("figi", figi).Msg("Serving cached candles")
			return cached, nil
		}
		if err := sm.store.SaveCandles(ctx, figi, tf, fresh); err != nil {
			return nil, err
		}
		if err := sm.store.SetLastSync(string(SyncTypeCandles), sm.now()); err != nil {
			return nil, err
		}
	}
	return sm.store.GetCandles(ctx, figi, tf, from, to)
}
