package processor

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/aggregate"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
)

const defaultFlushInterval = 15 * time.Second

// providerAggregator accumulates accepted consumption per provider and
// periodically reports it to the sink
type providerAggregator struct {
	sink      Sink
	logger    zerolog.Logger
	interval  time.Duration
	providers map[string]providerStats
	mutex     sync.Mutex
	done      chan struct{}
	stopped   chan struct{}
}

type providerStats struct {
	deltaKWh     float64
	maxDeltaKWh  float64
	readingCount int
	accountIDs   map[string]bool
}

func newProviderAggregator(sink Sink, interval time.Duration, logger zerolog.Logger) *providerAggregator {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	a := &providerAggregator{
		sink:      sink,
		logger:    logger,
		interval:  interval,
		providers: make(map[string]providerStats),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	go a.periodicFlush()

	return a
}

func (a *providerAggregator) update(acc models.AcceptedReading) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	key := aggregate.ProviderKey(acc.ProviderID)
	stats, exists := a.providers[key]
	if !exists {
		stats = providerStats{accountIDs: make(map[string]bool)}
	}

	stats.deltaKWh += acc.Delta
	stats.readingCount++
	stats.accountIDs[acc.AccountID] = true
	if acc.Delta > stats.maxDeltaKWh {
		stats.maxDeltaKWh = acc.Delta
	}

	a.providers[key] = stats
}

// snapshot returns the accumulated activity sorted by provider and resets it
func (a *providerAggregator) snapshot() []models.ProviderActivity {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if len(a.providers) == 0 {
		return nil
	}

	activity := make([]models.ProviderActivity, 0, len(a.providers))
	for provider, stats := range a.providers {
		activity = append(activity, models.ProviderActivity{
			ProviderID:   provider,
			DeltaKWh:     stats.deltaKWh,
			AccountCount: len(stats.accountIDs),
			MaxDeltaKWh:  stats.maxDeltaKWh,
			ReadingCount: stats.readingCount,
		})
	}
	sort.Slice(activity, func(i, j int) bool { return activity[i].ProviderID < activity[j].ProviderID })

	a.providers = make(map[string]providerStats)
	return activity
}

func (a *providerAggregator) flush() {
	activity := a.snapshot()
	if len(activity) == 0 {
		return
	}
	if err := a.sink.WriteProviderActivity(activity, time.Now().UTC()); err != nil {
		a.logger.Error().Err(err).Int("providers", len(activity)).Msg("report provider activity")
	}
}

func (a *providerAggregator) periodicFlush() {
	defer close(a.stopped)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.done:
			a.flush()
			return
		}
	}
}

func (a *providerAggregator) stop() {
	close(a.done)
	<-a.stopped
}
