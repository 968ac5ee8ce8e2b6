package trackerstore

import "sync/atomic"

// Stats is a point-in-time view of the store's counters.
type Stats struct {
	Cached         int    `json:"cached"`
	CacheHits      uint64 `json:"cache_hits"`
	RemoteDeltas   uint64 `json:"remote_deltas"`
	Truncations    uint64 `json:"truncations"`
	NotFound       uint64 `json:"not_found"`
	Inserts        uint64 `json:"inserts"`
	Updates        uint64 `json:"updates"`
	SkippedUpdates uint64 `json:"skipped_updates"`
	FetchFailures  uint64 `json:"fetch_failures"`
	WriteFailures  uint64 `json:"write_failures"`
	Evictions      uint64 `json:"evictions"`
	Turns          uint64 `json:"turns"`
	TurnSinkErrors uint64 `json:"turn_sink_errors"`
}

type counters struct {
	cacheHits      atomic.Uint64
	remoteDeltas   atomic.Uint64
	truncations    atomic.Uint64
	notFound       atomic.Uint64
	inserts        atomic.Uint64
	updates        atomic.Uint64
	skippedUpdates atomic.Uint64
	fetchFailures  atomic.Uint64
	writeFailures  atomic.Uint64
	evictions      atomic.Uint64

	turns            atomic.Uint64
	turnSinkFailures atomic.Uint64
}

func (c *counters) snapshot(cached int) Stats {
	return Stats{
		Cached:         cached,
		CacheHits:      c.cacheHits.Load(),
		RemoteDeltas:   c.remoteDeltas.Load(),
		Truncations:    c.truncations.Load(),
		NotFound:       c.notFound.Load(),
		Inserts:        c.inserts.Load(),
		Updates:        c.updates.Load(),
		SkippedUpdates: c.skippedUpdates.Load(),
		FetchFailures:  c.fetchFailures.Load(),
		WriteFailures:  c.writeFailures.Load(),
		Evictions:      c.evictions.Load(),
		Turns:          c.turns.Load(),
		TurnSinkErrors: c.turnSinkFailures.Load(),
	}
}
