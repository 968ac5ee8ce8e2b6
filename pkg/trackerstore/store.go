package trackerstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/trackersync/pkg/logger"
	"github.com/dotsetgreg/trackersync/pkg/remote"
	"github.com/dotsetgreg/trackersync/pkg/tracker"
)

// Config configures the tracker store.
type Config struct {
	StoreKey       string
	MaxEvents      int
	Retention      time.Duration
	SweepInterval  time.Duration
	RequestTimeout time.Duration
	Domain         *tracker.Domain
}

type Option func(*Store)

// WithClock overrides the time source used for eviction.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store keeps a process-local copy of every active session's tracker and
// reconciles it with the remote store on each Save and Retrieve. Calls for
// the same session are serialized; calls for different sessions never wait
// on each other.
type Store struct {
	cfg     Config
	client  remote.Client
	cache   *Cache
	locks   *sessionLocks
	sweeper *Sweeper
	stats   counters
	now     func() time.Time

	turnCfg   TurnConfig
	turnSinks []TurnSink

	closeOnce sync.Once
}

func NewStore(cfg Config, client remote.Client, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("remote client is required")
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 100
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = time.Second
	}

	s := &Store{
		cfg:    cfg,
		client: client,
		cache:  NewCache(),
		locks:  newSessionLocks(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Domain == nil {
		logger.WarnC("trackerstore", "No domain set, trackers are rebuilt with event slots only")
	}

	s.sweeper = newSweeper(s.cache, s.locks, cfg.Retention, cfg.SweepInterval, s.now)
	s.sweeper.onEvict = func(string) { s.stats.evictions.Add(1) }
	s.sweeper.Start()
	return s, nil
}

func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.sweeper.Stop()
	})
	return nil
}

// Sweeper exposes the background evictor, mainly so callers can force a pass.
func (s *Store) Sweeper() *Sweeper { return s.sweeper }

func (s *Store) Stats() Stats {
	return s.stats.snapshot(s.cache.Len())
}

// NewTracker returns an empty tracker for sessionID with the domain's
// initial slot values.
func (s *Store) NewTracker(sessionID string) *tracker.Tracker {
	return tracker.FromSnapshot(tracker.Snapshot{SenderID: sessionID}, s.cfg.Domain)
}

// Cached returns a copy of the cached entry for sessionID without contacting
// the remote store.
func (s *Store) Cached(sessionID string) (Entry, bool) {
	return s.cache.Get(sessionID)
}

// Save writes the caller's complete tracker. The first save this process
// sees for a session inserts the whole snapshot remotely; later saves send
// only events newer than the last acknowledged timestamp. On failure the
// cached entry is left untouched and the error wraps ErrRemoteWrite.
//
// When turn sinks are configured, a save that sent events ending a turn
// reports that turn after the session lock is released.
func (s *Store) Save(ctx context.Context, snap tracker.Snapshot) ([]tracker.Event, error) {
	sessionID := strings.TrimSpace(snap.SenderID)
	if sessionID == "" {
		return nil, ErrInvalidSnapshot
	}

	events, sent, err := s.save(ctx, sessionID, snap)
	if err != nil {
		return nil, err
	}
	if sent {
		s.reportTurn(ctx, sessionID, events)
	}
	return events, nil
}

func (s *Store) save(ctx context.Context, sessionID string, snap tracker.Snapshot) ([]tracker.Event, bool, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	incoming := snap.Clone()
	incoming.SenderID = sessionID
	if ts, ok := tracker.LastTimestamp(incoming.Events); ok && ts > incoming.LatestEventTime {
		incoming.LatestEventTime = ts
	}
	if incoming.LatestEventTime <= 0 {
		incoming.LatestEventTime = tracker.Timestamp(s.now())
	}

	entry, cached := s.cache.Get(sessionID)
	if !cached {
		logger.DebugCF("trackerstore", "Inserting tracker", map[string]interface{}{
			"session_id": sessionID,
			"events":     len(incoming.Events),
		})

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		meta, err := s.client.InsertFull(callCtx, remote.WriteRequest{
			SessionID: sessionID,
			StoreKey:  s.cfg.StoreKey,
			Snapshot:  incoming,
		})
		cancel()
		if err != nil {
			return nil, false, s.writeFailed(sessionID, "insert", err)
		}

		s.stats.inserts.Add(1)
		s.cache.Put(sessionID, Entry{
			Snapshot: incoming,
			Meta:     acknowledge(tracker.Unsynced(), meta, incoming.Events),
		})
		return tracker.CloneEvents(incoming.Events), true, nil
	}

	newEvents := tracker.EventsAfter(incoming.Events, entry.Meta.LastTimestamp)
	if len(newEvents) == 0 {
		logger.DebugCF("trackerstore", "No new events to update", map[string]interface{}{"session_id": sessionID})
		s.stats.skippedUpdates.Add(1)
		s.cache.Put(sessionID, Entry{Snapshot: incoming, Meta: entry.Meta})
		return tracker.CloneEvents(incoming.Events), false, nil
	}

	logger.DebugCF("trackerstore", "Updating tracker", map[string]interface{}{
		"session_id": sessionID,
		"new_events": len(newEvents),
	})

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	meta, err := s.client.UpdateDelta(callCtx, remote.WriteRequest{
		SessionID: sessionID,
		StoreKey:  s.cfg.StoreKey,
		Snapshot:  incoming.WithEvents(newEvents),
	})
	cancel()
	if err != nil {
		return nil, false, s.writeFailed(sessionID, "update", err)
	}

	s.stats.updates.Add(1)
	s.cache.Put(sessionID, Entry{
		Snapshot: incoming,
		Meta:     acknowledge(entry.Meta, meta, newEvents),
	})
	return tracker.CloneEvents(incoming.Events), true, nil
}

func (s *Store) writeFailed(sessionID, op string, err error) error {
	s.stats.writeFailures.Add(1)
	logger.ErrorCF("trackerstore", "Remote tracker write failed", map[string]interface{}{
		"session_id": sessionID,
		"op":         op,
		"error":      err.Error(),
	})
	return fmt.Errorf("%w: %s %s: %w", ErrRemoteWrite, op, sessionID, err)
}

// Retrieve returns the session's tracker, reconciled with the remote store.
// It reports false only when neither the remote store nor the local cache
// knows the session. Remote failures degrade to the cached copy.
func (s *Store) Retrieve(ctx context.Context, sessionID string) (*tracker.Tracker, bool) {
	snap, ok := s.RetrieveSnapshot(ctx, sessionID)
	if !ok {
		return nil, false
	}
	return tracker.FromSnapshot(snap, s.cfg.Domain), true
}

// RetrieveSnapshot is Retrieve without the conversion to the tracker view.
func (s *Store) RetrieveSnapshot(ctx context.Context, sessionID string) (tracker.Snapshot, bool) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return tracker.Snapshot{}, false
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	entry, cached := s.cache.Get(sessionID)
	after := tracker.NoSync
	if cached {
		after = entry.Meta.LastIndex
	}

	delta := s.fetchDelta(ctx, sessionID, after)
	return s.resolveAfterFetch(sessionID, entry, cached, delta)
}

// resolveAfterFetch decides what Retrieve returns once the remote fetch has
// completed. The "not cached" check must come after the fetch: a session
// written by another replica is unknown locally but present remotely.
func (s *Store) resolveAfterFetch(sessionID string, entry Entry, cached bool, delta *remote.Delta) (tracker.Snapshot, bool) {
	if delta != nil && delta.Snapshot != nil {
		var old *tracker.Snapshot
		meta := tracker.Unsynced()
		if cached {
			old = &entry.Snapshot
			meta = entry.Meta
		}
		meta = acknowledge(meta, delta.Meta, delta.Snapshot.Events)

		if cached && len(delta.Snapshot.Events) == s.cfg.MaxEvents {
			s.stats.truncations.Add(1)
			logger.DebugCF("trackerstore", "Remote delta hit max events, replacing local events", map[string]interface{}{
				"session_id": sessionID,
				"max_events": s.cfg.MaxEvents,
			})
		}

		merged := Merge(old, *delta.Snapshot, s.cfg.MaxEvents)
		if merged.SenderID == "" {
			merged.SenderID = sessionID
		}
		s.cache.Put(sessionID, Entry{Snapshot: merged, Meta: meta})
		s.stats.remoteDeltas.Add(1)
		return merged, true
	}

	if !cached {
		s.stats.notFound.Add(1)
		return tracker.Snapshot{}, false
	}

	s.stats.cacheHits.Add(1)
	return entry.Snapshot, true
}

func (s *Store) fetchDelta(ctx context.Context, sessionID string, after int64) *remote.Delta {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	delta, err := s.client.FetchDelta(callCtx, remote.FetchRequest{
		SessionID: sessionID,
		StoreKey:  s.cfg.StoreKey,
		After:     after,
		MaxEvents: s.cfg.MaxEvents,
	})
	if err != nil {
		s.stats.fetchFailures.Add(1)
		logger.WarnCF("trackerstore", "Tracker fetch failed, serving cached state", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return nil
	}
	return delta
}

// acknowledge records the remote's answer to a sync. The index is taken
// from the remote; the timestamp covers the events just confirmed and
// never moves backwards.
func acknowledge(prev, remoteMeta tracker.SyncMetadata, confirmed []tracker.Event) tracker.SyncMetadata {
	next := prev.Advance(remoteMeta)
	for _, ev := range confirmed {
		if ev.Timestamp > next.LastTimestamp {
			next.LastTimestamp = ev.Timestamp
		}
	}
	return next
}
