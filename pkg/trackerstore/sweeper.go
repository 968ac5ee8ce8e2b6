package trackerstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/dotsetgreg/trackersync/pkg/logger"
	"github.com/dotsetgreg/trackersync/pkg/tracker"
)

// Sweeper periodically evicts cached sessions whose latest event is older
// than the retention window. Eviction looks only at cached state; it never
// talks to the remote store.
type Sweeper struct {
	cache     *Cache
	locks     *sessionLocks
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	onEvict   func(sessionID string)

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newSweeper(cache *Cache, locks *sessionLocks, retention, interval time.Duration, now func() time.Time) *Sweeper {
	return &Sweeper{
		cache:     cache,
		locks:     locks,
		retention: retention,
		interval:  interval,
		now:       now,
		stopCh:    make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepSafely()
		}
	}
}

func (s *Sweeper) sweepSafely() {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("sweeper", "Sweep pass failed", map[string]interface{}{
				"error": fmt.Sprint(r),
			})
		}
	}()

	if n := s.SweepOnce(s.now()); n > 0 {
		logger.InfoCF("sweeper", "Sweep pass evicted sessions", map[string]interface{}{
			"evicted":   n,
			"remaining": s.cache.Len(),
		})
	}
}

// SweepOnce runs a single pass as of now and returns how many sessions it
// evicted. Sessions in the middle of a save or retrieve are left for the
// next pass.
func (s *Sweeper) SweepOnce(now time.Time) int {
	threshold := tracker.Timestamp(now) - s.retention.Seconds()
	evicted := 0

	for _, key := range s.cache.Keys() {
		unlock, ok := s.locks.TryLock(key)
		if !ok {
			continue
		}
		removed := s.cache.EvictIf(key, func(e Entry) bool {
			return e.Snapshot.LatestEventTime < threshold
		})
		unlock()

		if removed {
			evicted++
			logger.DebugCF("sweeper", "Removing tracker", map[string]interface{}{"session_id": key})
			if s.onEvict != nil {
				s.onEvict(key)
			}
		}
	}
	return evicted
}
