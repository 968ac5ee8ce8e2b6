package trackerstore

import "github.com/dotsetgreg/trackersync/pkg/tracker"

// Merge folds a freshly fetched remote delta into the previously cached
// snapshot. It never mutates its inputs.
//
// A delta holding exactly maxEvents events may have been cut off by the
// store, so it replaces the local events instead of being appended to them.
func Merge(old *tracker.Snapshot, delta tracker.Snapshot, maxEvents int) tracker.Snapshot {
	if old == nil {
		out := delta.Clone()
		tracker.SortEvents(out.Events)
		return out
	}

	out := delta.Clone()
	if out.SenderID == "" {
		out.SenderID = old.SenderID
	}

	if maxEvents > 0 && len(delta.Events) == maxEvents {
		tracker.SortEvents(out.Events)
	} else {
		out.Events = appendNew(old.Events, delta.Events)
	}

	out.LatestEventTime = old.LatestEventTime
	switch {
	case delta.LatestEventTime > 0:
		out.LatestEventTime = delta.LatestEventTime
	case len(delta.Events) > 0:
		ts, _ := tracker.LastTimestamp(out.Events)
		out.LatestEventTime = ts
	}
	return out
}

type eventKey struct {
	kind string
	ts   float64
}

// appendNew appends remote events after local ones, dropping remote events
// the local history already holds.
func appendNew(local, remote []tracker.Event) []tracker.Event {
	out := tracker.CloneEvents(local)
	if out == nil {
		out = make([]tracker.Event, 0, len(remote))
	}
	if len(remote) == 0 {
		return out
	}

	seen := make(map[eventKey]struct{})
	for _, ev := range local {
		seen[eventKey{kind: ev.Kind, ts: ev.Timestamp}] = struct{}{}
	}
	for _, ev := range tracker.CloneEvents(remote) {
		k := eventKey{kind: ev.Kind, ts: ev.Timestamp}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, ev)
	}
	tracker.SortEvents(out)
	return out
}
