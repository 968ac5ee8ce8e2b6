package remote

import (
	"context"

	"github.com/dotsetgreg/trackersync/pkg/tracker"
)

// FetchRequest asks the store for events after a known position.
type FetchRequest struct {
	SessionID string
	StoreKey  string
	After     int64
	MaxEvents int
}

// WriteRequest carries a full snapshot (insert) or one holding only new
// events (update).
type WriteRequest struct {
	SessionID string
	StoreKey  string
	Snapshot  tracker.Snapshot
}

// Delta is the result of a fetch. A nil Snapshot means the store has
// nothing newer than the requested position.
type Delta struct {
	Snapshot *tracker.Snapshot
	Meta     tracker.SyncMetadata
}

// Client is the authoritative remote session store.
type Client interface {
	FetchDelta(ctx context.Context, req FetchRequest) (*Delta, error)
	InsertFull(ctx context.Context, req WriteRequest) (tracker.SyncMetadata, error)
	UpdateDelta(ctx context.Context, req WriteRequest) (tracker.SyncMetadata, error)
}

// Envelope is the JSON body every store endpoint responds with.
type Envelope struct {
	Tracker       *tracker.Snapshot `json:"tracker"`
	LastIndex     int64             `json:"lastIndex"`
	LastTimestamp float64           `json:"lastTimestamp"`
}

func (e Envelope) Meta() tracker.SyncMetadata {
	return tracker.SyncMetadata{LastIndex: e.LastIndex, LastTimestamp: e.LastTimestamp}
}
