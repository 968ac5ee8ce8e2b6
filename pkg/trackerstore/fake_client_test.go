package trackerstore

import (
	"context"
	"sync"

	"github.com/dotsetgreg/trackersync/pkg/remote"
	"github.com/dotsetgreg/trackersync/pkg/tracker"
)

// fakeClient records every call and answers from scripted responses.
type fakeClient struct {
	mu sync.Mutex

	fetches []remote.FetchRequest
	inserts []remote.WriteRequest
	updates []remote.WriteRequest

	// fetchFn answers FetchDelta; nil means "nothing new".
	fetchFn  func(req remote.FetchRequest) (*remote.Delta, error)
	writeErr error

	// block, when set, is waited on inside every call after it is recorded.
	block   chan struct{}
	entered chan string

	nextIndex int64
}

var _ remote.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{}
}

func (f *fakeClient) wait(ctx context.Context, op string) error {
	f.mu.Lock()
	block, entered := f.block, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- op
	}
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeClient) FetchDelta(ctx context.Context, req remote.FetchRequest) (*remote.Delta, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, req)
	fn := f.fetchFn
	f.mu.Unlock()

	if err := f.wait(ctx, "fetch:"+req.SessionID); err != nil {
		return nil, err
	}
	if fn == nil {
		return &remote.Delta{Meta: tracker.SyncMetadata{LastIndex: req.After}}, nil
	}
	return fn(req)
}

func (f *fakeClient) InsertFull(ctx context.Context, req remote.WriteRequest) (tracker.SyncMetadata, error) {
	return f.write(ctx, req, &f.inserts, "insert")
}

func (f *fakeClient) UpdateDelta(ctx context.Context, req remote.WriteRequest) (tracker.SyncMetadata, error) {
	return f.write(ctx, req, &f.updates, "update")
}

func (f *fakeClient) write(ctx context.Context, req remote.WriteRequest, log *[]remote.WriteRequest, op string) (tracker.SyncMetadata, error) {
	f.mu.Lock()
	*log = append(*log, req)
	err := f.writeErr
	f.mu.Unlock()

	if werr := f.wait(ctx, op+":"+req.SessionID); werr != nil {
		return tracker.SyncMetadata{}, werr
	}
	if err != nil {
		return tracker.SyncMetadata{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextIndex += int64(len(req.Snapshot.Events))
	ts, _ := tracker.LastTimestamp(req.Snapshot.Events)
	return tracker.SyncMetadata{LastIndex: f.nextIndex, LastTimestamp: ts}, nil
}

func (f *fakeClient) counts() (fetches, inserts, updates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches), len(f.inserts), len(f.updates)
}

func (f *fakeClient) lastUpdate() remote.WriteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates[len(f.updates)-1]
}

func (f *fakeClient) lastFetch() remote.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[len(f.fetches)-1]
}
