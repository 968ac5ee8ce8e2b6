package trackerstore

import "errors"

var (
	// ErrRemoteWrite indicates the remote store did not acknowledge a save.
	// The cached entry is left as it was before the call.
	ErrRemoteWrite = errors.New("remote tracker write failed")

	ErrInvalidSnapshot = errors.New("tracker snapshot has no sender id")
)
