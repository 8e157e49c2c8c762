package engine

import "errors"

// Failure categories surfaced through BookView.Err. Match them with errors.Is.
var (
	// ErrSyncFailed means the snapshot fetch failed; a reconnect is scheduled
	ErrSyncFailed = errors.New("failed to synchronize orderbook")

	// ErrConnectionClosed means the stream closed uncleanly; a reconnect is scheduled
	ErrConnectionClosed = errors.New("connection closed")

	// ErrStreamFailed means the stream reported an error; a reconnect is scheduled
	ErrStreamFailed = errors.New("websocket connection failed")

	// ErrSequenceGap means the first delta after a snapshot did not bracket it;
	// the book is resynchronized from a new snapshot
	ErrSequenceGap = errors.New("sequence gap")

	// ErrRetriesExhausted is terminal until SetSymbol or Resume is called
	ErrRetriesExhausted = errors.New("connection failed after multiple attempts")

	// ErrAlreadyRunning is returned by a second call to Run
	ErrAlreadyRunning = errors.New("engine already running")
)
