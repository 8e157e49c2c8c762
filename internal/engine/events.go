package engine

import "depthsync/internal/exchange"

type eventKind int

const (
	evStreamOpen eventKind = iota
	evDelta
	evStreamClosed
	evStreamError
	evSnapshot
	evBatchTimer
	evReconnectTimer
	evSetSymbol
	evPause
	evResume
	evDisconnect
)

func (k eventKind) String() string {
	switch k {
	case evStreamOpen:
		return "stream_open"
	case evDelta:
		return "delta"
	case evStreamClosed:
		return "stream_closed"
	case evStreamError:
		return "stream_error"
	case evSnapshot:
		return "snapshot"
	case evBatchTimer:
		return "batch_timer"
	case evReconnectTimer:
		return "reconnect_timer"
	case evSetSymbol:
		return "set_symbol"
	case evPause:
		return "pause"
	case evResume:
		return "resume"
	case evDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// event is the only way anything reaches the control loop. Stream and
// snapshot events carry the id of the session that produced them; timer
// events carry the generation they were armed with.
type event struct {
	kind    eventKind
	session string
	gen     uint64

	symbol   string
	update   *exchange.DepthUpdate
	snapshot *exchange.Snapshot
	err      error
	wasClean bool
	code     int
}
