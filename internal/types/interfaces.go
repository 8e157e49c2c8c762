package types

import "context"

// Publisher receives every BookView the engine emits.
// Publish is called from the engine's control loop and must not block.
type Publisher interface {
	Publish(view BookView)
}

// PublisherFunc adapts a plain function to the Publisher interface
type PublisherFunc func(view BookView)

// Publish calls f(view)
func (f PublisherFunc) Publish(view BookView) {
	f(view)
}

// BookController is the control surface of a running engine
type BookController interface {
	// View returns the latest emitted book view
	View() BookView

	// SetSymbol switches the engine to another symbol with a full resync
	SetSymbol(symbol string)

	// Pause tears down the session and keeps the engine idle
	Pause()

	// Resume restarts a paused or failed engine from a fresh snapshot
	Resume()
}

// SymbolInfoProvider fetches the static trading rules for a symbol
type SymbolInfoProvider interface {
	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
}
